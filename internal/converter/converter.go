// =============================================================================
// NCM Report Consolidator - Converter Module
// =============================================================================
//
// This module orchestrates one run of the pipeline, from the classification
// table to the published final workbook.
//
// PIPELINE:
//   1. Validate metadata and layout
//   2. Load the template
//   3. Load the classification table and group it        (progress 0.0 - 0.3)
//      or, when resuming, open an existing staging directory
//   4. Stage every group as a text record
//   5. Expand every staged group into its own workbook   (progress 0.3 - 0.7)
//   6. Consolidate the group workbooks into the final one (progress 0.7 - 1.0)
//   7. Publish the results into the output directory
//
// ATOMICITY:
//   Steps 4 to 6 write only into a scratch directory inside the output
//   directory. Nothing reaches the output directory unless every step
//   succeeded, and the final workbook is published last.
//
// CONCURRENCY:
//   A run is strictly sequential. A Converter must not be shared between
//   goroutines.
//
// =============================================================================

package converter

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/ncm-report/internal/config"
	"github.com/ginjaninja78/ncm-report/internal/grouping"
	"github.com/ginjaninja78/ncm-report/internal/staging"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/ginjaninja78/ncm-report/internal/validation"
	"github.com/ginjaninja78/ncm-report/internal/xlsxparser"
	"github.com/ginjaninja78/ncm-report/internal/xlsxwriter"
	"github.com/ginjaninja78/ncm-report/pkg/utils"
	"go.uber.org/zap"
)

// Progress boundaries of the pipeline stages.
const (
	expandStart      = grouping.ProgressShare
	consolidateStart = 0.7
)

// =============================================================================
// REQUEST AND RESULT
// =============================================================================

// Request names the files of one run.
type Request struct {
	// InputPath is the classification table (.xlsx or .csv).
	// Ignored when FromStaging is set.
	InputPath string

	// TemplatePath is the template workbook.
	TemplatePath string

	// FromStaging resumes from an existing staging directory instead of
	// loading and grouping InputPath. The directory is only read.
	FromStaging string
}

// ProgressFunc receives the overall fraction complete, in [0, 1], and the
// name of the running stage. Values never decrease within a run.
type ProgressFunc func(fraction float64, stage string)

// Stage names passed to ProgressFunc.
const (
	StageGrouping      = "grouping"
	StageExpanding     = "expanding"
	StageConsolidating = "consolidating"
	StageDone          = "done"
)

// Result describes a successful run.
type Result struct {
	// RunID identifies the run; it names the scratch directory.
	RunID string

	// FinalPath is the published final workbook.
	FinalPath string

	// GroupFiles are the published per-group workbooks, in processing order.
	// Empty unless KeepGroupArtifacts is set.
	GroupFiles []string

	// StagingDir is the kept staging directory, usable with FromStaging.
	// Empty unless KeepStaging is set.
	StagingDir string

	// Groups lists the groups in processing order.
	Groups []GroupSummary

	Stats ProcessingStats
}

// GroupSummary describes one group of a run.
type GroupSummary struct {
	Title           string
	EntryCode       string
	ExitCode        string
	BookkeepingCode string
	Members         int
}

// ProcessingStats contains statistics about the run.
type ProcessingStats struct {
	// Records is the number of input rows loaded. Zero when resuming.
	Records int

	// Groups is the number of groups expanded.
	Groups int

	// Members is the total number of member rows written.
	Members int

	// RowsCopied is the number of rows in the final workbook below the header.
	RowsCopied int

	// ProcessingTime is the wall time of the run.
	ProcessingTime time.Duration
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Converter runs the pipeline with one configuration.
type Converter struct {
	cfg      config.Config
	logger   *zap.Logger
	progress ProgressFunc
	files    *utils.FileManager

	// last is the last reported progress, kept to stay monotonic.
	last float64
}

// New creates a Converter. The configuration is copied; metadata is
// normalized on the copy during Run.
func New(cfg *config.Config, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{
		cfg:    *cfg,
		logger: logger,
		files:  utils.NewFileManager(cfg.OutputDir),
	}
}

// OnProgress registers the progress sink.
func (c *Converter) OnProgress(fn ProgressFunc) *Converter {
	c.progress = fn
	return c
}

// report forwards progress, clamped to [0, 1] and never decreasing.
func (c *Converter) report(fraction float64, stage string) {
	if fraction > 1 {
		fraction = 1
	}
	if fraction < c.last {
		fraction = c.last
	}
	c.last = fraction
	if c.progress != nil {
		c.progress(fraction, stage)
	}
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the pipeline.
//
// RETURNS:
//   - The result of the run.
//   - The first error of any stage. No output is published on error; the
//     error is one of the types in internal/types where the failure has a
//     dedicated kind.
func (c *Converter) Run(req Request) (_ *Result, err error) {
	startTime := time.Now()
	c.last = 0

	// =========================================================================
	// STEP 1: VALIDATE
	// =========================================================================

	if req.FromStaging == "" && req.InputPath == "" {
		return nil, &types.ValidationError{Field: "input", Message: "is required"}
	}
	if err := validation.Validate(&c.cfg); err != nil {
		return nil, err
	}

	// =========================================================================
	// STEP 2: LOAD TEMPLATE
	// =========================================================================

	tpl, err := xlsxwriter.LoadTemplate(req.TemplatePath, c.cfg.Layout)
	if err != nil {
		return nil, err
	}

	// =========================================================================
	// SCRATCH DIRECTORY
	// =========================================================================

	res := &Result{RunID: utils.NewRunID()}
	scratch, err := c.files.CreateScratchDir(res.RunID)
	if err != nil {
		return nil, &types.PublishError{Path: c.cfg.OutputDir, Err: err}
	}
	logger := c.logger.With(zap.String("run_id", res.RunID))
	logger.Debug("created scratch directory", zap.String("dir", scratch))

	defer func() {
		if c.cfg.KeepStaging {
			if err != nil {
				logger.Warn("run failed, scratch directory kept", zap.String("dir", scratch))
			}
			return
		}
		if rmErr := c.files.RemoveScratch(scratch); rmErr != nil {
			logger.Warn("failed to remove scratch directory", zap.String("dir", scratch), zap.Error(rmErr))
		}
	}()

	// =========================================================================
	// STEP 3-4: GROUP AND STAGE, OR RESUME
	// =========================================================================

	resuming := req.FromStaging != ""
	var store *staging.Store
	if resuming {
		store, err = staging.OpenStore(req.FromStaging, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("resuming from staging directory",
			zap.String("dir", req.FromStaging),
			zap.Int("groups", len(store.Entries())))
		c.report(expandStart, StageGrouping)
	} else {
		store, err = c.stage(req.InputPath, filepath.Join(scratch, "staging"), res, logger)
		if err != nil {
			return nil, err
		}
	}

	// =========================================================================
	// STEP 5: EXPAND
	// =========================================================================

	groupsDir := filepath.Join(scratch, "groups")
	if err := os.MkdirAll(groupsDir, 0755); err != nil {
		return nil, &types.PublishError{Path: groupsDir, Err: err}
	}

	entries := store.Entries()
	taken := map[string]bool{}
	utils.UniqueName(c.cfg.FinalName, taken)

	var artifacts, names []string
	for i, entry := range entries {
		staged, err := store.Get(entry)
		if err != nil {
			return nil, err
		}

		name := utils.UniqueName(utils.SanitizeFileName(entry.Title)+".xlsx", taken)
		path := filepath.Join(groupsDir, name)
		if err := tpl.Expand(staged, entry.Title, c.cfg.Metadata, path); err != nil {
			return nil, fmt.Errorf("failed to expand group %q: %w", entry.Title, err)
		}

		// Staging records are consumed once, unless they are kept for a resume.
		if !resuming && !c.cfg.KeepStaging {
			if err := store.Remove(entry); err != nil {
				return nil, err
			}
		}

		artifacts = append(artifacts, path)
		names = append(names, name)
		res.Groups = append(res.Groups, GroupSummary{
			Title:           entry.Title,
			EntryCode:       staged.EntryCode,
			ExitCode:        staged.ExitCode,
			BookkeepingCode: staged.BookkeepingCode,
			Members:         len(staged.Members),
		})
		res.Stats.Members += len(staged.Members)

		logger.Debug("expanded group", zap.String("title", entry.Title), zap.Int("members", len(staged.Members)))
		c.report(expandStart+(consolidateStart-expandStart)*float64(i+1)/float64(len(entries)), StageExpanding)
	}
	res.Stats.Groups = len(entries)
	c.report(consolidateStart, StageExpanding)

	// =========================================================================
	// STEP 6: CONSOLIDATE
	// =========================================================================

	finalScratch := filepath.Join(scratch, c.cfg.FinalName)
	stats, err := tpl.Consolidate(artifacts, finalScratch, xlsxwriter.ConsolidateOptions{
		Logger: logger,
		Progress: func(done, total int) {
			c.report(consolidateStart+(1-consolidateStart)*float64(done)/float64(total), StageConsolidating)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consolidate: %w", err)
	}
	res.Stats.RowsCopied = stats.RowsCopied

	// =========================================================================
	// STEP 7: PUBLISH
	// =========================================================================

	if c.cfg.KeepGroupArtifacts {
		for i, path := range artifacts {
			published, err := c.files.Publish(path, names[i])
			if err != nil {
				return nil, &types.PublishError{Path: path, Err: err}
			}
			res.GroupFiles = append(res.GroupFiles, published)
		}
	}

	res.FinalPath, err = c.files.Publish(finalScratch, c.cfg.FinalName)
	if err != nil {
		return nil, &types.PublishError{Path: finalScratch, Err: err}
	}

	if c.cfg.KeepStaging && !resuming {
		res.StagingDir = store.Dir()
	}

	res.Stats.ProcessingTime = time.Since(startTime)
	c.report(1, StageDone)

	logger.Info("run complete",
		zap.String("final", res.FinalPath),
		zap.Int("groups", res.Stats.Groups),
		zap.Int("rows", res.Stats.RowsCopied),
		zap.Duration("elapsed", res.Stats.ProcessingTime))

	return res, nil
}

// stage loads and groups the input, then writes every group to a new staging
// store in dir.
func (c *Converter) stage(inputPath, dir string, res *Result, logger *zap.Logger) (*staging.Store, error) {
	records, err := xlsxparser.Load(inputPath, c.cfg.Input)
	if err != nil {
		return nil, err
	}
	res.Stats.Records = len(records)
	logger.Info("loaded classification table",
		zap.String("input", inputPath),
		zap.Int("records", len(records)))

	groups, err := grouping.Group(records, grouping.Options{
		Labels:          c.cfg.Labels,
		StrictExitCodes: c.cfg.StrictExitCodes,
		Logger:          logger,
		Progress:        func(f float64) { c.report(f, StageGrouping) },
	})
	if err != nil {
		return nil, err
	}
	c.report(expandStart, StageGrouping)

	store, err := staging.NewStore(dir, res.RunID, inputPath, logger)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if _, err := store.Put(g); err != nil {
			return nil, err
		}
	}
	if err := store.WriteManifest(); err != nil {
		return nil, err
	}
	return store, nil
}

// =============================================================================
// PLANNING
// =============================================================================

// Plan loads and groups the input without producing any workbook.
// When stagingDir is not empty the groups are also written there as a
// staging store that Run can resume from.
func (c *Converter) Plan(inputPath, stagingDir string) ([]types.GroupRecord, error) {
	records, err := xlsxparser.Load(inputPath, c.cfg.Input)
	if err != nil {
		return nil, err
	}

	groups, err := grouping.Group(records, grouping.Options{
		Labels:          c.cfg.Labels,
		StrictExitCodes: c.cfg.StrictExitCodes,
		Logger:          c.logger,
	})
	if err != nil {
		return nil, err
	}

	if stagingDir != "" {
		store, err := staging.NewStore(stagingDir, utils.NewRunID(), inputPath, c.logger)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if _, err := store.Put(g); err != nil {
				return nil, err
			}
		}
		if err := store.WriteManifest(); err != nil {
			return nil, err
		}
		c.logger.Info("wrote staging directory", zap.String("dir", stagingDir), zap.Int("groups", len(groups)))
	}

	for _, g := range groups {
		c.logger.Debug("group", zap.String("summary", grouping.Describe(g)))
	}
	return groups, nil
}
