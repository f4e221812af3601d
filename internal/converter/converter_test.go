package converter

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ginjaninja78/ncm-report/internal/config"
	"github.com/ginjaninja78/ncm-report/internal/staging"
	"github.com/ginjaninja78/ncm-report/internal/testutil"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	dir      string
	out      string
	input    string
	template string
	cfg      *config.Config
}

func newFixture(t *testing.T, data ...[4]string) fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Metadata.Date = "2025-03-15"
	cfg.Metadata.Description = "Revisão mensal"
	cfg.Metadata.TaxType = "c"

	return fixture{
		dir:      dir,
		out:      cfg.OutputDir,
		input:    testutil.WriteInput(t, dir, data...),
		template: testutil.WriteTemplate(t, dir),
		cfg:      cfg,
	}
}

func outputNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

var twoCategories = [][4]string{
	{"1234.56", "73", "06", "101"},
	{"2202.10.00", "50", "01", "999"},
	{"0401.20.10", "73", "06", "101"},
}

func TestRun_TwoCategories(t *testing.T) {
	fx := newFixture(t, twoCategories...)

	type tick struct {
		fraction float64
		stage    string
	}
	var ticks []tick
	res, err := New(fx.cfg, zaptest.NewLogger(t)).
		OnProgress(func(f float64, stage string) { ticks = append(ticks, tick{f, stage}) }).
		Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	require.NoError(t, err)

	// Published files only; no scratch directory left behind.
	assert.Equal(t, []string{
		"ALIQUOTA ZERO - 101.xlsx",
		"TRIBUTADO - 999.xlsx",
		"planilha_final.xlsx",
	}, outputNames(t, fx.out))
	assert.Equal(t, filepath.Join(fx.out, "planilha_final.xlsx"), res.FinalPath)
	assert.Len(t, res.GroupFiles, 2)
	assert.Empty(t, res.StagingDir)

	assert.Equal(t, 3, res.Stats.Records)
	assert.Equal(t, 2, res.Stats.Groups)
	assert.Equal(t, 3, res.Stats.Members)
	assert.Equal(t, 13, res.Stats.RowsCopied)
	assert.Equal(t, []GroupSummary{
		{Title: "ALIQUOTA ZERO - 101", EntryCode: "73", ExitCode: "06", BookkeepingCode: "101", Members: 2},
		{Title: "TRIBUTADO - 999", EntryCode: "50", ExitCode: "01", BookkeepingCode: "999", Members: 1},
	}, res.Groups)

	// Group workbook carries normalized metadata.
	group := res.GroupFiles[0]
	assert.Equal(t, "15/03/2025", testutil.Cell(t, group, "B2"))
	assert.Equal(t, "Revisão mensal", testutil.Cell(t, group, "C2"))
	assert.Equal(t, "C", testutil.Cell(t, group, "B6"))
	assert.Equal(t, "04012010", testutil.Cell(t, group, "B8"))
	assert.Equal(t, "123456", testutil.Cell(t, group, "B9"))

	// Final workbook: both groups, in processing order, without gaps.
	final := res.FinalPath
	require.Len(t, testutil.ReadRows(t, final), 15)
	assert.Equal(t, "", testutil.Cell(t, final, "B2"))
	assert.Equal(t, "ALIQUOTA ZERO - 101", testutil.Cell(t, final, "B4"))
	assert.Equal(t, "73", testutil.Cell(t, final, "C6"))
	assert.Equal(t, "06", testutil.Cell(t, final, "H6"))
	assert.Equal(t, "04012010", testutil.Cell(t, final, "B8"))
	assert.Equal(t, "123456", testutil.Cell(t, final, "B9"))
	assert.Equal(t, "TRIBUTADO - 999", testutil.Cell(t, final, "B11"))
	assert.Equal(t, "50", testutil.Cell(t, final, "C13"))
	assert.Equal(t, "NCM", testutil.Cell(t, final, "A15"))
	assert.Equal(t, "22021000", testutil.Cell(t, final, "B15"))

	// Progress is monotonic, passes the stage boundaries and ends at 1.
	require.NotEmpty(t, ticks)
	seen := map[string]bool{}
	for i, tk := range ticks {
		seen[tk.stage] = true
		if i > 0 {
			assert.GreaterOrEqual(t, tk.fraction, ticks[i-1].fraction)
		}
	}
	assert.Equal(t, tick{1, StageDone}, ticks[len(ticks)-1])
	for _, stage := range []string{StageGrouping, StageExpanding, StageConsolidating} {
		assert.True(t, seen[stage], stage)
	}
}

func TestRun_DuplicateCodesCollapse(t *testing.T) {
	fx := newFixture(t,
		[4]string{"1234.56", "73", "06", "X"},
		[4]string{"1234.56", "73", "06", "X"},
	)
	fx.cfg.KeepGroupArtifacts = false

	res, err := New(fx.cfg, nil).Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	require.NoError(t, err)

	assert.Equal(t, []string{"planilha_final.xlsx"}, outputNames(t, fx.out))
	require.Len(t, res.Groups, 1)
	assert.Equal(t, 1, res.Groups[0].Members)
	assert.Equal(t, "123456", testutil.Cell(t, res.FinalPath, "B8"))
	assert.Equal(t, "", testutil.Cell(t, res.FinalPath, "B9"))
}

func TestRun_BlankCodeIsNotAMember(t *testing.T) {
	fx := newFixture(t,
		[4]string{"", "73", "06", "X"},
		[4]string{"1234.56", "73", "06", "X"},
	)

	res, err := New(fx.cfg, zaptest.NewLogger(t)).Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, 1, res.Groups[0].Members)
	assert.Equal(t, 1, res.Stats.Members)
	assert.Equal(t, "123456", testutil.Cell(t, res.FinalPath, "B8"))
	assert.Equal(t, "", testutil.Cell(t, res.FinalPath, "A9"))
}

func TestRun_MissingColumnPublishesNothing(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Metadata.TaxType = "C"

	rows := testutil.InputRows([4]string{"1234.56", "73", "06", "X"})
	rows[5][1] = "CLASSIFICAÇÃO"
	input := testutil.WriteWorkbook(t, filepath.Join(dir, "input.xlsx"), rows)
	template := testutil.WriteTemplate(t, dir)

	res, err := New(cfg, zaptest.NewLogger(t)).Run(Request{InputPath: input, TemplatePath: template})
	assert.Nil(t, res)

	var loadErr *types.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, []string{"NCM"}, loadErr.MissingColumns)
	assert.Empty(t, outputNames(t, cfg.OutputDir))
}

func TestRun_TemplateError(t *testing.T) {
	fx := newFixture(t, twoCategories...)

	_, err := New(fx.cfg, nil).Run(Request{InputPath: fx.input, TemplatePath: filepath.Join(fx.dir, "none.xlsx")})
	var te *types.TemplateError
	require.True(t, errors.As(err, &te))
	assert.NoDirExists(t, fx.out)
}

func TestRun_ValidationError(t *testing.T) {
	fx := newFixture(t, twoCategories...)
	fx.cfg.Metadata.TaxType = "Q"

	_, err := New(fx.cfg, nil).Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "tax_type", ve.Field)

	_, err = New(fx.cfg, nil).Run(Request{TemplatePath: fx.template})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "input", ve.Field)
}

func TestRun_StrictExitCodes(t *testing.T) {
	fx := newFixture(t,
		[4]string{"1", "73", "06", "X"},
		[4]string{"2", "73", "07", "X"},
	)

	res, err := New(fx.cfg, zaptest.NewLogger(t)).Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	require.NoError(t, err)
	assert.Equal(t, "06", res.Groups[0].ExitCode)

	fx.cfg.StrictExitCodes = true
	fx.cfg.OutputDir = filepath.Join(fx.dir, "strict")
	_, err = New(fx.cfg, nil).Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	var conflict *types.ExitCodeConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Empty(t, outputNames(t, fx.cfg.OutputDir))
}

func TestRun_KeepStagingAndResume(t *testing.T) {
	fx := newFixture(t, twoCategories...)
	fx.cfg.KeepStaging = true

	first, err := New(fx.cfg, zaptest.NewLogger(t)).Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	require.NoError(t, err)
	require.NotEmpty(t, first.StagingDir)
	assert.FileExists(t, filepath.Join(first.StagingDir, staging.ManifestFile))

	store, err := staging.OpenStore(first.StagingDir, nil)
	require.NoError(t, err)
	require.Len(t, store.Entries(), 2)
	for _, e := range store.Entries() {
		assert.FileExists(t, filepath.Join(first.StagingDir, e.File))
	}

	resumeCfg := *fx.cfg
	resumeCfg.KeepStaging = false
	resumeCfg.OutputDir = filepath.Join(fx.dir, "resumed")

	second, err := New(&resumeCfg, zaptest.NewLogger(t)).Run(Request{
		TemplatePath: fx.template,
		FromStaging:  first.StagingDir,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, second.Stats.Records)
	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, testutil.ReadRows(t, first.FinalPath), testutil.ReadRows(t, second.FinalPath))

	// Resuming only reads the staging directory.
	assert.FileExists(t, filepath.Join(first.StagingDir, staging.ManifestFile))
	assert.FileExists(t, filepath.Join(first.StagingDir, store.Entries()[0].File))
}

func TestRun_FinalNameCollision(t *testing.T) {
	fx := newFixture(t, [4]string{"1", "73", "06", "X"})
	fx.cfg.FinalName = "ALIQUOTA ZERO - X.xlsx"

	res, err := New(fx.cfg, nil).Run(Request{InputPath: fx.input, TemplatePath: fx.template})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALIQUOTA ZERO - X (2).xlsx", "ALIQUOTA ZERO - X.xlsx"}, outputNames(t, fx.out))
	assert.Equal(t, filepath.Join(fx.out, "ALIQUOTA ZERO - X.xlsx"), res.FinalPath)
}

func TestPlan(t *testing.T) {
	fx := newFixture(t, twoCategories...)
	stagingDir := filepath.Join(fx.dir, "plan")

	groups, err := New(fx.cfg, zaptest.NewLogger(t)).Plan(fx.input, stagingDir)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "ALIQUOTA ZERO - 101", groups[0].Title())
	assert.Equal(t, []string{"04012010", "123456"}, groups[0].Members)

	store, err := staging.OpenStore(stagingDir, nil)
	require.NoError(t, err)
	assert.Len(t, store.Entries(), 2)
	assert.NoDirExists(t, fx.out)
}
