// =============================================================================
// NCM Report Consolidator - Process Command
// =============================================================================
//
// This file defines the 'process' command, which runs the whole pipeline for
// one classification table and one template.
//
// COMMAND USAGE:
//   ncmreport process --input <xlsx|csv> --template <xlsx> [flags]
//
// PROCESSING PIPELINE:
//   1. Load configuration (.env, file, environment, flags)
//   2. Load and group the classification table (or resume from staging)
//   3. Expand one workbook per group from the template
//   4. Consolidate the group workbooks into the final workbook
//   5. Publish the results and print a summary
//
// Progress is written to stderr; the summary goes to stdout.
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/ncm-report/internal/converter"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/ginjaninja78/ncm-report/internal/validation"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// inputPath is the classification table to process.
var inputPath string

// templatePath is the XLSX template.
var templatePath string

// fromStaging resumes from a staging directory written by 'group'.
var fromStaging string

// quiet suppresses the progress line.
var quiet bool

// =============================================================================
// PROCESS COMMAND DEFINITION
// =============================================================================

// processCmd represents the 'process' command.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Group the classification table and build the final workbook",
	Long: `The process command loads the classification table, groups the NCM codes
by (CST PIS/COFINS ENTRADA, CÓDIGO SPED), fills one copy of the template per
group and consolidates all groups into one final workbook.

Everything is written to a scratch directory inside the output directory first.
On success:
  - The final workbook (and, unless --keep-groups=false, one workbook per
    group) is moved into the output directory
  - The scratch directory is removed, unless --keep-staging is set

On error:
  - Nothing is published
  - The error names the failing stage and file`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd)
	},
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(processCmd)

	flags := processCmd.Flags()
	flags.StringVarP(&inputPath, "input", "i", "", "Classification table (.xlsx or .csv)")
	flags.StringVarP(&templatePath, "template", "t", "", "Template workbook (.xlsx)")
	flags.StringVar(&fromStaging, "from-staging", "", "Resume from a staging directory instead of --input")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")

	addInputFlags(flags)
	flags.String("output-dir", "./output", "Directory receiving the published workbooks")
	flags.String("final-name", "planilha_final.xlsx", "File name of the final workbook")
	flags.String("date", "", "Date written to every workbook, dd/mm/yyyy or yyyy-mm-dd (default today)")
	flags.String("description", "", "Free text description")
	flags.String("tax-type", "", "Tax type: C, N, T or S")
	flags.String("credit-linkage", "", "Credit linkage (optional)")
	flags.String("credit-base", "", "Credit base (optional)")
	flags.Bool("keep-groups", true, "Publish one workbook per group next to the final one")
	flags.Bool("keep-staging", false, "Keep the scratch directory with staging records")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")

	_ = processCmd.MarkFlagRequired("template")
	processCmd.MarkFlagsMutuallyExclusive("input", "from-staging")
	processCmd.MarkFlagsOneRequired("input", "from-staging")
}

// addInputFlags registers the flags shared by process and group that control
// reading and grouping the input. Their values reach the configuration only
// when set explicitly.
func addInputFlags(flags *pflag.FlagSet) {
	flags.Int("header-row", 6, "1-indexed row holding the column headers")
	flags.String("sheet", "", "Worksheet of an XLSX input (default the first one)")
	flags.String("delimiter", ";", "CSV field delimiter")
	flags.String("encoding", "UTF-8", "CSV encoding: UTF-8, ISO-8859-1, Windows-1252")
	flags.Bool("strict-exit-codes", false, "Fail when a group holds more than one CST PIS/COFINS SAÍDA")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// runProcess runs the pipeline and prints the summary.
func runProcess(cmd *cobra.Command) error {
	cfg, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	conv := converter.New(cfg, logger)
	if !quiet {
		conv.OnProgress(progressPrinter(cmd.ErrOrStderr()))
	}

	result, err := conv.Run(converter.Request{
		InputPath:    inputPath,
		TemplatePath: templatePath,
		FromStaging:  fromStaging,
	})
	if !quiet {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return describeError(err, cfg.Input.HeaderRow)
	}

	printSummary(cmd.OutOrStdout(), result)
	return nil
}

// progressPrinter renders progress as a single rewritten line.
func progressPrinter(w io.Writer) converter.ProgressFunc {
	return func(fraction float64, stage string) {
		const width = 30
		filled := int(fraction * width)
		fmt.Fprintf(w, "\r[%s%s] %3.0f%% %-13s",
			strings.Repeat("#", filled), strings.Repeat(".", width-filled), fraction*100, stage)
	}
}

// printSummary writes the group table and the totals of a run.
func printSummary(w io.Writer, result *converter.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Title", "CST Entrada", "CST Saída", "Natureza", "NCMs"})
	for i, g := range result.Groups {
		t.AppendRow(table.Row{i + 1, g.Title, g.EntryCode, g.ExitCode, g.BookkeepingCode, g.Members})
	}
	t.AppendFooter(table.Row{"", "Total", "", "", "", result.Stats.Members})
	t.Render()

	fmt.Fprintln(w, "\n=== Processing Complete ===")
	if result.Stats.Records > 0 {
		fmt.Fprintf(w, "Records:         %d\n", result.Stats.Records)
	}
	fmt.Fprintf(w, "Groups:          %d\n", result.Stats.Groups)
	fmt.Fprintf(w, "Rows written:    %d\n", result.Stats.RowsCopied)
	fmt.Fprintf(w, "Final workbook:  %s\n", result.FinalPath)
	if len(result.GroupFiles) > 0 {
		fmt.Fprintf(w, "Group workbooks: %d in %s\n", len(result.GroupFiles), filepath.Dir(result.GroupFiles[0]))
	}
	if result.StagingDir != "" {
		fmt.Fprintf(w, "Staging kept:    %s\n", result.StagingDir)
	}
	fmt.Fprintf(w, "Time elapsed:    %s\n", result.Stats.ProcessingTime)
}

// describeError adds a hint for the failures a user can fix from the command line.
func describeError(err error, headerRow int) error {
	var loadErr *types.LoadError
	if errors.As(err, &loadErr) && len(loadErr.MissingColumns) > 0 {
		return fmt.Errorf("%w (is the header on row %d? see --header-row)", err, headerRow)
	}

	var conflict *types.ExitCodeConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w (run without --strict-exit-codes to keep the first code)", err)
	}

	if errs := validation.Errors(err); len(errs) > 1 {
		return &validationReport{text: strings.TrimRight(validation.FormatErrors(errs), "\n"), err: err}
	}
	return err
}

// validationReport prints several validation errors as a numbered list and
// still unwraps to them.
type validationReport struct {
	text string
	err  error
}

func (r *validationReport) Error() string { return r.text }
func (r *validationReport) Unwrap() error { return r.err }
