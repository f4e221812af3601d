// =============================================================================
// NCM Report Consolidator - Group Command
// =============================================================================
//
// This file defines the 'group' command, which loads and groups the
// classification table without producing any workbook.
//
// COMMAND USAGE:
//   ncmreport group --input <xlsx|csv> [--staging-dir <dir>]
//
// With --staging-dir the groups are also written as staging records plus a
// manifest. The records can be reviewed or edited and then turned into
// workbooks with 'ncmreport process --from-staging <dir>'.
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/ginjaninja78/ncm-report/internal/converter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// groupInput is the classification table to group.
var groupInput string

// stagingDir receives staging records when set.
var stagingDir string

// groupCmd represents the 'group' command.
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Show the groups of a classification table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRuntime(cmd)
		if err != nil {
			return err
		}

		groups, err := converter.New(cfg, logger).Plan(groupInput, stagingDir)
		if err != nil {
			return describeError(err, cfg.Input.HeaderRow)
		}

		out := cmd.OutOrStdout()
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Title", "CST Entrada", "CST Saída", "Natureza", "NCMs"})
		members := 0
		for i, g := range groups {
			t.AppendRow(table.Row{i + 1, g.Title(), g.Key.EntryCode, g.ExitCode, g.Key.BookkeepingCode, len(g.Members)})
			members += len(g.Members)
		}
		t.AppendFooter(table.Row{"", "Total", "", "", "", members})
		t.Render()

		if stagingDir != "" {
			fmt.Fprintf(out, "Staging records written to %s\n", stagingDir)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)

	flags := groupCmd.Flags()
	flags.StringVarP(&groupInput, "input", "i", "", "Classification table (.xlsx or .csv)")
	flags.StringVar(&stagingDir, "staging-dir", "", "Also write staging records and a manifest to this directory")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	addInputFlags(flags)

	_ = groupCmd.MarkFlagRequired("input")
}
