// =============================================================================
// NCM Report Consolidator - Main Entry Point
// =============================================================================
//
// USAGE:
//   ncmreport process   - Build the final workbook from a classification table
//   ncmreport group     - Show the groups, optionally writing staging records
//   ncmreport config    - Print the effective configuration
//   ncmreport version   - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : pipeline stages and configuration
//   - pkg/       : shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/ncm-report/cmd"
)

func main() {
	cmd.Execute()
}
