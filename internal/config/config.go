// =============================================================================
// NCM Report Consolidator - Configuration Module
// =============================================================================
//
// This module loads the run configuration. Values are layered, lowest to
// highest priority:
//   1. Built-in defaults
//   2. YAML config file (ncmreport.yaml, or the --config path)
//   3. Environment variables with the NCMREPORT_ prefix
//      (nested keys use a double underscore: NCMREPORT_METADATA__TAX_TYPE)
//   4. Command-line flags that were explicitly set
//
// EXAMPLE FILE:
//   output_dir: ./output
//   final_name: planilha_final.xlsx
//   strict_exit_codes: true
//   input:
//     header_row: 6
//     csv:
//       delimiter: ";"
//       encoding: Windows-1252
//   metadata:
//     tax_type: C
//     description: Revisão mensal
//   labels:
//     "06": ALIQUOTA ZERO
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ginjaninja78/ncm-report/internal/grouping"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read into the config.
const EnvPrefix = "NCMREPORT_"

// DateLayout is the layout the date field is written with.
const DateLayout = "02/01/2006"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds everything a run needs besides the input and template paths.
type Config struct {
	// OutputDir receives the final workbook and, optionally, the per-group
	// workbooks. The run's scratch directory is created inside it.
	// Default: "./output"
	OutputDir string `koanf:"output_dir" yaml:"output_dir"`

	// FinalName is the file name of the consolidated workbook.
	// Default: "planilha_final.xlsx"
	FinalName string `koanf:"final_name" yaml:"final_name"`

	// KeepGroupArtifacts publishes the per-group workbooks next to the final one.
	// Default: true
	KeepGroupArtifacts bool `koanf:"keep_group_artifacts" yaml:"keep_group_artifacts"`

	// KeepStaging leaves the scratch directory (staging records and manifest)
	// on disk after the run.
	// Default: false
	KeepStaging bool `koanf:"keep_staging" yaml:"keep_staging"`

	// StrictExitCodes fails the run when a group holds more than one exit code.
	// When false the first exit code seen wins and a warning is logged.
	// Default: false
	StrictExitCodes bool `koanf:"strict_exit_codes" yaml:"strict_exit_codes"`

	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// Input controls how the classification table is read.
	Input InputSettings `koanf:"input" yaml:"input"`

	// Layout holds the template cell positions.
	Layout Layout `koanf:"layout" yaml:"layout"`

	// Labels maps entry codes to category labels used in artifact titles.
	Labels map[string]string `koanf:"labels" yaml:"labels"`

	// Metadata is written into every artifact.
	Metadata types.Metadata `koanf:"metadata" yaml:"metadata"`
}

// InputSettings describes the classification table.
type InputSettings struct {
	// HeaderRow is the 1-indexed row holding the column headers.
	// Default: 6
	HeaderRow int `koanf:"header_row" yaml:"header_row"`

	// Sheet selects the worksheet of an XLSX input. Empty means the first one.
	Sheet string `koanf:"sheet" yaml:"sheet"`

	// CSV settings apply to .csv inputs only.
	CSV CSVSettings `koanf:"csv" yaml:"csv"`
}

// CSVSettings contains settings for parsing CSV inputs.
type CSVSettings struct {
	// Delimiter separates fields. "tab" and "\t" select a tab.
	// Default: ";"
	Delimiter string `koanf:"delimiter" yaml:"delimiter"`

	// Encoding is one of "UTF-8", "ISO-8859-1", "Windows-1252".
	// Default: "UTF-8"
	Encoding string `koanf:"encoding" yaml:"encoding"`
}

// Layout holds the fixed cell positions of the template.
type Layout struct {
	Date            string `koanf:"date" yaml:"date"`
	Description     string `koanf:"description" yaml:"description"`
	Title           string `koanf:"title" yaml:"title"`
	TaxType         string `koanf:"tax_type" yaml:"tax_type"`
	EntryCode       string `koanf:"entry_code" yaml:"entry_code"`
	CreditLinkage   string `koanf:"credit_linkage" yaml:"credit_linkage"`
	CreditBase      string `koanf:"credit_base" yaml:"credit_base"`
	ExitCode        string `koanf:"exit_code" yaml:"exit_code"`
	BookkeepingCode string `koanf:"bookkeeping_code" yaml:"bookkeeping_code"`

	// MemberMarkerColumn and MemberCodeColumn are column letters.
	MemberMarkerColumn string `koanf:"member_marker_column" yaml:"member_marker_column"`
	MemberCodeColumn   string `koanf:"member_code_column" yaml:"member_code_column"`

	// MemberStartRow is the 1-indexed row of the first member.
	MemberStartRow int `koanf:"member_start_row" yaml:"member_start_row"`

	// MemberMarker is the literal written in the marker column.
	MemberMarker string `koanf:"member_marker" yaml:"member_marker"`

	// DataStartRow is the first row copied from every artifact into the final
	// workbook. Rows above it are header rows.
	DataStartRow int `koanf:"data_start_row" yaml:"data_start_row"`
}

// DefaultLabels is the built-in entry code to label table.
func DefaultLabels() map[string]string {
	labels := make(map[string]string, len(grouping.DefaultLabels))
	for code, label := range grouping.DefaultLabels {
		labels[code] = label
	}
	return labels
}

// DefaultLayout returns the cell positions of the standard template.
func DefaultLayout() Layout {
	return Layout{
		Date:               "B2",
		Description:        "C2",
		Title:              "B4",
		TaxType:            "B6",
		EntryCode:          "C6",
		CreditLinkage:      "D6",
		CreditBase:         "E6",
		ExitCode:           "H6",
		BookkeepingCode:    "I6",
		MemberMarkerColumn: "A",
		MemberCodeColumn:   "B",
		MemberStartRow:     8,
		MemberMarker:       "NCM",
		DataStartRow:       3,
	}
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{KeepGroupArtifacts: true}
	applyDefaults(cfg)
	return cfg
}

// =============================================================================
// LOADING
// =============================================================================

// flagKeys maps CLI flag names to config keys. Flags not listed here are
// command arguments (paths, modes) and never reach the config.
var flagKeys = map[string]string{
	"output-dir":        "output_dir",
	"final-name":        "final_name",
	"keep-groups":       "keep_group_artifacts",
	"keep-staging":      "keep_staging",
	"strict-exit-codes": "strict_exit_codes",
	"log-level":         "log_level",
	"header-row":        "input.header_row",
	"sheet":             "input.sheet",
	"delimiter":         "input.csv.delimiter",
	"encoding":          "input.csv.encoding",
	"date":              "metadata.date",
	"description":       "metadata.description",
	"tax-type":          "metadata.tax_type",
	"credit-linkage":    "metadata.credit_linkage",
	"credit-base":       "metadata.credit_base",
}

// FindConfigFile returns the config file to read.
// Priority: explicit path > ncmreport.yaml > ncmreport.yml > none.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"ncmreport.yaml", "ncmreport.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads the configuration from defaults, file, environment and flags.
//
// PARAMETERS:
//   - cfgFile: explicit config path; empty to search the working directory.
//   - flags: the command's flag set; may be nil.
//
// RETURNS:
//   - The merged configuration with defaults applied.
//   - An error if the file cannot be read or a value cannot be decoded.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	base := map[string]interface{}{
		"output_dir":           defaults.OutputDir,
		"final_name":           defaults.FinalName,
		"keep_group_artifacts": defaults.KeepGroupArtifacts,
		"keep_staging":         defaults.KeepStaging,
		"strict_exit_codes":    defaults.StrictExitCodes,
		"log_level":            defaults.LogLevel,
		"input.header_row":     defaults.Input.HeaderRow,
		"input.csv.delimiter":  defaults.Input.CSV.Delimiter,
		"input.csv.encoding":   defaults.Input.CSV.Encoding,
		"layout":               layoutMap(defaults.Layout),
		"labels":               toInterfaceMap(defaults.Labels),
	}
	if err := k.Load(confmap.Provider(base, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := FindConfigFile(cfgFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func applyDefaults(cfg *Config) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./output"
	}
	if cfg.FinalName == "" {
		cfg.FinalName = "planilha_final.xlsx"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Input.HeaderRow == 0 {
		cfg.Input.HeaderRow = 6
	}
	if cfg.Input.CSV.Delimiter == "" {
		cfg.Input.CSV.Delimiter = ";"
	}
	if cfg.Input.CSV.Encoding == "" {
		cfg.Input.CSV.Encoding = "UTF-8"
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabels()
	}
	if cfg.Metadata.Date == "" {
		cfg.Metadata.Date = time.Now().Format(DateLayout)
	}

	def := DefaultLayout()
	l := &cfg.Layout
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&l.Date, def.Date},
		{&l.Description, def.Description},
		{&l.Title, def.Title},
		{&l.TaxType, def.TaxType},
		{&l.EntryCode, def.EntryCode},
		{&l.CreditLinkage, def.CreditLinkage},
		{&l.CreditBase, def.CreditBase},
		{&l.ExitCode, def.ExitCode},
		{&l.BookkeepingCode, def.BookkeepingCode},
		{&l.MemberMarkerColumn, def.MemberMarkerColumn},
		{&l.MemberCodeColumn, def.MemberCodeColumn},
		{&l.MemberMarker, def.MemberMarker},
	} {
		if *f.dst == "" {
			*f.dst = f.val
		}
	}
	if l.MemberStartRow == 0 {
		l.MemberStartRow = def.MemberStartRow
	}
	if l.DataStartRow == 0 {
		l.DataStartRow = def.DataStartRow
	}
}

func layoutMap(l Layout) map[string]interface{} {
	return map[string]interface{}{
		"date":                 l.Date,
		"description":          l.Description,
		"title":                l.Title,
		"tax_type":             l.TaxType,
		"entry_code":           l.EntryCode,
		"credit_linkage":       l.CreditLinkage,
		"credit_base":          l.CreditBase,
		"exit_code":            l.ExitCode,
		"bookkeeping_code":     l.BookkeepingCode,
		"member_marker_column": l.MemberMarkerColumn,
		"member_code_column":   l.MemberCodeColumn,
		"member_start_row":     l.MemberStartRow,
		"member_marker":        l.MemberMarker,
		"data_start_row":       l.DataStartRow,
	}
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
