// =============================================================================
// NCM Report Consolidator - Grouping Engine
// =============================================================================
//
// This module partitions the normalized records by the composite key
// (entry code, bookkeeping code).
//
// ORDERING:
//   Groups come out in a deterministic order that is carried through to the
//   final workbook:
//     1. distinct entry codes, in the order first seen
//     2. within each, distinct bookkeeping codes, in the order first seen
//
// PER GROUP:
//   - ExitCode: taken from the first record of the group
//   - Members:  distinct non-blank classification codes, ascending
//   - Label:    category name derived from the entry code (naming only)
//
// =============================================================================

package grouping

import (
	"fmt"
	"sort"

	"github.com/ginjaninja78/ncm-report/internal/types"
	"go.uber.org/zap"
)

// ProgressShare is the fraction of total pipeline progress owned by grouping.
const ProgressShare = 0.3

// Options controls grouping.
type Options struct {
	// Labels maps entry codes to category labels. Nil uses DefaultLabels.
	Labels map[string]string

	// StrictExitCodes returns an *types.ExitCodeConflictError when a group
	// holds more than one exit code.
	StrictExitCodes bool

	// Progress, when set, receives a value in (0, ProgressShare] after each
	// distinct entry code is processed.
	Progress func(fraction float64)

	Logger *zap.Logger
}

// DefaultLabels is used when Options.Labels is nil.
var DefaultLabels = map[string]string{
	"73": "ALIQUOTA ZERO",
	"70": "MONOFASICO",
	"50": "TRIBUTADO",
}

// Label returns the category label for an entry code.
func Label(labels map[string]string, entryCode string) string {
	if labels == nil {
		labels = DefaultLabels
	}
	if label, ok := labels[entryCode]; ok {
		return label
	}
	return "CST " + entryCode
}

// partition accumulates the records of one key in arrival order.
type partition struct {
	key     types.GroupKey
	records []types.RawRecord
}

// Group partitions records by (entry code, bookkeeping code).
//
// PARAMETERS:
//   - records: normalized records in source order.
//   - opts: label table, exit-code policy, progress sink.
//
// RETURNS:
//   - One GroupRecord per distinct key, in processing order.
//   - An *types.ExitCodeConflictError in strict mode.
func Group(records []types.RawRecord, opts Options) ([]types.GroupRecord, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Record first-seen order of entry codes and, per entry code, of
	// bookkeeping codes.
	var entryOrder []string
	bookkeepingOrder := make(map[string][]string)
	parts := make(map[types.GroupKey]*partition)

	for _, rec := range records {
		key := types.GroupKey{EntryCode: rec.EntryCode, BookkeepingCode: rec.BookkeepingCode}
		if _, seen := bookkeepingOrder[rec.EntryCode]; !seen {
			entryOrder = append(entryOrder, rec.EntryCode)
			bookkeepingOrder[rec.EntryCode] = nil
		}
		p, ok := parts[key]
		if !ok {
			p = &partition{key: key}
			parts[key] = p
			bookkeepingOrder[rec.EntryCode] = append(bookkeepingOrder[rec.EntryCode], rec.BookkeepingCode)
		}
		p.records = append(p.records, rec)
	}

	groups := make([]types.GroupRecord, 0, len(parts))
	for i, entry := range entryOrder {
		label := Label(opts.Labels, entry)

		for _, bookkeeping := range bookkeepingOrder[entry] {
			p := parts[types.GroupKey{EntryCode: entry, BookkeepingCode: bookkeeping}]

			exitCodes := distinctExitCodes(p.records)
			if len(exitCodes) > 1 {
				if opts.StrictExitCodes {
					return nil, &types.ExitCodeConflictError{Key: p.key, ExitCodes: exitCodes}
				}
				logger.Warn("group has heterogeneous exit codes, keeping the first",
					zap.String("group", p.key.String()),
					zap.Strings("exit_codes", exitCodes))
			}

			if blank := countBlankMembers(p.records); blank > 0 {
				logger.Warn("skipping rows without an NCM code",
					zap.String("group", p.key.String()),
					zap.Int("rows", blank))
			}

			groups = append(groups, types.GroupRecord{
				Key:      p.key,
				ExitCode: p.records[0].ExitCode,
				Members:  SortedMembers(p.records),
				Label:    label,
			})
		}

		if opts.Progress != nil {
			opts.Progress(float64(i+1) / float64(len(entryOrder)) * ProgressShare)
		}
	}

	logger.Debug("grouped records",
		zap.Int("records", len(records)),
		zap.Int("entry_codes", len(entryOrder)),
		zap.Int("groups", len(groups)))

	return groups, nil
}

// SortedMembers returns the distinct classification codes of records in
// ascending order. Blank codes are left out.
func SortedMembers(records []types.RawRecord) []string {
	seen := make(map[string]struct{}, len(records))
	members := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ClassificationCode == "" {
			continue
		}
		if _, ok := seen[rec.ClassificationCode]; ok {
			continue
		}
		seen[rec.ClassificationCode] = struct{}{}
		members = append(members, rec.ClassificationCode)
	}
	sort.Strings(members)
	return members
}

func countBlankMembers(records []types.RawRecord) int {
	n := 0
	for _, rec := range records {
		if rec.ClassificationCode == "" {
			n++
		}
	}
	return n
}

// distinctExitCodes returns the exit codes of records in first-seen order.
func distinctExitCodes(records []types.RawRecord) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, rec := range records {
		if !seen[rec.ExitCode] {
			seen[rec.ExitCode] = true
			codes = append(codes, rec.ExitCode)
		}
	}
	return codes
}

// Lookup indexes groups by key.
func Lookup(groups []types.GroupRecord) map[types.GroupKey]types.GroupRecord {
	m := make(map[types.GroupKey]types.GroupRecord, len(groups))
	for _, g := range groups {
		m[g.Key] = g
	}
	return m
}

// Describe renders a one-line summary of a group for logs.
func Describe(g types.GroupRecord) string {
	return fmt.Sprintf("%s (exit %s, %d member(s))", g.Title(), g.ExitCode, len(g.Members))
}
