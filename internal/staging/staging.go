// =============================================================================
// NCM Report Consolidator - Staging Store
// =============================================================================
//
// Every group is written to an intermediate plain-text artifact before it is
// expanded into a workbook. The artifact is the hand-off between grouping and
// expansion, and can be inspected or edited between the two.
//
// ARTIFACT FORMAT:
//   CST PIS/COFINS ENTRADA: <entry code>
//   CST PIS/COFINS SAÍDA: <exit code>
//   NATUREZA: <bookkeeping code>
//   <blank line>
//   NCMs:
//   <member 1>
//   <member 2>
//   ...
//
// Reading is marker based: every non-empty line after the first "NCMs:" is a
// member, including a later "NCMs:" line.
//
// MANIFEST:
//   A manifest.yaml file lists the artifacts of a run in processing order so
//   a run can resume from an existing staging directory.
//
// =============================================================================

package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/ginjaninja78/ncm-report/pkg/utils"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	prefixEntry       = "CST PIS/COFINS ENTRADA:"
	prefixExit        = "CST PIS/COFINS SAÍDA:"
	prefixBookkeeping = "NATUREZA:"

	// MembersMarker introduces the member list.
	MembersMarker = "NCMs:"

	// ManifestFile is the manifest name inside a staging directory.
	ManifestFile = "manifest.yaml"

	// ManifestVersion is the manifest format written by this package.
	ManifestVersion = 1
)

// =============================================================================
// SERIALIZATION
// =============================================================================

// Serialize renders a group as a staging artifact.
func Serialize(g types.GroupRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", prefixEntry, g.Key.EntryCode)
	fmt.Fprintf(&b, "%s %s\n", prefixExit, g.ExitCode)
	fmt.Fprintf(&b, "%s %s\n", prefixBookkeeping, g.Key.BookkeepingCode)
	b.WriteString("\n")
	b.WriteString(MembersMarker + "\n")
	b.WriteString(strings.Join(g.Members, "\n"))
	return b.String()
}

// Deserialize parses a staging artifact.
//
// RETURNS:
//   - The staged group. Members is never nil.
//   - A *types.StagingError when the members marker is missing.
func Deserialize(text string) (types.StagedGroup, error) {
	staged := types.StagedGroup{Members: []string{}}
	inMembers := false
	sawMarker := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !inMembers && line == MembersMarker {
			inMembers, sawMarker = true, true
			continue
		}
		if inMembers {
			if line != "" {
				staged.Members = append(staged.Members, line)
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, prefixEntry):
			staged.EntryCode = strings.TrimSpace(strings.TrimPrefix(line, prefixEntry))
		case strings.HasPrefix(line, prefixExit):
			staged.ExitCode = strings.TrimSpace(strings.TrimPrefix(line, prefixExit))
		case strings.HasPrefix(line, prefixBookkeeping):
			staged.BookkeepingCode = strings.TrimSpace(strings.TrimPrefix(line, prefixBookkeeping))
		}
	}

	if !sawMarker {
		return types.StagedGroup{}, &types.StagingError{
			Op:  "parse",
			Err: fmt.Errorf("missing %q marker", MembersMarker),
		}
	}
	return staged, nil
}

// =============================================================================
// MANIFEST
// =============================================================================

// Entry describes one staged artifact.
type Entry struct {
	Index           int    `yaml:"index"`
	Title           string `yaml:"title"`
	Label           string `yaml:"label"`
	EntryCode       string `yaml:"entry_code"`
	BookkeepingCode string `yaml:"bookkeeping_code"`
	Members         int    `yaml:"members"`
	File            string `yaml:"file"`
}

// Manifest lists the artifacts of a run in processing order.
type Manifest struct {
	Version   int       `yaml:"version"`
	RunID     string    `yaml:"run_id"`
	CreatedAt time.Time `yaml:"created_at"`
	Source    string    `yaml:"source,omitempty"`
	Entries   []Entry   `yaml:"entries"`
}

// =============================================================================
// STORE
// =============================================================================

// Store reads and writes staging artifacts in one directory.
type Store struct {
	dir      string
	manifest Manifest
	logger   *zap.Logger
}

// NewStore creates dir if needed and returns an empty store.
func NewStore(dir, runID, source string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &types.StagingError{Op: "create", Path: dir, Err: err}
	}
	return &Store{
		dir: dir,
		manifest: Manifest{
			Version:   ManifestVersion,
			RunID:     runID,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Source:    source,
		},
		logger: logger,
	}, nil
}

// OpenStore opens an existing staging directory through its manifest.
func OpenStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.StagingError{Op: "open", Path: path, Err: err}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &types.StagingError{Op: "open", Path: path, Err: err}
	}
	if m.Version != ManifestVersion {
		return nil, &types.StagingError{
			Op:   "open",
			Path: path,
			Err:  fmt.Errorf("unsupported manifest version %d", m.Version),
		}
	}

	logger.Debug("opened staging directory",
		zap.String("dir", dir),
		zap.String("run_id", m.RunID),
		zap.Int("entries", len(m.Entries)))

	return &Store{dir: dir, manifest: m, logger: logger}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string { return s.dir }

// Manifest returns a copy of the manifest.
func (s *Store) Manifest() Manifest {
	m := s.manifest
	m.Entries = s.Entries()
	return m
}

// Entries returns the staged artifacts in processing order.
func (s *Store) Entries() []Entry {
	return append([]Entry(nil), s.manifest.Entries...)
}

// Put writes the artifact of g and records it in the manifest.
func (s *Store) Put(g types.GroupRecord) (Entry, error) {
	index := len(s.manifest.Entries) + 1
	entry := Entry{
		Index:           index,
		Title:           g.Title(),
		Label:           g.Label,
		EntryCode:       g.Key.EntryCode,
		BookkeepingCode: g.Key.BookkeepingCode,
		Members:         len(g.Members),
		File:            fmt.Sprintf("%03d - %s.txt", index, utils.SanitizeFileName(g.Title())),
	}

	path := filepath.Join(s.dir, entry.File)
	if err := os.WriteFile(path, []byte(Serialize(g)), 0644); err != nil {
		return Entry{}, &types.StagingError{Op: "write", Path: path, Err: err}
	}

	s.manifest.Entries = append(s.manifest.Entries, entry)
	s.logger.Debug("staged group", zap.String("file", entry.File), zap.Int("members", entry.Members))
	return entry, nil
}

// Get reads the artifact of e back.
// The artifact must still carry the key recorded in the manifest.
func (s *Store) Get(e Entry) (types.StagedGroup, error) {
	path := filepath.Join(s.dir, e.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return types.StagedGroup{}, &types.StagingError{Op: "read", Path: path, Err: err}
	}

	staged, err := Deserialize(string(data))
	if err != nil {
		var se *types.StagingError
		if errors.As(err, &se) {
			se.Path = path
		}
		return types.StagedGroup{}, err
	}

	if staged.EntryCode != e.EntryCode || staged.BookkeepingCode != e.BookkeepingCode {
		return types.StagedGroup{}, &types.StagingError{
			Op:   "read",
			Path: path,
			Err: fmt.Errorf("artifact holds %s/%s, manifest expects %s/%s",
				staged.EntryCode, staged.BookkeepingCode, e.EntryCode, e.BookkeepingCode),
		}
	}
	return staged, nil
}

// Remove deletes the artifact of e. A missing file is not an error.
func (s *Store) Remove(e Entry) error {
	path := filepath.Join(s.dir, e.File)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &types.StagingError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// WriteManifest persists the manifest, replacing it atomically.
func (s *Store) WriteManifest() error {
	path := filepath.Join(s.dir, ManifestFile)
	data, err := yaml.Marshal(s.manifest)
	if err != nil {
		return &types.StagingError{Op: "write", Path: path, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &types.StagingError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &types.StagingError{Op: "write", Path: path, Err: err}
	}
	return nil
}
