package staging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func group(entry, exit, bookkeeping, label string, members ...string) types.GroupRecord {
	return types.GroupRecord{
		Key:      types.GroupKey{EntryCode: entry, BookkeepingCode: bookkeeping},
		ExitCode: exit,
		Members:  members,
		Label:    label,
	}
}

func TestSerialize(t *testing.T) {
	got := Serialize(group("73", "06", "101", "ALIQUOTA ZERO", "04012010", "10063021"))
	want := "CST PIS/COFINS ENTRADA: 73\n" +
		"CST PIS/COFINS SAÍDA: 06\n" +
		"NATUREZA: 101\n" +
		"\n" +
		"NCMs:\n" +
		"04012010\n" +
		"10063021"
	assert.Equal(t, want, got)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		members []string
	}{
		{"several members", []string{"04012010", "10063021", "22021000"}},
		{"single member", []string{"123456"}},
		{"no members", []string{}},
		{"member shaped like a header", []string{"CST PIS/COFINS ENTRADA: 99", "NATUREZA: x"}},
		{"member equal to the marker", []string{"NCMs:"}},
		{"marker among members", []string{"123456", "NCMs:", "22021000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := group("50", "01", "999", "TRIBUTADO", tt.members...)
			staged, err := Deserialize(Serialize(g))
			require.NoError(t, err)

			assert.Equal(t, "50", staged.EntryCode)
			assert.Equal(t, "01", staged.ExitCode)
			assert.Equal(t, "999", staged.BookkeepingCode)
			assert.NotNil(t, staged.Members)
			assert.Equal(t, append([]string{}, tt.members...), staged.Members)
		})
	}
}

func TestDeserialize_CRLFAndBlankLines(t *testing.T) {
	text := "CST PIS/COFINS ENTRADA: 70\r\nCST PIS/COFINS SAÍDA: 04\r\nNATUREZA: 300\r\n\r\nNCMs:\r\n33051000\r\n\r\n33059000\r\n"
	staged, err := Deserialize(text)
	require.NoError(t, err)
	assert.Equal(t, "70", staged.EntryCode)
	assert.Equal(t, "04", staged.ExitCode)
	assert.Equal(t, "300", staged.BookkeepingCode)
	assert.Equal(t, []string{"33051000", "33059000"}, staged.Members)
}

func TestDeserialize_MissingMarker(t *testing.T) {
	_, err := Deserialize("CST PIS/COFINS ENTRADA: 70\nNATUREZA: 300\n33051000\n")
	var se *types.StagingError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "NCMs:")
}

func TestStore_PutGetManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	logger := zaptest.NewLogger(t)

	store, err := NewStore(dir, "run-1", "input.xlsx", logger)
	require.NoError(t, err)

	first, err := store.Put(group("73", "06", "101", "ALIQUOTA ZERO", "1", "2"))
	require.NoError(t, err)
	second, err := store.Put(group("50", "01", "1/2", "TRIBUTADO", "3"))
	require.NoError(t, err)

	assert.Equal(t, "001 - ALIQUOTA ZERO - 101.txt", first.File)
	assert.Equal(t, "002 - TRIBUTADO - 1_2.txt", second.File)
	assert.Equal(t, 2, second.Index)
	assert.FileExists(t, filepath.Join(dir, first.File))

	staged, err := store.Get(first)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, staged.Members)

	require.NoError(t, store.WriteManifest())
	assert.FileExists(t, filepath.Join(dir, ManifestFile))
	assert.NoFileExists(t, filepath.Join(dir, ManifestFile+".tmp"))

	reopened, err := OpenStore(dir, logger)
	require.NoError(t, err)
	m := reopened.Manifest()
	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, "input.xlsx", m.Source)
	assert.Equal(t, store.Entries(), reopened.Entries())

	staged, err = reopened.Get(reopened.Entries()[1])
	require.NoError(t, err)
	assert.Equal(t, "1/2", staged.BookkeepingCode)

	require.NoError(t, reopened.Remove(first))
	assert.NoFileExists(t, filepath.Join(dir, first.File))
	require.NoError(t, reopened.Remove(first))
}

func TestStore_GetDetectsEditedKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "run-2", "", nil)
	require.NoError(t, err)

	entry, err := store.Put(group("73", "06", "101", "ALIQUOTA ZERO", "1"))
	require.NoError(t, err)

	edited := Serialize(group("70", "06", "101", "MONOFASICO", "1"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, entry.File), []byte(edited), 0o644))

	_, err = store.Get(entry)
	var se *types.StagingError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "read", se.Op)
}

func TestStore_GetMissingMarkerCarriesPath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "run-3", "", nil)
	require.NoError(t, err)

	entry, err := store.Put(group("73", "06", "101", "ALIQUOTA ZERO", "1"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, entry.File), []byte("garbage"), 0o644))

	_, err = store.Get(entry)
	var se *types.StagingError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, filepath.Join(dir, entry.File), se.Path)
}

func TestOpenStore_Errors(t *testing.T) {
	_, err := OpenStore(t.TempDir(), nil)
	var se *types.StagingError
	require.True(t, errors.As(err, &se))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("version: 9\n"), 0o644))
	_, err = OpenStore(dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported manifest version 9")
}
