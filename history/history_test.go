package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/semitest/model"
)

func record(t *testing.T, root string, h *model.History) string {
	t.Helper()
	dir := RunDir(root, h)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, Write(dir, h))
	return dir
}

func TestRunDir(t *testing.T) {
	h := &model.History{
		ID:        "0123456789abcdef",
		Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Git:       &model.Git{Commit: "deadbeefcafe"},
	}
	assert.Equal(t, filepath.Join("/r", "history", "20260304-050607-deadbeef-01234567"), RunDir("/r", h))

	h.Git = nil
	assert.Equal(t, filepath.Join("/r", "history", "20260304-050607-nocommit-01234567"), RunDir("/r", h))
}

func TestLoadAndFind(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaa0000", "bbbb0000", "cccc0000"} {
		record(t, root, &model.History{
			ID:        id,
			Type:      model.HistoryTypeTest,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Test: &model.TestRun{Results: []model.TestResult{
				{Name: "tests::a", Result: "ok"},
			}},
		})
	}
	// Broken metadata is skipped.
	broken := filepath.Join(root, "history", "broken")
	require.NoError(t, os.MkdirAll(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, FileName), []byte("{"), 0644))

	entries, err := LoadEntries(zerolog.Nop(), root)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "cccc0000", entries[0].History.ID)
	assert.Equal(t, "tests::a", entries[0].History.Test.Results[0].Name)

	for _, tc := range []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{arg: "0", want: "cccc0000"},
		{arg: "-2", want: "aaaa0000"},
		{arg: "BBB", want: "bbbb0000"},
		{arg: "-3", wantErr: true},
		{arg: "1", wantErr: true},
		{arg: "ffff", wantErr: true},
	} {
		t.Run(tc.arg, func(t *testing.T) {
			e, err := Find(entries, tc.arg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, e.History.ID)
		})
	}
}
