package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirRejectsEscapes(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"plain file", "codex/book.json", true},
		{"nested file", "runs/checkpoints/run.json", true},
		{"parent traversal", "../escape.json", false},
		{"hidden traversal", "runs/../../escape.json", false},
		{"absolute path", "/etc/passwd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Save(ctx, tt.path, []byte("x"))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDirSaveLoadRoundTrip(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	require.NoError(t, d.Save(ctx, "codex/book.json", []byte(`{"ok":true}`)))
	got, err := d.Load(ctx, "codex/book.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(got))

	assert.True(t, d.Exists(ctx, "codex/book.json"))
	assert.False(t, d.Exists(ctx, "codex/missing.json"))

	require.NoError(t, d.Delete(ctx, "codex/book.json"))
	assert.False(t, d.Exists(ctx, "codex/book.json"))
}

func TestDirSaveLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	d := NewDir(root)
	require.NoError(t, d.Save(context.Background(), "a/b.json", []byte("data")))

	entries, err := os.ReadDir(filepath.Join(root, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.json", entries[0].Name())
}

func TestDirList(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()
	require.NoError(t, d.Save(ctx, "runs/a.json", []byte("a")))
	require.NoError(t, d.Save(ctx, "runs/b.json", []byte("b")))
	require.NoError(t, d.Save(ctx, "codex/c.json", []byte("c")))

	got, err := d.List(ctx, "runs/*.json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join("runs", "a.json"), filepath.Join("runs", "b.json")}, got)
}

func TestDirJSONHelpers(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, d.SaveJSON(ctx, "doc.json", doc{Name: "mara", Count: 3}))

	var got doc
	require.NoError(t, d.LoadJSON(ctx, "doc.json", &got))
	assert.Equal(t, doc{Name: "mara", Count: 3}, got)
}
