package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/erp/exchange/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add import index", "add_import_index"},
		{"Add-Import-Index", "add_import_index"},
		{"ADD__IMPORT__INDEX", "add_import_index"},
		{"orders 2", "orders_2"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"_leading_and_trailing_", "leading_and_trailing"},
		{"товары", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestList(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_add_orders.up.sql":    {},
		"000002_add_orders.down.sql":  {},
		"000001_init.up.sql":          {},
		"000010_no_down.up.sql":       {},
		"README.md":                   {},
		"notanumber_x.up.sql":         {},
		"000003.up.sql":               {},
		"nested/000004_nested.up.sql": {},
		"000001_init.down.sql":        {},
	}

	files, err := List(fsys)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, File{Version: 1, Name: "init", HasDown: true}, files[0])
	assert.Equal(t, File{Version: 2, Name: "add_orders", HasDown: true}, files[1])
	assert.Equal(t, File{Version: 10, Name: "no_down", HasDown: false}, files[2])
	assert.Equal(t, "000010_no_down", files[2].Base())
}

func TestList_MissingDirectory(t *testing.T) {
	files, err := List(os.DirFS(filepath.Join(t.TempDir(), "missing")))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestList_EmbeddedSchemaIsComplete(t *testing.T) {
	files, err := List(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for i, f := range files {
		assert.Equal(t, uint(i+1), f.Version, "versions must be contiguous")
		assert.True(t, f.HasDown, "%s has no down migration", f.Base())
	}
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()

	first, err := Create(dir, "Add import index")
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.Version)
	assert.Equal(t, "add_import_index", first.Name)

	up, err := os.ReadFile(filepath.Join(dir, "000001_add_import_index.up.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(up), "Add import index")
	assert.FileExists(t, filepath.Join(dir, "000001_add_import_index.down.sql"))

	second, err := Create(dir, "second")
	require.NoError(t, err)
	assert.Equal(t, uint(2), second.Version)

	files, err := List(os.DirFS(dir))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestCreate_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "migrations")

	f, err := Create(dir, "init")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, "000001_init", f.Base())
}

func TestCreate_RejectsEmptyName(t *testing.T) {
	_, err := Create(t.TempDir(), "!!!")
	assert.Error(t, err)
}
