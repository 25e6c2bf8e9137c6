package storage

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessID = "0a1b2c3d4e5f60718293a4b5c6d7e8f9"

func TestLayout_Route(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	importDir := filepath.Join(root, "import", testSessID)

	tests := []struct {
		filename string
		kind     FileKind
		path     string
	}{
		{"offers_7.xml", FileKindFeed, filepath.Join(importDir, "offers", "offers_7.xml")},
		{"goods_1_2.xml", FileKindFeed, filepath.Join(importDir, "goods", "goods_1_2.xml")},
		{"rests___5f2c.xml", FileKindFeed, filepath.Join(importDir, "rests", "rests___5f2c.xml")},
		{"Contragents.xml", FileKindFeed, filepath.Join(importDir, "contragents", "Contragents.xml")},
		{"photo.PNG", FileKindImage, filepath.Join(importDir, "import_files", "photo.PNG")},
		{"import_files/ab/ball.jpg", FileKindImage, filepath.Join(importDir, "import_files", "ab", "ball.jpg")},
		{`import_files\cd\net.webp`, FileKindImage, filepath.Join(importDir, "import_files", "cd", "net.webp")},
		{"archive.zip", FileKindArchive, filepath.Join(root, "staging", testSessID, "archive.zip")},
		{"import.xml", FileKindOther, filepath.Join(importDir, "import.xml")},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			file, err := l.Route(testSessID, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, file.Kind)
			assert.Equal(t, tt.path, file.Path)
		})
	}
}

func TestLayout_RouteRejectsTraversal(t *testing.T) {
	l := NewLayout(t.TempDir())
	for _, name := range []string{"../goods.xml", "import_files/../../x.jpg", "/etc/passwd", `C:\x.jpg`, ""} {
		_, err := l.Route(testSessID, name)
		assert.ErrorIs(t, err, ErrPathTraversal, name)
	}

	_, err := l.Route("../other", "goods.xml")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestLayout_Save(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)

	file, err := l.Save(testSessID, "offers_7.xml", strings.NewReader("<x/>"), 1024)
	require.NoError(t, err)
	assert.Equal(t, commerceml.FeedOffers, file.Feed)
	assert.Equal(t, int64(4), file.Size)
	data, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, "<x/>", string(data))

	_, err = l.Save(testSessID, "goods.xml", strings.NewReader("0123456789"), 5)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	_, statErr := os.Stat(filepath.Join(root, "import", testSessID, "goods", "goods.xml"))
	assert.True(t, os.IsNotExist(statErr), "oversized upload is not kept")
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLayout_Unpack(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	archive := buildZip(t, map[string]string{
		"goods_1.xml":              "<goods/>",
		"offers/offers_1.xml":      "<offers/>",
		"import_files/ab/ball.jpg": "jpeg",
		"import.xml":               "<import/>",
	})
	_, err := l.Save(testSessID, "archive.zip", bytes.NewReader(archive), 1<<20)
	require.NoError(t, err)

	files, err := l.Unpack(testSessID, "archive.zip", 1<<20)
	require.NoError(t, err)
	assert.Len(t, files, 4)

	importDir := filepath.Join(root, "import", testSessID)
	for _, p := range []string{
		filepath.Join(importDir, "goods", "goods_1.xml"),
		filepath.Join(importDir, "offers", "offers_1.xml"),
		filepath.Join(importDir, "import_files", "ab", "ball.jpg"),
		filepath.Join(importDir, "import.xml"),
	} {
		assert.FileExists(t, p)
	}
}

func TestLayout_UnpackRejectsZipSlipAndBombs(t *testing.T) {
	l := NewLayout(t.TempDir())

	evil := buildZip(t, map[string]string{"../../evil.xml": "x"})
	_, err := l.Save(testSessID, "evil.zip", bytes.NewReader(evil), 1<<20)
	require.NoError(t, err)
	_, err = l.Unpack(testSessID, "evil.zip", 1<<20)
	assert.ErrorIs(t, err, ErrPathTraversal)

	big := buildZip(t, map[string]string{"goods.xml": strings.Repeat("a", 4096)})
	_, err = l.Save(testSessID, "big.zip", bytes.NewReader(big), 1<<20)
	require.NoError(t, err)
	_, err = l.Unpack(testSessID, "big.zip", 1024)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestLayout_AppendAudit(t *testing.T) {
	l := NewLayout(t.TempDir())
	require.NoError(t, l.AppendAudit("exported 2 orders"))
	require.NoError(t, l.AppendAudit("exported 1 orders"))

	data, err := os.ReadFile(l.AuditLogPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "exported 2 orders"))
}
