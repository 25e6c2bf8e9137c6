package exchange_test

import (
	"context"
	"path/filepath"
	"testing"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) runImages(t *testing.T, p *appexchange.ImageProcessor, dir string) exchange.ImportStats {
	t.Helper()
	run := appexchange.Run{ImportType: exchange.ImportTypeImages, DataDir: dir}
	phases, err := p.Phases(context.Background(), run)
	require.NoError(t, err)
	require.Len(t, phases, 1)
	stats, err := phases[0].Run(context.Background(), run)
	require.NoError(t, err)
	return stats
}

func TestImageProcessor_UploadsAndLinks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	session := runCatalog(t, e, exchange.ImportTypeCatalog, catalogDir(t, e.root))
	require.Equal(t, exchange.SessionStatusCompleted, session.Status, session.Report)

	store, err := storage.NewLocalImageStore(t.TempDir(), "http://media.test")
	require.NoError(t, err)
	p := appexchange.NewImageProcessor(store, e.scope, 2, e.logger)

	dir := filepath.Join(e.root, "import", "sess-img")
	writeFeed(t, dir, "import_files/ab/grp-1_1.jpg", "jpeg")
	writeFeed(t, dir, "import_files/cd/nobody_1.png", "png")
	writeFeed(t, dir, "import_files/cd/readme.txt", "not an image")

	stats := e.runImages(t, p, dir)
	assert.Equal(t, 2, stats.Get(exchange.StatCreated))
	assert.Equal(t, 1, stats.Get("unlinked"))

	rows, err := e.repos.Products().FindByParentExternalID(ctx, "grp-1")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, len(rows), stats.Get(exchange.StatUpdated))
	for _, row := range rows {
		assert.Equal(t, []string{"import_files/ab/grp-1_1.jpg"}, row.Images)
	}

	exists, err := store.Exists(ctx, "import_files/ab/grp-1_1.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	again := e.runImages(t, p, dir)
	assert.Equal(t, 0, again.Get(exchange.StatCreated))
	assert.Equal(t, 2, again.Get("unchanged"))
	assert.Equal(t, 0, again.Get(exchange.StatUpdated), "image already linked")
}

func TestImageProcessor_DryRunOnlyCounts(t *testing.T) {
	e := newEnv(t)
	store, err := storage.NewLocalImageStore(t.TempDir(), "")
	require.NoError(t, err)
	dir := filepath.Join(e.root, "import", "sess-img")
	writeFeed(t, dir, "import_files/ab/g_1.jpg", "jpeg")

	p := appexchange.NewImageProcessor(store, e.scope, 2, e.logger)
	run := appexchange.Run{ImportType: exchange.ImportTypeImages, DataDir: dir, DryRun: true}
	phases, err := p.Phases(context.Background(), run)
	require.NoError(t, err)
	stats, err := phases[0].Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Get(appexchange.StatValidated))

	exists, err := store.Exists(context.Background(), "import_files/ab/g_1.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImageProcessor_RequiresStore(t *testing.T) {
	e := newEnv(t)
	p := appexchange.NewImageProcessor(nil, e.scope, 2, e.logger)
	_, err := p.Phases(context.Background(), appexchange.Run{ImportType: exchange.ImportTypeImages})
	assert.Error(t, err)
}
