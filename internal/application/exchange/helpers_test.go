package exchange_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/erp/exchange/internal/infrastructure/lock"
	"github.com/erp/exchange/internal/infrastructure/persistence"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"github.com/erp/exchange/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// env bundles the collaborators every application test needs
type env struct {
	db       *persistence.Database
	repos    *persistence.GormRepositories
	scope    *persistence.GormTransactionScope
	layout   *storage.Layout
	lock     *lock.MemoryLock
	metrics  *recordingMetrics
	events   *recordingPublisher
	logger   *zap.Logger
	root     string
	sessions exchange.ImportSessionRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewTestDB(t)
	repos := persistence.NewRepositories(db.DB)
	root := t.TempDir()
	return &env{
		db:       db,
		repos:    repos,
		scope:    persistence.NewGormTransactionScope(db.DB),
		layout:   storage.NewLayout(root),
		lock:     lock.NewMemoryLock("test:"),
		metrics:  &recordingMetrics{phases: map[string]int{}},
		events:   &recordingPublisher{},
		logger:   testutil.NewTestLogger(),
		root:     root,
		sessions: repos.Sessions(),
	}
}

func (e *env) catalogProcessor(chunkSize int) *appexchange.CatalogProcessor {
	parser := commerceml.NewParser(commerceml.WithLogger(e.logger))
	brands := appexchange.NewBrandResolver(e.metrics, e.logger)
	return appexchange.NewCatalogProcessor(parser, e.scope, brands, chunkSize, e.logger)
}

func (e *env) runner(opts ...appexchange.ImportRunnerOption) *appexchange.ImportRunner {
	guard := appexchange.NewImportGuard(e.lock, e.sessions, time.Minute, e.logger)
	opts = append([]appexchange.ImportRunnerOption{
		appexchange.WithMetrics(e.metrics),
		appexchange.WithPublisher(e.events),
	}, opts...)
	r := appexchange.NewImportRunner(e.sessions, guard, e.layout, e.logger, opts...)
	r.Register(e.catalogProcessor(2),
		exchange.ImportTypeCatalog, exchange.ImportTypePrices, exchange.ImportTypeStocks)
	return r
}

// pendingSession stores a pending session over dataDir
func (e *env) pendingSession(t *testing.T, importType exchange.ImportType, dataDir string) *exchange.ImportSession {
	t.Helper()
	s, err := exchange.NewImportSession(importType, "sess-1", dataDir, "")
	require.NoError(t, err)
	require.NoError(t, e.sessions.Save(context.Background(), s))
	return s
}

func (e *env) reload(t *testing.T, s *exchange.ImportSession) *exchange.ImportSession {
	t.Helper()
	got, err := e.sessions.FindByID(context.Background(), s.ID)
	require.NoError(t, err)
	return got
}

// writeFeed writes a document under dir, creating parent directories
func writeFeed(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func document(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<КоммерческаяИнформация ВерсияСхемы="3.1" ДатаФормирования="2024-05-01T10:00:00">` + body + `</КоммерческаяИнформация>`
}

type good struct {
	id, name, article, category, brandID, brandName string
	noBrand bool
}

func goodsDoc(goods ...good) string {
	var b strings.Builder
	b.WriteString(`<Классификатор><Группы>
<Группа><Ид>cat-1</Ид><Наименование>Спорт</Наименование><Группы>
<Группа><Ид>cat-2</Ид><Наименование>Мячи</Наименование></Группа>
</Группы></Группа></Группы></Классификатор><Каталог><Товары>`)
	for _, g := range goods {
		b.WriteString("<Товар>")
		fmt.Fprintf(&b, "<Ид>%s</Ид><Наименование>%s</Наименование>", g.id, g.name)
		if g.article != "" {
			fmt.Fprintf(&b, "<Артикул>%s</Артикул>", g.article)
		}
		if g.category != "" {
			fmt.Fprintf(&b, "<Группы><Ид>%s</Ид></Группы>", g.category)
		}
		if !g.noBrand {
			fmt.Fprintf(&b, "<Изготовитель><Ид>%s</Ид><Наименование>%s</Наименование></Изготовитель>", g.brandID, g.brandName)
		}
		b.WriteString("</Товар>")
	}
	b.WriteString("</Товары></Каталог>")
	return document(b.String())
}

func offersDoc(ids ...string) string {
	var b strings.Builder
	b.WriteString("<ПакетПредложений><Предложения>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<Предложение><Ид>%s</Ид><Наименование>offer %s</Наименование>
<ХарактеристикиТовара><ХарактеристикаТовара><Наименование>Размер</Наименование><Значение>5</Значение></ХарактеристикаТовара></ХарактеристикиТовара>
</Предложение>`, id, id)
	}
	b.WriteString("</Предложения></ПакетПредложений>")
	return document(b.String())
}

type priceLine struct{ typeID, value string }

func pricesDoc(priceTypes map[string]string, offers map[string][]priceLine) string {
	var b strings.Builder
	b.WriteString("<ПакетПредложений><ТипыЦен>")
	for _, id := range sortedKeys(priceTypes) {
		fmt.Fprintf(&b, "<ТипЦены><Ид>%s</Ид><Наименование>%s</Наименование><Валюта>RUB</Валюта></ТипЦены>", id, priceTypes[id])
	}
	b.WriteString("</ТипыЦен><Предложения>")
	for _, id := range sortedKeys(offers) {
		fmt.Fprintf(&b, "<Предложение><Ид>%s</Ид><Цены>", id)
		for _, p := range offers[id] {
			fmt.Fprintf(&b, "<Цена><ИдТипаЦены>%s</ИдТипаЦены><ЦенаЗаЕдиницу>%s</ЦенаЗаЕдиницу><Валюта>RUB</Валюта></Цена>", p.typeID, p.value)
		}
		b.WriteString("</Цены></Предложение>")
	}
	b.WriteString("</Предложения></ПакетПредложений>")
	return document(b.String())
}

func restsDoc(stock map[string]map[string]string) string {
	var b strings.Builder
	b.WriteString("<ПакетПредложений><Предложения>")
	for _, id := range sortedKeys(stock) {
		fmt.Fprintf(&b, "<Предложение><Ид>%s</Ид><Остатки>", id)
		for _, wh := range sortedKeys(stock[id]) {
			fmt.Fprintf(&b, "<Остаток><Склад><Ид>%s</Ид><Количество>%s</Количество></Склад></Остаток>", wh, stock[id][wh])
		}
		b.WriteString("</Остатки></Предложение>")
	}
	b.WriteString("</Предложения></ПакетПредложений>")
	return document(b.String())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type recordingMetrics struct {
	mu        sync.Mutex
	finished  []exchange.SessionStatus
	phases    map[string]int
	fallbacks int
}

func (m *recordingMetrics) SessionFinished(_ context.Context, s *exchange.ImportSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, s.Status)
}

func (m *recordingMetrics) PhaseFinished(_ context.Context, _ exchange.ImportType, phase string, _ time.Duration, _ exchange.ImportStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[phase]++
}

func (m *recordingMetrics) BrandFallback(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type stubEnqueuer struct {
	mu    sync.Mutex
	tasks []exchange.ImportTask
	err   error
}

func (q *stubEnqueuer) Enqueue(task exchange.ImportTask) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, task)
	return fmt.Sprintf("task-%d", len(q.tasks)), nil
}
