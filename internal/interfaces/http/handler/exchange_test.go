package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/trade"
	"github.com/erp/exchange/internal/infrastructure/cache"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/erp/exchange/internal/infrastructure/event"
	"github.com/erp/exchange/internal/infrastructure/logger"
	"github.com/erp/exchange/internal/infrastructure/persistence"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"github.com/erp/exchange/internal/interfaces/http/middleware"
	"github.com/erp/exchange/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "s3cret-pass"
	testCookie   = "exchange_sessid"
	exchangeURL  = "/exchange/1c"
)

type queuedTasks struct {
	mu    sync.Mutex
	tasks []exchange.ImportTask
}

func (q *queuedTasks) Enqueue(task exchange.ImportTask) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return "task-" + task.SessionID.String()[:8], nil
}

func (q *queuedTasks) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// exchangeFixture is the exchange endpoint over an in-memory database
type exchangeFixture struct {
	repos  *persistence.GormRepositories
	queue  *queuedTasks
	root   string
	engine *gin.Engine
}

func newExchangeFixture(t *testing.T, limiter *middleware.RateLimiter) *exchangeFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	repos := persistence.NewRepositories(db.DB)
	log := testutil.NewTestLogger()
	root := t.TempDir()

	store := cache.NewInMemorySessionStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	queue := &queuedTasks{}
	gateway := appexchange.NewGatewayService(
		appexchange.GatewayConfig{FileLimit: 1 << 20, ZipEnabled: true},
		appexchange.GatewayDeps{
			Accounts: repos.Accounts(),
			Sessions: repos.Sessions(),
			Orders:   repos.Orders(),
			Store:    store,
			Layout:   storage.NewLayout(root),
			Enqueuer: queue,
			Exporter: appexchange.NewOrderExporter(repos.Orders(), repos.Accounts(), 10, "pepper", log),
			Statuses: appexchange.NewOrderStatusImporter(commerceml.NewParser(), repos.Orders(), event.NewLogPublisher(log), log),
		},
		log,
	)

	h := NewExchangeHandler(gateway, ExchangeHandlerConfig{
		CookieName: testCookie,
		SessionTTL: time.Hour,
		Spool:      storage.NewLayout(root).CreateSpool,
	}, limiter, log)
	return &exchangeFixture{
		repos:  repos,
		queue:  queue,
		root:   root,
		engine: exchangeEngine(h),
	}
}

func exchangeEngine(h *ExchangeHandler) *gin.Engine {
	engine := gin.New()
	engine.Use(logger.Recovery(testutil.NewTestLogger(), ExchangeFailure(http.StatusInternalServerError, "Internal error")))
	engine.GET(exchangeURL, h.Handle)
	engine.POST(exchangeURL, h.Handle)
	return engine
}

func (f *exchangeFixture) account(t *testing.T, username string, mutate func(*identity.Account)) {
	t.Helper()
	a, err := identity.NewAccount(username, username+"@example.com", testPassword)
	require.NoError(t, err)
	a.Grant(identity.PermissionExchange)
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, f.repos.Accounts().Save(context.Background(), a))
}

// login runs checkauth and returns the session cookie
func (f *exchangeFixture) login(t *testing.T, exchangeType string) *http.Cookie {
	t.Helper()
	w := testutil.Do(t, f.engine, testutil.Request{
		Path: exchangeURL + "?type=" + exchangeType + "&mode=checkauth",
		User: "onec",
		Pass: testPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	lines := testutil.Lines(w)
	require.Len(t, lines, 3)
	return &http.Cookie{Name: lines[1], Value: lines[2]}
}

func TestExchangeHandler_CheckAuth(t *testing.T) {
	f := newExchangeFixture(t, nil)
	f.account(t, "onec", nil)
	f.account(t, "manager", func(a *identity.Account) {
		a.IsStaff = true
		a.Permissions = []string{}
	})

	t.Run("returns three lines and sets the cookie", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Path: exchangeURL + "?type=catalog&mode=checkauth", User: "onec", Pass: testPassword,
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
		lines := testutil.Lines(w)
		require.Len(t, lines, 3)
		assert.Equal(t, "success", lines[0])
		assert.Equal(t, testCookie, lines[1])
		assert.NotEmpty(t, lines[2])

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, testCookie, cookies[0].Name)
		assert.Equal(t, lines[2], cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
	})

	t.Run("same credentials yield the same session", func(t *testing.T) {
		first := f.login(t, "catalog")
		second := f.login(t, "catalog")
		assert.Equal(t, first.Value, second.Value)
	})

	t.Run("missing credentials", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{Path: exchangeURL + "?type=catalog&mode=checkauth"})
		testutil.AssertFailure(t, w, http.StatusUnauthorized, "Unauthorized")
	})

	t.Run("wrong password", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Path: exchangeURL + "?type=catalog&mode=checkauth", User: "onec", Pass: "wrong-one",
		})
		testutil.AssertFailure(t, w, http.StatusUnauthorized, "Unauthorized")
	})

	t.Run("staff without exchange permission", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Path: exchangeURL + "?type=catalog&mode=checkauth", User: "manager", Pass: testPassword,
		})
		testutil.AssertFailure(t, w, http.StatusForbidden, "Forbidden")
	})
}

func TestExchangeHandler_CheckAuthRateLimited(t *testing.T) {
	f := newExchangeFixture(t, middleware.NewRateLimiter(0.001, 1, time.Minute))
	f.account(t, "onec", nil)

	req := testutil.Request{Path: exchangeURL + "?mode=checkauth", User: "onec", Pass: testPassword}
	assert.Equal(t, http.StatusOK, testutil.Do(t, f.engine, req).Code)
	testutil.AssertFailure(t, testutil.Do(t, f.engine, req), http.StatusTooManyRequests, "Too many requests")
}

func TestExchangeHandler_Init(t *testing.T) {
	f := newExchangeFixture(t, nil)
	f.account(t, "onec", nil)

	t.Run("basic auth without checkauth is refused", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Path: exchangeURL + "?type=catalog&mode=init", User: "onec", Pass: testPassword,
		})
		testutil.AssertFailure(t, w, http.StatusUnauthorized, "No session")
	})

	t.Run("unknown cookie is refused", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Path:    exchangeURL + "?type=catalog&mode=init",
			Cookies: []*http.Cookie{{Name: testCookie, Value: "deadbeef"}},
		})
		testutil.AssertFailure(t, w, http.StatusUnauthorized, "No session")
	})

	cookie := f.login(t, "catalog")
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			w := testutil.Do(t, f.engine, testutil.Request{
				Method:  method,
				Path:    exchangeURL + "?type=catalog&mode=init",
				Cookies: []*http.Cookie{cookie},
			})
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, []string{
				"zip=yes",
				"file_limit=1048576",
				"sessid=" + cookie.Value,
				"version=3.1",
			}, testutil.Lines(w))
		})
	}
}

func TestExchangeHandler_File(t *testing.T) {
	f := newExchangeFixture(t, nil)
	f.account(t, "onec", nil)
	cookie := f.login(t, "catalog")
	importRoot := filepath.Join(f.root, "import", cookie.Value)
	stagingRoot := filepath.Join(f.root, "staging", cookie.Value)

	tests := []struct {
		filename string
		want     string
	}{
		{"offers_7.xml", filepath.Join(importRoot, "offers", "offers_7.xml")},
		{"photo.PNG", filepath.Join(importRoot, "import_files", "photo.PNG")},
		{"archive.zip", filepath.Join(stagingRoot, "archive.zip")},
		{"notes.txt", filepath.Join(importRoot, "notes.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			w := testutil.Do(t, f.engine, testutil.Request{
				Method:  http.MethodPost,
				Path:    exchangeURL + "?type=catalog&mode=file&filename=" + tt.filename + "&sessid=" + cookie.Value,
				Body:    strings.NewReader("payload"),
				Cookies: []*http.Cookie{cookie},
			})
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []string{"success"}, testutil.Lines(w))
			data, err := os.ReadFile(tt.want)
			require.NoError(t, err)
			assert.Equal(t, "payload", string(data))
		})
	}

	t.Run("sessid mismatch", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Method:  http.MethodPost,
			Path:    exchangeURL + "?type=catalog&mode=file&filename=goods.xml&sessid=other",
			Body:    strings.NewReader("<x/>"),
			Cookies: []*http.Cookie{cookie},
		})
		testutil.AssertFailure(t, w, http.StatusForbidden, "Session id mismatch")
	})

	t.Run("path traversal", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Method:  http.MethodPost,
			Path:    exchangeURL + "?type=catalog&mode=file&filename=../../etc/passwd",
			Body:    strings.NewReader("x"),
			Cookies: []*http.Cookie{cookie},
		})
		testutil.AssertFailure(t, w, http.StatusBadRequest, "Invalid filename")
	})

	t.Run("missing filename", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Method:  http.MethodPost,
			Path:    exchangeURL + "?type=catalog&mode=file",
			Cookies: []*http.Cookie{cookie},
		})
		testutil.AssertFailure(t, w, http.StatusBadRequest, "Missing filename")
	})

	t.Run("above the file limit", func(t *testing.T) {
		w := testutil.Do(t, f.engine, testutil.Request{
			Method:  http.MethodPost,
			Path:    exchangeURL + "?type=catalog&mode=file&filename=goods.xml",
			Body:    bytes.NewReader(make([]byte, 1<<20+1)),
			Cookies: []*http.Cookie{cookie},
		})
		testutil.AssertFailure(t, w, http.StatusRequestEntityTooLarge, "File too large")
	})
}

func TestExchangeHandler_Import(t *testing.T) {
	f := newExchangeFixture(t, nil)
	f.account(t, "onec", nil)
	cookie := f.login(t, "catalog")

	req := testutil.Request{
		Path:    exchangeURL + "?type=catalog&mode=import&filename=import.xml&sessid=" + cookie.Value,
		Cookies: []*http.Cookie{cookie},
	}
	w := testutil.Do(t, f.engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"success"}, testutil.Lines(w))
	assert.Equal(t, 1, f.queue.len())

	// the first session is still queued, so the catalog import is busy
	testutil.AssertFailure(t, testutil.Do(t, f.engine, req), http.StatusOK, "Import already in progress")
	assert.Equal(t, 1, f.queue.len(), "no second task")

	w = testutil.Do(t, f.engine, testutil.Request{
		Path:    exchangeURL + "?type=catalog&mode=import&filename=rests_1.xml",
		Cookies: []*http.Cookie{cookie},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, f.queue.len(), "stocks run independently of catalog")
}

func TestExchangeHandler_UnknownMode(t *testing.T) {
	f := newExchangeFixture(t, nil)

	for _, path := range []string{
		exchangeURL + "?type=catalog&mode=bogus",
		exchangeURL + "?type=catalog",
		exchangeURL + "?type=catalog&mode=query",
		exchangeURL + "?type=sale&mode=import",
		exchangeURL + "?type=reference&mode=init",
	} {
		t.Run(path, func(t *testing.T) {
			testutil.AssertFailure(t, testutil.Do(t, f.engine, testutil.Request{Path: path}), http.StatusOK, "Unknown mode")
		})
	}
}

func TestExchangeHandler_QueryAndSuccess(t *testing.T) {
	f := newExchangeFixture(t, nil)
	f.account(t, "onec", nil)
	ctx := context.Background()

	buyer, err := identity.NewAccount("buyer", "buyer@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, f.repos.Accounts().Save(ctx, buyer))

	order, err := trade.NewOrder("1001", &buyer.ID, "RUB")
	require.NoError(t, err)
	require.NoError(t, order.AddItem(nil, "sku-1", "item", decimal.NewFromInt(2), decimal.NewFromInt(50)))
	require.NoError(t, f.repos.Orders().Save(ctx, order))

	cookie := f.login(t, "sale")

	w := testutil.Do(t, f.engine, testutil.Request{
		Path:    exchangeURL + "?type=sale&mode=query&zip=yes",
		Cookies: []*http.Cookie{cookie},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "orders.xml", zr.File[0].Name)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	doc, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Contains(t, string(doc), "1001")

	w = testutil.Do(t, f.engine, testutil.Request{
		Path:    exchangeURL + "?type=sale&mode=success",
		Cookies: []*http.Cookie{cookie},
	})
	assert.Equal(t, []string{"success"}, testutil.Lines(w))

	pending, err := f.repos.Orders().FindPendingExport(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "acknowledged orders are not exported again")

	audit, err := os.ReadFile(storage.NewLayout(f.root).AuditLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(audit), order.ID.String())

	w = testutil.Do(t, f.engine, testutil.Request{
		Path:    exchangeURL + "?type=sale&mode=query",
		Cookies: []*http.Cookie{cookie},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml; charset=utf-8", w.Header().Get("Content-Type"))
	assert.NotContains(t, w.Body.String(), "1001")

	spooled, err := os.ReadDir(filepath.Join(f.root, "spool"))
	require.NoError(t, err)
	assert.Empty(t, spooled, "spool files are removed after the answer")
}

// halfExportGateway writes part of a document and then fails
type halfExportGateway struct {
	ExchangeGateway
	session *exchange.ServerSession
}

func (g halfExportGateway) Session(context.Context, string) (*exchange.ServerSession, error) {
	return g.session, nil
}

func (g halfExportGateway) Query(_ context.Context, _ *exchange.ServerSession, w io.Writer) (*appexchange.ExportResult, error) {
	if _, err := io.WriteString(w, "<КоммерческаяИнформация><Документ>"); err != nil {
		return nil, err
	}
	return nil, errors.New("orders page query failed")
}

func TestExchangeHandler_QueryFailureSendsNoPartialDocument(t *testing.T) {
	spoolDir := t.TempDir()
	session := exchange.NewServerSession(uuid.New(), "onec")
	h := NewExchangeHandler(halfExportGateway{session: session}, ExchangeHandlerConfig{
		Spool: func(pattern string) (*os.File, error) { return os.CreateTemp(spoolDir, pattern) },
	}, nil, testutil.NewTestLogger())
	engine := exchangeEngine(h)

	for _, zipped := range []string{"no", "yes"} {
		w := testutil.Do(t, engine, testutil.Request{
			Path: exchangeURL + "?type=sale&mode=query&zip=" + zipped + "&sessid=" + session.ID,
		})
		testutil.AssertFailure(t, w, http.StatusInternalServerError, "Internal error")
		assert.NotContains(t, w.Body.String(), "Документ")
	}

	left, err := os.ReadDir(spoolDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

// brokenGateway fails every session lookup with a low level error
type brokenGateway struct {
	ExchangeGateway
}

func (brokenGateway) Session(context.Context, string) (*exchange.ServerSession, error) {
	return nil, errors.New("dial tcp 10.0.0.7:6379: connection refused")
}

func TestExchangeHandler_InternalErrorsDoNotLeak(t *testing.T) {
	h := NewExchangeHandler(brokenGateway{}, ExchangeHandlerConfig{}, nil, testutil.NewTestLogger())
	engine := exchangeEngine(h)

	w := testutil.Do(t, engine, testutil.Request{
		Path:    exchangeURL + "?mode=init",
		Cookies: []*http.Cookie{{Name: "exchange_sessid", Value: "abc"}},
	})
	testutil.AssertFailure(t, w, http.StatusInternalServerError, "Internal error")
	assert.NotContains(t, w.Body.String(), "10.0.0.7")

	// CheckAuth is not implemented by the stub: the nil embedded interface panics
	w = testutil.Do(t, engine, testutil.Request{Path: exchangeURL + "?mode=checkauth", User: "a", Pass: "b"})
	testutil.AssertFailure(t, w, http.StatusInternalServerError, "Internal error")
}

func TestExchangeFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{"no session", exchange.ErrNoSession, http.StatusUnauthorized, "No session"},
		{"inactive", appexchange.ErrAccountInactive, http.StatusUnauthorized, "Unauthorized"},
		{"busy", exchange.ErrImportInProgress, http.StatusOK, "Import already in progress"},
		{"wrapped too large", errors.Join(errors.New("save"), storage.ErrFileTooLarge), http.StatusRequestEntityTooLarge, "File too large"},
		{"max bytes", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "File too large"},
		{"validation", exchange.NewValidationError("MALFORMED_XML", "Malformed XML"), http.StatusBadRequest, "Malformed XML"},
		{"transient", exchange.NewTransientError("ENQUEUE_FAILED", "failed to enqueue import", nil), http.StatusServiceUnavailable, "Temporarily unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "Internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := exchangeFailure(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestExchangeFailure_MarksRequest(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	failure(c, http.StatusOK, "Unknown mode")
	assert.Equal(t, "Unknown mode", c.GetString(middleware.ExchangeFailureKey))
	assert.Equal(t, "failure\nUnknown mode\n", w.Body.String())
}
