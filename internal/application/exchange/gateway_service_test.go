package exchange_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/domain/trade"
	"github.com/erp/exchange/internal/infrastructure/cache"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangePassword = "s3cret-pass"

func (e *env) gateway(t *testing.T, queue appexchange.TaskEnqueuer) *appexchange.GatewayService {
	t.Helper()
	store := cache.NewInMemorySessionStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })
	return appexchange.NewGatewayService(
		appexchange.GatewayConfig{FileLimit: 1 << 20, ZipEnabled: true},
		appexchange.GatewayDeps{
			Accounts: e.repos.Accounts(),
			Sessions: e.sessions,
			Orders:   e.repos.Orders(),
			Store:    store,
			Layout:   e.layout,
			Enqueuer: queue,
			Exporter: e.exporter(),
			Statuses: appexchange.NewOrderStatusImporter(commerceml.NewParser(), e.repos.Orders(), e.events, e.logger),
		},
		e.logger,
	)
}

func (e *env) exchangeUser(t *testing.T, username string, mutate func(*identity.Account)) *identity.Account {
	t.Helper()
	a, err := identity.NewAccount(username, username+"@example.com", exchangePassword)
	require.NoError(t, err)
	a.Grant(identity.PermissionExchange)
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, e.repos.Accounts().Save(context.Background(), a))
	return a
}

func TestGatewayService_Authenticate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gw := e.gateway(t, &stubEnqueuer{})

	e.exchangeUser(t, "onec", nil)
	e.exchangeUser(t, "retired", func(a *identity.Account) { a.IsActive = false })
	e.exchangeUser(t, "manager", func(a *identity.Account) {
		a.IsStaff = true
		a.Permissions = []string{}
	})

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "onec", exchangePassword, nil},
		{"empty credentials", "", "", appexchange.ErrInvalidCredentials},
		{"unknown user", "ghost", exchangePassword, appexchange.ErrInvalidCredentials},
		{"wrong password", "onec", "nope-nope", appexchange.ErrInvalidCredentials},
		{"inactive", "retired", exchangePassword, appexchange.ErrAccountInactive},
		{"staff without permission", "manager", exchangePassword, appexchange.ErrExchangeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, err := gw.Authenticate(ctx, tt.username, tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, account)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, account.Username)
		})
	}
}

func TestGatewayService_CheckAuthReusesLiveSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gw := e.gateway(t, &stubEnqueuer{})
	e.exchangeUser(t, "onec", nil)

	first, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)
	second, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	resolved, err := gw.Session(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "onec", resolved.Username)

	_, err = gw.Session(ctx, "")
	require.ErrorIs(t, err, exchange.ErrNoSession)
	_, err = gw.Session(ctx, "unknown")
	require.ErrorIs(t, err, exchange.ErrNoSession)

	info := gw.Init(first)
	assert.True(t, info.ZipEnabled)
	assert.Equal(t, int64(1<<20), info.FileLimit)
	assert.Equal(t, first.ID, info.SessionID)
	assert.Equal(t, commerceml.SchemaVersion, info.Version)
}

func TestGatewayService_UploadAndStartImport(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	queue := &stubEnqueuer{}
	gw := e.gateway(t, queue)
	e.exchangeUser(t, "onec", nil)
	session, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)

	res, err := gw.ReceiveFile(ctx, session, appexchange.ExchangeTypeCatalog, "goods_1.xml",
		strings.NewReader(goodsDoc(good{id: "grp-1", name: "Мяч", noBrand: true})))
	require.NoError(t, err)
	assert.Equal(t, commerceml.FeedGoods, res.File.Feed)
	assert.Nil(t, res.StatusImport)
	_, err = os.Stat(filepath.Join(e.root, "import", session.ID, "goods", "goods_1.xml"))
	require.NoError(t, err)

	imp, err := gw.StartImport(ctx, session, "import.xml")
	require.NoError(t, err)
	assert.Equal(t, exchange.ImportTypeCatalog, imp.ImportType)
	assert.Equal(t, exchange.SessionStatusPending, imp.Status)
	assert.Equal(t, "task-1", imp.TaskHandle)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, imp.ID, queue.tasks[0].SessionID)
	assert.Equal(t, filepath.Join(e.root, "import", session.ID), queue.tasks[0].DataDir)

	rests, err := gw.StartImport(ctx, session, "rests_1.xml")
	require.NoError(t, err)
	assert.Equal(t, exchange.ImportTypeStocks, rests.ImportType)

	archive, err := gw.StartImport(ctx, session, "sub/prices.zip")
	require.NoError(t, err)
	assert.Equal(t, "prices.zip", archive.ArchiveName)
	assert.Equal(t, exchange.ImportTypePrices, archive.ImportType)
}

func TestGatewayService_StartImportRejectsActiveType(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	queue := &stubEnqueuer{}
	gw := e.gateway(t, queue)
	e.exchangeUser(t, "onec", nil)
	session, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)

	running := e.pendingSession(t, exchange.ImportTypeCatalog, t.TempDir())
	require.NoError(t, running.Start())
	require.NoError(t, e.sessions.Save(ctx, running))

	_, err = gw.StartImport(ctx, session, "import.xml")
	require.ErrorIs(t, err, exchange.ErrImportInProgress)
	assert.Empty(t, queue.tasks)
}

func TestGatewayService_StartImportQueuesBehindPendingSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	queue := &stubEnqueuer{}
	gw := e.gateway(t, queue)
	e.exchangeUser(t, "onec", nil)
	session, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)

	first, err := gw.StartImport(ctx, session, "import.xml")
	require.NoError(t, err)
	second, err := gw.StartImport(ctx, session, "offers.xml")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, exchange.SessionStatusPending, second.Status)
	assert.Len(t, queue.tasks, 2)
}

func TestGatewayService_StartImportEnqueueFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gw := e.gateway(t, &stubEnqueuer{err: errors.New("queue full")})
	e.exchangeUser(t, "onec", nil)
	session, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)

	_, err = gw.StartImport(ctx, session, "import.xml")
	require.Error(t, err)
	assert.Equal(t, exchange.KindTransient, exchange.KindOf(err))

	failed, _, err := e.sessions.List(ctx, exchange.ImportTypeCatalog, shared.DefaultFilter())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, exchange.SessionStatusFailed, failed[0].Status)
	assert.Equal(t, exchange.FailureTransient, failed[0].FailureCategory)
}

func TestGatewayService_SaleUploadAppliesOrderStatuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gw := e.gateway(t, &stubEnqueuer{})
	e.exchangeUser(t, "onec", nil)
	session, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)
	buyer := e.account(t, "buyer", "buyer@example.com", "")
	o := e.order(t, "5001", &buyer.ID, item{"sku-1", "1", "10"})

	res, err := gw.ReceiveFile(ctx, session, appexchange.ExchangeTypeSale, "orders-1.xml",
		strings.NewReader(document(orderDoc(o.ID.String(), "5001", requisite{"Статус заказа", "В работе"}))))
	require.NoError(t, err)
	require.NotNil(t, res.StatusImport)
	assert.Equal(t, 1, res.StatusImport.Applied)

	got, err := e.repos.Orders().FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.OrderStatusProcessing, got.Status)
}

func TestGatewayService_QueryAndSuccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gw := e.gateway(t, &stubEnqueuer{})
	e.exchangeUser(t, "onec", nil)
	session, err := gw.CheckAuth(ctx, "onec", exchangePassword)
	require.NoError(t, err)
	buyer := e.account(t, "buyer", "buyer@example.com", "")
	o1 := e.order(t, "6001", &buyer.ID, item{"sku-1", "1", "10"})
	o2 := e.order(t, "6002", &buyer.ID, item{"sku-2", "2", "20"})

	n, err := gw.Success(ctx, session)
	require.NoError(t, err)
	assert.Zero(t, n, "success without a query acknowledges nothing")

	var buf bytes.Buffer
	result, err := gw.Query(ctx, session, &buf)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{o1.ID, o2.ID}, result.OrderIDs)

	// a new order arriving between query and success is not acknowledged
	late := e.order(t, "6003", &buyer.ID, item{"sku-3", "1", "1"})

	n, err = gw.Success(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	audit, err := os.ReadFile(e.layout.AuditLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(audit), "sessid="+session.ID)
	assert.Contains(t, string(audit), "user=onec orders=2")
	assert.Contains(t, string(audit), o1.ID.String())

	buf.Reset()
	next, err := gw.Query(ctx, session, &buf)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{late.ID}, next.OrderIDs)
}
