package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/domain/trade"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExchangeType is the type parameter of the exchange endpoint
type ExchangeType string

const (
	ExchangeTypeCatalog ExchangeType = "catalog"
	ExchangeTypeSale    ExchangeType = "sale"
)

// Authentication failures of checkauth
var (
	ErrInvalidCredentials = exchange.NewProtocolError("INVALID_CREDENTIALS", "Unauthorized")
	ErrAccountInactive    = exchange.NewProtocolError("ACCOUNT_INACTIVE", "Unauthorized")
	ErrExchangeForbidden  = exchange.NewProtocolError("EXCHANGE_FORBIDDEN", "Forbidden")
)

// GatewayConfig holds the protocol settings announced to 1C
type GatewayConfig struct {
	FileLimit  int64
	ZipEnabled bool
}

// InitInfo is the answer to mode=init
type InitInfo struct {
	ZipEnabled bool
	FileLimit  int64
	SessionID  string
	Version    string
}

// FileResult describes an accepted upload
type FileResult struct {
	File         storage.StoredFile
	StatusImport *StatusImportResult
}

// GatewayService implements the mode handlers of the exchange protocol.
// The HTTP layer parses requests and renders answers; every decision is made here.
type GatewayService struct {
	config   GatewayConfig
	accounts identity.AccountRepository
	sessions exchange.ImportSessionRepository
	orders   trade.OrderRepository
	store    exchange.ServerSessionStore
	layout   *storage.Layout
	enqueuer TaskEnqueuer
	exporter *OrderExporter
	statuses *OrderStatusImporter
	logger   *zap.Logger
	now      func() time.Time
}

// GatewayDeps groups the collaborators of the gateway
type GatewayDeps struct {
	Accounts identity.AccountRepository
	Sessions exchange.ImportSessionRepository
	Orders   trade.OrderRepository
	Store    exchange.ServerSessionStore
	Layout   *storage.Layout
	Enqueuer TaskEnqueuer
	Exporter *OrderExporter
	Statuses *OrderStatusImporter
}

// NewGatewayService creates the gateway service
func NewGatewayService(cfg GatewayConfig, deps GatewayDeps, logger *zap.Logger) *GatewayService {
	return &GatewayService{
		config:   cfg,
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		orders:   deps.Orders,
		store:    deps.Store,
		layout:   deps.Layout,
		enqueuer: deps.Enqueuer,
		exporter: deps.Exporter,
		statuses: deps.Statuses,
		logger:   logger,
		now:      time.Now,
	}
}

// Authenticate checks Basic credentials. The exchange permission is required
// even for staff accounts.
func (s *GatewayService) Authenticate(ctx context.Context, username, password string) (*identity.Account, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	account, err := s.accounts.FindByUsername(ctx, username)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if !account.VerifyPassword(password) {
		return nil, ErrInvalidCredentials
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	if !account.HasPermission(identity.PermissionExchange) {
		return nil, ErrExchangeForbidden
	}
	return account, nil
}

// CheckAuth authenticates and returns the principal's server session,
// reusing a live one
func (s *GatewayService) CheckAuth(ctx context.Context, username, password string) (*exchange.ServerSession, error) {
	account, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetOrCreate(ctx, account.ID, account.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to open exchange session: %w", err)
	}
	s.logger.Info("exchange session established",
		zap.String("username", account.Username),
		zap.String("sessid", session.ID),
	)
	return session, nil
}

// Session resolves the session cookie. A missing or expired session is a
// protocol-order violation.
func (s *GatewayService) Session(ctx context.Context, id string) (*exchange.ServerSession, error) {
	if id == "" {
		return nil, exchange.ErrNoSession
	}
	session, err := s.store.Get(ctx, id)
	if errors.Is(err, exchange.ErrServerSessionNotFound) {
		return nil, exchange.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange session: %w", err)
	}
	return session, nil
}

// Init returns the protocol parameters for the session
func (s *GatewayService) Init(session *exchange.ServerSession) InitInfo {
	return InitInfo{
		ZipEnabled: s.config.ZipEnabled,
		FileLimit:  s.config.FileLimit,
		SessionID:  session.ID,
		Version:    commerceml.SchemaVersion,
	}
}

// ReceiveFile stores one upload. Orders documents of type=sale are applied immediately.
func (s *GatewayService) ReceiveFile(ctx context.Context, session *exchange.ServerSession, exchangeType ExchangeType, filename string, body io.Reader) (*FileResult, error) {
	file, err := s.layout.Save(session.ID, filename, body, s.config.FileLimit)
	if err != nil {
		return nil, err
	}
	s.logger.Info("exchange file received",
		zap.String("sessid", session.ID),
		zap.String("filename", filename),
		zap.String("kind", string(file.Kind)),
		zap.Int64("size", file.Size),
	)
	result := &FileResult{File: file}
	if exchangeType == ExchangeTypeSale && strings.EqualFold(path.Ext(filename), ".xml") {
		result.StatusImport, err = s.statuses.ImportFile(ctx, file.Path)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// StartImport creates a pending session for the feed named by filename and
// enqueues it. Only one session per import type may be active.
func (s *GatewayService) StartImport(ctx context.Context, session *exchange.ServerSession, filename string) (*exchange.ImportSession, error) {
	importType := exchange.ImportTypeFromFilename(filename)
	archive := ""
	if storage.IsArchive(filename) {
		rel, err := storage.CleanRelative(filename)
		if err != nil {
			return nil, err
		}
		archive = path.Base(rel)
	}

	// Pending sessions do not block: 1C sends one import call per file of an
	// exchange, and the import lock runs the queued sessions one at a time.
	active, err := s.sessions.ExistsActive(ctx, importType)
	if err != nil {
		return nil, fmt.Errorf("failed to check running imports: %w", err)
	}
	if active {
		return nil, exchange.ErrImportInProgress
	}

	dataDir, err := s.layout.EnsureImportDir(session.ID)
	if err != nil {
		return nil, err
	}
	importSession, err := exchange.NewImportSession(importType, session.ID, dataDir, archive)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, importSession); err != nil {
		return nil, fmt.Errorf("failed to save import session: %w", err)
	}

	handle, err := s.enqueuer.Enqueue(importSession.Task())
	if err != nil {
		_ = importSession.Fail(exchange.FailureTransient, fmt.Sprintf("failed to enqueue: %v", err))
		if saveErr := s.sessions.Save(ctx, importSession); saveErr != nil {
			s.logger.Error("failed to save unqueued session", zap.Error(saveErr))
		}
		return nil, exchange.NewTransientError("ENQUEUE_FAILED", "failed to enqueue import", err)
	}
	if err := importSession.MarkQueued(handle); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, importSession); err != nil {
		return nil, fmt.Errorf("failed to save import session: %w", err)
	}

	s.logger.Info("import enqueued",
		zap.String("session_id", importSession.ID.String()),
		zap.String("import_type", string(importType)),
		zap.String("handle", handle),
		zap.String("archive", archive),
	)
	return importSession, nil
}

// Query streams the orders pending export and remembers them on the session
// until 1C acknowledges with mode=success
func (s *GatewayService) Query(ctx context.Context, session *exchange.ServerSession, w io.Writer) (*ExportResult, error) {
	result, err := s.exporter.Export(ctx, w)
	if err != nil {
		return nil, err
	}
	session.RememberExport(result.OrderIDs)
	if err := s.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to remember exported orders: %w", err)
	}
	return result, nil
}

// Success marks the remembered orders as exported and writes the audit line
func (s *GatewayService) Success(ctx context.Context, session *exchange.ServerSession) (int, error) {
	ids := session.TakeExport()
	if len(ids) == 0 {
		return 0, nil
	}
	at := s.now()
	if err := s.orders.MarkExported(ctx, ids, at); err != nil {
		return 0, fmt.Errorf("failed to mark orders exported: %w", err)
	}
	if err := s.store.Save(ctx, session); err != nil {
		return 0, fmt.Errorf("failed to save exchange session: %w", err)
	}
	if err := s.layout.AppendAudit(auditLine(session, ids)); err != nil {
		s.logger.Error("failed to write export audit line", zap.Error(err))
	}
	s.logger.Info("order export acknowledged", zap.String("sessid", session.ID), zap.Int("orders", len(ids)))
	return len(ids), nil
}

func auditLine(session *exchange.ServerSession, ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return fmt.Sprintf("sessid=%s user=%s orders=%d ids=%s", session.ID, session.Username, len(ids), strings.Join(parts, ","))
}
