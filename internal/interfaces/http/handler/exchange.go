package handler

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/logger"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"github.com/erp/exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	textContentType = "text/plain; charset=utf-8"
	xmlContentType  = "application/xml; charset=utf-8"
	zipContentType  = "application/zip"

	// exportEntryName is the document name inside a zipped query answer
	exportEntryName = "orders.xml"
)

// ExchangeGateway is what the exchange endpoint needs from the application layer
type ExchangeGateway interface {
	CheckAuth(ctx context.Context, username, password string) (*exchange.ServerSession, error)
	Session(ctx context.Context, id string) (*exchange.ServerSession, error)
	Init(session *exchange.ServerSession) appexchange.InitInfo
	ReceiveFile(ctx context.Context, session *exchange.ServerSession, exchangeType appexchange.ExchangeType, filename string, body io.Reader) (*appexchange.FileResult, error)
	StartImport(ctx context.Context, session *exchange.ServerSession, filename string) (*exchange.ImportSession, error)
	Query(ctx context.Context, session *exchange.ServerSession, w io.Writer) (*appexchange.ExportResult, error)
	Success(ctx context.Context, session *exchange.ServerSession) (int, error)
}

// ExchangeHandlerConfig holds the cookie settings of the endpoint
type ExchangeHandlerConfig struct {
	CookieName string
	SessionTTL time.Duration

	// Secure marks the session cookie https-only
	Secure bool

	// Spool creates the temporary file a query answer is written to
	// before it is sent. Defaults to the system temp directory.
	Spool func(pattern string) (*os.File, error)
}

// ExchangeHandler serves the 1C exchange endpoint. Every answer is plain text:
// "success" or "failure" followed by the mode specific lines.
type ExchangeHandler struct {
	gateway ExchangeGateway
	config  ExchangeHandlerConfig
	limiter *middleware.RateLimiter
	logger  *zap.Logger
}

// NewExchangeHandler creates the handler. limiter throttles checkauth per
// client IP and may be nil.
func NewExchangeHandler(gateway ExchangeGateway, cfg ExchangeHandlerConfig, limiter *middleware.RateLimiter, logger *zap.Logger) *ExchangeHandler {
	if cfg.CookieName == "" {
		cfg.CookieName = "exchange_sessid"
	}
	if cfg.Spool == nil {
		cfg.Spool = func(pattern string) (*os.File, error) { return os.CreateTemp("", pattern) }
	}
	return &ExchangeHandler{
		gateway: gateway,
		config:  cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// Handle dispatches one call by mode. Registered for GET and POST.
func (h *ExchangeHandler) Handle(c *gin.Context) {
	switch req := parseExchangeRequest(c, h.config.CookieName).(type) {
	case checkAuthRequest:
		h.checkAuth(c, req)
	case initRequest:
		h.init(c, req)
	case fileRequest:
		h.file(c, req)
	case importRequest:
		h.startImport(c, req)
	case queryRequest:
		h.query(c, req)
	case successRequest:
		h.success(c, req)
	case unknownModeRequest:
		failure(c, http.StatusOK, "Unknown mode")
	default:
		h.logger.Error("unhandled exchange request variant", zap.String("mode", req.mode()))
		failure(c, http.StatusInternalServerError, "Internal error")
	}
}

// ExchangeFailure returns a handler answering with a fixed failure. Used by
// middleware that refuses a call before it reaches Handle.
func ExchangeFailure(status int, reason string) gin.HandlerFunc {
	return func(c *gin.Context) {
		failure(c, status, reason)
	}
}

func (h *ExchangeHandler) checkAuth(c *gin.Context, req checkAuthRequest) {
	if h.limiter != nil && !h.limiter.Allow(c.ClientIP()) {
		failure(c, http.StatusTooManyRequests, "Too many requests")
		return
	}
	session, err := h.gateway.CheckAuth(c.Request.Context(), req.username, req.password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Set(middleware.ExchangeUserKey, session.Username)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.config.CookieName, session.ID, int(h.config.SessionTTL.Seconds()), "/", "", h.config.Secure, true)
	reply(c, http.StatusOK, "success", h.config.CookieName, session.ID)
}

func (h *ExchangeHandler) init(c *gin.Context, req initRequest) {
	session, ok := h.session(c, req.session)
	if !ok {
		return
	}
	info := h.gateway.Init(session)
	zipFlag := "no"
	if info.ZipEnabled {
		zipFlag = "yes"
	}
	reply(c, http.StatusOK,
		"zip="+zipFlag,
		"file_limit="+strconv.FormatInt(info.FileLimit, 10),
		"sessid="+info.SessionID,
		"version="+info.Version,
	)
}

func (h *ExchangeHandler) file(c *gin.Context, req fileRequest) {
	session, ok := h.session(c, req.session)
	if !ok {
		return
	}
	if req.filename == "" {
		failure(c, http.StatusBadRequest, "Missing filename")
		return
	}
	result, err := h.gateway.ReceiveFile(c.Request.Context(), session, req.exchangeType, req.filename, c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	if st := result.StatusImport; st != nil {
		logger.GetGinLogger(c).Info("order statuses applied",
			zap.Int("applied", st.Applied),
			zap.Int("unchanged", st.Unchanged),
			zap.Int("rejected", st.Rejected),
			zap.Int("unmatched", len(st.Unmatched)),
		)
	}
	reply(c, http.StatusOK, "success")
}

func (h *ExchangeHandler) startImport(c *gin.Context, req importRequest) {
	session, ok := h.session(c, req.session)
	if !ok {
		return
	}
	if req.filename == "" {
		failure(c, http.StatusBadRequest, "Missing filename")
		return
	}
	importSession, err := h.gateway.StartImport(c.Request.Context(), session, req.filename)
	if err != nil {
		h.fail(c, err)
		return
	}
	logger.GetGinLogger(c).Info("import accepted",
		zap.String("import_session_id", importSession.ID.String()),
		zap.String("import_type", string(importSession.ImportType)),
	)
	reply(c, http.StatusOK, "success")
}

// query spools the document to a temporary file before answering so a
// failed export never reaches 1C as a truncated file
func (h *ExchangeHandler) query(c *gin.Context, req queryRequest) {
	session, ok := h.session(c, req.session)
	if !ok {
		return
	}
	spool, err := h.config.Spool("orders-*")
	if err != nil {
		h.fail(c, fmt.Errorf("failed to create export spool: %w", err))
		return
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	result, err := h.export(c.Request.Context(), session, spool, req.zip)
	if err != nil {
		h.fail(c, err)
		return
	}
	logger.GetGinLogger(c).Info("orders exported", zap.Int("orders", len(result.OrderIDs)), zap.Bool("zip", req.zip))

	info, err := spool.Stat()
	if err == nil {
		_, err = spool.Seek(0, io.SeekStart)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if !req.zip {
		c.DataFromReader(http.StatusOK, info.Size(), xmlContentType, spool, nil)
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), zipContentType, spool, map[string]string{
		"Content-Disposition": `attachment; filename="orders.zip"`,
	})
}

// export writes the order document to w, wrapped in a zip archive when asked
func (h *ExchangeHandler) export(ctx context.Context, session *exchange.ServerSession, w io.Writer, zipped bool) (*appexchange.ExportResult, error) {
	if !zipped {
		return h.gateway.Query(ctx, session, w)
	}
	zw := zip.NewWriter(w)
	entry, err := zw.Create(exportEntryName)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s to archive: %w", exportEntryName, err)
	}
	result, err := h.gateway.Query(ctx, session, entry)
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	return result, nil
}

func (h *ExchangeHandler) success(c *gin.Context, req successRequest) {
	session, ok := h.session(c, req.session)
	if !ok {
		return
	}
	if _, err := h.gateway.Success(c.Request.Context(), session); err != nil {
		h.fail(c, err)
		return
	}
	reply(c, http.StatusOK, "success")
}

// session loads the caller's server session and checks the sessid parameter.
// It writes the failure itself and reports false when the call cannot go on.
func (h *ExchangeHandler) session(c *gin.Context, ref sessionRef) (*exchange.ServerSession, bool) {
	session, err := h.gateway.Session(c.Request.Context(), ref.id())
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	c.Set(middleware.ExchangeUserKey, session.Username)
	if ref.mismatched(session.ID) {
		h.fail(c, exchange.ErrSessionMismatch)
		return nil, false
	}
	return session, true
}

// fail maps an error onto the wire. Reasons are fixed strings; the error
// itself only goes to the log.
func (h *ExchangeHandler) fail(c *gin.Context, err error) {
	status, reason := exchangeFailure(err)
	log := logger.GetGinLogger(c)
	if status >= http.StatusInternalServerError {
		log.Error("exchange request failed", zap.Error(err))
	} else {
		log.Warn("exchange request refused", zap.String("reason", reason), zap.Error(err))
	}
	_ = c.Error(err)
	failure(c, status, reason)
}

func exchangeFailure(err error) (int, string) {
	switch {
	case errors.Is(err, appexchange.ErrInvalidCredentials), errors.Is(err, appexchange.ErrAccountInactive):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, appexchange.ErrExchangeForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, exchange.ErrNoSession):
		return http.StatusUnauthorized, "No session"
	case errors.Is(err, exchange.ErrSessionMismatch):
		return http.StatusForbidden, "Session id mismatch"
	case errors.Is(err, exchange.ErrImportInProgress):
		return http.StatusOK, "Import already in progress"
	case errors.Is(err, storage.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, storage.ErrPathTraversal), errors.Is(err, storage.ErrInvalidSessionID):
		return http.StatusBadRequest, "Invalid filename"
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, "File too large"
	}

	var exErr *exchange.ExchangeError
	if errors.As(err, &exErr) {
		switch exErr.Kind {
		case exchange.KindProtocol, exchange.KindValidation:
			return http.StatusBadRequest, exErr.Message
		case exchange.KindTransient:
			return http.StatusServiceUnavailable, "Temporarily unavailable"
		}
	}
	return http.StatusInternalServerError, "Internal error"
}

// reply writes newline separated lines as text/plain
func reply(c *gin.Context, status int, lines ...string) {
	c.Data(status, textContentType, []byte(strings.Join(lines, "\n")+"\n"))
}

// failure writes "failure\n<reason>" and flags the request for tracing
func failure(c *gin.Context, status int, reason string) {
	c.Set(middleware.ExchangeFailureKey, reason)
	reply(c, status, "failure", reason)
}

