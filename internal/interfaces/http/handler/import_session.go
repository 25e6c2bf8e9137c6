package handler

import (
	"context"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/interfaces/http/dto"
	"github.com/erp/exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ImportSessionReader is the read side used by the dashboard
type ImportSessionReader interface {
	List(ctx context.Context, importType exchange.ImportType, filter shared.Filter) ([]appexchange.ImportSessionResponse, int64, error)
	Get(ctx context.Context, id uuid.UUID) (*appexchange.ImportSessionResponse, error)
}

// ImportSessionHandler serves the operator dashboard of import sessions
type ImportSessionHandler struct {
	sessions ImportSessionReader
}

// NewImportSessionHandler creates a new ImportSessionHandler
func NewImportSessionHandler(sessions ImportSessionReader) *ImportSessionHandler {
	return &ImportSessionHandler{sessions: sessions}
}

// List serves GET /exchange/sessions, newest first, filtered by
// import_type and status.
func (h *ImportSessionHandler) List(c *gin.Context) {
	var req dto.SessionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	filter := shared.DefaultFilter()
	if req.Page > 0 {
		filter.Page = req.Page
	}
	if req.PageSize > 0 {
		filter.PageSize = req.PageSize
	}
	if req.Status != "" {
		filter.Filters["status"] = req.Status
	}

	sessions, total, err := h.sessions.List(c.Request.Context(), exchange.ImportType(req.ImportType), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, sessions, total, filter)
}

// Get serves GET /exchange/sessions/:id with the full report
func (h *ImportSessionHandler) Get(c *gin.Context) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), uuid.MustParse(req.ID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, session)
}
