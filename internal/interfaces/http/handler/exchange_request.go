package handler

import (
	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/gin-gonic/gin"
)

// exchangeRequest is one parsed call of the exchange endpoint.
// The set of implementations is closed; see parseExchangeRequest.
type exchangeRequest interface {
	mode() string
}

// sessionRef is how a call names its server session: the cookie set by
// checkauth and the sessid parameter, either of which may be empty
type sessionRef struct {
	cookie string
	sessid string
}

// id returns the session to load; the cookie wins
func (r sessionRef) id() string {
	if r.cookie != "" {
		return r.cookie
	}
	return r.sessid
}

// mismatched reports a sessid parameter naming another session than the cookie
func (r sessionRef) mismatched(sessionID string) bool {
	return r.sessid != "" && r.sessid != sessionID
}

type checkAuthRequest struct {
	username string
	password string
}

type initRequest struct {
	session sessionRef
}

type fileRequest struct {
	exchangeType appexchange.ExchangeType
	session      sessionRef
	filename     string
}

type importRequest struct {
	session  sessionRef
	filename string
}

type queryRequest struct {
	session sessionRef
	zip     bool
}

type successRequest struct {
	session sessionRef
}

type unknownModeRequest struct {
	raw string
}

func (checkAuthRequest) mode() string { return "checkauth" }
func (initRequest) mode() string { return "init" }
func (fileRequest) mode() string { return "file" }
func (importRequest) mode() string { return "import" }
func (queryRequest) mode() string { return "query" }
func (successRequest) mode() string { return "success" }
func (r unknownModeRequest) mode() string { return r.raw }

// parseExchangeRequest maps type and mode onto a request variant.
// query and success only exist for type=sale, import only for type=catalog.
func parseExchangeRequest(c *gin.Context, cookieName string) exchangeRequest {
	exchangeType := appexchange.ExchangeType(c.DefaultQuery("type", string(appexchange.ExchangeTypeCatalog)))
	mode := c.Query("mode")

	cookie, _ := c.Cookie(cookieName)
	ref := sessionRef{cookie: cookie, sessid: c.Query("sessid")}

	switch exchangeType {
	case appexchange.ExchangeTypeCatalog, appexchange.ExchangeTypeSale:
	default:
		return unknownModeRequest{raw: mode}
	}

	switch mode {
	case "checkauth":
		username, password, _ := c.Request.BasicAuth()
		return checkAuthRequest{username: username, password: password}
	case "init":
		return initRequest{session: ref}
	case "file":
		return fileRequest{exchangeType: exchangeType, session: ref, filename: c.Query("filename")}
	case "import":
		if exchangeType != appexchange.ExchangeTypeCatalog {
			return unknownModeRequest{raw: mode}
		}
		return importRequest{session: ref, filename: c.Query("filename")}
	case "query":
		if exchangeType != appexchange.ExchangeTypeSale {
			return unknownModeRequest{raw: mode}
		}
		return queryRequest{session: ref, zip: c.Query("zip") == "yes"}
	case "success":
		if exchangeType != appexchange.ExchangeTypeSale {
			return unknownModeRequest{raw: mode}
		}
		return successRequest{session: ref}
	default:
		return unknownModeRequest{raw: mode}
	}
}
