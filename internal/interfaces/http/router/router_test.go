package router

import (
	"net/http"
	"testing"

	"github.com/erp/exchange/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRouter_Setup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v2"))

	var order []string
	track := func(name string) gin.HandlerFunc {
		return func(c *gin.Context) {
			order = append(order, name)
			c.Next()
		}
	}

	exchangeGroup := NewDomainGroup("exchange", "/exchange").Use(track("group"))
	exchangeGroup.GET("/sessions", func(c *gin.Context) { c.Status(http.StatusOK) })
	exchangeGroup.Group("reports", "/reports").Use(track("subgroup")).
		POST("/rebuild", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.Register(exchangeGroup).Setup()

	w := testutil.Do(t, engine, testutil.Request{Path: "/api/v2/exchange/sessions"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"group"}, order)

	order = nil
	w = testutil.Do(t, engine, testutil.Request{Method: http.MethodPost, Path: "/api/v2/exchange/reports/rebuild"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"group", "subgroup"}, order)
}

func TestDomainGroup_MiddlewareAddedAfterRoutes(t *testing.T) {
	engine := gin.New()
	group := NewDomainGroup("x", "/x").GET("/y", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("mark"))
	})
	group.Use(func(c *gin.Context) { c.Set("mark", "late") })
	NewRouter(engine).Register(group).Setup()

	w := testutil.Do(t, engine, testutil.Request{Path: "/api/v1/x/y"})
	assert.Equal(t, "late", w.Body.String())
}

func TestNewRouter_DefaultVersion(t *testing.T) {
	engine := gin.New()
	NewRouter(engine).Register(NewDomainGroup("x", "/x").GET("/y", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})).Setup()

	w := testutil.Do(t, engine, testutil.Request{Path: "/api/v1/x/y"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}
