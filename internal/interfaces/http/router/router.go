package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router mounts domain groups under /api/<version>
type Router struct {
	engine     *gin.Engine
	apiVersion string
	groups     []*DomainGroup
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithAPIVersion sets the version segment of the prefix, v1 by default
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register queues a group for Setup
func (r *Router) Register(group *DomainGroup) *Router {
	r.groups = append(r.groups, group)
	return r
}

// Setup adds every registered group to the engine. Call it once.
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, g := range r.groups {
		g.mount(api)
	}
}

// DomainGroup is a route prefix with its own middleware. Routes and
// subgroups are recorded in order and only reach gin in Setup, so
// middleware added after a route still applies to it.
type DomainGroup struct {
	prefix     string
	middleware []gin.HandlerFunc
	routes     []func(*gin.RouterGroup)
}

// NewDomainGroup creates a group; name is for readers of the wiring code
func NewDomainGroup(_ string, prefix string) *DomainGroup {
	return &DomainGroup{prefix: prefix}
}

func (g *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	g.middleware = append(g.middleware, middleware...)
	return g
}

func (g *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return g.Handle(http.MethodGet, path, handlers...)
}

func (g *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return g.Handle(http.MethodPost, path, handlers...)
}

func (g *DomainGroup) Handle(method, path string, handlers ...gin.HandlerFunc) *DomainGroup {
	g.routes = append(g.routes, func(rg *gin.RouterGroup) {
		rg.Handle(method, path, handlers...)
	})
	return g
}

// Group returns a nested group running after this group's middleware
func (g *DomainGroup) Group(name, prefix string) *DomainGroup {
	sub := NewDomainGroup(name, prefix)
	g.routes = append(g.routes, sub.mount)
	return sub
}

func (g *DomainGroup) mount(parent *gin.RouterGroup) {
	rg := parent.Group(g.prefix, g.middleware...)
	for _, add := range g.routes {
		add(rg)
	}
}
