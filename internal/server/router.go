// Package server exposes the supervisor status over HTTP.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetsup/internal/history"
	mng "github.com/loykin/fleetsup/internal/manager"
	"github.com/loykin/fleetsup/internal/metrics"
)

// Router provides read-only handlers over the manager's published status.
// Endpoints:
//
//	GET {basePath}/healthz
//	GET {basePath}/services
//	GET {basePath}/services/:name
//	GET {basePath}/services/:name/history?limit=50
//	GET {basePath}/census
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	hist     history.Querier
	basePath string
	sample   func(pid int) (metrics.Usage, error)
}

// StatusSource is implemented by *manager.Manager.
type StatusSource interface {
	Status() mng.Status
}

// NewRouter constructs a Router. hist may be nil, which disables the history endpoint.
func NewRouter(src StatusSource, hist history.Querier, basePath string) *Router {
	return &Router{src: src, hist: hist, basePath: sanitizeBase(basePath), sample: metrics.Sample}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/services", r.handleServices)
	group.GET("/services/:name", r.handleService)
	group.GET("/services/:name/history", r.handleHistory)
	group.GET("/census", r.handleCensus)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, src StatusSource, hist history.Querier) (*http.Server, error) {
	r := NewRouter(src, hist, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK        bool      `json:"ok"`
	MemberID  string    `json:"member_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServiceView is a service status with live resource usage when running.
type ServiceView struct {
	mng.ServiceStatus
	Usage *metrics.Usage `json:"usage,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.src.Status()
	writeJSON(c, http.StatusOK, healthResp{OK: true, MemberID: st.MemberID, UpdatedAt: st.UpdatedAt})
}

func (r *Router) view(s mng.ServiceStatus) ServiceView {
	v := ServiceView{ServiceStatus: s}
	if s.Running && s.PID > 0 && r.sample != nil {
		if u, err := r.sample(s.PID); err == nil {
			metrics.SetResources(s.Name, u)
			v.Usage = &u
		}
	}
	return v
}

func (r *Router) handleServices(c *gin.Context) {
	st := r.src.Status()
	out := make([]ServiceView, 0, len(st.Services))
	for _, s := range st.Services {
		out = append(out, r.view(s))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) lookup(c *gin.Context) (mng.ServiceStatus, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return mng.ServiceStatus{}, false
	}
	for _, s := range r.src.Status().Services {
		if s.Name == name {
			return s, true
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "service not found: " + name})
	return mng.ServiceStatus{}, false
}

func (r *Router) handleService(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.view(s))
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled"})
		return
	}
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	limit := 0
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	events, err := r.hist.Recent(c.Request.Context(), s.ServiceGroup, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleCensus(c *gin.Context) {
	st := r.src.Status()
	if st.Census == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "census not built yet"})
		return
	}
	writeJSON(c, http.StatusOK, st.Census)
}
