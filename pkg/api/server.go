// Package api exposes the playbook-engine HTTP surface: health, metrics,
// playbook generation and execution, and execution-record lookup.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/playbook"
	"github.com/sentinelops/backplane/pkg/store"
)

// Server wires the playbook service into HTTP handlers.
type Server struct {
	service    *playbook.Service
	executions *store.ExecutionLog
	kv         *kv.Store
	db         *store.Client
}

// NewServer creates the API server.
func NewServer(service *playbook.Service, executions *store.ExecutionLog, kvStore *kv.Store, db *store.Client) *Server {
	return &Server{service: service, executions: executions, kv: kvStore, db: db}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/playbooks", s.listPlaybooks)
	r.POST("/playbooks/generate", s.generatePlaybook)
	r.POST("/playbooks/run", s.runPlaybook)
	r.GET("/executions/:id", s.getExecution)
	return r
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := gin.H{}

	if s.db != nil {
		if err := s.db.DB().PingContext(ctx); err != nil {
			status = "unhealthy"
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}
	if s.kv != nil {
		if err := s.kv.Ping(ctx); err != nil {
			// The executor degrades without the KV store, so this is not fatal.
			if status == "healthy" {
				status = "degraded"
			}
			checks["kv"] = err.Error()
		} else {
			checks["kv"] = "ok"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

// listPlaybooks enumerates playbook ids from the static and generated
// directories. Generated entries shadow static ones with the same id.
func (s *Server) listPlaybooks(c *gin.Context) {
	seen := map[string]string{}
	for _, src := range []struct{ kind, dir string }{
		{"static", s.service.Resolver.StaticDir},
		{"generated", s.service.Resolver.GeneratedDir},
	} {
		if src.dir == "" {
			continue
		}
		entries, err := os.ReadDir(src.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ".yaml")
			seen[id] = src.kind
		}
	}

	out := make([]gin.H, 0, len(seen))
	for id, kind := range seen {
		out = append(out, gin.H{"id": id, "source": kind})
	}
	c.JSON(http.StatusOK, gin.H{"playbooks": out})
}

func (s *Server) generatePlaybook(c *gin.Context) {
	var alert map[string]any
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert payload: " + err.Error()})
		return
	}
	pb, err := s.service.Generator.Generate(c.Request.Context(), alert)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"playbook": pb})
}

// runPlaybook resolves (or generates) and executes a playbook for the
// posted alert. Gate rejections map to 409.
func (s *Server) runPlaybook(c *gin.Context) {
	var alert map[string]any
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert payload: " + err.Error()})
		return
	}

	eventType, _ := alert["event_type"].(string)
	severity, _ := alert["severity"].(string)
	if eventType == "" || severity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alert must carry event_type and severity"})
		return
	}

	pb, err := s.service.Resolver.Find(eventType, severity)
	if err == nil && pb == nil {
		pb, err = s.service.Generator.Generate(c.Request.Context(), alert)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	res, err := s.service.Executor.Execute(c.Request.Context(), pb, alert)
	switch {
	case errors.Is(err, playbook.ErrUnderCooldown),
		errors.Is(err, playbook.ErrLocked),
		errors.Is(err, playbook.ErrPreconditions):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "playbook_id": pb.ID})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"execution": res})
	}
}

func (s *Server) getExecution(c *gin.Context) {
	res, err := s.executions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution": res})
}
