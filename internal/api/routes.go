package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/engine"
)

// CycleSource exposes the scheduler state the read-only API reports on.
// Implemented by engine.Service.
type CycleSource interface {
	LastCycle() *engine.CycleResult
	IsRunning() bool
}

// Server is the read-only status API. It never mutates engine state; every
// decision stays inside the cycle loop.
type Server struct {
	cycles CycleSource
	logger *logrus.Logger
}

// NewServer builds the status API over a cycle source.
func NewServer(cycles CycleSource, logger *logrus.Logger) *Server {
	return &Server{cycles: cycles, logger: logger}
}

// Router assembles the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/opportunities", s.opportunities)
		v1.GET("/cycle", s.cycle)
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !s.cycles.IsRunning() {
		status = "engine not running"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// opportunities returns the latest cycle's ranked evaluations.
func (s *Server) opportunities(c *gin.Context) {
	last := s.cycles.LastCycle()
	if last == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cycle completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycle_id":      last.CycleID.String(),
		"opportunities": last.Evaluated,
	})
}

// cycle returns the last cycle summary. data_unavailable tells the consumer an
// empty allocation means "blind", not "deliberately flat".
func (s *Server) cycle(c *gin.Context) {
	last := s.cycles.LastCycle()
	if last == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cycle completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycle_id":           last.CycleID.String(),
		"started_at":         last.StartedAt,
		"duration_ms":        last.Duration.Milliseconds(),
		"symbols":            len(last.Symbols),
		"opportunities":      len(last.Evaluated),
		"position_decisions": last.PositionDecisions,
		"allocation":         last.Allocation,
		"data_unavailable":   last.DataUnavailable,
	})
}
