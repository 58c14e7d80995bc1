package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/log"
	"github.com/agenttown/recall/pkg/memory"
)

// defaultQueryMinScore is applied on the query route when the caller
// does not send min_score. List-style reads use no threshold.
const defaultQueryMinScore = 0.6

type createMemoryRequest struct {
	Text     string                 `json:"text" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

type queryMemoriesRequest struct {
	Text     string                 `json:"text" binding:"required"`
	K        int                    `json:"k"`
	MinScore *float64               `json:"min_score"`
	Filters  map[string]interface{} `json:"filters"`
}

type updateMetadataRequest struct {
	Metadata map[string]interface{} `json:"metadata" binding:"required"`
}

func (s *Server) createMemory(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.client.Store(c.Request.Context(), c.Param("agent_id"), req.Text, req.Metadata)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (s *Server) queryMemories(c *gin.Context) {
	var req queryMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	minScore := defaultQueryMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	records, err := s.client.Query(c.Request.Context(), c.Param("agent_id"), req.Text, memory.QueryOptions{
		Limit:    req.K,
		MinScore: minScore,
		Filters:  req.Filters,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"memories": records})
}

func (s *Server) listMemories(c *gin.Context) {
	records, err := s.client.List(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"memories": records})
}

func (s *Server) getMemory(c *gin.Context) {
	record, err := s.client.Get(c.Request.Context(), c.Param("agent_id"), c.Param("memory_id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) updateMetadata(c *gin.Context) {
	var req updateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.client.UpdateMetadata(c.Request.Context(), c.Param("agent_id"), c.Param("memory_id"), req.Metadata)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) deleteMemory(c *gin.Context) {
	if err := s.client.Delete(c.Request.Context(), c.Param("agent_id"), c.Param("memory_id")); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) clearMemories(c *gin.Context) {
	removed, err := s.client.Clear(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.client.ListAgents(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if agents == nil {
		agents = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) health(c *gin.Context) {
	if err := s.client.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unavailable",
			"backend":  s.client.Mode(),
			"degraded": s.client.Degraded(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"backend":  s.client.Mode(),
		"degraded": s.client.Degraded(),
	})
}

func (s *Server) reprobe(c *gin.Context) {
	mode, err := s.client.Reprobe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"backend": mode,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backend": mode})
}

// abortWithError maps domain errors to HTTP status codes.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrEmbedderUnavailable),
		errors.Is(err, errors.ErrIndexUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		log.ErrorContext(c.Request.Context(), "Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err)
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
