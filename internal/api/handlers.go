package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/virtual-mirror-server/internal/domain"
	"github.com/virtual-mirror-server/internal/service"
	"github.com/virtual-mirror-server/pkg/tts"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Health(c.Request.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		s.log.WithError(err).Warn("Health check: store unreachable")
	}

	c.JSON(code, gin.H{
		"status":    status,
		"tts":       s.tts != nil && s.tts.Enabled(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	})
}

// handleAnalyze runs the full screening pipeline on a submitted session.
func (s *Server) handleAnalyze(c *gin.Context) {
	var metrics service.SessionMetrics
	if err := c.ShouldBindJSON(&metrics); err != nil {
		s.badRequest(c, "invalid session payload: "+err.Error())
		return
	}

	response, err := s.screening.Analyze(c.Request.Context(), &metrics)
	if err != nil {
		s.internalError(c, err, "analysis failed")
		return
	}

	c.JSON(http.StatusOK, response)
}

// createSessionRequest is the payload for registering a session before
// its tasks are recorded.
type createSessionRequest struct {
	ChildName       string   `json:"child_name" binding:"required"`
	ChildAge        int      `json:"child_age"`
	ChildHeightCM   *float64 `json:"child_height_cm"`
	ChildWeightKG   *float64 `json:"child_weight_kg"`
	ChildGender     string   `json:"child_gender"`
	ChildNotes      string   `json:"child_notes"`
	SessionType     string   `json:"session_type"`
	ParentSessionID string   `json:"parent_session_id"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid session payload: "+err.Error())
		return
	}

	sessionType := req.SessionType
	if sessionType == "" {
		sessionType = domain.SessionTypeInitial
	}

	session := &domain.Session{
		ID:              uuid.New().String(),
		ChildName:       req.ChildName,
		ChildAge:        req.ChildAge,
		ChildHeightCM:   req.ChildHeightCM,
		ChildWeightKG:   req.ChildWeightKG,
		ChildGender:     req.ChildGender,
		ChildNotes:      req.ChildNotes,
		StartedAt:       time.Now().UTC(),
		SessionType:     sessionType,
		ParentSessionID: req.ParentSessionID,
	}

	if req.ParentSessionID != "" {
		if _, err := s.store.GetSession(c.Request.Context(), req.ParentSessionID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.badRequest(c, "parent session not found")
				return
			}
			s.internalError(c, err, "failed to resolve parent session")
			return
		}
	}

	if err := s.store.CreateSession(c.Request.Context(), session); err != nil {
		if errors.Is(err, domain.ErrInvalidSessionType) {
			s.badRequest(c, err.Error())
			return
		}
		s.internalError(c, err, "failed to create session")
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleListSessions(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.store.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		s.internalError(c, err, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.notFound(c, "session not found")
			return
		}
		s.internalError(c, err, "failed to get session")
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.store.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.notFound(c, "session not found")
			return
		}
		s.internalError(c, err, "failed to delete session")
		return
	}
	s.reports.Invalidate(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleFollowupSessions(c *gin.Context) {
	followups, err := s.store.FollowupSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, err, "failed to list follow-up sessions")
		return
	}
	if followups == nil {
		followups = []*domain.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"followups": followups})
}

type createTaskRequest struct {
	TaskName        string  `json:"task_name" binding:"required"`
	DurationSeconds float64 `json:"duration_seconds"`
	Status          string  `json:"status"`
	Notes           string  `json:"notes"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid task payload: "+err.Error())
		return
	}

	sessionID := c.Param("id")
	if _, err := s.store.GetSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.notFound(c, "session not found")
			return
		}
		s.internalError(c, err, "failed to resolve session")
		return
	}

	status := req.Status
	if status == "" {
		status = "completed"
	}

	task := &domain.TaskResult{
		SessionID:       sessionID,
		TaskName:        req.TaskName,
		DurationSeconds: req.DurationSeconds,
		Status:          status,
		Notes:           req.Notes,
	}
	if err := s.store.CreateTask(c.Request.Context(), task); err != nil {
		s.internalError(c, err, "failed to create task")
		return
	}

	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.store.TasksBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, err, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*domain.TaskResult{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleCreateMetrics(c *gin.Context) {
	var values map[string]float64
	if err := c.ShouldBindJSON(&values); err != nil {
		s.badRequest(c, "invalid metrics payload: "+err.Error())
		return
	}
	if len(values) == 0 {
		s.badRequest(c, "metrics payload is empty")
		return
	}

	metrics, err := s.store.CreateMetrics(c.Request.Context(), c.Param("id"), values)
	if err != nil {
		s.internalError(c, err, "failed to create metrics")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"metrics": metrics})
}

func (s *Server) handleListMetrics(c *gin.Context) {
	metrics, err := s.store.MetricsByTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, err, "failed to list metrics")
		return
	}
	if metrics == nil {
		metrics = []*domain.Metric{}
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func (s *Server) handleStatistics(c *gin.Context) {
	stats, err := s.store.Statistics(c.Request.Context())
	if err != nil {
		s.internalError(c, err, "failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleReport(c *gin.Context) {
	doc, err := s.reports.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.notFound(c, "session not found or not yet analyzed")
			return
		}
		s.internalError(c, err, "failed to generate report")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleTTS(c *gin.Context) {
	if s.tts == nil || !s.tts.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":          "text-to-speech is not configured",
			"correlation_id": c.GetString("correlation_id"),
		})
		return
	}

	var req tts.Request
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		s.badRequest(c, "tts request requires non-empty text")
		return
	}

	result, err := s.tts.Synthesize(c.Request.Context(), req)
	if err != nil {
		s.internalError(c, err, "speech synthesis failed")
		return
	}

	if result.Cached {
		c.Header("X-Cache", "HIT")
	}
	c.Data(http.StatusOK, "audio/mpeg", result.Audio)
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":          msg,
		"correlation_id": c.GetString("correlation_id"),
	})
}

func (s *Server) notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":          msg,
		"correlation_id": c.GetString("correlation_id"),
	})
}

func (s *Server) internalError(c *gin.Context, err error, msg string) {
	s.log.WithError(err).WithFields(map[string]any{
		"correlation_id": c.GetString("correlation_id"),
		"path":           c.FullPath(),
	}).Error("Request failed")

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":          msg,
		"correlation_id": c.GetString("correlation_id"),
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
