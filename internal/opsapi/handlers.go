package opsapi

import (
	"errors"
	"net/http"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/dispatch"
	"callbridge/internal/observe"
	"callbridge/internal/report"
	"callbridge/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Registry   *session.Registry
	Observer   *observe.Service
	Letters    dispatch.DeadLetterRepository
	Dispatcher *dispatch.Dispatcher
	Reports    *report.Service
}

// --- Auth ---

type tokenRequest struct {
	Operator string `json:"operator"`
}

// IssueToken mints an ops access token.
//
// NOTE: Skeleton-only endpoint. Deployments must front this with real
// credential validation (mTLS or a reverse proxy auth layer).
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Operator == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.Operator)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Sessions ---

func (h Handlers) GetSessions(c *gin.Context) {
	if h.Registry == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registry not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    h.Registry.Len(),
		"by_state": h.Registry.StateCounts(),
	})
}

func (h Handlers) GetSession(c *gin.Context) {
	if h.Registry == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registry not configured"})
		return
	}
	s := h.Registry.Find(c.Param("call_id"))
	if s == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// --- Stats ---

func (h Handlers) GetStats(c *gin.Context) {
	if h.Observer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "observer not configured"})
		return
	}
	c.JSON(http.StatusOK, h.Observer.Counters())
}

// --- Dead letters ---

func (h Handlers) ListDeadLetters(c *gin.Context) {
	if h.Letters == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dead letters not configured"})
		return
	}
	letters, err := h.Letters.List(c.Request.Context(), 100)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": letters, "count": len(letters)})
}

func (h Handlers) RequeueDeadLetter(c *gin.Context) {
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	if err := h.Dispatcher.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "requeue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "requeued", "id": id})
}

// --- Reports ---

func (h Handlers) GetCallSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	from, to, err := parseWindow(c.Query("from"), c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sum, err := h.Reports.Summarize(c.Request.Context(), from, to, c.Query("queue_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// parseWindow defaults to the last 24 hours.
func parseWindow(fromRaw, toRaw string) (time.Time, time.Time, error) {
	now := time.Now()
	from, to := now.Add(-24*time.Hour), now
	var err error
	if fromRaw != "" {
		if from, err = time.Parse(time.RFC3339, fromRaw); err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
	}
	if toRaw != "" {
		if to, err = time.Parse(time.RFC3339, toRaw); err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}
