package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"duraq/pkg/queue"
)

// EnqueueRequest is the payload for POST .../jobs.
type EnqueueRequest struct {
	ID         string          `json:"id" binding:"required"`
	Payload    string          `json:"payload"` // base64-encoded
	RunAt      *time.Time      `json:"run_at"`
	Schedule   *ScheduleDTO    `json:"schedule"`
	RetryMS    []int64         `json:"retry_ms"`
	MaxTimes   int64           `json:"max_times"`
	Exclusive  bool            `json:"exclusive"`
}

// ScheduleDTO is the wire representation of queue.Schedule.
type ScheduleDTO struct {
	Type string `json:"type" binding:"required"`
	Meta string `json:"meta"`
}

// JobDTO is the API representation of a queue.Job.
type JobDTO struct {
	Tenant    string `json:"tenant"`
	Queue     string `json:"queue"`
	ID        string `json:"id"`
	Payload   string `json:"payload"`
	RunAt     int64  `json:"run_at"`
	Count     int64  `json:"count"`
	MaxTimes  int64  `json:"max_times"`
	Exclusive bool   `json:"exclusive"`
}

func jobToDTO(job *queue.Job) JobDTO {
	return JobDTO{
		Tenant:    job.Tenant,
		Queue:     job.Queue,
		ID:        job.ID,
		Payload:   base64.StdEncoding.EncodeToString(job.Payload),
		RunAt:     job.RunAt,
		Count:     job.Count,
		MaxTimes:  job.MaxTimes,
		Exclusive: job.Exclusive,
	}
}

// enqueueJob handles POST /api/v1/tenants/:tenant/queues/:queue/jobs
func (s *Server) enqueueJob(c *gin.Context) {
	tenant := c.Param("tenant")
	queueName := c.Param("queue")

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateIdentifier("tenant", tenant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateIdentifier("queue", queueName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateIdentifier("id", req.ID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be base64-encoded"})
		return
	}
	if err := s.validator.ValidatePayloadSize(len(payload)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := queue.EnqueueOptions{
		MaxTimes:  req.MaxTimes,
		Exclusive: req.Exclusive,
	}
	if req.RunAt != nil {
		opts.RunAt = *req.RunAt
	}
	if req.Schedule != nil {
		opts.Schedule = &queue.Schedule{Type: req.Schedule.Type, Meta: req.Schedule.Meta}
	}
	if len(req.RetryMS) > 0 {
		opts.Retry = make([]time.Duration, len(req.RetryMS))
		for i, ms := range req.RetryMS {
			opts.Retry[i] = time.Duration(ms) * time.Millisecond
		}
	}

	res, err := s.producer.Enqueue(c.Request.Context(), tenant, queueName, req.ID, payload, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tenant":           tenant,
		"queue":            queueName,
		"id":               req.ID,
		"replaced":         res.Replaced,
		"deferred_replace": res.DeferredReplace,
	})
}

// getJob handles GET /api/v1/tenants/:tenant/queues/:queue/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	tenant, queueName, id := c.Param("tenant"), c.Param("queue"), c.Param("id")

	job, err := s.producer.FindByID(c.Request.Context(), tenant, queueName, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// deleteJob handles DELETE /api/v1/tenants/:tenant/queues/:queue/jobs/:id
func (s *Server) deleteJob(c *gin.Context) {
	tenant, queueName, id := c.Param("tenant"), c.Param("queue"), c.Param("id")

	ok, err := s.producer.Delete(c.Request.Context(), tenant, queueName, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job deleted", "id": id})
}

// invokeJob handles POST /api/v1/tenants/:tenant/queues/:queue/jobs/:id/invoke
func (s *Server) invokeJob(c *gin.Context) {
	tenant, queueName, id := c.Param("tenant"), c.Param("queue"), c.Param("id")

	ok, err := s.producer.Invoke(c.Request.Context(), tenant, queueName, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found or not eligible"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "job invoked", "id": id})
}

// jobHistory handles GET /api/v1/tenants/:tenant/queues/:queue/jobs/:id/history
func (s *Server) jobHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "history store not configured"})
		return
	}
	tenant, queueName, id := c.Param("tenant"), c.Param("queue"), c.Param("id")

	events, err := s.history.ListByJob(c.Request.Context(), tenant, queueName, id, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
