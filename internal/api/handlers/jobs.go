package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/order"
	"github.com/orrn/printdispatch/internal/receipt"
)

type CreateJobRequest struct {
	Document        string `json:"document" binding:"required"`
	Kind            string `json:"kind" binding:"required"`
	OrderID         string `json:"order_id"`
	SubmittedByID   string `json:"submitted_by_id"`
	SubmittedByName string `json:"submitted_by_name"`
}

type PrintOrderRequest struct {
	SubmittedByID   string `json:"submitted_by_id"`
	SubmittedByName string `json:"submitted_by_name"`
}

type PrintNowRequest struct {
	Document    string `json:"document" binding:"required"`
	PrinterName string `json:"printer_name"`
}

type ListJobsQuery struct {
	Status  string `form:"status"`
	Kind    string `form:"kind"`
	OrderID string `form:"order_id"`
	Limit   int    `form:"limit" binding:"max=100"`
	Offset  int    `form:"offset"`
}

// JobResponse omits the document body, which can be large; GET /jobs/:id
// returns it.
type JobResponse struct {
	*core.Job
	Document string `json:"document,omitempty"`
}

// QueueRunner drains the queue on demand.
type QueueRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

type JobHandler struct {
	service *core.Service
	runner  QueueRunner
}

func NewJobHandler(service *core.Service, runner QueueRunner) *JobHandler {
	return &JobHandler{
		service: service,
		runner:  runner,
	}
}

func submitter(c *gin.Context, id, name string) (string, string) {
	if id == "" {
		id = c.ClientIP()
	}
	return id, name
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, name := submitter(c, req.SubmittedByID, req.SubmittedByName)
	job, err := h.service.Queue().Enqueue(c.Request.Context(), core.EnqueueRequest{
		Document:        req.Document,
		Kind:            receipt.Kind(req.Kind),
		OrderID:         req.OrderID,
		SubmittedByID:   id,
		SubmittedByName: name,
	})
	if err != nil {
		if errors.Is(err, core.ErrEmptyDocument) || errors.Is(err, core.ErrInvalidKind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      job.ID,
		"status":  job.Status,
		"message": "job submitted successfully",
	})
}

// PrintOrder renders an order's ticket and queues it.
func (h *JobHandler) PrintOrder(c *gin.Context) {
	var req PrintOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	kind := receipt.Kind(c.DefaultQuery("kind", string(receipt.KindKitchen)))
	id, name := submitter(c, req.SubmittedByID, req.SubmittedByName)
	job, err := h.service.EnqueueOrder(c.Request.Context(), c.Param("id"), kind, id, name)
	if err != nil {
		writeRenderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       job.ID,
		"order_id": job.OrderID,
		"kind":     job.Kind,
		"status":   job.Status,
	})
}

func writeRenderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, core.ErrIncompleteDetails):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// PrintNow bypasses the queue. The result is reported, never retried.
func (h *JobHandler) PrintNow(c *gin.Context) {
	var req PrintNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	printed := h.service.PrintNow(c.Request.Context(), req.Document, req.PrinterName)
	c.JSON(http.StatusOK, gin.H{"printed": printed})
}

type PreviewRequest struct {
	Kind     string          `json:"kind"`
	Snapshot *order.Snapshot `json:"snapshot" binding:"required"`
}

// PreviewSnapshot formats a snapshot supplied by the caller.
func (h *JobHandler) PreviewSnapshot(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = string(receipt.KindKitchen)
	}

	document, err := h.service.Format(req.Snapshot, receipt.Kind(req.Kind))
	if err != nil {
		writeRenderError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(document))
}

// PreviewReceipt returns the HTML for an order without queueing it.
func (h *JobHandler) PreviewReceipt(c *gin.Context) {
	kind := receipt.Kind(c.DefaultQuery("kind", string(receipt.KindKitchen)))
	_, document, err := h.service.Render(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		writeRenderError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(document))
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}

	status := db.JobStatus(query.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	jobs, err := h.service.Queue().ListJobs(c.Request.Context(), core.JobFilter{
		Status:  status,
		Kind:    query.Kind,
		OrderID: query.OrderID,
		Limit:   query.Limit,
		Offset:  query.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, JobResponse{Job: job})
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   responses,
		"limit":  query.Limit,
		"offset": query.Offset,
		"count":  len(responses),
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.service.Queue().GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, JobResponse{Job: job, Document: job.Document})
}

func (h *JobHandler) RetryJob(c *gin.Context) {
	err := h.service.Queue().RetryJob(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "job queued for retry"})
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, core.ErrJobNotFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
	}
}

func (h *JobHandler) ReprintJob(c *gin.Context) {
	job, err := h.service.Queue().ReprintJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reprint job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "job reprinted",
		"new_job_id": job.ID,
	})
}

func (h *JobHandler) GetQueueStats(c *gin.Context) {
	stats, err := h.service.Queue().GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get queue stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RunQueue triggers one processor pass. A pass already in flight yields 409.
func (h *JobHandler) RunQueue(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no processor on this instance"})
		return
	}

	n, err := h.runner.RunOnce(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"processed": n})
	case errors.Is(err, core.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNotPrimary):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/retry", h.RetryJob)
	r.POST("/jobs/:id/reprint", h.ReprintJob)
	r.GET("/queue/stats", h.GetQueueStats)
	r.POST("/queue/run", h.RunQueue)
	r.POST("/orders/:id/print", h.PrintOrder)
	r.GET("/orders/:id/preview", h.PreviewReceipt)
	r.POST("/print", h.PrintNow)
	r.POST("/receipts/preview", h.PreviewSnapshot)
}
