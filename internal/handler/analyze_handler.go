package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	apperrors "github.com/Youssef-Hatem/policylens/internal/pkg/errors"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

const streamHeartbeatInterval = 15 * time.Second

// AnalyzeHandler serves the analysis lifecycle endpoints.
type AnalyzeHandler struct {
	analysis *service.AnalysisService
	stream   *service.StreamService
}

func NewAnalyzeHandler(analysis *service.AnalysisService, stream *service.StreamService) *AnalyzeHandler {
	return &AnalyzeHandler{analysis: analysis, stream: stream}
}

type analyzeRequest struct {
	ShopName           string `json:"shop_name" binding:"required"`
	ShopSpecialization string `json:"shop_specialization" binding:"required"`
	PolicyType         string `json:"policy_type" binding:"required"`
	PolicyText         string `json:"policy_text" binding:"required"`
}

func (r *analyzeRequest) toService() service.AnalysisRequest {
	return service.AnalysisRequest{
		ShopName:           r.ShopName,
		ShopSpecialization: r.ShopSpecialization,
		PolicyType:         r.PolicyType,
		PolicyText:         r.PolicyText,
	}
}

// Analyze accepts a submission. Cache hits return 200 with the stored
// result; everything else returns 202 with the task id.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	h.submit(c, service.SubmitOptions{})
}

// ForceAnalyze bypasses the idempotency cache, rate limited per origin.
func (h *AnalyzeHandler) ForceAnalyze(c *gin.Context) {
	h.submit(c, service.SubmitOptions{Force: true, Origin: c.ClientIP()})
}

func (h *AnalyzeHandler) submit(c *gin.Context, opts service.SubmitOptions) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("INVALID_REQUEST", "request body is missing required fields").WithCause(err))
		return
	}

	result, err := h.analysis.Submit(c.Request.Context(), req.toService(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Status == domain.JobStatusCompleted {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

type taskStatusResponse struct {
	TaskID   string                    `json:"task_id"`
	Status   string                    `json:"status"`
	Progress *service.Progress         `json:"progress,omitempty"`
	Result   *service.AnalysisResponse `json:"result,omitempty"`
	Error    *service.ErrorRecord      `json:"error,omitempty"`
}

// Status returns the job snapshot.
func (h *AnalyzeHandler) Status(c *gin.Context) {
	job, err := h.analysis.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskStatusResponse{
		TaskID:   job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Result:   job.Result,
		Error:    job.Error,
	})
}

// Cancel requests a best-effort stop.
func (h *AnalyzeHandler) Cancel(c *gin.Context) {
	if err := h.analysis.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.JobStatusCancelled, "task_id": c.Param("id")})
}

// Stream serves the job's events as SSE. Comment frames keep idle proxies
// from dropping the connection; the stream ends after the terminal event.
func (h *AnalyzeHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	events, release, err := h.stream.Stream(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer release()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{
				Event: ev.Kind,
				Data:  ev,
			}); err != nil {
				return
			}
			c.Writer.Flush()
			if ev.Kind == domain.EventKindCompleted || ev.Kind == domain.EventKindFailed {
				return
			}
		}
	}
}
