/***************************************************************
 *
 * Copyright (C) 2025, Packship Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package web

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/packshipproject/packship/jobstore"
	"github.com/packshipproject/packship/metrics"
)

var serverStartTime = time.Now()

// SubmitJobHandler handles POST /api/v1.0/jobs.  Every request is recorded
// in the intake audit log before any validation; the response status is
// back-filled once the outcome is known.
func (s *Server) SubmitJobHandler(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:  ErrCodeInvalidRequest,
			Error: "Failed to read request body: " + err.Error(),
		})
		return
	}
	// Rewind so binding below sees the body we just captured for the audit
	// log.
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	requestID, err := s.store.LogRequest(c.ClientIP(), c.Request.UserAgent(),
		c.Request.Method, c.Request.URL.Path, string(raw))
	if err != nil {
		log.Errorf("Failed to record intake request: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:  ErrCodeInternal,
			Error: "Error occurred during request submission",
		})
		return
	}

	status := s.submitJob(c, requestID)
	if err := s.store.SetRequestStatus(requestID, status); err != nil {
		log.Warnf("Failed to update request %d response status: %v", requestID, err)
	}
}

// submitJob validates and enqueues; it returns the HTTP status written.
func (s *Server) submitJob(c *gin.Context, requestID int64) int {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:  ErrCodeInvalidRequest,
			Error: "Invalid request body: " + err.Error(),
		})
		return http.StatusBadRequest
	}

	if s.apiKey != "" && req.Auth != s.apiKey {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Code:  ErrCodeUnauthorized,
			Error: "Not authorized",
		})
		return http.StatusForbidden
	}

	if len(req.Files) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:  ErrCodeInvalidRequest,
			Error: "'files' map is empty or invalid",
		})
		return http.StatusBadRequest
	}
	for remote, local := range req.Files {
		if remote == "" || local == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:  ErrCodeInvalidRequest,
				Error: "'files' entries must have non-empty remote and local paths",
			})
			return http.StatusBadRequest
		}
	}

	manifest := &jobstore.Manifest{
		Files:       req.Files,
		ProfileName: req.ProfileName,
		PackageName: req.PackageName,
	}

	jobID, err := s.store.Enqueue(manifest, requestID)
	if err != nil {
		log.Errorf("Failed to enqueue job: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:  ErrCodeInternal,
			Error: "Failed to enqueue job",
		})
		return http.StatusInternalServerError
	}

	metrics.JobsEnqueued.Inc()
	c.JSON(http.StatusCreated, SubmitJobResponse{
		Message: "Job submitted successfully",
		JobID:   jobID,
	})
	return http.StatusCreated
}

// GetJobStatusHandler handles GET /api/v1.0/jobs/:job_id.
func (s *Server) GetJobStatusHandler(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:  ErrCodeInvalidRequest,
			Error: "Invalid job id",
		})
		return
	}

	job, err := s.store.GetJob(jobID)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:  ErrCodeNotFound,
			Error: "Job not found",
		})
		return
	}
	if err != nil {
		log.Errorf("Failed to load job %d: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:  ErrCodeInternal,
			Error: "Failed to load job",
		})
		return
	}

	events, err := s.store.GetEvents(jobID)
	if err != nil {
		log.Errorf("Failed to load events for job %d: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:  ErrCodeInternal,
			Error: "Failed to load job events",
		})
		return
	}

	views := make([]JobEventView, len(events))
	for i, ev := range events {
		views[i] = JobEventView{Timestamp: ev.CreatedAt, Message: ev.Message}
	}

	c.JSON(http.StatusOK, JobStatusResponse{
		JobID:         job.ID,
		RequestID:     job.RequestID,
		Status:        string(job.State),
		CreatedAt:     job.CreatedAt,
		StartTime:     job.StartTime,
		EndTime:       job.EndTime,
		FailureReason: job.FailureReason,
		Events:        views,
	})
}

// ListJobsHandler handles GET /api/v1.0/jobs with optional status filter
// and pagination.
func (s *Server) ListJobsHandler(c *gin.Context) {
	state := jobstore.JobState(c.Query("status"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(state, limit, offset)
	if err != nil {
		log.Errorf("Failed to list jobs: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:  ErrCodeInternal,
			Error: "Failed to list jobs",
		})
		return
	}

	items := make([]JobListItem, len(jobs))
	for i, job := range jobs {
		items[i] = JobListItem{
			JobID:     job.ID,
			Status:    string(job.State),
			CreatedAt: job.CreatedAt,
			EndTime:   job.EndTime,
		}
	}

	c.JSON(http.StatusOK, JobListResponse{
		Jobs:   items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// HealthHandler handles GET /api/v1.0/health.
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(serverStartTime).Seconds()),
	})
}
