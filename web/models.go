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

import "time"

// Error codes returned by the API
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// SubmitJobRequest is the payload for creating a packaging job.
type SubmitJobRequest struct {
	Auth        string            `json:"auth"`
	Files       map[string]string `json:"files" binding:"required"`
	ProfileName string            `json:"profile_name" binding:"required"`
	PackageName string            `json:"package_name" binding:"required"`
}

// SubmitJobResponse is returned when a job is accepted.
type SubmitJobResponse struct {
	Message string `json:"message"`
	JobID   int64  `json:"job_id"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// JobEventView is one audit entry in a job's event log.
type JobEventView struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// JobStatusResponse is the read-only projection of one job record.
type JobStatusResponse struct {
	JobID         int64          `json:"job_id"`
	RequestID     int64          `json:"request_id"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	StartTime     *time.Time     `json:"start_time"`
	EndTime       *time.Time     `json:"end_time"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Events        []JobEventView `json:"events"`
}

// JobListItem summarizes one job in a list response.
type JobListItem struct {
	JobID     int64      `json:"job_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// JobListResponse is a paginated list of jobs.
type JobListResponse struct {
	Jobs   []JobListItem `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
