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

// Package apiclient is a thin HTTP client for the packship intake API,
// used by the CLI's job inspection commands.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/packshipproject/packship/web"
)

// Client talks to a running packship server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the server at baseURL (e.g.
// "http://127.0.0.1:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		var errResp web.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return errors.Errorf("server returned %d: %s", resp.StatusCode, errResp.Error)
		}
		return errors.Errorf("server returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// GetJob fetches one job's status and event log.
func (c *Client) GetJob(ctx context.Context, jobID int64) (*web.JobStatusResponse, error) {
	var resp web.JobStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v1.0/jobs/%d", jobID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs fetches a page of jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string, limit, offset int) (*web.JobListResponse, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var resp web.JobListResponse
	if err := c.get(ctx, "/api/v1.0/jobs?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
