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

package jobstore

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// JobState is the lifecycle state of a job.  Transitions are monotonic:
// pending -> in progress -> {completed, failed}; completed and failed are
// terminal.
type JobState string

const (
	StatePending    JobState = "pending"
	StateInProgress JobState = "in progress"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// IsTerminal reports whether no further transitions are permitted from s.
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Manifest is the immutable input to a job: the set of remote files to
// fetch, the name each one should take inside the package, the profile that
// resolves the remote roots, and the name of the output archive.
type Manifest struct {
	// Files maps remote-relative path -> desired local archive path.
	Files       map[string]string `json:"files"`
	ProfileName string            `json:"profile_name"`
	PackageName string            `json:"package_name"`
}

// Validate checks that the manifest is structurally complete.  Intake is
// expected to have validated the payload already; this is the processor's
// last line of defense before invoking the pipeline.
func (m *Manifest) Validate() error {
	if len(m.Files) == 0 {
		return errors.New("manifest has no files")
	}
	if m.ProfileName == "" {
		return errors.New("manifest has no profile name")
	}
	if m.PackageName == "" {
		return errors.New("manifest has no package name")
	}
	return nil
}

// SortedRemotePaths returns the manifest's remote paths in lexicographic
// order.  The wire format is a JSON object, so the submission order is not
// recoverable; sorting makes fetch order and the base-directory choice
// deterministic.
func (m *Manifest) SortedRemotePaths() []string {
	paths := make([]string, 0, len(m.Files))
	for remote := range m.Files {
		paths = append(paths, remote)
	}
	sort.Strings(paths)
	return paths
}

// ParseManifest decodes the serialized manifest stored on a job row.
func ParseManifest(raw string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal manifest")
	}
	return &m, nil
}

// Job is the persistent record driving the transfer pipeline.  Rows are
// owned by the Store and mutated only through its transition operations.
type Job struct {
	ID            int64
	RequestID     int64
	RawManifest   string
	State         JobState
	CreatedAt     time.Time
	StartTime     *time.Time
	EndTime       *time.Time
	FailureReason string
}

// Manifest decodes the job's serialized manifest.
func (j *Job) Manifest() (*Manifest, error) {
	return ParseManifest(j.RawManifest)
}

// JobEvent is one append-only audit entry in a job's narrative trail.
type JobEvent struct {
	ID        int64
	JobID     int64
	CreatedAt time.Time
	Message   string
}

// Request is the intake audit record for one inbound HTTP request.
type Request struct {
	ID             int64
	SourceIP       string
	UserAgent      string
	Method         string
	RequestURL     string
	RequestRaw     string
	ResponseStatus int
	CreatedAt      time.Time
}
