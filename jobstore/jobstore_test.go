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
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testManifest() *Manifest {
	return &Manifest{
		Files: map[string]string{
			"a/x.txt": "x.txt",
			"a/y.txt": "sub/y.txt",
		},
		ProfileName: "dist-07",
		PackageName: "bundle",
	}
}

func TestEnqueueAndGet(t *testing.T) {
	store := setupTestStore(t)

	manifest := testManifest()
	jobID, err := store.Enqueue(manifest, 42)
	require.NoError(t, err)
	require.Greater(t, jobID, int64(0))

	job, err := store.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, int64(42), job.RequestID)
	assert.Nil(t, job.StartTime)
	assert.Nil(t, job.EndTime)

	got, err := job.Manifest()
	require.NoError(t, err)
	assert.Equal(t, manifest, got)
}

func TestGetJobNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetJob(999)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestClaimNextEmpty(t *testing.T) {
	store := setupTestStore(t)

	job, err := store.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNextFIFO(t *testing.T) {
	store := setupTestStore(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := store.Enqueue(testManifest(), 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		job, err := store.ClaimNext()
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, StateInProgress, job.State)
		require.NotNil(t, job.StartTime)

		// The stamped start time must be visible on re-read.
		stored, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, StateInProgress, stored.State)
		require.NotNil(t, stored.StartTime)
	}

	job, err := store.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNextConcurrent(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)

	const claimers = 4
	results := make([]*Job, claimers)
	errs := make([]error, claimers)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.ClaimNext()
		}(i)
	}
	wg.Wait()

	claimed := 0
	for i := 0; i < claimers; i++ {
		require.NoError(t, errs[i])
		if results[i] != nil {
			claimed++
			assert.Equal(t, jobID, results[i].ID)
		}
	}
	assert.Equal(t, 1, claimed, "exactly one claimer must win the job")
}

func TestMarkTerminal(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)

	job, err := store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, job)

	err = store.MarkTerminal(jobID, StateCompleted, "")
	require.NoError(t, err)

	stored, err := store.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
	require.NotNil(t, stored.EndTime)
}

func TestMarkTerminalCompletedLeavesReasonNull(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)

	job, err := store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, store.MarkTerminal(jobID, StateCompleted, ""))

	var reason sql.NullString
	err = store.db.QueryRow(`SELECT failure_reason FROM jobs WHERE id = ?`, jobID).Scan(&reason)
	require.NoError(t, err)
	assert.False(t, reason.Valid, "failure_reason must stay NULL on success")
}

func TestMarkTerminalRecordsFailureReason(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)
	_, err = store.ClaimNext()
	require.NoError(t, err)

	err = store.MarkTerminal(jobID, StateFailed, "push stage failed")
	require.NoError(t, err)

	stored, err := store.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, "push stage failed", stored.FailureReason)
}

func TestMarkTerminalRejectsPendingJob(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)

	err = store.MarkTerminal(jobID, StateCompleted, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestMarkTerminalRejectsTerminalJob(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)
	_, err = store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, store.MarkTerminal(jobID, StateCompleted, ""))

	err = store.MarkTerminal(jobID, StateFailed, "too late")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	stored, err := store.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
}

func TestMarkTerminalRejectsNonTerminalTarget(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)
	_, err = store.ClaimNext()
	require.NoError(t, err)

	err = store.MarkTerminal(jobID, StatePending, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestAppendAndGetEvents(t *testing.T) {
	store := setupTestStore(t)

	jobID, err := store.Enqueue(testManifest(), 0)
	require.NoError(t, err)

	messages := []string{"fetched a/x.txt", "zipped", "uploaded"}
	for _, msg := range messages {
		require.NoError(t, store.AppendEvent(jobID, msg))
	}

	events, err := store.GetEvents(jobID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, jobID, ev.JobID)
		assert.Equal(t, messages[i], ev.Message)
	}
}

func TestListJobs(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(testManifest(), 0)
		require.NoError(t, err)
	}
	job, err := store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, store.MarkTerminal(job.ID, StateFailed, "boom"))

	jobs, total, err := store.ListJobs("", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, jobs, 3)
	// Newest first
	assert.Greater(t, jobs[0].ID, jobs[2].ID)

	failed, total, err := store.ListJobs(StateFailed, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
}

func TestRequestLog(t *testing.T) {
	store := setupTestStore(t)

	reqID, err := store.LogRequest("10.0.0.1", "curl/8.0", "POST", "/api/v1.0/jobs", `{"files":{}}`)
	require.NoError(t, err)
	require.Greater(t, reqID, int64(0))

	require.NoError(t, store.SetRequestStatus(reqID, 201))

	var status int
	err = store.db.QueryRow(`SELECT response_status FROM requests WHERE id = ?`, reqID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
}
