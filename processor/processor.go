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

// Package processor drives claimed jobs through the transfer pipeline, one
// at a time, translating pipeline outcomes into terminal state transitions.
package processor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/packshipproject/packship/jobstore"
	"github.com/packshipproject/packship/metrics"
	"github.com/packshipproject/packship/profiles"
	"github.com/packshipproject/packship/transfer"
)

// Queue is the slice of the job store the processor depends on.  Isolating
// the claim operation behind an interface lets a future design swap the
// polling loop for a blocking wake-up without touching pipeline logic.
type Queue interface {
	ClaimNext() (*jobstore.Job, error)
	MarkTerminal(jobID int64, state jobstore.JobState, reason string) error
	AppendEvent(jobID int64, message string) error
}

// PipelineRunner executes the transfer pipeline for one claimed job.
type PipelineRunner interface {
	Run(ctx context.Context, jobID int64, manifest *jobstore.Manifest, profile *profiles.OperationProfile) transfer.Result
}

// Processor is the single polling worker draining the job queue.
type Processor struct {
	queue    Queue
	resolver profiles.Resolver
	pipeline PipelineRunner
	interval time.Duration
}

// New returns a processor polling the queue every interval.
func New(queue Queue, resolver profiles.Resolver, pipeline PipelineRunner, interval time.Duration) *Processor {
	return &Processor{
		queue:    queue,
		resolver: resolver,
		pipeline: pipeline,
		interval: interval,
	}
}

// Run polls the queue until ctx is cancelled.  The idle sleep between polls
// is the only suspension point; after a claimed job the queue is re-polled
// immediately so a backlog drains without pauses.  A single job's error
// never terminates the loop.
func (p *Processor) Run(ctx context.Context) error {
	log.Infof("Job processor started (poll interval %s)", p.interval)

	for {
		// Stop before claiming: a job claimed after cancellation would only
		// see its tool calls fail and be marked failed, destroying a backlog
		// that is meant to survive a restart as pending.
		if ctx.Err() != nil {
			log.Info("Job processor shutting down")
			return ctx.Err()
		}

		claimed, err := p.processNext(ctx)
		if err != nil {
			// Without durable storage no progress is possible; log loudly
			// and retry on the next poll cycle.
			log.Errorf("Job store unavailable, retrying next cycle: %v", err)
		}

		if claimed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("Job processor shutting down")
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// processNext claims and processes at most one job.  It reports whether a
// job was claimed; the returned error is reserved for job store failures.
func (p *Processor) processNext(ctx context.Context) (bool, error) {
	job, err := p.queue.ClaimNext()
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	p.processJob(ctx, job)
	return true, nil
}

// processJob drives one claimed job to a terminal state.  Panics from the
// pipeline are caught and resolve the job to failed.
func (p *Processor) processJob(ctx context.Context, job *jobstore.Job) {
	log.Infof("Processing job %d", job.ID)

	manifest, err := job.Manifest()
	if err == nil {
		err = manifest.Validate()
	}
	if err != nil {
		p.fail(job.ID, fmt.Sprintf("invalid manifest: %v", err))
		return
	}

	profile, err := p.resolver.Resolve(manifest.ProfileName)
	if err != nil {
		p.fail(job.ID, fmt.Sprintf("profile resolution error for '%s': %v", manifest.ProfileName, err))
		return
	}
	if profile == nil {
		log.Errorf("Job %d: failed to match operation profile '%s'", job.ID, manifest.ProfileName)
		p.fail(job.ID, fmt.Sprintf("failed to match operation profile '%s'", manifest.ProfileName))
		return
	}

	result := p.runPipeline(ctx, job.ID, manifest, profile)
	if result.Succeeded {
		if err := p.queue.MarkTerminal(job.ID, jobstore.StateCompleted, ""); err != nil {
			log.Errorf("Failed to mark job %d completed: %v", job.ID, err)
			return
		}
		metrics.JobsProcessed.WithLabelValues("completed").Inc()
		log.Infof("Job %d completed, archive %s", job.ID, result.ArchivePath)
		return
	}

	p.fail(job.ID, result.Reason)
}

// runPipeline invokes the pipeline, converting a panic into a failure
// result so the processor loop survives.
func (p *Processor) runPipeline(ctx context.Context, jobID int64, manifest *jobstore.Manifest, profile *profiles.OperationProfile) (result transfer.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Job %d: panic during pipeline execution: %v", jobID, r)
			result = transfer.Result{Reason: fmt.Sprintf("unexpected error during pipeline execution: %v", r)}
		}
	}()

	return p.pipeline.Run(ctx, jobID, manifest, profile)
}

func (p *Processor) fail(jobID int64, reason string) {
	if err := p.queue.AppendEvent(jobID, reason); err != nil {
		log.Warnf("Failed to append event for job %d: %v", jobID, err)
	}
	if err := p.queue.MarkTerminal(jobID, jobstore.StateFailed, reason); err != nil {
		log.Errorf("Failed to mark job %d failed: %v", jobID, err)
		return
	}
	metrics.JobsProcessed.WithLabelValues("failed").Inc()
	log.Warnf("Job %d failed: %s", jobID, reason)
}
