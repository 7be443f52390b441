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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packship_jobs_enqueued_total",
		Help: "Total number of jobs accepted by the intake endpoint",
	})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packship_jobs_processed_total",
		Help: "Total number of jobs driven to a terminal state, by outcome",
	}, []string{"outcome"})

	PipelineStageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packship_pipeline_stage_failures_total",
		Help: "Total number of pipeline stage failures, by stage",
	}, []string{"stage"})
)
