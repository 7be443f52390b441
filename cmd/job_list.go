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

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/packshipproject/packship/apiclient"
)

var (
	jobListCmd = &cobra.Command{
		Use:          "list",
		Short:        "List packaging jobs",
		Long:         `List packaging jobs, with optional filtering by state (pending, "in progress", completed, failed).`,
		SilenceUsage: true,
		RunE:         jobListMain,
	}

	jobListStatus string
	jobListLimit  int
	jobListOffset int
)

func init() {
	jobListCmd.Flags().StringVarP(&jobListStatus, "status", "s", "", "Filter by job state")
	jobListCmd.Flags().IntVarP(&jobListLimit, "limit", "l", 20, "Maximum number of jobs to return")
	jobListCmd.Flags().IntVarP(&jobListOffset, "offset", "o", 0, "Offset for pagination")
	jobCmd.AddCommand(jobListCmd)
}

func jobListMain(cmd *cobra.Command, args []string) error {
	client := apiclient.New(jobServerURL)

	resp, err := client.ListJobs(cmd.Context(), jobListStatus, jobListLimit, jobListOffset)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if outputJSON {
		jsonBytes, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal JSON")
		}
		fmt.Println(string(jsonBytes))
		return nil
	}

	if len(resp.Jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Total jobs: %d\n\n", resp.Total)
	fmt.Printf("%-10s %-14s %-22s %s\n", "Job ID", "Status", "Created", "Finished")
	for _, job := range resp.Jobs {
		finished := "-"
		if job.EndTime != nil {
			finished = job.EndTime.Format(time.RFC3339)
		}
		fmt.Printf("%-10d %-14s %-22s %s\n", job.JobID, job.Status,
			job.CreatedAt.Format(time.RFC3339), finished)
	}

	return nil
}
