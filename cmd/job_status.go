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
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/packshipproject/packship/apiclient"
)

var jobStatusCmd = &cobra.Command{
	Use:          "status <job_id>",
	Short:        "Show one job's state and event log",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         jobStatusMain,
}

func init() {
	jobCmd.AddCommand(jobStatusCmd)
}

func jobStatusMain(cmd *cobra.Command, args []string) error {
	jobID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid job id %q", args[0])
	}

	client := apiclient.New(jobServerURL)
	resp, err := client.GetJob(cmd.Context(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to get job status")
	}

	if outputJSON {
		jsonBytes, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal JSON")
		}
		fmt.Println(string(jsonBytes))
		return nil
	}

	fmt.Printf("Job:     %d\n", resp.JobID)
	fmt.Printf("Status:  %s\n", resp.Status)
	fmt.Printf("Created: %s\n", resp.CreatedAt.Format(time.RFC3339))
	if resp.StartTime != nil {
		fmt.Printf("Started: %s\n", resp.StartTime.Format(time.RFC3339))
	}
	if resp.EndTime != nil {
		fmt.Printf("Ended:   %s\n", resp.EndTime.Format(time.RFC3339))
	}
	if resp.FailureReason != "" {
		fmt.Printf("Failure: %s\n", resp.FailureReason)
	}

	if len(resp.Events) > 0 {
		fmt.Println("\nEvents:")
		for _, ev := range resp.Events {
			fmt.Printf("  %s  %s\n", ev.Timestamp.Format(time.RFC3339), ev.Message)
		}
	}

	return nil
}
