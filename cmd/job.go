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
	"github.com/spf13/cobra"
)

var (
	jobCmd = &cobra.Command{
		Use:   "job",
		Short: "Inspect packaging jobs on a running server",
	}

	jobServerURL string
)

func init() {
	jobCmd.PersistentFlags().StringVar(&jobServerURL, "server", "http://127.0.0.1:8080", "Base URL of the packship server")
}
