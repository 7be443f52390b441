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
	outputJSON bool

	rootCmd = &cobra.Command{
		Use:   "packship",
		Short: "Package remote files and ship them to a destination remote",
		Long: `Packship accepts manifests of remote files over HTTP, fetches
them, archives them into a single package, pushes the package to a
destination remote, and verifies the transfer by checksum.  Jobs are
persisted in a durable queue so a restart never loses in-flight work.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
