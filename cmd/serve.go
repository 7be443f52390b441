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
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/oklog/run"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/packshipproject/packship/config"
	"github.com/packshipproject/packship/jobstore"
	"github.com/packshipproject/packship/processor"
	"github.com/packshipproject/packship/profiles"
	"github.com/packshipproject/packship/transfer"
	"github.com/packshipproject/packship/web"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Run the intake server and the job processor",
	SilenceUsage: true,
	RunE:         serveMain,
}

func serveMain(cmd *cobra.Command, args []string) error {
	if err := config.InitConfig(); err != nil {
		return errors.Wrap(err, "failed to initialize config")
	}

	dbPath := viper.GetString("Database.Location")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	store, err := jobstore.NewStore(dbPath)
	if err != nil {
		return errors.Wrap(err, "failed to initialize job store")
	}
	defer store.Close()

	resolver := profiles.NewDirResolver(viper.GetString("Profiles.Directory"))
	tool := transfer.NewRcloneTool(
		viper.GetString("Transfer.RcloneBinary"),
		viper.GetDuration("Transfer.ToolTimeout"),
	)
	pipeline := transfer.NewPipeline(tool, store, viper.GetString("Transfer.WorkDirectory"))
	proc := processor.New(store, resolver, pipeline, viper.GetDuration("Processor.PollInterval"))

	server := web.NewServer(web.ServerConfig{
		Address: viper.GetString("Server.Address"),
		Port:    viper.GetInt("Server.Port"),
		ApiKey:  viper.GetString("Server.ApiKey"),
	}, store)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var group run.Group
	group.Add(func() error {
		return server.Run(ctx)
	}, func(error) {
		cancel()
	})
	group.Add(func() error {
		return proc.Run(ctx)
	}, func(error) {
		cancel()
	})
	group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = group.Run()
	if err != nil {
		var signalErr run.SignalError
		if errors.As(err, &signalErr) {
			log.Infof("Received signal %s, shut down", signalErr.Signal)
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}
