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

// Package config centralizes viper-based configuration for packship.
// Every knob has a default; values may be overridden by a YAML config file
// in ~/.packship/ or the working directory, or by PACKSHIP_-prefixed
// environment variables (dots become underscores, e.g.
// PACKSHIP_SERVER_PORT).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// InitConfig establishes defaults, reads the optional config file and the
// environment, and applies the configured log level.
func InitConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("Failed to determine home directory, using working directory for defaults: %v", err)
		home = "."
	}
	configBase := filepath.Join(home, ".packship")

	viper.SetDefault("Server.Address", "0.0.0.0")
	viper.SetDefault("Server.Port", 8080)
	viper.SetDefault("Server.ApiKey", "")
	viper.SetDefault("Logging.Level", "info")
	viper.SetDefault("Database.Location", filepath.Join(configBase, "packship.db"))
	viper.SetDefault("Profiles.Directory", filepath.Join(configBase, "profiles.d"))
	viper.SetDefault("Processor.PollInterval", "10s")
	viper.SetDefault("Transfer.WorkDirectory", filepath.Join(os.TempDir(), "packship"))
	viper.SetDefault("Transfer.RcloneBinary", "rclone")
	viper.SetDefault("Transfer.ToolTimeout", "0s")

	viper.SetEnvPrefix("PACKSHIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configBase)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "failed to read config file")
		}
	}

	return setLogging()
}

func setLogging() error {
	levelStr := viper.GetString("Logging.Level")
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return errors.Wrapf(err, "invalid log level '%s'", levelStr)
	}
	log.SetLevel(level)
	return nil
}
