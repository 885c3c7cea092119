// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/internal/log"
	"github.com/oneagent-io/oneagent/internal/version"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "oneagent",
	Short: "OneAgent - MCP server with agent-to-agent coordination",
	Long: heredoc.Doc(`
		OneAgent runs a Model Context Protocol (2025-06-18) server over
		streamable HTTP+SSE or stdio, with resumable per-session event
		logs, a tool registry, an agent communication service, and
		Prometheus monitoring endpoints.

		All options are environment variables prefixed ONEAGENT_
		(e.g. ONEAGENT_MCP_PORT). A .env file in the working directory
		is loaded before parsing when present.
	`),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (default stderr)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load before parsing")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stdioCmd)
	rootCmd.AddCommand(versionCmd)

	cobra.OnInitialize(loadEnvFile)
}

// loadEnvFile loads the .env file if present. Missing files are fine;
// the environment wins over file values either way.
func loadEnvFile() {
	if envFile == "" {
		return
	}
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	_ = godotenv.Load(envFile)
}

// setup resolves configuration and builds the process logger.
func setup() (*Config, *zap.Logger, error) {
	cfg, err := LoadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := log.Build(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "oneagent %s\n", version.Get())
	},
}
