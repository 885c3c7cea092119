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
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/mcp/transport"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Run the MCP server on stdin/stdout",
	Long: heredoc.Doc(`
		Speaks newline-delimited JSON-RPC frames on stdin/stdout with an
		implicit session lasting from process start to EOF. Logs go to
		stderr (or ONEAGENT_LOG_FILE); stdout carries only frames.
	`),
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		return runStdio(cfg, logger)
	},
}

func runStdio(cfg *Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.janitor.Start(); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.janitor.Stop(sctx)
	}()

	t := transport.NewStdio(os.Stdin, os.Stdout)
	if err := a.engine.Serve(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
