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

package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/mcp/transport"
	"github.com/oneagent-io/oneagent/pkg/session"
)

// Serve runs a frame loop on a line-oriented transport (stdio). It
// creates the transport's implicit session before the first frame and
// terminates it when the loop exits, so stdio clients get the same
// session and event-log semantics as HTTP clients without carrying a
// header. The protocol version is negotiated by the client's initialize.
func (e *Engine) Serve(ctx context.Context, t transport.Transport) error {
	e.logger.Info("MCP server starting",
		zap.String("name", e.info.Name),
		zap.String("version", e.info.Version),
		zap.String("transport", "stdio"))

	sess, err := e.sessions.Create(ctx, "stdio", "", "", nil, map[string]string{
		"transport": "stdio",
	})
	if err != nil {
		return fmt.Errorf("create implicit session: %w", err)
	}
	defer func() {
		// Terminate with a fresh context: the loop usually exits
		// because ctx was cancelled.
		tctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
		defer cancel()
		if terr := e.sessions.Terminate(tctx, sess.ID); terr != nil {
			if !fault.IsKind(terr, fault.KindSessionNotFound) {
				e.logger.Warn("implicit session terminate failed", zap.Error(terr))
			}
		}
	}()

	// A persistent receive goroutine lets the loop select on both
	// inbound frames and context cancellation.
	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := t.Receive(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("MCP server stopping (context cancelled)")
			return ctx.Err()

		case err := <-errCh:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				e.logger.Info("MCP client disconnected (EOF)")
				return nil
			}
			return fmt.Errorf("receive error: %w", err)

		case msg := <-msgCh:
			call := &Call{
				Session: e.refreshSession(ctx, sess),
				Sink: func(_ string, frame []byte) error {
					return t.Send(ctx, frame)
				},
			}
			reply, err := e.Handle(ctx, call, msg)
			if err != nil {
				e.logger.Error("handle error", zap.Error(err))
				continue
			}
			if reply == nil {
				continue
			}
			if err := t.Send(ctx, reply.Frame); err != nil {
				return fmt.Errorf("send error: %w", err)
			}
		}
	}
}

// refreshSession re-reads the implicit session so handlers observe the
// negotiated protocol version after initialize. A session expired by
// the janitor mid-run falls back to the stale snapshot; the next
// request then fails with session_expired.
func (e *Engine) refreshSession(ctx context.Context, sess *session.Session) *session.Session {
	fresh, err := e.sessions.Resolve(ctx, sess.ID)
	if err != nil {
		return sess
	}
	if _, err := e.sessions.Touch(ctx, sess.ID); err != nil {
		e.logger.Debug("session touch failed", zap.Error(err))
	}
	return fresh
}
