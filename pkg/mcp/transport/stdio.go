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

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// readResult is one line read off the underlying reader.
type readResult struct {
	data []byte
	err  error
}

// Stdio is the stdio transport: one JSON-RPC frame per newline-terminated
// line, read from a reader (os.Stdin) and written to a writer (os.Stdout).
//
// A single persistent reader goroutine feeds readCh for the transport's
// lifetime, so cancelled Receive calls do not leak goroutines. Nothing
// but frames may be written to the writer; logging goes to stderr.
type Stdio struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex // protects writer and closed
	closed bool

	readCh chan readResult
	once   sync.Once
}

var _ Transport = (*Stdio)(nil)

// NewStdio creates a stdio transport over r and w.
func NewStdio(r io.Reader, w io.Writer) *Stdio {
	return &Stdio{
		// 1MB line buffer, matching the HTTP body cap order of magnitude.
		reader: bufio.NewReaderSize(r, 1024*1024),
		writer: w,
		readCh: make(chan readResult, 1),
	}
}

// startReader launches the persistent reader goroutine. Safe to call more
// than once; only the first call starts it. The goroutine exits on the
// first read error, EOF included.
func (t *Stdio) startReader() {
	t.once.Do(func() {
		go func() {
			defer close(t.readCh)
			for {
				line, err := t.reader.ReadBytes('\n')
				t.readCh <- readResult{data: line, err: err}
				if err != nil {
					return
				}
			}
		}()
	})
}

// Send writes one frame followed by a newline.
func (t *Stdio) Send(_ context.Context, message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if _, err := t.writer.Write(message); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if _, err := t.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Receive blocks for the next frame. Blank lines are skipped; trailing
// CR is stripped so CRLF clients work. Returns io.EOF when the peer
// closes its end.
func (t *Stdio) Receive(ctx context.Context) ([]byte, error) {
	t.startReader()

	for {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("transport closed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result, ok := <-t.readCh:
			if !ok {
				// Reader goroutine already delivered its terminal error.
				return nil, io.EOF
			}
			if result.err != nil {
				if result.err == io.EOF {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("read frame: %w", result.err)
			}
			line := result.data
			if n := len(line); n > 0 && line[n-1] == '\n' {
				line = line[:n-1]
			}
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			if len(line) == 0 {
				continue
			}
			return line, nil
		}
	}
}

// Close marks the transport closed. The underlying reader and writer are
// left open; they are usually os.Stdin and os.Stdout.
func (t *Stdio) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
