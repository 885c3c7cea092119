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

package origin

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReloaderFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "origins.conf")
	require.NoError(t, os.WriteFile(path, []byte("http://localhost:*\n"), 0o644))

	var fired atomic.Int32
	r, err := NewReloader(path, 50*time.Millisecond, func(string) {
		fired.Add(1)
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer func() { _ = r.Close() }()

	require.NoError(t, os.WriteFile(path, []byte("http://localhost:*\nhttps://app.example.com\n"), 0o644))

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 5*time.Second, 20*time.Millisecond, "reload callback never fired")
}

func TestReloaderDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "origins.conf")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))

	var fired atomic.Int32
	r, err := NewReloader(path, 200*time.Millisecond, func(string) {
		fired.Add(1)
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer func() { _ = r.Close() }()

	// A burst of writes inside the debounce window collapses to one reload.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("b\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, fired.Load(), int32(2))
}

func TestReloaderIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "origins.conf")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))

	var fired atomic.Int32
	r, err := NewReloader(path, 50*time.Millisecond, func(string) {
		fired.Add(1)
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer func() { _ = r.Close() }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.conf"), []byte("x\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestReloaderValidatesInputs(t *testing.T) {
	_, err := NewReloader("", time.Second, func(string) {}, nil)
	assert.Error(t, err)

	_, err = NewReloader("/tmp/x", time.Second, nil, nil)
	assert.Error(t, err)
}
