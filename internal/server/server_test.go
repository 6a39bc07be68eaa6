// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishisan-dev/n-upload/internal/config"
)

func testServerConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	root := t.TempDir()
	return &config.ServerConfig{
		Server: config.ServerListen{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Staging: config.StagingConfig{
			Root:            root,
			MaxChunkSizeRaw: 1 << 20,
			MaxBatchFiles:   4,
		},
		Sessions: config.SessionsConfig{DBPath: filepath.Join(t.TempDir(), "sessions.db")},
		Admin: config.AdminConfig{
			EventsFile:     filepath.Join(t.TempDir(), "events.jsonl"),
			EventsRing:     50,
			EventsMaxLines: 1000,
			ParsedCIDRs:    []*net.IPNet{mustCIDR(t, "127.0.0.1/32")},
		},
	}
}

// startServer sobe o servidor em uma porta livre e devolve a URL base e a função de parada.
func startServer(t *testing.T, cfg *config.ServerConfig) (string, func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunWithListener(ctx, ln, cfg, discardLogger) }()

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return fmt.Errorf("server did not stop")
		}
	}
	return "http://" + ln.Addr().String(), stop
}

func waitHealthy(t *testing.T, base string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRunWithListener_UploadAndMerge(t *testing.T) {
	cfg := testServerConfig(t)
	base, stop := startServer(t, cfg)
	waitHealthy(t, base)

	for i, data := range []string{"one-", "two-", "three"} {
		req, err := http.NewRequest(http.MethodPut,
			fmt.Sprintf("%s/api/v1/uploads/e2e/chunks/%d", base, i), bytes.NewReader([]byte(data)))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Post(base+"/api/v1/uploads/e2e/merge", "application/json",
		bytes.NewReader([]byte(`{"expected_chunks":3}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, stop())

	data, err := os.ReadFile(filepath.Join(cfg.Staging.Root, "merged_e2e"))
	require.NoError(t, err)
	assert.Equal(t, "one-two-three", string(data))

	_, err = os.Stat(filepath.Join(cfg.Staging.Root, "e2e"))
	assert.True(t, os.IsNotExist(err), "namespace should be removed after merge")

	// eventos persistidos sobrevivem ao shutdown
	events, err := os.ReadFile(cfg.Admin.EventsFile)
	require.NoError(t, err)
	assert.Contains(t, string(events), `"merged"`)
}

func TestRunWithListener_GracefulShutdown(t *testing.T) {
	cfg := testServerConfig(t)
	base, stop := startServer(t, cfg)
	waitHealthy(t, base)

	require.NoError(t, stop())

	_, err := http.Get(base + "/api/v1/health")
	assert.Error(t, err, "listener should be closed after shutdown")
}

func TestRunWithListener_InvalidRegistryPath(t *testing.T) {
	cfg := testServerConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	cfg.Sessions.DBPath = filepath.Join(blocker, "sessions.db")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	err = RunWithListener(context.Background(), ln, cfg, discardLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening session registry")
}
