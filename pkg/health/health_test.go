package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
)

func TestHTTPCheckerAcceptsSuccessAndClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		healthy bool
	}{
		{"ok", http.StatusOK, true},
		{"not found still proves the API is up", http.StatusNotFound, true},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			checker := NewHTTPChecker(srv.URL)
			result := checker.Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
		})
	}
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	checker := NewHTTPChecker(srv.URL)
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestBinaryChecker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("execute bits are not meaningful on windows")
	}

	dir := t.TempDir()

	executable := filepath.Join(dir, "miner")
	require.NoError(t, os.WriteFile(executable, []byte("#!/bin/sh\n"), 0o755))

	plain := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))

	tests := []struct {
		name    string
		path    string
		healthy bool
	}{
		{"executable", executable, true},
		{"not executable", plain, false},
		{"missing", filepath.Join(dir, "absent"), false},
		{"directory", dir, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewBinaryChecker(tt.path).Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
		})
	}
}

func TestStoreCheckerUnseededBucketIsHealthy(t *testing.T) {
	store := objectstore.NewMemoryStore()
	result := NewStoreChecker(store).Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Contains(t, result.Message, "not seeded")
}

func TestStoreCheckerSeededBucket(t *testing.T) {
	store := objectstore.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), objectstore.KeyRegistry, []byte(`{}`), nil))

	result := NewStoreChecker(store).Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Contains(t, result.Message, objectstore.KeyRegistry)
}

func TestStatusFlipsAfterRetries(t *testing.T) {
	config := DefaultConfig()
	config.Retries = 3

	status := NewStatus()
	failure := Result{Healthy: false, Message: "down", CheckedAt: time.Now()}

	status.Update(failure, config)
	status.Update(failure, config)
	assert.True(t, status.Healthy, "two failures should not flip with retries=3")

	status.Update(failure, config)
	assert.False(t, status.Healthy)
	assert.Equal(t, 3, status.ConsecutiveFailures)

	status.Update(Result{Healthy: true, CheckedAt: time.Now()}, config)
	assert.True(t, status.Healthy, "one success recovers immediately")
	assert.Equal(t, 0, status.ConsecutiveFailures)
}
