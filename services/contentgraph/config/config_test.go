// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contentgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "live", cfg.Workspaces.Root)
	assert.Equal(t, 5*time.Second, cfg.Projection.CatchupTimeout)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().HTTP.Address, cfg.HTTP.Address)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
http:
  address: "0.0.0.0:8080"
  rate_limit: 0
storage:
  backend: badger
  compression: true
  badger:
    path: /var/lib/contentgraph/events
    gc_interval: 10m
workspaces:
  backend: sqlite
  path: /var/lib/contentgraph/workspaces.db
dimensions:
  file: dimensions.yaml
  watch: true
node_types:
  file: nodetypes.yaml
projection:
  catchup_timeout: 2s
logging:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Address)
	assert.Zero(t, cfg.HTTP.RateLimit)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.True(t, cfg.Storage.Compression)
	assert.Equal(t, "/var/lib/contentgraph/events", cfg.Storage.Badger.Path)
	assert.Equal(t, 10*time.Minute, cfg.Storage.Badger.GCInterval)
	// untouched keys keep their defaults
	assert.True(t, cfg.Storage.Badger.SyncWrites)
	assert.Equal(t, "sqlite", cfg.Workspaces.Backend)
	assert.Equal(t, "live", cfg.Workspaces.Root)
	assert.True(t, cfg.Dimensions.Watch)
	assert.Equal(t, "nodetypes.yaml", cfg.NodeTypes.File)
	assert.Equal(t, 2*time.Second, cfg.Projection.CatchupTimeout)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "http:\n  address: \"127.0.0.1:9000\"\n")
	t.Setenv("CONTENTGRAPH_HTTP_ADDRESS", "127.0.0.1:9100")
	t.Setenv("CONTENTGRAPH_CATCHUP_TIMEOUT", "750ms")
	t.Setenv("CONTENTGRAPH_DIMENSIONS_WATCH", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTP.Address)
	assert.Equal(t, 750*time.Millisecond, cfg.Projection.CatchupTimeout)
	assert.True(t, cfg.Dimensions.Watch)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{name: "unknown key", body: "http:\n  adress: \":80\"\n"},
		{name: "malformed yaml", body: "http: [\n"},
		{name: "unknown storage backend", body: "storage:\n  backend: postgres\n", invalid: true},
		{name: "badger without path", body: "storage:\n  backend: badger\n", invalid: true},
		{name: "sqlite without path", body: "workspaces:\n  backend: sqlite\n", invalid: true},
		{name: "bad address", body: "http:\n  address: nowhere\n", invalid: true},
		{name: "negative timeout", body: "projection:\n  catchup_timeout: -1s\n", invalid: true},
		{name: "unknown exporter", body: "telemetry:\n  trace_exporter: zipkin\n", invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NotErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestLoad_InMemoryBadgerNeedsNoPath(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: badger\n  badger:\n    in_memory: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.Badger.InMemory)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
