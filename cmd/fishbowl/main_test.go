package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fishbowl/internal/config"
	"github.com/example/fishbowl/internal/persistence/sqlite"
	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
	"github.com/example/fishbowl/internal/persistence/sqlite/migrations"
	"github.com/example/fishbowl/internal/testfixtures"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg, err := config.LoadFrom(map[string]string{
		"FISHBOWL_DB_PATH":         filepath.Join(t.TempDir(), "fishbowl.db"),
		"FISHBOWL_DB_JOURNAL_MODE": "MEMORY",
		"FISHBOWL_DB_SYNCHRONOUS":  "OFF",
	})
	require.NoError(t, err)
	return cfg
}

func TestNewAppMigratesAndServesOps(t *testing.T) {
	logs := &testfixtures.LogBuffer{}
	a, err := newApp(context.Background(), testConfig(t), migrations.Registry(), logs.Logger())
	require.NoError(t, err)
	t.Cleanup(a.close)

	server := httptest.NewServer(a.handler)
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/migrations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		CurrentVersion int  `json:"current_version"`
		UpToDate       bool `json:"up_to_date"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, migrations.Registry().LatestVersion(), body.CurrentVersion)
	assert.True(t, body.UpToDate)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "fishbowl_migration_schema_version 3")

	assert.Equal(t, 1, logs.Count("schema ready"))
}

func TestNewAppFailsOnBrokenMigration(t *testing.T) {
	registry := migration.NewRegistry(migration.Migration{
		Version: 1,
		Name:    "broken",
		Up: func(context.Context, sqlite.Executor) error {
			return errors.New("boom")
		},
		Down: func(context.Context, sqlite.Executor) error { return nil },
	})

	logs := &testfixtures.LogBuffer{}
	a, err := newApp(context.Background(), testConfig(t), registry, logs.Logger())
	require.Error(t, err)
	assert.Nil(t, a)

	var schemaErr *migration.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, schemaErr.Failed, 1)
	assert.Equal(t, 1, schemaErr.Failed[0].Version)
	assert.ErrorIs(t, err, migration.ErrMigrationFailed)
}

func TestNewAppRejectsInvalidDatabaseConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.JournalMode = "BOGUS"

	_, err := newApp(context.Background(), cfg, migrations.Registry(), (&testfixtures.LogBuffer{}).Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize database")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	logs := &testfixtures.LogBuffer{}
	a, err := newApp(context.Background(), testConfig(t), migrations.Registry(), logs.Logger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("server did not shut down")
	}

	a.close()
	assert.False(t, a.manager.Initialized())
	assert.Equal(t, 0, a.manager.OpenConnections())
	assert.Equal(t, 1, logs.Count("shutting down"))
}
