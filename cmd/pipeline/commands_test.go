package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/outreach-core/internal/ingestion"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OUTREACH_STORAGE_DRIVER", "memory")
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", t.TempDir()}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestImportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("first_name,last_name\nDana,Reyes\nLee,Park\n"), 0o600))

	out, err := run(t, "import", "people", path)
	require.NoError(t, err)

	var summary ingestion.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, "04.04.02.01.00001.001", summary.UniqueIDs[0])
}

func TestStatsCommandOnEmptyStore(t *testing.T) {
	out, err := run(t, "stats", "company")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestMigrateSkipsMemoryStore(t *testing.T) {
	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "no schema to migrate")
}

func TestCommandsRejectUnknownKind(t *testing.T) {
	_, err := run(t, "promote", "vendors")
	assert.Error(t, err)

	_, err = run(t, "validate", "company", "--status", "maybe")
	assert.Error(t, err)
}
