package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqldir"
	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/store"
	"github.com/hupe1980/sqldir/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := runStreams(t, args...)
	return stdout, err
}

func runStreams(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).RunContext(t.Context(), append([]string{"sqldirctl"}, args...))
	return stdout.String(), stderr.String(), err
}

// seed commits two generations of files into the database at dsn.
func seed(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	st, err := sqldir.Open(t.Context(), db, sqldir.WithSettings(config.New().Set("retention.type", "keepall")))
	require.NoError(t, err)
	dir := st.Directory()

	testutil.WriteFile(t, dir, "_0.cfs", []byte("first segment"))
	_, err = st.Commit(t.Context(), []string{"_0.cfs"}, []merge.SegmentInfo{{Name: "_0", SizeBytes: 13, DocCount: 1}})
	require.NoError(t, err)

	testutil.WriteFile(t, dir, "_1.cfs", []byte("second"))
	_, err = st.Commit(t.Context(), []string{"_0.cfs", "_1.cfs"}, []merge.SegmentInfo{
		{Name: "_0", SizeBytes: 13, DocCount: 1},
		{Name: "_1", SizeBytes: 6, DocCount: 1},
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestInit(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")

	out, err := run(t, "--dsn", dsn, "--set", "retention.type=keepall", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized: 0 commit(s), retention keepall, merge logbytesize(")
	assert.Contains(t, out, "max=256MB")

	out, err = run(t, "--dsn", dsn, "ls")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadOnlyCommandsNeedTable(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")
	_, err := run(t, "--dsn", dsn, "ls")
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestLsCatCommits(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")
	seed(t, dsn)

	out, err := run(t, "--dsn", dsn, "ls")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Rows are ordered by name; segments.gen sorts before segments_N.
	require.Len(t, lines, 5)
	for i, name := range []string{"_0.cfs", "_1.cfs", "segments.gen", "segments_1", "segments_2"} {
		assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[i]), name), lines[i])
	}

	out, err = run(t, "--dsn", dsn, "cat", "_0.cfs")
	require.NoError(t, err)
	assert.Equal(t, "first segment", out)

	out, err = run(t, "--dsn", dsn, "--set", "retention.type=keepall", "commits")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "segments_1")
	assert.Contains(t, lines[2], "_0,_1")
}

func TestCatUsage(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")
	seed(t, dsn)

	_, err := run(t, "--dsn", dsn, "cat")
	require.Error(t, err)

	_, err = run(t, "--dsn", dsn, "cat", "_9.cfs")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRmAndPurge(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")
	seed(t, dsn)

	out, err := run(t, "--dsn", dsn, "--set", "retention.type=keepall", "rm", "_1.cfs", "_7.cfs")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, "removed _1.cfs\n", out)

	out, err = run(t, "--dsn", dsn, "--set", "retention.type=keepall", "purge")
	require.NoError(t, err)
	assert.Equal(t, "purged 0 file(s)\n", out)

	out, err = run(t, "--dsn", dsn, "ls")
	require.NoError(t, err)
	assert.NotContains(t, out, "_1.cfs")
}

func TestGlobalFlagErrors(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")

	_, err := run(t, "--driver", "oracle", "--dsn", dsn, "ls")
	assert.ErrorContains(t, err, "unsupported driver")

	_, err = run(t, "--dsn", dsn, "--set", "novalue", "init")
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = run(t, "--dsn", dsn, "--log", "loud", "init")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestConfigFile(t *testing.T) {
	tmp := t.TempDir()
	dsn := filepath.Join(tmp, "index.db")
	cfg := filepath.Join(tmp, "sqldir.yaml")
	require.NoError(t, writeString(cfg, "store:\n  table: custom_files\nretention:\n  type: keeplastn\n  numToKeep: 2\n"))

	out, err := run(t, "--dsn", dsn, "--config", cfg, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "retention keeplastn(2)")

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	var name string
	require.NoError(t, db.QueryRowContext(t.Context(),
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'custom_files'").Scan(&name))
}

func TestExport(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")
	seed(t, dsn)

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	st, err := sqldir.Open(t.Context(), db, sqldir.ReadOnly(),
		sqldir.WithSettings(config.New().Set("retention.type", "keepall")))
	require.NoError(t, err)
	defer st.Close()

	dst := store.NewMemoryDirectory()
	n, err := export(t.Context(), st, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names, err := dst.ListAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"_0.cfs", "_1.cfs", "segments_2"}, names)
	assert.Equal(t, []byte("second"), testutil.ReadFile(t, dst, "_1.cfs"))
}

func TestExportUsage(t *testing.T) {
	out, err := run(t, "--dsn", "unused", "help", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "newest commit")
	assert.NotContains(t, out, "every file")
}

func TestJSONLogs(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")
	_, stderr, err := runStreams(t, "--dsn", dsn, "--log", "info", "--json", "init")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	require.NotEmpty(t, lines)
	var opened bool
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		if rec["msg"] == "store opened" {
			opened = true
		}
	}
	assert.True(t, opened, stderr)
}

func TestMetricsFile(t *testing.T) {
	tmp := t.TempDir()
	dsn := filepath.Join(tmp, "index.db")
	seed(t, dsn)
	metricsFile := filepath.Join(tmp, "sqldir.prom")

	out, err := run(t, "--dsn", dsn, "--metrics-file", metricsFile, "cat", "_0.cfs")
	require.NoError(t, err)
	assert.Equal(t, "first segment", out)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sqldir_refills_total{kind="cfs",status="success"}`)

	// Without the flag nothing is written.
	require.NoError(t, os.Remove(metricsFile))
	_, err = run(t, "--dsn", dsn, "cat", "_0.cfs")
	require.NoError(t, err)
	assert.NoFileExists(t, metricsFile)
}
