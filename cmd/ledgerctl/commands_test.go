package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclellann/kidLedger/pkg/config"
)

func runCtl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useTempDB(t *testing.T) {
	t.Helper()
	t.Setenv("KIDLEDGER_DATABASE_DSN", filepath.Join(t.TempDir(), "ctl.db"))
	t.Setenv("KIDLEDGER_LOG_LEVEL", "error")
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kidledger.yaml")

	out, err := runCtl(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3.5, cfg.Interest.FDPrematureRate)

	_, err = runCtl(t, "init-config", path)
	assert.Error(t, err)
	_, err = runCtl(t, "init-config", path, "--force")
	assert.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRatesAndInterestCommands(t *testing.T) {
	useTempDB(t)

	out, err := runCtl(t, "accounts", "create", "kid")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, err = runCtl(t, "rates", "create", "deposit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "created deposit 5%")

	_, err = runCtl(t, "rates", "create", "deposit", "abc")
	assert.Error(t, err)

	out, err = runCtl(t, "rates", "set", "deposit", "7.3")
	require.NoError(t, err)
	assert.Contains(t, out, "set deposit to 7.3%")

	out, err = runCtl(t, "rates", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "deposit")
	assert.Contains(t, out, "7.3")

	out, err = runCtl(t, "rates", "history", "deposit")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	out, err = runCtl(t, "accrue", "--at", "2030-03-10T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "processed 1, skipped 0")

	out, err = runCtl(t, "accrue", "--at", "2030-03-10T08:00:00Z", "--account", id)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")

	out, err = runCtl(t, "post-month-end", "--at", "2030-03-31T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped 1")

	out, err = runCtl(t, "calculate-interest", "--as-of", "2030-03-31T00:00:00Z", "--account", id)
	require.NoError(t, err)
	assert.Contains(t, out, "posted 0")

	out, err = runCtl(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	_, err = runCtl(t, "reconcile", "not-an-id")
	assert.Error(t, err)

	_, err = runCtl(t, "accrue", "--at", "tomorrow")
	assert.Error(t, err)
}
