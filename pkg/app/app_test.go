package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/mcclellann/kidLedger/pkg/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "account_id", "a1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"account_id":"a1"`)
}

func TestNew_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "app.db")

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	acc, err := a.Ledger.CreateAccount(ctx, "kid")
	require.NoError(t, err)
	r, err := a.Ledger.Deposit(ctx, acc.ID, decimal.NewFromInt(25))
	require.NoError(t, err)
	assert.Equal(t, "25", r.Account.SavingsBalance.String())
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	_, err := OpenStorage(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
