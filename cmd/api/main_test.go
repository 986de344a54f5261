package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/mcclellann/kidLedger/pkg/interest"
	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/mcclellann/kidLedger/pkg/report"
	"github.com/mcclellann/kidLedger/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *mux.Router {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	schedule := rates.NewSchedule(s)
	l := ledger.NewLedger(s, schedule)
	server := NewServer(l, schedule, interest.NewEngine(l, schedule), report.NewReporter(l, schedule), nil)
	return server.Router(nil)
}

func do(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func createAccount(t *testing.T, router *mux.Router, name string) models.Account {
	t.Helper()
	rr := do(t, router, "POST", "/accounts", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var acc models.Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &acc))
	return acc
}

func TestAPI_CreateAndGetAccount(t *testing.T) {
	router := setupTestServer(t)
	acc := createAccount(t, router, "mia")

	rr := do(t, router, "GET", "/accounts/"+acc.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched models.Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, acc.ID, fetched.ID)
	assert.Equal(t, "mia", fetched.Name)

	rr = do(t, router, "GET", "/accounts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "POST", "/accounts", map[string]string{"name": "mia"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_DepositWithdrawAndStatuses(t *testing.T) {
	router := setupTestServer(t)
	acc := createAccount(t, router, "leo")
	base := "/accounts/" + acc.ID.String()

	rr := do(t, router, "POST", base+"/deposits", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, "POST", base+"/withdrawals", map[string]string{"amount": "30"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var receipt ledger.Receipt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &receipt))
	assert.Equal(t, "70", receipt.Account.SavingsBalance.String())

	rr = do(t, router, "POST", base+"/withdrawals", map[string]string{"amount": "500"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, "POST", base+"/deposits", map[string]string{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "POST", base+"/repayments", map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, "POST", "/accounts/9f1b7c1e-4d55-4a8e-9c55-3f2b3a1d0e77/deposits", map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, "GET", base+"/transactions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var txs []models.Transaction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, models.KindDeposit, txs[0].Kind)

	rr = do(t, router, "POST", base+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var b models.Balances
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &b))
	assert.Equal(t, "70", b.Savings.String())
}

func TestAPI_TransferAndFixedDeposits(t *testing.T) {
	router := setupTestServer(t)
	a := createAccount(t, router, "a")
	b := createAccount(t, router, "b")
	base := "/accounts/" + a.ID.String()

	do(t, router, "POST", base+"/deposits", map[string]string{"amount": "1000"})

	rr := do(t, router, "POST", base+"/transfers", map[string]string{"to_account_id": b.ID.String(), "amount": "100"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, "POST", base+"/transfers", map[string]string{"to_account_id": a.ID.String(), "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "POST", base+"/fixed-deposits", map[string]string{"amount": "400"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, "GET", base+"/fixed-deposits", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var c ledger.LotClassification
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	assert.Equal(t, "400", c.PrematureAmount.String())
	require.Len(t, c.PrematureLots, 1)

	rr = do(t, router, "GET", base+"/fixed-deposits/withdrawals?amount=100", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, "POST", base+"/fixed-deposits/withdrawals", map[string]string{"amount": "1000"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, "POST", base+"/fixed-deposits/withdrawals", map[string]string{"amount": "150"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var receipt ledger.Receipt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &receipt))
	assert.Equal(t, "250", receipt.Account.FDBalance.String())
	assert.Equal(t, "650", receipt.Account.SavingsBalance.String())
}

func TestAPI_SchemesInterestAndReports(t *testing.T) {
	router := setupTestServer(t)
	acc := createAccount(t, router, "zoe")
	do(t, router, "POST", "/accounts/"+acc.ID.String()+"/deposits", map[string]string{"amount": "365"})

	rr := do(t, router, "POST", "/schemes", map[string]string{"name": "deposit", "annual_rate_percent": "10"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var sc models.RateScheme
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sc))

	rr = do(t, router, "POST", "/schemes", map[string]string{"name": "deposit", "annual_rate_percent": "3"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = do(t, router, "POST", "/schemes", map[string]string{"name": "pension", "annual_rate_percent": "3"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, router, "POST", "/schemes", map[string]string{"name": "loan", "annual_rate_percent": "-3"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "PUT", "/schemes/"+sc.ID.String(), map[string]string{"annual_rate_percent": "20"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = do(t, router, "GET", "/schemes/deposit/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var versions []models.RateVersion
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &versions))
	assert.Len(t, versions, 2)

	rr = do(t, router, "POST", "/interest/run?as_of=2030-01-10T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result interest.BatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, result.Failures)

	rr = do(t, router, "GET", "/accounts/"+acc.ID.String(), nil)
	var fetched models.Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, "0.2", fetched.AccruedSavingsInterest.String())

	rr = do(t, router, "POST", "/interest/run?as_of=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", "/reports/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sum report.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Accounts)

	rr = do(t, router, "GET", "/accounts/"+acc.ID.String()+"/report", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, "DELETE", "/schemes/"+sc.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, "DELETE", "/schemes/"+sc.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, "DELETE", "/accounts/"+acc.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, "GET", "/accounts/"+acc.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
