package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/kidLedger/pkg/interest"
	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/mcclellann/kidLedger/pkg/report"
	"github.com/mcclellann/kidLedger/pkg/store"
	"github.com/shopspring/decimal"
)

// Server holds the services the handlers call.
type Server struct {
	ledger   *ledger.Ledger
	schedule *rates.Schedule
	engine   *interest.Engine
	reporter *report.Reporter
	logger   *slog.Logger
}

func NewServer(l *ledger.Ledger, schedule *rates.Schedule, engine *interest.Engine, reporter *report.Reporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:   l,
		schedule: schedule,
		engine:   engine,
		reporter: reporter,
		logger:   logger,
	}
}

// Router registers every route. metrics may be nil.
func (s *Server) Router(metrics http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/accounts", s.listAccountsHandler).Methods("GET")
	router.HandleFunc("/accounts", s.createAccountHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}", s.getAccountHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}", s.deleteAccountHandler).Methods("DELETE")
	router.HandleFunc("/accounts/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/reconcile", s.reconcileHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}/deposits", s.amountHandler(s.ledger.Deposit)).Methods("POST")
	router.HandleFunc("/accounts/{id}/withdrawals", s.amountHandler(s.ledger.Withdraw)).Methods("POST")
	router.HandleFunc("/accounts/{id}/loans", s.amountHandler(s.ledger.TakeLoan)).Methods("POST")
	router.HandleFunc("/accounts/{id}/repayments", s.amountHandler(s.ledger.RepayLoan)).Methods("POST")
	router.HandleFunc("/accounts/{id}/transfers", s.transferHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}/fixed-deposits", s.classifyLotsHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/fixed-deposits", s.amountHandler(s.ledger.PlaceFixedDeposit)).Methods("POST")
	router.HandleFunc("/accounts/{id}/fixed-deposits/withdrawals", s.planWithdrawalHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/fixed-deposits/withdrawals", s.amountHandler(s.ledger.WithdrawFixedDeposit)).Methods("POST")
	router.HandleFunc("/accounts/{id}/report", s.accountReportHandler).Methods("GET")

	router.HandleFunc("/schemes", s.listSchemesHandler).Methods("GET")
	router.HandleFunc("/schemes", s.createSchemeHandler).Methods("POST")
	router.HandleFunc("/schemes/{id}", s.updateSchemeHandler).Methods("PUT")
	router.HandleFunc("/schemes/{id}", s.deleteSchemeHandler).Methods("DELETE")
	router.HandleFunc("/schemes/{name}/history", s.schemeHistoryHandler).Methods("GET")

	router.HandleFunc("/interest/run", s.runDailyHandler).Methods("POST")
	router.HandleFunc("/interest/calculate", s.calculateNowHandler).Methods("POST")
	router.HandleFunc("/interest/post-month-end", s.postMonthEndHandler).Methods("POST")

	router.HandleFunc("/reports/summary", s.summaryHandler).Methods("GET")

	if metrics != nil {
		router.Handle("/metrics", metrics).Methods("GET")
	}
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case ledger.IsValidation(err), errors.Is(err, rates.ErrInvalidRate), errors.Is(err, rates.ErrUnknownScheme):
		return http.StatusBadRequest
	case ledger.IsInsufficientFunds(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrSchemeNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicateScheme), errors.Is(err, store.ErrDuplicateName):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// asOf reads an optional RFC 3339 "as_of" query parameter.
func (s *Server) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return s.ledger.Now(), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		http.Error(w, "as_of must be an RFC 3339 timestamp", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t.UTC(), true
}

func (s *Server) createAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	account, err := s.ledger.CreateAccount(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := s.ledger.GetAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) deleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteAccount(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	txs, err := s.ledger.Transactions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.Ordered(txs))
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	balances, err := s.ledger.Reconcile(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

type amountOp func(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*ledger.Receipt, error)

// amountHandler serves the single-account operations that take {"amount": ...}.
func (s *Server) amountHandler(op amountOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req struct {
			Amount decimal.Decimal `json:"amount"`
		}
		if !decode(w, r, &req) {
			return
		}
		receipt, err := op(r.Context(), id, req.Amount)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	}
}

func (s *Server) transferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ToAccountID uuid.UUID       `json:"to_account_id"`
		Amount      decimal.Decimal `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.ledger.Transfer(r.Context(), id, req.ToAccountID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) classifyLotsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	at, ok := s.asOf(w, r)
	if !ok {
		return
	}
	c, err := s.ledger.ClassifyLots(r.Context(), id, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// planWithdrawalHandler previews a fixed-deposit withdrawal of ?amount=.
func (s *Server) planWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		http.Error(w, "amount must be a decimal", http.StatusBadRequest)
		return
	}
	plan, err := s.ledger.PlanFixedDepositWithdrawal(r.Context(), id, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) accountReportHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rep, err := s.reporter.Account(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listSchemesHandler(w http.ResponseWriter, r *http.Request) {
	schemes, err := s.schedule.ListSchemes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemes)
}

type schemeRequest struct {
	Name              models.SchemeName `json:"name"`
	AnnualRatePercent decimal.Decimal   `json:"annual_rate_percent"`
}

func (s *Server) createSchemeHandler(w http.ResponseWriter, r *http.Request) {
	var req schemeRequest
	if !decode(w, r, &req) {
		return
	}
	sc, err := s.schedule.CreateScheme(r.Context(), req.Name, req.AnnualRatePercent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) updateSchemeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req schemeRequest
	if !decode(w, r, &req) {
		return
	}
	sc, err := s.schedule.UpdateScheme(r.Context(), id, req.AnnualRatePercent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) deleteSchemeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.schedule.DeleteScheme(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) schemeHistoryHandler(w http.ResponseWriter, r *http.Request) {
	versions, err := s.schedule.History(r.Context(), models.SchemeName(mux.Vars(r)["name"]))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) runDailyHandler(w http.ResponseWriter, r *http.Request) {
	at, ok := s.asOf(w, r)
	if !ok {
		return
	}
	result, err := s.engine.RunDaily(r.Context(), at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) calculateNowHandler(w http.ResponseWriter, r *http.Request) {
	at, ok := s.asOf(w, r)
	if !ok {
		return
	}
	result, err := s.engine.RunCalculateNow(r.Context(), at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) postMonthEndHandler(w http.ResponseWriter, r *http.Request) {
	at, ok := s.asOf(w, r)
	if !ok {
		return
	}
	result, err := s.engine.RunMonthEnd(r.Context(), at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reporter.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
