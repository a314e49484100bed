package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"SynthVault/internal/engine"
	"SynthVault/internal/ledger"
	"SynthVault/internal/oracle"
	"SynthVault/internal/query"
	"SynthVault/internal/registry"
	"SynthVault/internal/solvency"

	"github.com/google/uuid"
)

// ============================================================================
// Request / response bodies
// ============================================================================

type depositRequest struct {
	UserID  string `json:"user_id"`
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type mintRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type depositAndMintRequest struct {
	UserID      string `json:"user_id"`
	AssetID     string `json:"asset_id"`
	Amount      string `json:"amount"`
	SynthAmount string `json:"synth_amount"`
}

type liquidateRequest struct {
	CallerID    string `json:"caller_id"`
	UserID      string `json:"user_id"`
	AssetID     string `json:"asset_id"`
	DebtToCover string `json:"debt_to_cover"`
}

type operationResponse struct {
	Status   string `json:"status"`
	Sequence int64  `json:"sequence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseUUID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return id, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: expected a base-10 integer", field)
	}
	return n, nil
}

// statusFor maps engine errors onto HTTP status codes. All engine rejections
// are final; none of these are retryable with the same arguments.
func statusFor(err error) int {
	var (
		notAllowed   *engine.CollateralNotAllowedError
		breaksHealth *solvency.BreaksHealthFactorError
		notUnder     *engine.HealthFactorNotUnderThresholdError
		insufficient *ledger.InsufficientBalanceError
		transferErr  *engine.TransferFailedError
		mintErr      *engine.MintFailedError
		burnErr      *engine.BurnFailedError
	)
	switch {
	case errors.Is(err, engine.ErrAmountZero),
		errors.As(err, &notAllowed),
		errors.Is(err, registry.ErrUnknownAsset):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &breaksHealth),
		errors.As(err, &notUnder),
		errors.Is(err, engine.ErrHealthFactorNotImproved),
		errors.As(err, &insufficient),
		errors.As(err, &transferErr),
		errors.As(err, &mintErr),
		errors.As(err, &burnErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeCommitted(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, operationResponse{
		Status:   "committed",
		Sequence: s.eng.Sequence() - 1,
	})
}

// ============================================================================
// Vault operation handlers
// ============================================================================

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.DepositCollateral(user, req.AssetID, amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeCommitted(w)
}

func (s *HTTPServer) handleMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.MintSynth(user, amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeCommitted(w)
}

func (s *HTTPServer) handleDepositAndMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositAndMintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	synthAmount, err := parseAmount("synth_amount", req.SynthAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.DepositAndMint(user, req.AssetID, amount, synthAmount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeCommitted(w)
}

func (s *HTTPServer) handleBurn(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.BurnSynth(user, amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeCommitted(w)
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.RedeemCollateral(user, req.AssetID, amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeCommitted(w)
}

func (s *HTTPServer) handleRedeemForBurn(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositAndMintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	synthAmount, err := parseAmount("synth_amount", req.SynthAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.RedeemForBurn(user, req.AssetID, amount, synthAmount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeCommitted(w)
}

func (s *HTTPServer) handleLiquidate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseUUID("caller_id", req.CallerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	debtToCover, err := parseAmount("debt_to_cover", req.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.Liquidate(caller, user, req.AssetID, debtToCover); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeCommitted(w)
}

func (s *HTTPServer) handleDevFund(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	holder, err := parseUUID("user_id", req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.faucet(holder, req.AssetID, amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Status: "funded"})
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *HTTPServer) handleGetAccount(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	user, err := parseUUID("user_id", pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.queries.GetAccount(r.Context(), user)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetAssets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	infos, err := s.queries.GetAssets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *HTTPServer) handleConvertToValue(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	assetID := r.URL.Query().Get("asset_id")
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.queries.ConvertToValue(r.Context(), assetID, amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleConvertToNative(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	assetID := r.URL.Query().Get("asset_id")
	value, err := parseAmount("value", r.URL.Query().Get("value"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.queries.ConvertToNative(r.Context(), assetID, value)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit: expected a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

func (s *HTTPServer) handleOperationHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	user, err := parseUUID("user_id", pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var beforeSequence *int64
	if raw := r.URL.Query().Get("before_sequence"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid before_sequence: %w", err))
			return
		}
		beforeSequence = &seq
	}

	entries, err := s.queries.GetOperationHistory(r.Context(), user, limit, beforeSequence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []query.OperationEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleLiquidationHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	user, err := parseUUID("user_id", pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := s.queries.GetLiquidationHistory(r.Context(), user, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []query.LiquidationEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
