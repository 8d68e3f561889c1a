package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"autocompounder/crypto"
	"autocompounder/native/vault"
)

const maxBodyBytes = 1 << 16

type depositRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type depositResponse struct {
	Address      string `json:"address"`
	AmountStable string `json:"amountStable"`
	AmountLP     string `json:"amountLP"`
}

type withdrawRequest struct {
	Address string `json:"address"`
}

type withdrawResponse struct {
	Address        string `json:"address"`
	StableReturned string `json:"stableReturned"`
}

type compoundResponse struct {
	Noop        bool   `json:"noop"`
	Reason      string `json:"reason,omitempty"`
	CycleID     string `json:"cycleId,omitempty"`
	Cycle       uint64 `json:"cycle,omitempty"`
	Reward      string `json:"reward"`
	AddedStable string `json:"addedStable"`
	AddedLP     string `json:"addedLP"`
	Depositors  int    `json:"depositors"`
}

type positionResponse struct {
	Address          string `json:"address"`
	PrincipalStable  string `json:"principalStable"`
	CompoundedStable string `json:"compoundedStable"`
	PrincipalLP      string `json:"principalLP"`
	CompoundedLP     string `json:"compoundedLP"`
}

type carryResponse struct {
	Reward   string `json:"reward"`
	Stable   string `json:"stable"`
	LP       string `json:"lp"`
	LPStable string `json:"lpStable"`
}

type vaultResponse struct {
	StableAsset           string        `json:"stableAsset"`
	RewardAsset           string        `json:"rewardAsset"`
	Custody               string        `json:"custody"`
	TotalStakedLP         string        `json:"totalStakedLP"`
	TotalPrincipalStable  string        `json:"totalPrincipalStable"`
	TotalCompoundedStable string        `json:"totalCompoundedStable"`
	TotalCompoundedLP     string        `json:"totalCompoundedLP"`
	Cycles                uint64        `json:"cycles"`
	Carry                 carryResponse `json:"carry"`
	Redeemable            string        `json:"redeemable,omitempty"`
	Solvent               *bool         `json:"solvent,omitempty"`
	Keeper                interface{}   `json:"keeper,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	stable, lp, err := s.vault.Deposit(r.Context(), user, amount)
	if err != nil {
		s.writeVaultError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		Address:      user.String(),
		AmountStable: stable.String(),
		AmountLP:     lp.String(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	returned, err := s.vault.Withdraw(r.Context(), user)
	if err != nil {
		s.writeVaultError(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Address: user.String(), StableReturned: returned.String()})
}

func (s *Server) handleCompound(w http.ResponseWriter, r *http.Request) {
	result, err := s.vault.CompoundCycle(r.Context())
	if vault.IsNoop(err) {
		writeJSON(w, http.StatusOK, compoundResponse{Noop: true, Reason: err.Error(), Reward: "0", AddedStable: "0", AddedLP: "0"})
		return
	}
	if err != nil {
		s.writeVaultError(w, "compound", err)
		return
	}
	writeJSON(w, http.StatusOK, compoundResponse{
		CycleID:     result.CycleID,
		Cycle:       result.Cycle,
		Reward:      amountString(result.Reward),
		AddedStable: amountString(result.AddedStable),
		AddedLP:     amountString(result.AddedLP),
		Depositors:  len(result.Allocations),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	info := s.vault.Info(user)
	writeJSON(w, http.StatusOK, positionResponse{
		Address:          user.String(),
		PrincipalStable:  amountString(info.PrincipalStable),
		CompoundedStable: amountString(info.CompoundedStable),
		PrincipalLP:      amountString(info.PrincipalLP),
		CompoundedLP:     amountString(info.CompoundedLP),
	})
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	cfg := s.vault.Config()
	agg := s.vault.Aggregate()
	resp := vaultResponse{
		StableAsset:           cfg.StableAsset,
		RewardAsset:           cfg.RewardAsset,
		Custody:               cfg.Custody.String(),
		TotalStakedLP:         amountString(agg.TotalStakedLP),
		TotalPrincipalStable:  amountString(agg.TotalPrincipalStable),
		TotalCompoundedStable: amountString(agg.TotalCompoundedStable),
		TotalCompoundedLP:     amountString(agg.TotalCompoundedLP),
		Cycles:                agg.Cycles,
		Carry: carryResponse{
			Reward:   amountString(agg.Carry.Reward),
			Stable:   amountString(agg.Carry.Stable),
			LP:       amountString(agg.Carry.LP),
			LPStable: amountString(agg.Carry.LPStable),
		},
	}
	if valuation, err := s.vault.Valuation(r.Context()); err == nil {
		resp.Redeemable = amountString(valuation.Redeemable)
		solvent := valuation.Solvent
		resp.Solvent = &solvent
	} else {
		s.logger.Debug("vaultd: valuation unavailable", "error", err)
	}
	if s.cfg.Keeper != nil {
		if status, ok := s.cfg.Keeper.Last(); ok {
			resp.Keeper = status
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "event journal not configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.cfg.Journal.Events(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.logger.Error("vaultd: list events", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "event journal not configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	cycles, err := s.cfg.Journal.Cycles(r.Context(), limit)
	if err != nil {
		s.logger.Error("vaultd: list cycles", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
}

func (s *Server) handleExportCycles(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "event journal not configured")
		return
	}
	// Buffered so a failed export can still answer with a JSON error.
	var buf bytes.Buffer
	rows, err := s.cfg.Journal.ExportCycles(r.Context(), &buf)
	if err != nil {
		s.logger.Error("vaultd: export cycles", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to export cycles")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="compound_cycles.parquet"`)
	w.Header().Set("X-Row-Count", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleVerifyJournal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "event journal not configured")
		return
	}
	result, err := s.cfg.Journal.Verify(r.Context())
	if err != nil {
		s.logger.Error("vaultd: verify journal", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to verify journal")
		return
	}
	status := http.StatusOK
	if !result.Intact {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	limit := s.cfg.FaucetAmount
	if limit == nil || limit.Sign() <= 0 {
		writeJSONError(w, http.StatusForbidden, "faucet disabled")
		return
	}
	amount := limit
	if strings.TrimSpace(req.Amount) != "" {
		requested, ok := parseAmount(w, req.Amount)
		if !ok {
			return
		}
		if requested.Sign() <= 0 {
			writeJSONError(w, http.StatusBadRequest, "amount must be positive")
			return
		}
		if requested.Cmp(limit) > 0 {
			writeJSONError(w, http.StatusBadRequest, "amount exceeds faucet limit of "+limit.String())
			return
		}
		amount = requested
	}
	s.cfg.Faucet.Fund(user, amount)
	writeJSON(w, http.StatusOK, map[string]string{"address": user.String(), "amount": amount.String()})
}

// writeVaultError maps vault error kinds onto HTTP statuses.
func (s *Server) writeVaultError(w http.ResponseWriter, operation string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrNoDeposit):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrTransferFailed):
		status = http.StatusPaymentRequired
	case errors.Is(err, vault.ErrSlippageExceeded), errors.Is(err, vault.ErrInsufficientLiquidity):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("vaultd: "+operation+" failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": vault.Outcome(err)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, raw string) (crypto.Address, bool) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "amount must be a base-unit integer")
		return nil, false
	}
	return amount, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > 1000 {
		writeJSONError(w, http.StatusBadRequest, "limit must be between 0 and 1000")
		return 0, false
	}
	return limit, true
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
