package api

import (
	"encoding/json"
	"net/http"

	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/money"
	"wallet-engine/pkg/wallet"
)

// depositRequest is the inbound body of POST /deposit. Value is a
// decimal amount; json.Number accepts both quoted and bare numbers.
type depositRequest struct {
	AccountID int64       `json:"account_id"`
	Value     json.Number `json:"value"`
}

type transferRequest struct {
	PayerID int64       `json:"payer_id"`
	PayeeID int64       `json:"payee_id"`
	Value   json.Number `json:"value"`
}

// operationResponse is what callers see. BalanceDecimal renders the
// minor-unit balance back as a decimal string.
type operationResponse struct {
	Message     string               `json:"message"`
	Transaction *wallet.LedgerRecord `json:"transaction,omitempty"`
	Wallet      *walletView          `json:"wallet,omitempty"`
}

type walletView struct {
	ID             int64  `json:"id"`
	AccountID      int64  `json:"account_id"`
	Balance        int64  `json:"balance"`
	BalanceDecimal string `json:"balance_decimal"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, operationResponse{Message: "Malformed request body."})
		return
	}

	amount, err := money.ToMinorUnits(req.Value.String())
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, operationResponse{Message: "Value must be a number with at most 2 decimal places."})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	writeResult(w, s.engine.Deposit(ctx, req.AccountID, amount))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, operationResponse{Message: "Malformed request body."})
		return
	}

	amount, err := money.ToMinorUnits(req.Value.String())
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, operationResponse{Message: "Value must be a number with at most 2 decimal places."})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	writeResult(w, s.engine.Transfer(ctx, req.PayerID, req.PayeeID, amount))
}

func writeResult(w http.ResponseWriter, res engine.Result) {
	resp := operationResponse{
		Message:     res.Message,
		Transaction: res.Transaction,
	}
	if res.Wallet != nil {
		resp.Wallet = &walletView{
			ID:             res.Wallet.ID,
			AccountID:      res.Wallet.AccountID,
			Balance:        res.Wallet.Balance,
			BalanceDecimal: money.ToDecimal(res.Wallet.Balance),
		}
	}
	writeJSON(w, res.Status, resp)
}
