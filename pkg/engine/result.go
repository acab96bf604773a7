package engine

import (
	"errors"
	"net/http"

	"wallet-engine/pkg/wallet"
)

// Result is the structured answer of one engine operation. Status
// mirrors the HTTP status class of the inbound contract; Transaction
// and Wallet are set on success only.
type Result struct {
	Status      int                  `json:"status"`
	Message     string               `json:"message"`
	Transaction *wallet.LedgerRecord `json:"transaction,omitempty"`
	Wallet      *wallet.Wallet       `json:"wallet,omitempty"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Status == http.StatusOK
}

func success(message string, rec *wallet.LedgerRecord, w *wallet.Wallet) Result {
	return Result{
		Status:      http.StatusOK,
		Message:     message,
		Transaction: rec,
		Wallet:      w,
	}
}

func failure(err error) Result {
	return Result{
		Status:  wallet.StatusCode(err),
		Message: messageFor(err),
	}
}

// messageFor maps anticipated failures to their caller-visible message.
// Anything unanticipated gets a generic message so lower-layer wording
// never leaks to the caller.
func messageFor(err error) string {
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount):
		return "Amount must be greater than 0."
	case errors.Is(err, wallet.ErrSameAccount):
		return "Payer and payee must be different accounts."
	case errors.Is(err, wallet.ErrPayerNotFound):
		return "Payer account not found."
	case errors.Is(err, wallet.ErrPayeeNotFound):
		return "Payee account not found."
	case errors.Is(err, wallet.ErrAccountNotFound):
		return "Account not found."
	case errors.Is(err, wallet.ErrForbidden):
		return "Account type is not allowed to perform this operation."
	case errors.Is(err, wallet.ErrPayerWalletNotFound):
		return "Payer wallet not found."
	case errors.Is(err, wallet.ErrPayeeWalletNotFound):
		return "Payee wallet not found."
	case errors.Is(err, wallet.ErrWalletNotFound):
		return "Wallet not found."
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return "Insufficient balance."
	case errors.Is(err, wallet.ErrAuthorizationDenied):
		return "Transfer denied by authorization service."
	case errors.Is(err, wallet.ErrAuthorizationUnavailable):
		return "Authorization service unavailable."
	default:
		return "Unexpected error."
	}
}
