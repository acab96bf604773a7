package wallet

import (
	"errors"
	"net/http"
)

// Business-rule failures recognized by the engine. Every anticipated
// violation maps to one of these; anything else surfaces as an
// unexpected failure with a generic caller-visible message.
var (
	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("wallet: amount must be greater than 0")

	// ErrSameAccount is returned when a transfer names the same account
	// on both sides.
	ErrSameAccount = errors.New("wallet: payer and payee must differ")

	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("wallet: account not found")

	// ErrPayerNotFound is returned when the paying account of a transfer
	// does not exist.
	ErrPayerNotFound = errors.New("wallet: payer account not found")

	// ErrPayeeNotFound is returned when the receiving account of a
	// transfer does not exist.
	ErrPayeeNotFound = errors.New("wallet: payee account not found")

	// ErrForbidden is returned when a non-standard account attempts to
	// deposit or pay.
	ErrForbidden = errors.New("wallet: account type cannot perform this operation")

	// ErrWalletNotFound is returned when an account has no wallet.
	ErrWalletNotFound = errors.New("wallet: wallet not found")

	// ErrPayerWalletNotFound is returned when the paying account of a
	// transfer has no wallet.
	ErrPayerWalletNotFound = errors.New("wallet: payer wallet not found")

	// ErrPayeeWalletNotFound is returned when the receiving account of a
	// transfer has no wallet.
	ErrPayeeWalletNotFound = errors.New("wallet: payee wallet not found")

	// ErrInsufficientBalance is returned when the payer's balance cannot
	// cover the transfer amount.
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")

	// ErrAuthorizationDenied is returned when the external authorizer
	// denies a transfer.
	ErrAuthorizationDenied = errors.New("wallet: authorization denied by external service")

	// ErrAuthorizationUnavailable is returned when the external
	// authorizer cannot produce a usable answer.
	ErrAuthorizationUnavailable = errors.New("wallet: authorization service unavailable")
)

// IsNotFound reports whether err indicates a missing account or wallet.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPayerNotFound) ||
		errors.Is(err, ErrPayeeNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrPayerWalletNotFound) ||
		errors.Is(err, ErrPayeeWalletNotFound)
}

// IsBusinessFailure reports whether err is one of the anticipated
// business-rule violations (as opposed to an unexpected fault).
func IsBusinessFailure(err error) bool {
	return StatusCode(err) != http.StatusInternalServerError
}

// StatusCode maps a failure to the HTTP-style status class of the
// inbound operation contract. Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrAuthorizationUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Classify returns a short string label for err, used as a metrics
// label and in structured logs.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrSameAccount):
		return "same_account"
	case errors.Is(err, ErrPayerNotFound), errors.Is(err, ErrPayeeNotFound), errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrPayerWalletNotFound), errors.Is(err, ErrPayeeWalletNotFound), errors.Is(err, ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrAuthorizationDenied):
		return "authorization_denied"
	case errors.Is(err, ErrAuthorizationUnavailable):
		return "authorization_unavailable"
	default:
		return "unexpected"
	}
}
