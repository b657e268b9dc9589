package model

import "errors"

// Business-rule errors. These are expected outcomes reported back to the
// caller, never infrastructure faults.
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrUserNotFound       = errors.New("user not found")
	ErrMarketNotFound     = errors.New("market not found")
	ErrInvalidOption      = errors.New("option does not belong to market")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrMarketClosed       = errors.New("market is not open for betting")
	ErrConflictOfInterest = errors.New("market creator cannot bet on own market")
	ErrForbidden          = errors.New("caller is not allowed to perform this action")
	ErrAlreadySettled     = errors.New("market already settled")

	ErrInvalidQuestion    = errors.New("question must have at least 5 characters")
	ErrInvalidExpiry      = errors.New("expiry must be in the future")
	ErrInvalidOptions     = errors.New("invalid market options")
	ErrBetNotFound        = errors.New("bet not found")
	ErrMarketNotSettled   = errors.New("market is not settled")
	ErrInvalidStatus      = errors.New("invalid bet status")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRechargeNotAllowed = errors.New("recharge only allowed for low balances")
	ErrInvalidInput       = errors.New("invalid input")
)

// IsBusiness reports whether err is (or wraps) one of the business-rule
// errors above.
func IsBusiness(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var businessErrors = []error{
	ErrInvalidAmount, ErrUserNotFound, ErrMarketNotFound, ErrInvalidOption,
	ErrInsufficientFunds, ErrMarketClosed, ErrConflictOfInterest, ErrForbidden,
	ErrAlreadySettled, ErrInvalidQuestion, ErrInvalidExpiry, ErrInvalidOptions,
	ErrBetNotFound, ErrMarketNotSettled, ErrInvalidStatus, ErrEmailTaken,
	ErrRechargeNotAllowed, ErrInvalidInput,
}
