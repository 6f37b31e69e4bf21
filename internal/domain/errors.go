package domain

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them
type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindConflict     Kind = "conflict"
	KindStorage      Kind = "storage_unavailable"
	KindInvariant    Kind = "invariant_violation"
)

// Error is a typed economic error. Two errors are the same (errors.Is)
// when their codes match, regardless of detail.
type Error struct {
	Kind   Kind
	Code   string
	Msg    string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Msg
	}
	return e.Msg + ": " + e.Detail
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e carrying a formatted detail string
func (e *Error) WithDetail(format string, args ...any) *Error {
	out := *e
	out.Detail = fmt.Sprintf(format, args...)
	return &out
}

var (
	ErrInvalidAddress  = &Error{Kind: KindValidation, Code: "invalid_address", Msg: "invalid wallet address"}
	ErrUnknownTier     = &Error{Kind: KindValidation, Code: "unknown_tier", Msg: "unknown pickaxe tier"}
	ErrInvalidQuantity = &Error{Kind: KindValidation, Code: "invalid_quantity", Msg: "quantity must be positive"}
	ErrUnderpaid       = &Error{Kind: KindValidation, Code: "underpaid", Msg: "payment below catalog price"}
	ErrInvalidAmount   = &Error{Kind: KindValidation, Code: "invalid_amount", Msg: "invalid amount"}
	ErrBelowMinimum    = &Error{Kind: KindValidation, Code: "below_minimum", Msg: "amount below minimum sell threshold"}
	ErrInvalidReward   = &Error{Kind: KindValidation, Code: "invalid_reward", Msg: "invalid referral reward"}

	ErrLandRequired        = &Error{Kind: KindPrecondition, Code: "land_required", Msg: "land purchase required"}
	ErrInsufficientBalance = &Error{Kind: KindPrecondition, Code: "insufficient_balance", Msg: "insufficient gold balance"}
	ErrDuplicateReferral   = &Error{Kind: KindPrecondition, Code: "duplicate_referral", Msg: "referral already credited"}
	ErrNotDegraded         = &Error{Kind: KindPrecondition, Code: "not_degraded", Msg: "no unreconciled cache entry"}

	ErrConfirmationRequired = &Error{Kind: KindPrecondition, Code: "confirmation_required", Msg: "valid confirmation token required"}
	ErrAdminDisabled        = &Error{Kind: KindPrecondition, Code: "admin_disabled", Msg: "administrative actions are disabled"}

	ErrConflict           = &Error{Kind: KindConflict, Code: "conflict", Msg: "concurrent update, retry"}
	ErrStorageUnavailable = &Error{Kind: KindStorage, Code: "storage_unavailable", Msg: "storage unavailable"}
	ErrInvariantViolation = &Error{Kind: KindInvariant, Code: "invariant_violation", Msg: "invariant violation"}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Unavailable wraps a backend failure as a storage-unavailable error while
// keeping the cause in the chain.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, cause)
}
