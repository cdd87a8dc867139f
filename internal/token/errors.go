package token

import "errors"

var (
	// ErrMalformedScript is returned when a script carries the token tag
	// but its payload cannot be decoded.
	ErrMalformedScript = errors.New("malformed token script")

	// ErrNameLength is returned when a token name falls outside the
	// allowed length range.
	ErrNameLength = errors.New("token name length out of range")

	// ErrNameTaken is returned when an issuance would reuse a name that
	// is already claimed on chain or in the mempool.
	ErrNameTaken = errors.New("token name already issued")

	// ErrIdentityMismatch is returned when a transfer's (uid, name) pair
	// does not match the token being spent.
	ErrIdentityMismatch = errors.New("token identity mismatch")

	// ErrInsufficientConfs is returned when a spent token output has not
	// matured past the minimum confirmation depth.
	ErrInsufficientConfs = errors.New("token input has insufficient confirmations")

	// ErrMempoolConflict is returned when a transaction conflicts with a
	// token already pending in the mempool.
	ErrMempoolConflict = errors.New("token conflicts with mempool")

	// ErrInputNotFound is returned when a referenced token input cannot
	// be resolved from the coin view.
	ErrInputNotFound = errors.New("token input not found or already spent")

	// ErrValueRange is returned when a token output value is zero or
	// above the allowed maximum.
	ErrValueRange = errors.New("token value out of range")

	// ErrNoTokenOutput is returned when a transaction expected to carry
	// token data has none.
	ErrNoTokenOutput = errors.New("transaction carries no token output")

	// ErrCorruptMempool is returned when a pending transaction fails
	// contextual checks it must already have passed on admission.
	ErrCorruptMempool = errors.New("corrupt mempool: pending token transaction fails contextual checks")
)
