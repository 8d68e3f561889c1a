package vault

import "errors"

// Error kinds surfaced by the vault. External adapters wrap these sentinels
// with additional context; callers should match them with errors.Is.
var (
	// ErrInvalidAmount rejects zero, negative or below-minimum amounts before
	// any external call is made.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	// ErrTransferFailed covers asset transfer-in and transfer-out failures.
	ErrTransferFailed = errors.New("vault: asset transfer failed")
	// ErrNoRewards signals that a harvest found nothing to reinvest. It is
	// treated as a successful no-op by the controller.
	ErrNoRewards = errors.New("vault: no rewards to compound")
	// ErrSlippageExceeded is returned by swappers when the execution rate
	// falls outside the configured bound.
	ErrSlippageExceeded = errors.New("vault: swap slippage exceeded")
	// ErrInsufficientLiquidity is returned by pools that cannot service a
	// deposit or redemption.
	ErrInsufficientLiquidity = errors.New("vault: insufficient pool liquidity")
	// ErrNoDeposit is returned when a user has no active position.
	ErrNoDeposit = errors.New("vault: no active deposit")
	// ErrNoDepositors signals a compound attempt while no principal is
	// deposited. Pending rewards are left unclaimed.
	ErrNoDepositors = errors.New("vault: no depositors to compound for")
)

var (
	errNilCollaborator      = errors.New("vault: collaborator not configured")
	errNilLedger            = errors.New("vault: ledger not configured")
	errNegativeYield        = errors.New("vault: yield totals must not be negative")
	errDistributionMismatch = errors.New("vault: distribution does not sum to input")
	errInvalidCustody       = errors.New("vault: custody address not configured")
	errAssetNotConfigured   = errors.New("vault: stable and reward assets must be configured")
	errZeroLPMinted         = errors.New("vault: pool minted zero shares")
)

// IsNoop reports whether err marks a compound cycle that had nothing to do.
func IsNoop(err error) bool {
	return errors.Is(err, ErrNoRewards) || errors.Is(err, ErrNoDepositors)
}
