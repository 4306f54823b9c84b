package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// MarketMaker errors
var (
	// ErrMarketMakerNotFound is returned when no instance matches the criteria.
	ErrMarketMakerNotFound = errors.New("market maker not found")

	// ErrMarketRefTaken is returned on create when the market reference is
	// already managed by another instance.
	ErrMarketRefTaken = errors.New("market reference is already managed")

	// ErrMarketMakerNotActive is returned when a tick or trade is attempted
	// against a PAUSED or STOPPED instance.
	ErrMarketMakerNotActive = errors.New("market maker is not active")

	// ErrMarketMakerStopped is returned when resuming an instance that was
	// explicitly stopped; a STOPPED instance requires a full start.
	ErrMarketMakerStopped = errors.New("market maker is stopped")
)

// Bot errors
var (
	// ErrBotNotFound is returned when no bot matches the criteria.
	ErrBotNotFound = errors.New("bot not found")

	// ErrBotDailyCapReached is returned when a bot attempts a trade past its
	// daily cap; the bot enters COOLDOWN until the daily reset clears it.
	ErrBotDailyCapReached = errors.New("bot daily trade cap reached")
)

// Pool / ledger errors
var (
	// ErrPoolNotFound is returned when no pool exists for the instance.
	ErrPoolNotFound = errors.New("liquidity pool not found")

	// ErrInsufficientPoolBalance is returned when a fill or withdrawal would
	// drive a pool balance negative.
	ErrInsufficientPoolBalance = errors.New("insufficient pool balance")
)

// History / audit errors
var (
	// ErrHistoryImmutable is returned on any attempt to update a
	// HistoryEntry, or to delete one outside a parent MarketMaker cascade.
	ErrHistoryImmutable = errors.New("history entries are append-only")

	// ErrHistoryNotFound is returned when no entry matches the criteria.
	ErrHistoryNotFound = errors.New("history entry not found")
)

// Risk / routing errors
var (
	// ErrDailyVolumeExceeded is returned when an order's notional would push
	// the instance past its daily volume cap. The order is skipped; the tick
	// continues.
	ErrDailyVolumeExceeded = errors.New("daily volume cap exceeded")

	// ErrOrderRejected is returned when the real order book rejects an order
	// after the single retry.
	ErrOrderRejected = errors.New("order rejected by order book")

	// ErrFeedUnavailable is returned when the external price feed has no
	// price for the requested symbol.
	ErrFeedUnavailable = errors.New("external price feed unavailable")
)

// Admin surface errors
var (
	// ErrUnauthorized is returned when a request carries no credentials.
	ErrUnauthorized = errors.New("authorization required")

	// ErrTokenInvalid is returned when a bearer token fails validation.
	ErrTokenInvalid = errors.New("token is invalid or expired")
)

// configError wraps a human-readable reason for an invalid configuration.
type configError struct{ reason string }

func (e configError) Error() string { return "invalid configuration: " + e.reason }

// ErrInvalidConfig builds a configuration error with the given reason.
// Match with IsValidation.
func ErrInvalidConfig(reason string) error {
	return configError{reason: reason}
}

// ErrInvalidConfigf builds a configuration error with a formatted reason.
func ErrInvalidConfigf(format string, args ...any) error {
	return configError{reason: fmt.Sprintf(format, args...)}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound stays in sync automatically.
var notFoundErrors = []error{
	ErrMarketMakerNotFound,
	ErrBotNotFound,
	ErrPoolNotFound,
	ErrHistoryNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values
// directly when translating domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrMarketRefTaken,
		ErrMarketMakerNotActive,
		ErrMarketMakerStopped,
		ErrHistoryImmutable,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for synchronous configuration-rejection errors.
func IsValidation(err error) bool {
	var ce configError
	return errors.As(err, &ce)
}
