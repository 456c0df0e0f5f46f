package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every specific error below wraps exactly one of them, so
// transports can map with errors.Is against the kind.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrListingNotFound     = fmt.Errorf("listing %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrEventNotFound       = fmt.Errorf("event %w", ErrNotFound)
	ErrPaymentNotFound     = fmt.Errorf("payment %w", ErrNotFound)
)

var (
	ErrNotListingOwner = fmt.Errorf("%w: caller does not own the listing", ErrForbidden)
	ErrNotBuyer        = fmt.Errorf("%w: caller is not the buyer", ErrForbidden)
	ErrNotSeller       = fmt.Errorf("%w: caller is not the seller", ErrForbidden)
)

var (
	ErrInvalidTransition     = fmt.Errorf("%w: invalid state transition", ErrValidation)
	ErrListingNotActive      = fmt.Errorf("%w: listing is not active", ErrValidation)
	ErrListingHasReservation = fmt.Errorf("%w: listing has reserved units", ErrValidation)
	ErrEmptySelection        = fmt.Errorf("%w: no ticket units selected", ErrValidation)
	ErrDuplicateUnit         = fmt.Errorf("%w: duplicate ticket unit id", ErrValidation)
	ErrUnknownUnit           = fmt.Errorf("%w: ticket unit does not belong to listing", ErrValidation)
	ErrUnitUnavailable       = fmt.Errorf("%w: ticket unit is not available", ErrValidation)
	ErrUnitNotReserved       = fmt.Errorf("%w: ticket unit is not reserved", ErrValidation)
	ErrSellTogether          = fmt.Errorf("%w: listing must be purchased as a whole", ErrValidation)
	ErrUnitsSpec             = fmt.Errorf("%w: exactly one of quantity or units is required", ErrValidation)
	ErrSeatingMismatch       = fmt.Errorf("%w: units do not match seating type", ErrValidation)
	ErrMixedSeating          = fmt.Errorf("%w: units mix seated and seatless entries", ErrValidation)
	ErrDuplicateSeat         = fmt.Errorf("%w: duplicate seat", ErrValidation)
	ErrDeliveryRequired      = fmt.Errorf("%w: missing required delivery fields", ErrValidation)
	ErrUnknownTicketType     = fmt.Errorf("%w: unknown ticket type", ErrValidation)
	ErrUnknownEventDate      = fmt.Errorf("%w: event date does not belong to event", ErrValidation)
	ErrSelfPurchase          = fmt.Errorf("%w: seller cannot buy own listing", ErrValidation)
	ErrCurrencyMismatch      = fmt.Errorf("%w: currency mismatch", ErrValidation)
)

var (
	ErrVersionConflict = fmt.Errorf("%w: stale entity version", ErrConflict)
	ErrSweepInProgress = fmt.Errorf("%w: auto-release sweep already running", ErrConflict)
	ErrLockNotAcquired = fmt.Errorf("%w: lock not acquired", ErrConflict)
)
