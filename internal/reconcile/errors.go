package reconcile

import "errors"

var (
	// ErrStoreUnavailable wraps persistence failures. The event is dropped, not retried.
	ErrStoreUnavailable = errors.New("session store unavailable")

	ErrLotFull           = errors.New("parking lot is full")
	ErrLotEmpty          = errors.New("parking lot is empty")
	ErrInvalidAdjustment = errors.New("adjustment must be +1 or -1")
	ErrInvalidPin        = errors.New("pin must be 4 to 8 digits")
	ErrInvalidBadge      = errors.New("badge uid has no hexadecimal digits")
	ErrInvalidTariff     = errors.New("tariff values must not be negative")
	ErrUnsupportedEvent  = errors.New("unsupported event")
)
