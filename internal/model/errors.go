package model

import "errors"

// Failure taxonomy shared by every layer. Callers wrap these with
// context and compare with errors.Is.
var (
	// ErrTransitionRejected: the status change violates ordering or a guard.
	ErrTransitionRejected = errors.New("transition rejected")
	// ErrPaymentCaptureFailed: cash shortfall, link creation or NFC failure.
	ErrPaymentCaptureFailed = errors.New("payment capture failed")
	// ErrPersistenceFailed: a write to the shared store did not happen.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrPermissionDenied: the device refused location access.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrFeedDisconnected: the change feed could not be re-established.
	ErrFeedDisconnected = errors.New("feed disconnected")

	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrSignatureMissing = errors.New("signature required")
	ErrUnauthorized     = errors.New("unauthorized")
)
