package models

import (
	"encoding/json"
	"time"
)

// IdempotencyStatus is the lifecycle state of an IdempotencyRecord.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	IdempotencyDone       IdempotencyStatus = "done"
)

// IdempotencyRecord stores the outcome of a request submitted with an Idempotency-Key.
// It is keyed by (Key, Scope).
type IdempotencyRecord struct {
	Key   string
	Scope string

	// Method and Path describe the concrete request that claimed the key.
	Method string
	Path   string

	// BodyHash is the base64 SHA-256 of the canonical request body.
	BodyHash string

	Status IdempotencyStatus

	// StatusCode and Response are the captured result, set once Status is done.
	StatusCode int
	Response   json.RawMessage

	// ClaimedAt is when the current executor claimed the key.
	ClaimedAt time.Time
	ExpiresAt time.Time
}
