package models

import (
	"encoding/json"
	"time"
)

// AuditEntry is one link in the hash-chained audit log.
type AuditEntry struct {
	// ID is the unique identifier for the entry ("aud_" prefix).
	ID string `json:"id"`

	// Seq is the gap-free position of the entry in the chain, starting at 1.
	Seq int64 `json:"seq"`

	ActorID    string `json:"actorId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Action     string `json:"action"`
	TargetType string `json:"targetType,omitempty"`
	TargetID   string `json:"targetId,omitempty"`

	// Meta is the redacted, canonical JSON of the action's typed metadata.
	Meta json.RawMessage `json:"meta"`

	// IP and UserAgent describe the client that triggered the action, when known.
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	// PrevHash is the ChainHash of the previous entry, empty for the first entry.
	PrevHash string `json:"prevHash,omitempty"`

	// ChainHash links this entry to PrevHash.
	ChainHash string `json:"chainHash"`

	CreatedAt time.Time `json:"createdAt"`
}
