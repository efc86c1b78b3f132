// Package id generates the prefixed, K-sortable identifiers used for ledger entities.
//
// IDs are TypeIDs ("prefix_suffix", UUIDv7-based), so they are globally unique,
// URL-safe, and sort by creation time.
package id

import (
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

const (
	PrefixExpense    Prefix = "exp" // Expense
	PrefixSettlement Prefix = "stl" // Settlement
	PrefixAudit      Prefix = "aud" // Audit entry
	PrefixGroup      Prefix = "grp" // Group (collaborator records created by tooling and tests)
)

// New generates a new ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewExpense generates a new expense ID.
func NewExpense() string { return New(PrefixExpense) }

// NewSettlement generates a new settlement ID.
func NewSettlement() string { return New(PrefixSettlement) }

// NewAudit generates a new audit entry ID.
func NewAudit() string { return New(PrefixAudit) }

// NewGroup generates a new group ID.
func NewGroup() string { return New(PrefixGroup) }

// Validate checks that s is a well-formed ID carrying the expected prefix.
func Validate(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("id: empty string")
	}
	if _, err := typeid.Parse(s); err != nil {
		return fmt.Errorf("id: parse %q: %w", s, err)
	}
	if !strings.HasPrefix(s, string(expected)+"_") {
		return fmt.Errorf("id: expected prefix %q in %q", expected, s)
	}
	return nil
}
