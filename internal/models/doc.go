// Package models defines the core domain models for the ledger.
//
// # Ledger Models
//
//   - Expense: a payment by one member, split across beneficiaries
//   - Split: one beneficiary's share of an expense, in cents
//   - Settlement: a direct transfer between two members that pays down debt
//   - Balance: the projected running balance of one member in one group
//   - Transfer: an ephemeral settle-up suggestion, never persisted
//
// # Integrity Models
//
//   - AuditEntry: one link in the hash-chained audit log
//   - IdempotencyRecord: the stored outcome of a request submitted with an Idempotency-Key
//
// # Collaborator Models
//
//   - Group: membership lookup consumed for validation and default beneficiaries.
//     Group CRUD lives outside this service.
//
// # Design Principles
//
//  1. **Integer cents**: every amount is an int64 number of minor units. No floats touch money.
//  2. **Sign convention**: a positive balance means the member is owed money,
//     a negative balance means the member owes money.
//  3. **IDs, not pointers**: relationships are expressed with ID strings.
//  4. **Immutable mutations**: expenses and settlements are never updated once committed.
package models
