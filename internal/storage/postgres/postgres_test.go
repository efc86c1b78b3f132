package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// newTestStore connects to SPLITLEDGER_TEST_POSTGRES_DSN, skipping the test
// when it is unset.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SPLITLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SPLITLEDGER_TEST_POSTGRES_DSN not set")
	}
	store, err := New(context.Background(), dsn, Options{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestExpenseRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	groupID := id.NewGroup()
	at := time.Now().UTC().Truncate(time.Millisecond)

	expense := &models.Expense{
		ID: id.NewExpense(), GroupID: groupID, PaidByID: "alice", TotalCents: 1000,
		Currency: "USD", Mode: models.SplitEqual, Date: at, CreatedBy: "alice", CreatedAt: at,
		Splits: []models.Split{{UserID: "alice", AmountCents: 500}, {UserID: "bob", AmountCents: 500}},
	}
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateGroup(ctx, &models.Group{ID: groupID, Name: "Trip", Members: []string{"alice", "bob"}}); err != nil {
			return err
		}
		if err := tx.InsertExpense(ctx, expense); err != nil {
			return err
		}
		return tx.ApplyDeltas(ctx, groupID, []models.Delta{{UserID: "alice", DeltaCents: 500}, {UserID: "bob", DeltaCents: -500}})
	})
	require.NoError(t, err)

	got, err := store.GetExpense(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, expense, got)

	page, err := store.ListExpenses(ctx, groupID, 10, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, expense.Splits, page[0].Splits)

	balances, err := store.GetBalances(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, []models.Balance{
		{GroupID: groupID, UserID: "alice", BalanceCents: 500},
		{GroupID: groupID, UserID: "bob", BalanceCents: -500},
	}, balances)
}

func TestIdempotencyClaimIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	key := id.New("key")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, func(tx storage.Tx) error {
				ok, err := tx.InsertIdempotency(ctx, &models.IdempotencyRecord{
					Key: key, Scope: "s", Method: "POST", Path: "/p", BodyHash: "h",
					Status: models.IdempotencyInProgress, ClaimedAt: now, ExpiresAt: now.Add(time.Hour),
				})
				if ok {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteIdempotency(ctx, key, "s")
	})
	require.NoError(t, err)
}

func TestAuditTailLockSerializesAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, func(tx storage.Tx) error {
				tail, err := tx.LockAuditTail(ctx)
				if err != nil {
					return err
				}
				seq, prev := int64(1), ""
				if tail != nil {
					seq, prev = tail.Seq+1, tail.ChainHash
				}
				return tx.InsertAuditEntry(ctx, &models.AuditEntry{
					ID: id.NewAudit(), Seq: seq, Action: "test.append", Meta: []byte(`{}`),
					PrevHash: prev, ChainHash: id.NewAudit(), CreatedAt: time.Now().UTC(),
				})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := store.ListAuditEntries(ctx, storage.AuditFilter{Action: "test.append", Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i].Seq+1, entries[i-1].Seq)
	}
}
