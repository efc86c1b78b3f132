package ledger

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	store   *sqlite.SQLiteStore
	clock   *clock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	svc, err := New(store, Options{Clock: clk.Now, Metrics: m})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.CreateGroup(context.Background(), &models.Group{ID: "g1", Name: "Trip", Members: []string{"A", "B", "C"}})
	})
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, clock: clk, metrics: m}
}

func asActor(user string) Call {
	return Call{Actor: Actor{UserID: user, IP: "10.0.0.1", UserAgent: "test"}}
}

func withKey(user, key string) Call {
	c := asActor(user)
	c.IdempotencyKey = key
	return c
}

func pct(user, p string) Allocation {
	d := decimal.RequireFromString(p)
	return Allocation{UserID: user, Percent: &d}
}

func equalExpense(payer string, total int64, beneficiaries ...string) CreateExpenseInput {
	return CreateExpenseInput{
		PaidByID:      payer,
		TotalCents:    total,
		Currency:      "USD",
		Mode:          models.SplitEqual,
		Beneficiaries: beneficiaries,
	}
}

func (f *fixture) balances(t *testing.T) map[string]int64 {
	t.Helper()
	rows, err := f.store.GetBalances(context.Background(), "g1")
	require.NoError(t, err)
	out := make(map[string]int64, len(rows))
	for _, b := range rows {
		out[b.UserID] = b.BalanceCents
	}
	return out
}

func (f *fixture) auditCount(t *testing.T) int {
	t.Helper()
	entries, err := f.store.ListAuditEntries(context.Background(), storage.AuditFilter{})
	require.NoError(t, err)
	return len(entries)
}

func TestIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := equalExpense("A", 1000, "A", "B")

	first, err := f.svc.CreateExpense(ctx, withKey("A", "k1"), "g1", in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.CreateExpense(ctx, withKey("A", "k1"), "g1", in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AuditEntryID, second.AuditEntryID)

	assert.Equal(t, map[string]int64{"A": 500, "B": -500}, f.balances(t))
	assert.Equal(t, 1, f.auditCount(t))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Mutations.WithLabelValues(KindExpense, "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Mutations.WithLabelValues(KindExpense, "replayed")))
}

func TestIdempotencyConflictLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateExpense(ctx, withKey("A", "k1"), "g1", equalExpense("A", 1000, "A", "B"))
	require.NoError(t, err)

	_, err = f.svc.CreateExpense(ctx, withKey("A", "k1"), "g1", equalExpense("A", 2000, "A", "B"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.Equal(t, map[string]int64{"A": 500, "B": -500}, f.balances(t))
	assert.Equal(t, 1, f.auditCount(t))
}

func TestSameKeyDifferentGroupIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateGroup(ctx, &models.Group{ID: "g2", Name: "Flat", Members: []string{"A", "B"}})
	})
	require.NoError(t, err)

	in := equalExpense("A", 1000, "A", "B")
	_, err = f.svc.CreateExpense(ctx, withKey("A", "k1"), "g1", in)
	require.NoError(t, err)

	_, err = f.svc.CreateExpense(ctx, withKey("A", "k1"), "g2", in)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestMutationValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(svc *Service) error
		want error
	}{
		{
			name: "unknown group",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "missing", equalExpense("A", 100))
				return err
			},
			want: apperr.ErrNotFound,
		},
		{
			name: "actor not a member",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("Z"), "g1", equalExpense("A", 100))
				return err
			},
			want: apperr.ErrForbidden,
		},
		{
			name: "payer not a member",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("Z", 100))
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "beneficiary not a member",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", 100, "A", "Z"))
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "zero total",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", 0))
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "bad currency",
			run: func(svc *Service) error {
				in := equalExpense("A", 100)
				in.Currency = "dollars"
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", in)
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "exact amounts do not sum to total",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", CreateExpenseInput{
					PaidByID: "A", TotalCents: 1000, Currency: "USD", Mode: models.SplitExact,
					Items: []Allocation{{UserID: "A", AmountCents: 400}, {UserID: "B", AmountCents: 500}},
				})
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "exact amounts that wrap int64 to the total",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", CreateExpenseInput{
					PaidByID: "A", TotalCents: 10, Currency: "USD", Mode: models.SplitExact,
					Items: []Allocation{
						{UserID: "A", AmountCents: math.MaxInt64},
						{UserID: "B", AmountCents: math.MaxInt64},
						{UserID: "C", AmountCents: 12},
					},
				})
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "total above maximum",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", math.MaxInt64))
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "settlement above maximum",
			run: func(svc *Service) error {
				_, err := svc.RecordSettlement(ctx, asActor("A"), "g1", RecordSettlementInput{
					FromUserID: "B", ToUserID: "A", AmountCents: math.MaxInt64,
				})
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "percent without value",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", CreateExpenseInput{
					PaidByID: "A", TotalCents: 1000, Currency: "USD", Mode: models.SplitPercent,
					Items: []Allocation{pct("A", "100"), {UserID: "B"}},
				})
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "shares without items",
			run: func(svc *Service) error {
				_, err := svc.CreateExpense(ctx, asActor("A"), "g1", CreateExpenseInput{
					PaidByID: "A", TotalCents: 1000, Currency: "USD", Mode: models.SplitShares,
				})
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "settle with yourself",
			run: func(svc *Service) error {
				_, err := svc.RecordSettlement(ctx, asActor("A"), "g1", RecordSettlementInput{FromUserID: "A", ToUserID: "A", AmountCents: 100})
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "negative settlement",
			run: func(svc *Service) error {
				_, err := svc.RecordSettlement(ctx, asActor("A"), "g1", RecordSettlementInput{FromUserID: "B", ToUserID: "A", AmountCents: -5})
				return err
			},
			want: apperr.ErrValidation,
		},
		{
			name: "settlement with outsider",
			run: func(svc *Service) error {
				_, err := svc.RecordSettlement(ctx, asActor("A"), "g1", RecordSettlementInput{FromUserID: "Z", ToUserID: "A", AmountCents: 100})
				return err
			},
			want: apperr.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := tt.run(f.svc)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			assert.Empty(t, f.balances(t))
			assert.Zero(t, f.auditCount(t))
		})
	}
}

func TestValidationFailureReleasesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateExpense(ctx, withKey("A", "k1"), "g1", equalExpense("Z", 1000))
	require.ErrorIs(t, err, apperr.ErrValidation)

	// The failed attempt left no claim behind, so a corrected retry runs.
	res, err := f.svc.CreateExpense(ctx, withKey("A", "k1"), "g1", equalExpense("A", 1000, "A", "B"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestSettlementAndSuggestedTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{UserID: "A"}

	_, err := f.svc.CreateExpense(ctx, asActor("A"), "g1", CreateExpenseInput{
		PaidByID: "A", TotalCents: 1000, Currency: "USD", Mode: models.SplitExact,
		Items: []Allocation{
			{UserID: "A", AmountCents: 500},
			{UserID: "B", AmountCents: 300},
			{UserID: "C", AmountCents: 200},
		},
	})
	require.NoError(t, err)

	transfers, err := f.svc.SuggestTransfers(ctx, actor, "g1")
	require.NoError(t, err)
	assert.Equal(t, []models.Transfer{
		{FromUserID: "B", ToUserID: "A", AmountCents: 300},
		{FromUserID: "C", ToUserID: "A", AmountCents: 200},
	}, transfers)

	res, err := f.svc.RecordSettlement(ctx, asActor("B"), "g1", RecordSettlementInput{FromUserID: "B", ToUserID: "A", AmountCents: 300})
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, DefaultCurrency, res.Settlement.Currency)
	assert.Equal(t, []models.Delta{{UserID: "A", DeltaCents: -300}, {UserID: "B", DeltaCents: 300}}, res.Deltas)

	transfers, err = f.svc.SuggestTransfers(ctx, actor, "g1")
	require.NoError(t, err)
	assert.Equal(t, []models.Transfer{{FromUserID: "C", ToUserID: "A", AmountCents: 200}}, transfers)

	settlements, err := f.svc.ListSettlements(ctx, actor, "g1")
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, res.ID, settlements[0].ID)
}

func TestBalancesStayZeroSumAndAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inputs := []CreateExpenseInput{
		equalExpense("A", 1001),
		equalExpense("B", 77, "B", "C"),
		{
			PaidByID: "C", TotalCents: 1000, Currency: "EUR", Mode: models.SplitPercent,
			Items: []Allocation{pct("A", "33.33"), pct("B", "33.33"), pct("C", "33.34")},
		},
		{
			PaidByID: "A", TotalCents: 999, Currency: "usd", Mode: models.SplitShares,
			Items: []Allocation{{UserID: "A", Shares: 1}, {UserID: "B", Shares: 2}, {UserID: "C", Shares: 4}},
		},
	}
	for _, in := range inputs {
		res, err := f.svc.CreateExpense(ctx, asActor("A"), "g1", in)
		require.NoError(t, err)

		var sum int64
		for _, s := range res.Expense.Splits {
			sum += s.AmountCents
		}
		assert.Equal(t, in.TotalCents, sum)
	}
	_, err := f.svc.RecordSettlement(ctx, asActor("B"), "g1", RecordSettlementInput{FromUserID: "B", ToUserID: "A", AmountCents: 250, Currency: "eur"})
	require.NoError(t, err)

	var total int64
	for _, v := range f.balances(t) {
		total += v
	}
	assert.Zero(t, total)

	report, err := f.svc.CheckBalances(ctx, "")
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.GroupsChecked)

	verify, err := f.svc.VerifyAuditChain(ctx, "")
	require.NoError(t, err)
	assert.True(t, verify.OK)
	assert.Equal(t, 5, verify.Checked)
}

func TestConcurrentMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payer := []string{"A", "B", "C"}[i%3]
			_, err := f.svc.CreateExpense(ctx, withKey(payer, fmt.Sprintf("key-%d", i)), "g1", equalExpense(payer, int64(100+i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var total int64
	for _, v := range f.balances(t) {
		total += v
	}
	assert.Zero(t, total)

	verify, err := f.svc.VerifyAuditChain(ctx, "")
	require.NoError(t, err)
	assert.True(t, verify.OK)
	assert.Equal(t, 20, verify.Checked)
}

func TestBalancesCacheInvalidatedOnCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{UserID: "A"}

	balances, err := f.svc.GetBalances(ctx, actor, "g1")
	require.NoError(t, err)
	assert.Empty(t, balances)

	_, err = f.svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", 1000, "A", "B"))
	require.NoError(t, err)

	balances, err = f.svc.GetBalances(ctx, actor, "g1")
	require.NoError(t, err)
	assert.Equal(t, []models.Balance{
		{GroupID: "g1", UserID: "A", BalanceCents: 500},
		{GroupID: "g1", UserID: "B", BalanceCents: -500},
	}, balances)
}

func TestReadsRequireMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetBalances(ctx, Actor{UserID: "Z"}, "g1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.SuggestTransfers(ctx, Actor{UserID: "A"}, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTimestampsTruncatedToMillis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", 300))
	require.NoError(t, err)

	want := f.clock.Now().UTC().Truncate(time.Millisecond)
	assert.True(t, want.Equal(res.Expense.CreatedAt))
	assert.True(t, want.Equal(res.Expense.Date))

	stored, err := f.svc.GetExpense(ctx, Actor{UserID: "B"}, "g1", res.ID)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(res.Expense.CreatedAt))
	assert.Equal(t, res.Expense.Splits, stored.Splits)
}

func TestListExpensesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{UserID: "A"}

	var ids []string
	for i := 0; i < 5; i++ {
		res, err := f.svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", int64(100*(i+1))))
		require.NoError(t, err)
		ids = append(ids, res.ID)
		f.clock.Advance(time.Second)
	}

	var got []string
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		page, err := f.svc.ListExpenses(ctx, actor, "g1", 2, cursor)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Items), 2)
		for _, e := range page.Items {
			got = append(got, e.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, got)

	_, err := f.svc.ListExpenses(ctx, actor, "g1", 2, "not-a-cursor")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExpenseCursorRoundTrip(t *testing.T) {
	c := storage.ExpenseCursor{CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 5_000_000, time.UTC), ID: "exp_1"}
	encoded := EncodeExpenseCursor(c)
	assert.Equal(t, "2025-03-01T12:00:00.005Z|exp_1", encoded)

	decoded, err := DecodeExpenseCursor(encoded)
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestCheckBalancesDetectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", 1000, "A", "B"))
	require.NoError(t, err)

	// A balanced but wrong projection.
	err = f.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.ApplyDeltas(ctx, "g1", []models.Delta{{UserID: "A", DeltaCents: 5}, {UserID: "B", DeltaCents: -5}})
	})
	require.NoError(t, err)

	report, err := f.svc.CheckBalances(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, []BalanceMismatch{
		{GroupID: "g1", UserID: "A", StoredCents: 505, ExpectedCents: 500},
		{GroupID: "g1", UserID: "B", StoredCents: -505, ExpectedCents: -500},
	}, report.Mismatches)
	assert.Empty(t, report.Imbalanced)

	err = f.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.ApplyDeltas(ctx, "g1", []models.Delta{{UserID: "C", DeltaCents: 1}})
	})
	require.NoError(t, err)

	report, err = f.svc.CheckBalances(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []GroupImbalance{{GroupID: "g1", SumCents: 1}}, report.Imbalanced)
	assert.Len(t, report.Mismatches, 3)
}

func TestListAuditEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateExpense(ctx, asActor("A"), "g1", equalExpense("A", 100))
	require.NoError(t, err)
	_, err = f.svc.CreateExpense(ctx, asActor("B"), "g1", equalExpense("B", 200))
	require.NoError(t, err)
	_, err = f.svc.RecordSettlement(ctx, asActor("C"), "g1", RecordSettlementInput{FromUserID: "C", ToUserID: "A", AmountCents: 50})
	require.NoError(t, err)

	page, err := f.svc.ListAuditEntries(ctx, AuditQuery{GroupID: "g1"}, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, string(audit.ActionSettlementRecorded), page.Items[0].Action)
	assert.Equal(t, "2", page.NextCursor)

	page, err = f.svc.ListAuditEntries(ctx, AuditQuery{GroupID: "g1"}, 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.Items[0].Seq)
	assert.Empty(t, page.NextCursor)

	page, err = f.svc.ListAuditEntries(ctx, AuditQuery{Action: string(audit.ActionExpenseCreated), ActorID: "B"}, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "10.0.0.1", page.Items[0].IP)

	_, err = f.svc.ListAuditEntries(ctx, AuditQuery{}, 0, "abc")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateGroupIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.svc.CreateGroup(ctx, Actor{UserID: "A"}, " Flat ", []string{"A", "D"})
	require.NoError(t, err)
	assert.Equal(t, "Flat", group.Name)

	got, err := f.svc.GetGroup(ctx, Actor{UserID: "D"}, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D"}, got.Members)

	page, err := f.svc.ListAuditEntries(ctx, AuditQuery{GroupID: group.ID}, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, string(audit.ActionGroupCreated), page.Items[0].Action)

	_, err = f.svc.CreateGroup(ctx, Actor{}, "Dupes", []string{"A", "A"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestVerifyAuditChainUnknownStart(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.VerifyAuditChain(context.Background(), "aud_missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
