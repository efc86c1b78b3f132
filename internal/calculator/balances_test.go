package calculator

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
)

func TestExpenseDeltas(t *testing.T) {
	tests := []struct {
		name   string
		paidBy string
		total  int64
		splits []models.Split
		want   []models.Delta
	}{
		{
			name:   "payer is also a beneficiary",
			paidBy: "A",
			total:  1000,
			splits: []models.Split{{UserID: "A", AmountCents: 500}, {UserID: "B", AmountCents: 500}},
			want:   []models.Delta{{UserID: "A", DeltaCents: 500}, {UserID: "B", DeltaCents: -500}},
		},
		{
			name:   "payer not a beneficiary",
			paidBy: "C",
			total:  300,
			splits: []models.Split{{UserID: "B", AmountCents: 100}, {UserID: "A", AmountCents: 200}},
			want: []models.Delta{
				{UserID: "A", DeltaCents: -200},
				{UserID: "B", DeltaCents: -100},
				{UserID: "C", DeltaCents: 300},
			},
		},
		{
			name:   "payer covers only themselves",
			paidBy: "A",
			total:  100,
			splits: []models.Split{{UserID: "A", AmountCents: 100}},
			want:   []models.Delta{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpenseDeltas(tt.paidBy, tt.total, tt.splits)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpenseDeltas() = %v, want %v", got, tt.want)
			}
			sum, err := SumDeltas(got)
			if err != nil {
				t.Fatalf("SumDeltas() unexpected error: %v", err)
			}
			if sum != 0 {
				t.Errorf("deltas sum to %d, want 0", sum)
			}
		})
	}
}

func TestSettlementDeltas(t *testing.T) {
	got := SettlementDeltas("B", "A", 300)
	want := []models.Delta{{UserID: "A", DeltaCents: -300}, {UserID: "B", DeltaCents: 300}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SettlementDeltas() = %v, want %v", got, want)
	}
}

func TestProjectBalances(t *testing.T) {
	expenses := []models.Expense{
		{PaidByID: "A", TotalCents: 1000, Splits: []models.Split{{UserID: "A", AmountCents: 500}, {UserID: "B", AmountCents: 500}}},
		{PaidByID: "B", TotalCents: 300, Splits: []models.Split{{UserID: "A", AmountCents: 100}, {UserID: "B", AmountCents: 100}, {UserID: "C", AmountCents: 100}}},
	}
	settlements := []models.Settlement{
		{FromUserID: "C", ToUserID: "B", AmountCents: 100},
	}

	got, err := ProjectBalances("g1", expenses, settlements)
	if err != nil {
		t.Fatalf("ProjectBalances() unexpected error: %v", err)
	}
	want := []models.Balance{
		{GroupID: "g1", UserID: "A", BalanceCents: 400},
		{GroupID: "g1", UserID: "B", BalanceCents: -400},
		{GroupID: "g1", UserID: "C", BalanceCents: 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ProjectBalances() = %v, want %v", got, want)
	}

	var sum int64
	for _, b := range got {
		sum += b.BalanceCents
	}
	if sum != 0 {
		t.Errorf("projected balances sum to %d, want 0", sum)
	}
}

func TestAddCents(t *testing.T) {
	tests := []struct {
		a, b   int64
		want   int64
		wantOK bool
	}{
		{1, 2, 3, true},
		{math.MaxInt64, 0, math.MaxInt64, true},
		{math.MaxInt64, 1, 0, false},
		{math.MinInt64, -1, 0, false},
		{math.MinInt64, math.MaxInt64, -1, true},
	}
	for _, tt := range tests {
		got, ok := AddCents(tt.a, tt.b)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("AddCents(%d, %d) = %d, %v, want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSumDeltasRejectsOverflow(t *testing.T) {
	// These wrap to exactly zero in int64 arithmetic.
	deltas := []models.Delta{
		{UserID: "A", DeltaCents: math.MaxInt64},
		{UserID: "B", DeltaCents: math.MaxInt64},
		{UserID: "C", DeltaCents: 2},
	}
	if _, err := SumDeltas(deltas); !errors.Is(err, apperr.ErrInternal) {
		t.Errorf("SumDeltas() error = %v, want internal error", err)
	}
}

func TestProjectBalancesRejectsOverflow(t *testing.T) {
	settlements := []models.Settlement{
		{FromUserID: "A", ToUserID: "B", AmountCents: math.MaxInt64},
		{FromUserID: "A", ToUserID: "B", AmountCents: 1},
	}
	if _, err := ProjectBalances("g1", nil, settlements); !errors.Is(err, apperr.ErrInternal) {
		t.Errorf("ProjectBalances() error = %v, want internal error", err)
	}
}
