package calculator

import (
	"reflect"
	"testing"

	"github.com/mmynk/splitledger/internal/models"
)

func TestSuggestTransfers(t *testing.T) {
	tests := []struct {
		name     string
		balances []models.Balance
		want     []models.Transfer
	}{
		{
			name: "one creditor two debtors",
			balances: []models.Balance{
				{UserID: "A", BalanceCents: 500},
				{UserID: "B", BalanceCents: -300},
				{UserID: "C", BalanceCents: -200},
			},
			want: []models.Transfer{
				{FromUserID: "B", ToUserID: "A", AmountCents: 300},
				{FromUserID: "C", ToUserID: "A", AmountCents: 200},
			},
		},
		{
			name: "input order does not matter",
			balances: []models.Balance{
				{UserID: "C", BalanceCents: -200},
				{UserID: "A", BalanceCents: 500},
				{UserID: "B", BalanceCents: -300},
			},
			want: []models.Transfer{
				{FromUserID: "B", ToUserID: "A", AmountCents: 300},
				{FromUserID: "C", ToUserID: "A", AmountCents: 200},
			},
		},
		{
			name: "debtor split across creditors",
			balances: []models.Balance{
				{UserID: "A", BalanceCents: 100},
				{UserID: "B", BalanceCents: 200},
				{UserID: "C", BalanceCents: -300},
			},
			want: []models.Transfer{
				{FromUserID: "C", ToUserID: "A", AmountCents: 100},
				{FromUserID: "C", ToUserID: "B", AmountCents: 200},
			},
		},
		{
			name: "zero balances are skipped",
			balances: []models.Balance{
				{UserID: "A", BalanceCents: 0},
				{UserID: "B", BalanceCents: 0},
			},
			want: []models.Transfer{},
		},
		{
			name:     "empty group",
			balances: nil,
			want:     []models.Transfer{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestTransfers(tt.balances)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SuggestTransfers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuggestTransfersSettlesEveryone(t *testing.T) {
	balances := []models.Balance{
		{UserID: "u1", BalanceCents: 1234},
		{UserID: "u2", BalanceCents: -999},
		{UserID: "u3", BalanceCents: 15},
		{UserID: "u4", BalanceCents: -700},
		{UserID: "u5", BalanceCents: 450},
	}

	transfers := SuggestTransfers(balances)
	if len(transfers) > len(balances)-1 {
		t.Errorf("got %d transfers, want at most %d", len(transfers), len(balances)-1)
	}

	net := make(map[string]int64)
	for _, b := range balances {
		net[b.UserID] = b.BalanceCents
	}
	for _, tr := range transfers {
		if tr.AmountCents <= 0 {
			t.Errorf("non-positive transfer %v", tr)
		}
		net[tr.FromUserID] += tr.AmountCents
		net[tr.ToUserID] -= tr.AmountCents
	}
	for user, cents := range net {
		if cents != 0 {
			t.Errorf("user %s left with %d after transfers", user, cents)
		}
	}
}
