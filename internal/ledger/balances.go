package ledger

import (
	"context"
	"sort"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/cache"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
)

// GetBalances returns the group's projected balances ordered by user ID.
// Members that never took part in a mutation have no row.
func (s *Service) GetBalances(ctx context.Context, actor Actor, groupID string) ([]models.Balance, error) {
	if err := s.Authorize(ctx, actor, groupID); err != nil {
		return nil, err
	}
	return s.balances(ctx, groupID)
}

func (s *Service) balances(ctx context.Context, groupID string) ([]models.Balance, error) {
	return cache.Fetch(ctx, s.cache, cache.BalancesKey(groupID), func(ctx context.Context) ([]models.Balance, error) {
		balances, err := s.store.GetBalances(ctx, groupID)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to load balances")
		}
		if balances == nil {
			balances = []models.Balance{}
		}
		return balances, nil
	})
}

// SuggestTransfers returns the payments that would settle the group.
func (s *Service) SuggestTransfers(ctx context.Context, actor Actor, groupID string) ([]models.Transfer, error) {
	if err := s.Authorize(ctx, actor, groupID); err != nil {
		return nil, err
	}
	balances, err := s.balances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return calculator.SuggestTransfers(balances), nil
}

// BalanceMismatch is a member whose stored balance differs from the one
// recomputed from raw expenses and settlements.
type BalanceMismatch struct {
	GroupID       string `json:"groupId"`
	UserID        string `json:"userId"`
	StoredCents   int64  `json:"storedCents"`
	ExpectedCents int64  `json:"expectedCents"`
}

// GroupImbalance is a group whose stored balances do not net to zero.
type GroupImbalance struct {
	GroupID  string `json:"groupId"`
	SumCents int64  `json:"sumCents"`

	// Overflow is set when the stored balances do not sum within int64;
	// SumCents is then meaningless.
	Overflow bool `json:"overflow,omitempty"`
}

// ConsistencyReport is the outcome of CheckBalances.
type ConsistencyReport struct {
	OK            bool              `json:"ok"`
	GroupsChecked int               `json:"groupsChecked"`
	Mismatches    []BalanceMismatch `json:"mismatches"`
	Imbalanced    []GroupImbalance  `json:"imbalanced"`
}

// CheckBalances recomputes balances from raw expenses and settlements and
// compares them against the stored projection. An empty groupID checks every
// group that has ledger data. It reads the store directly, bypassing the
// cache.
func (s *Service) CheckBalances(ctx context.Context, groupID string) (*ConsistencyReport, error) {
	groupIDs := []string{groupID}
	if groupID == "" {
		ids, err := s.store.LedgerGroupIDs(ctx)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to list groups")
		}
		groupIDs = ids
	}

	report := &ConsistencyReport{
		Mismatches: []BalanceMismatch{},
		Imbalanced: []GroupImbalance{},
	}
	for _, gid := range groupIDs {
		if err := s.checkGroup(ctx, gid, report); err != nil {
			return nil, err
		}
		report.GroupsChecked++
	}
	report.OK = len(report.Mismatches) == 0 && len(report.Imbalanced) == 0

	if !report.OK {
		s.logger.Warn("balance projection inconsistent",
			"groups_checked", report.GroupsChecked,
			"mismatches", len(report.Mismatches),
			"imbalanced", len(report.Imbalanced),
		)
	}
	return report, nil
}

func (s *Service) checkGroup(ctx context.Context, groupID string, report *ConsistencyReport) error {
	expenses, err := s.store.ListExpenses(ctx, groupID, 0, nil)
	if err != nil {
		return apperr.Persistence(err, "failed to list expenses")
	}
	settlements, err := s.store.ListSettlements(ctx, groupID)
	if err != nil {
		return apperr.Persistence(err, "failed to list settlements")
	}
	stored, err := s.store.GetBalances(ctx, groupID)
	if err != nil {
		return apperr.Persistence(err, "failed to load balances")
	}

	expected := make(map[string]int64)
	projected, err := calculator.ProjectBalances(groupID, expenses, settlements)
	if err != nil {
		return err
	}
	for _, b := range projected {
		expected[b.UserID] = b.BalanceCents
	}
	actual := make(map[string]int64, len(stored))
	var (
		sum      int64
		overflow bool
	)
	for _, b := range stored {
		actual[b.UserID] = b.BalanceCents
		if next, ok := calculator.AddCents(sum, b.BalanceCents); ok {
			sum = next
		} else {
			overflow = true
		}
	}

	users := make([]string, 0, len(expected)+len(actual))
	for u := range expected {
		users = append(users, u)
	}
	for u := range actual {
		if _, ok := expected[u]; !ok {
			users = append(users, u)
		}
	}
	sort.Strings(users)

	for _, u := range users {
		if expected[u] != actual[u] {
			report.Mismatches = append(report.Mismatches, BalanceMismatch{
				GroupID:       groupID,
				UserID:        u,
				StoredCents:   actual[u],
				ExpectedCents: expected[u],
			})
		}
	}
	if sum != 0 || overflow {
		report.Imbalanced = append(report.Imbalanced, GroupImbalance{GroupID: groupID, SumCents: sum, Overflow: overflow})
	}
	return nil
}
