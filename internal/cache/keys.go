package cache

import (
	"fmt"
	"strings"
)

// Kinds of cached group reads.
const (
	KindBalances          = "balances"
	KindExpensesFirstPage = "expenses-first-page"
)

const keyVersion = "v1"

// Key identifies one cached read of one group.
type Key struct {
	GroupID string
	Kind    string
	Params  string
}

// String renders the stable storage key, e.g. "g:grp_1:balances:v1".
func (k Key) String() string {
	parts := []string{"g", k.GroupID, k.Kind}
	if k.Params != "" {
		parts = append(parts, k.Params)
	}
	parts = append(parts, keyVersion)
	return strings.Join(parts, ":")
}

// groupPrefix is the prefix shared by every key of a group.
func groupPrefix(groupID string) string {
	return "g:" + groupID + ":"
}

// BalancesKey is the key of a group's balance list.
func BalancesKey(groupID string) Key {
	return Key{GroupID: groupID, Kind: KindBalances}
}

// ExpensesFirstPageKey is the key of a group's newest expense page.
func ExpensesFirstPageKey(groupID string, limit int) Key {
	return Key{GroupID: groupID, Kind: KindExpensesFirstPage, Params: fmt.Sprintf("limit=%d", limit)}
}
