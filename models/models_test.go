package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWalletAvailableAndConsistent(t *testing.T) {
	cases := []struct {
		name       string
		balance    string
		locked     string
		available  string
		consistent bool
	}{
		{"empty", "0", "0", "0", true},
		{"partially locked", "100", "40", "60", true},
		{"fully locked", "100", "100", "0", true},
		{"over locked", "100", "101", "-1", false},
		{"negative lock", "10", "-1", "11", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := Wallet{Balance: decimal.RequireFromString(tc.balance), LockedBalance: decimal.RequireFromString(tc.locked)}
			assert.True(t, decimal.RequireFromString(tc.available).Equal(w.Available()))
			assert.Equal(t, tc.consistent, w.Consistent())
		})
	}
}

func TestNodeTypeChildType(t *testing.T) {
	assert.Equal(t, NodeMaster, NodeSuper.ChildType())
	assert.Equal(t, NodeFranchisee, NodeMaster.ChildType())
	assert.Equal(t, NodeSubFranchisee, NodeFranchisee.ChildType())
	assert.Equal(t, NodeType("Sub_Sub_Franchisee"), NodeSubFranchisee.ChildType())

	assert.True(t, NodeSuper.IsRoot())
	assert.True(t, NodeType("super").IsRoot())
	assert.False(t, NodeMaster.IsRoot())
}

func TestNodeDepth(t *testing.T) {
	assert.Equal(t, 0, (&Node{}).Depth())
	assert.Equal(t, 1, (&Node{DisplayNumber: "2"}).Depth())
	assert.Equal(t, 3, (&Node{DisplayNumber: "2.1.4"}).Depth())
}

func TestTransactionKindValid(t *testing.T) {
	assert.True(t, KindManualFiat.Valid())
	assert.True(t, KindReward.Valid())
	assert.False(t, TransactionKind("bribe").Valid())
}
