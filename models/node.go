package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NodeType is the tier of an operator node. Tiers below Franchisee are
// named by prefixing "Sub_" to the parent's type.
type NodeType string

const (
	NodeSuper         NodeType = "Super"
	NodeMaster        NodeType = "Master"
	NodeFranchisee    NodeType = "Franchisee"
	NodeSubFranchisee NodeType = "Sub_Franchisee"
)

// ChildType returns the tier a node of type t creates beneath itself.
func (t NodeType) ChildType() NodeType {
	switch t {
	case NodeSuper:
		return NodeMaster
	case NodeMaster:
		return NodeFranchisee
	case NodeFranchisee:
		return NodeSubFranchisee
	}
	return NodeType("Sub_" + string(t))
}

// IsRoot reports whether t carries universal authority.
func (t NodeType) IsRoot() bool {
	return strings.EqualFold(string(t), string(NodeSuper))
}

type NodeStatus string

const (
	NodeActive NodeStatus = "active"
	NodePaused NodeStatus = "paused"
	NodeBanned NodeStatus = "banned"
)

// Node is an operator in the governance hierarchy.
// ParentID is nil only for a Super root and is never changed after creation.
type Node struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Type           NodeType        `gorm:"type:varchar(64);not null;index" json:"node_type"`
	ParentID       *uint           `gorm:"uniqueIndex:idx_node_parent_number" json:"parent_node_id"`
	DisplayName    string          `gorm:"not null" json:"display_name"`
	DisplayNumber  string          `gorm:"type:varchar(64);uniqueIndex:idx_node_parent_number" json:"display_number"` // root-to-node path, e.g. "1.2.1"
	Slug           string          `gorm:"type:varchar(160);index" json:"slug"`
	Location       string          `json:"location"`
	CommissionRate decimal.Decimal `gorm:"type:numeric(6,4);not null" json:"commission_rate"` // fraction of revenue, 0..1
	Status         NodeStatus      `gorm:"type:varchar(16);not null;default:'active'" json:"status"`

	Timestamps
}

// Depth is the number of edges between the node and its root, read from
// the materialized display number.
func (n *Node) Depth() int {
	if n.DisplayNumber == "" {
		return 0
	}
	return strings.Count(n.DisplayNumber, ".") + 1
}
