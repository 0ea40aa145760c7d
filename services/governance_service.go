// services/governance_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"match-escrow-system/models"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MaxHierarchyDepth bounds every parent-chain walk.
const MaxHierarchyDepth = 10

type GovernanceService struct {
	DB       *gorm.DB
	Currency string
	Logger   zerolog.Logger

	// Serializes sibling numbering within this process. The unique
	// (parent_id, display_number) index covers other writers.
	createMu sync.Mutex
}

func NewGovernanceService(db *gorm.DB, currency string, logger zerolog.Logger) *GovernanceService {
	return &GovernanceService{
		DB:       db,
		Currency: currency,
		Logger:   logger.With().Str("component", "governance").Logger(),
	}
}

func findNode(tx *gorm.DB, id uint) (*models.Node, error) {
	var node models.Node
	if err := tx.First(&node, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &node, nil
}

func (s *GovernanceService) GetNode(ctx context.Context, id uint) (*models.Node, error) {
	return findNode(s.DB.WithContext(ctx), id)
}

// NodeWallet returns the wallet owned by a node.
func (s *GovernanceService) NodeWallet(ctx context.Context, nodeID uint) (*models.Wallet, error) {
	return nodeWallet(s.DB.WithContext(ctx), nodeID)
}

func nodeWallet(tx *gorm.DB, nodeID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.Where("owner_type = ? AND owner_id = ?", models.OwnerNode, nodeID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("wallet of node %d: %w", nodeID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// CanAdminister reports whether adminNodeID may act on targetNodeID. Any
// break in the chain, a missing node or a chain deeper than MaxHierarchyDepth
// answers false.
func (s *GovernanceService) CanAdminister(ctx context.Context, adminNodeID, targetNodeID uint) (bool, error) {
	if adminNodeID == targetNodeID {
		return true, nil
	}
	db := s.DB.WithContext(ctx)
	admin, err := findNode(db, adminNodeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if admin.Type.IsRoot() {
		return true, nil
	}

	currentID := targetNodeID
	for depth := 0; depth < MaxHierarchyDepth; depth++ {
		node, err := findNode(db, currentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		if node.ParentID == nil {
			return false, nil
		}
		if *node.ParentID == adminNodeID {
			return true, nil
		}
		currentID = *node.ParentID
	}
	s.Logger.Warn().Uint("admin", adminNodeID).Uint("target", targetNodeID).Msg("[GOVERNANCE] hierarchy depth exceeded")
	return false, nil
}

// Authorize returns ErrAuthorizationDenied unless adminNodeID may act on targetNodeID.
func (s *GovernanceService) Authorize(ctx context.Context, adminNodeID, targetNodeID uint) error {
	ok, err := s.CanAdminister(ctx, adminNodeID, targetNodeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("node %d may not administer node %d: %w", adminNodeID, targetNodeID, ErrAuthorizationDenied)
	}
	return nil
}

// SponsorChain returns nodeID and its ancestors, nearest first.
func (s *GovernanceService) SponsorChain(ctx context.Context, nodeID uint) ([]models.Node, error) {
	return sponsorChain(s.DB.WithContext(ctx), nodeID)
}

func sponsorChain(tx *gorm.DB, nodeID uint) ([]models.Node, error) {
	var chain []models.Node
	currentID := nodeID
	for depth := 0; depth <= MaxHierarchyDepth; depth++ {
		node, err := findNode(tx, currentID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *node)
		if node.ParentID == nil {
			return chain, nil
		}
		currentID = *node.ParentID
	}
	return nil, fmt.Errorf("chain of node %d is deeper than %d: %w", nodeID, MaxHierarchyDepth, ErrInvalidArgument)
}

// NewNode describes a node to create beneath ParentID, or a Super root when ParentID is nil.
type NewNode struct {
	ParentID       *uint
	DisplayName    string
	Location       string
	CommissionRate decimal.Decimal
}

// CreateNode inserts a node together with its wallet. The tier and display
// number are derived from the parent and never change afterwards.
func (s *GovernanceService) CreateNode(ctx context.Context, req NewNode) (*models.Node, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		return nil, fmt.Errorf("display name is required: %w", ErrInvalidArgument)
	}
	if req.CommissionRate.IsNegative() || req.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be within [0,1]: %w", ErrInvalidArgument)
	}

	node := &models.Node{
		ParentID:       req.ParentID,
		DisplayName:    req.DisplayName,
		Location:       req.Location,
		CommissionRate: req.CommissionRate,
		Status:         models.NodeActive,
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ParentID == nil {
			node.Type = models.NodeSuper
			node.DisplayNumber = ""
		} else {
			parent, err := findNode(tx, *req.ParentID)
			if err != nil {
				return err
			}
			if parent.Depth()+1 >= MaxHierarchyDepth {
				return fmt.Errorf("node %d is at the maximum depth: %w", parent.ID, ErrInvalidArgument)
			}
			var siblings int64
			if err := tx.Model(&models.Node{}).Where("parent_id = ?", parent.ID).Count(&siblings).Error; err != nil {
				return err
			}
			index := strconv.FormatInt(siblings+1, 10)
			node.Type = parent.Type.ChildType()
			if parent.DisplayNumber == "" {
				node.DisplayNumber = index
			} else {
				node.DisplayNumber = parent.DisplayNumber + "." + index
			}
		}
		node.Slug = slug.Make(strings.TrimSpace(node.DisplayName + " " + node.DisplayNumber))

		if err := tx.Create(node).Error; err != nil {
			return fmt.Errorf("create node: %w", err)
		}
		_, err := openWallet(tx, models.OwnerNode, node.ID, s.Currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info().Uint("node_id", node.ID).Str("type", string(node.Type)).Str("display_number", node.DisplayNumber).
		Msg("[GOVERNANCE] node created")
	return node, nil
}

// EnsureRoot returns the first Super root, creating it when the hierarchy is empty.
func (s *GovernanceService) EnsureRoot(ctx context.Context, name string) (*models.Node, error) {
	root, err := s.Root(ctx)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.CreateNode(ctx, NewNode{DisplayName: name, CommissionRate: decimal.Zero})
}

// Root returns the oldest node without a parent.
func (s *GovernanceService) Root(ctx context.Context) (*models.Node, error) {
	return rootNode(s.DB.WithContext(ctx))
}

func rootNode(tx *gorm.DB) (*models.Node, error) {
	var root models.Node
	err := tx.Where("parent_id IS NULL").Order("id ASC").First(&root).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("root node: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &root, nil
}

// RevenueNode is one node of the revenue report with its subtree.
type RevenueNode struct {
	ID             uint              `json:"id"`
	Type           models.NodeType   `json:"node_type"`
	DisplayName    string            `json:"display_name"`
	DisplayNumber  string            `json:"display_number"`
	Status         models.NodeStatus `json:"status"`
	CommissionRate decimal.Decimal   `json:"commission_rate"`
	Revenue        decimal.Decimal   `json:"total_revenue"`
	CommissionOwed decimal.Decimal   `json:"commission_owed"`
	Children       []RevenueNode     `json:"children"`
}

type feeRow struct {
	OwnerID uint
	Amount  decimal.Decimal
}

// BuildRevenueTree returns the children of rootNodeID (top-level nodes when
// nil), each with its subtree and the fee revenue credited to its wallet.
func (s *GovernanceService) BuildRevenueTree(ctx context.Context, rootNodeID *uint) ([]RevenueNode, error) {
	db := s.DB.WithContext(ctx)

	var nodes []models.Node
	if err := db.Order("id ASC").Find(&nodes).Error; err != nil {
		return nil, err
	}

	var rows []feeRow
	err := db.Table("transactions").
		Select("wallets.owner_id AS owner_id, transactions.amount AS amount").
		Joins("JOIN wallets ON wallets.id = transactions.wallet_id").
		Where("wallets.owner_type = ? AND transactions.kind = ? AND transactions.status = ?",
			models.OwnerNode, models.KindFee, models.TransactionCompleted).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load fee revenue: %w", err)
	}
	revenue := make(map[uint]decimal.Decimal, len(nodes))
	for _, r := range rows {
		revenue[r.OwnerID] = revenue[r.OwnerID].Add(r.Amount)
	}

	children := make(map[uint][]models.Node)
	var roots []models.Node
	for _, n := range nodes {
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		children[*n.ParentID] = append(children[*n.ParentID], n)
	}

	var build func(level []models.Node, depth int) []RevenueNode
	build = func(level []models.Node, depth int) []RevenueNode {
		out := make([]RevenueNode, 0, len(level))
		if depth > MaxHierarchyDepth {
			return out
		}
		for _, n := range level {
			rev := revenue[n.ID]
			out = append(out, RevenueNode{
				ID:             n.ID,
				Type:           n.Type,
				DisplayName:    n.DisplayName,
				DisplayNumber:  n.DisplayNumber,
				Status:         n.Status,
				CommissionRate: n.CommissionRate,
				Revenue:        rev,
				CommissionOwed: rev.Mul(n.CommissionRate),
				Children:       build(children[n.ID], depth+1),
			})
		}
		return out
	}

	if rootNodeID == nil {
		return build(roots, 0), nil
	}
	return build(children[*rootNodeID], 0), nil
}

// ScopedTree is the revenue report visible to nodeID: the whole forest for a
// Super node, otherwise the node itself with its subtree.
func (s *GovernanceService) ScopedTree(ctx context.Context, nodeID uint) ([]RevenueNode, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Type.IsRoot() {
		return s.BuildRevenueTree(ctx, nil)
	}
	subtree, err := s.BuildRevenueTree(ctx, &node.ID)
	if err != nil {
		return nil, err
	}
	rev, err := s.nodeRevenue(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	return []RevenueNode{{
		ID:             node.ID,
		Type:           node.Type,
		DisplayName:    node.DisplayName,
		DisplayNumber:  node.DisplayNumber,
		Status:         node.Status,
		CommissionRate: node.CommissionRate,
		Revenue:        rev,
		CommissionOwed: rev.Mul(node.CommissionRate),
		Children:       subtree,
	}}, nil
}

func (s *GovernanceService) nodeRevenue(ctx context.Context, nodeID uint) (decimal.Decimal, error) {
	wallet, err := s.NodeWallet(ctx, nodeID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	var amounts []decimal.Decimal
	if err := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("wallet_id = ? AND kind = ? AND status = ?", wallet.ID, models.KindFee, models.TransactionCompleted).
		Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, nil
}

// CountNodes backs the command-center summary.
func (s *GovernanceService) CountNodes(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Node{}).Count(&n).Error
	return n, err
}

// CountWallets backs the command-center summary.
func (s *GovernanceService) CountWallets(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Wallet{}).Count(&n).Error
	return n, err
}
