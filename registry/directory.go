// Package registry defines the node directory boundary. The directory itself
// is an external collaborator; the settlement core only depends on the
// NodeDirectory interface. An in-memory implementation is provided for
// wiring and tests.
package registry

import (
	"fmt"
	"sync"
)

// NodeStatus is the directory's view of a node's lifecycle
type NodeStatus string

const (
	StatusActive      NodeStatus = "ACTIVE"
	StatusListed      NodeStatus = "LISTED"
	StatusMaintenance NodeStatus = "MAINTENANCE"
	StatusDelisted    NodeStatus = "DELISTED"
)

// NodeInfo is the directory record for one node
type NodeInfo struct {
	NodeID   string     `json:"node_id"`
	Operator string     `json:"operator"`
	Status   NodeStatus `json:"status"`
	Address  string     `json:"address"`
	Capacity int64      `json:"capacity"` // bytes of committed storage
}

// NodeDirectory is the external registry the reward engine consults
type NodeDirectory interface {
	NodeExists(nodeID string) bool
	GetNodeInfo(nodeID string) (*NodeInfo, error)
}

// Rewardable reports whether a node's status makes it eligible for rewards
func Rewardable(status NodeStatus) bool {
	return status == StatusActive || status == StatusListed
}

// Directory is an in-memory NodeDirectory
type Directory struct {
	mu    sync.RWMutex
	nodes map[string]*NodeInfo
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		nodes: make(map[string]*NodeInfo),
	}
}

// Register adds or replaces a node record
func (d *Directory) Register(info *NodeInfo) error {
	if info == nil || info.NodeID == "" {
		return fmt.Errorf("node info requires a node id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *info
	d.nodes[info.NodeID] = &copied
	return nil
}

// SetStatus updates a node's lifecycle status
func (d *Directory) SetStatus(nodeID string, status NodeStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, ok := d.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	info.Status = status
	return nil
}

// NodeExists reports whether the directory knows the node
func (d *Directory) NodeExists(nodeID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.nodes[nodeID]
	return ok
}

// GetNodeInfo returns a copy of the node's directory record
func (d *Directory) GetNodeInfo(nodeID string) (*NodeInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info, ok := d.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s not found", nodeID)
	}

	copied := *info
	return &copied, nil
}
