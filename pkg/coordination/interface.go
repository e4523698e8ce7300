// Package coordination decides which scheduler replica fires triggers and
// tracks which runner nodes are alive.
package coordination

import (
	"context"
	"errors"
)

// ErrNoLeader is returned by Election.Leader when nobody holds the lease.
var ErrNoLeader = errors.New("election: no leader")

// Node is a runner that currently holds a liveness lease.
type Node struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Coordinator handles distributed coordination tasks.
type Coordinator interface {
	// NewElection creates a new election instance for a given campaign name.
	NewElection(name string) Election

	// RegisterNode refreshes a node's liveness lease. Callers invoke it on
	// every heartbeat; the node disappears ttlSeconds after the last call.
	RegisterNode(ctx context.Context, nodeID, status string, ttlSeconds int) error

	// GetActiveNodes lists nodes whose lease has not expired.
	GetActiveNodes(ctx context.Context) ([]Node, error)

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign blocks until leadership is acquired or ctx is done.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value.
	Leader(ctx context.Context) (string, error)
}

// NodeIDs extracts the IDs of nodes.
func NodeIDs(nodes []Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
