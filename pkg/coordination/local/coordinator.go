// Package local is a single-process Coordinator for the all-in-one server
// and tests. Elections and node leases live in memory.
package local

import (
	"context"
	"sort"
	"sync"
	"time"

	"sjscal/pkg/coordination"
)

type Coordinator struct {
	mu       sync.Mutex
	leaders  map[string]string
	released map[string]chan struct{}
	nodes    map[string]nodeLease
	now      func() time.Time
}

type nodeLease struct {
	status  string
	expires time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		leaders:  make(map[string]string),
		released: make(map[string]chan struct{}),
		nodes:    make(map[string]nodeLease),
		now:      time.Now,
	}
}

func (c *Coordinator) NewElection(name string) coordination.Election {
	return &election{c: c, name: name}
}

func (c *Coordinator) RegisterNode(ctx context.Context, nodeID, status string, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[nodeID] = nodeLease{
		status:  status,
		expires: c.now().Add(time.Duration(ttlSeconds) * time.Second),
	}
	return nil
}

func (c *Coordinator) GetActiveNodes(ctx context.Context) ([]coordination.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	nodes := make([]coordination.Node, 0, len(c.nodes))
	for id, lease := range c.nodes {
		if now.After(lease.expires) {
			delete(c.nodes, id)
			continue
		}
		nodes = append(nodes, coordination.Node{ID: id, Status: lease.status})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (c *Coordinator) Close() error {
	return nil
}

type election struct {
	c    *Coordinator
	name string
	held bool
}

func (e *election) Campaign(ctx context.Context, value string) error {
	for {
		e.c.mu.Lock()
		if _, taken := e.c.leaders[e.name]; !taken {
			e.c.leaders[e.name] = value
			e.c.released[e.name] = make(chan struct{})
			e.held = true
			e.c.mu.Unlock()
			return nil
		}
		wait := e.c.released[e.name]
		e.c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *election) Resign(ctx context.Context) error {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	if !e.held {
		return nil
	}
	e.held = false
	delete(e.c.leaders, e.name)
	if ch, ok := e.c.released[e.name]; ok {
		close(ch)
		delete(e.c.released, e.name)
	}
	return nil
}

func (e *election) Leader(ctx context.Context) (string, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	leader, ok := e.c.leaders[e.name]
	if !ok {
		return "", coordination.ErrNoLeader
	}
	return leader, nil
}
