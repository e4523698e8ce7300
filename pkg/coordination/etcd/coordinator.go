package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"sjscal/pkg/coordination"
)

const (
	electionPrefix = "/sjscal/elections/"
	nodePrefix     = "/sjscal/nodes/"
)

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

// NewEtcdCoordinator connects to etcd and opens a session whose lease backs
// every election this coordinator campaigns in.
func NewEtcdCoordinator(endpoints []string, ttl int) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &EtcdCoordinator{
		client:  cli,
		session: sess,
		leases:  make(map[string]clientv3.LeaseID),
	}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *EtcdCoordinator) NewElection(name string) coordination.Election {
	return &EtcdElection{election: concurrency.NewElection(c.session, electionPrefix+name)}
}

// EtcdElection wraps the etcd concurrency.Election struct
type EtcdElection struct {
	election *concurrency.Election
}

func (e *EtcdElection) Campaign(ctx context.Context, value string) error {
	return e.election.Campaign(ctx, value)
}

func (e *EtcdElection) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *EtcdElection) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", coordination.ErrNoLeader
		}
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", coordination.ErrNoLeader
	}
	return string(resp.Kvs[0].Value), nil
}

// RegisterNode keeps one lease per node. The first call grants it; later
// calls refresh it with KeepAliveOnce and rewrite the status. An expired
// lease is granted again.
func (c *EtcdCoordinator) RegisterNode(ctx context.Context, nodeID, status string, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	leaseID, ok := c.leases[nodeID]
	if ok {
		if _, err := c.client.KeepAliveOnce(ctx, leaseID); err != nil {
			ok = false
		}
	}
	if !ok {
		resp, err := c.client.Grant(ctx, int64(ttlSeconds))
		if err != nil {
			return fmt.Errorf("failed to grant lease: %w", err)
		}
		leaseID = resp.ID
		c.leases[nodeID] = leaseID
	}

	if _, err := c.client.Put(ctx, nodePrefix+nodeID, status, clientv3.WithLease(leaseID)); err != nil {
		return fmt.Errorf("failed to put node key: %w", err)
	}
	return nil
}

func (c *EtcdCoordinator) GetActiveNodes(ctx context.Context) ([]coordination.Node, error) {
	resp, err := c.client.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]coordination.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), nodePrefix)
		if id == "" {
			continue
		}
		nodes = append(nodes, coordination.Node{ID: id, Status: string(kv.Value)})
	}
	return nodes, nil
}
