package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjscal/pkg/coordination"
)

func TestElection_SingleLeader(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	first := c.NewElection("scheduler")
	require.NoError(t, first.Campaign(ctx, "sched-a"))

	leader, err := first.Leader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sched-a", leader)

	second := c.NewElection("scheduler")
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, second.Campaign(waitCtx, "sched-b"), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- second.Campaign(ctx, "sched-b") }()

	require.NoError(t, first.Resign(ctx))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second candidate never won after resign")
	}

	leader, err = second.Leader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sched-b", leader)
}

func TestElection_NoLeader(t *testing.T) {
	_, err := NewCoordinator().NewElection("x").Leader(context.Background())
	assert.ErrorIs(t, err, coordination.ErrNoLeader)
}

func TestRegisterNode_Expiry(t *testing.T) {
	c := NewCoordinator()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.RegisterNode(ctx, "runner-b", "ONLINE", 10))
	require.NoError(t, c.RegisterNode(ctx, "runner-a", "BUSY", 30))

	nodes, err := c.GetActiveNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"runner-a", "runner-b"}, coordination.NodeIDs(nodes))
	assert.Equal(t, "BUSY", nodes[0].Status)

	now = now.Add(15 * time.Second)
	nodes, err = c.GetActiveNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"runner-a"}, coordination.NodeIDs(nodes))
}
