package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sjscal/pkg/coordination"
	"sjscal/pkg/metrics"
)

// listNodes handles GET /api/v1/cluster/nodes
func (s *Server) listNodes(c *gin.Context) {
	nodes, err := s.coordinator.GetActiveNodes(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to get nodes", err)
		return
	}
	metrics.ActiveNodes.Set(float64(len(nodes)))

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// getLeader handles GET /api/v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	leader, err := s.coordinator.NewElection(s.election).Leader(c.Request.Context())
	if errors.Is(err, coordination.ErrNoLeader) {
		s.fail(c, http.StatusNotFound, "no scheduler leader elected", nil)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to query leader", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"election": s.election,
		"leader":   leader,
	})
}
