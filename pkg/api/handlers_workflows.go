package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sjscal/pkg/api/middleware"
	"sjscal/pkg/models"
	"sjscal/pkg/scheduler"
)

// WorkflowResponse is the API representation of a workflow.
type WorkflowResponse struct {
	Name             string     `json:"name"`
	Schedules        []string   `json:"schedules"`
	ManualDispatch   bool       `json:"manual_dispatch"`
	Steps            int        `json:"steps"`
	NextScheduledRun *time.Time `json:"next_scheduled_run"`
}

// listWorkflows handles GET /api/v1/workflows
func (s *Server) listWorkflows(c *gin.Context) {
	now := time.Now()
	defs := s.dispatcher.Workflows()
	response := make([]WorkflowResponse, 0, len(defs))
	for _, def := range defs {
		wf := WorkflowResponse{
			Name:           def.Name,
			Schedules:      def.CronSpecs(),
			ManualDispatch: def.HasManualTrigger(),
			Steps:          len(def.Steps),
		}
		if next, err := scheduler.Upcoming(def, now, 1); err == nil && len(next) == 1 {
			wf.NextScheduledRun = &next[0]
		}
		response = append(response, wf)
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": response,
		"count":     len(response),
	})
}

// dispatchWorkflow handles POST /api/v1/workflows/:name/dispatches. The
// manual trigger takes no inputs; any body is ignored.
func (s *Server) dispatchWorkflow(c *gin.Context) {
	name := c.Param("name")
	if err := s.validator.ValidateName("name", name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.dispatcher.Dispatch(c.Request.Context(), scheduler.Trigger{
		Workflow: name,
		Event:    models.EventWorkflowDispatch,
		Actor:    middleware.Actor(c),
	})
	switch {
	case errors.Is(err, scheduler.ErrUnknownWorkflow):
		s.fail(c, http.StatusNotFound, "workflow not found", nil)
		return
	case errors.Is(err, scheduler.ErrNotDispatchable):
		s.fail(c, http.StatusUnprocessableEntity, "workflow does not accept manual dispatch", nil)
		return
	case err != nil:
		s.fail(c, http.StatusInternalServerError, "failed to dispatch workflow", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "run queued",
		"run_id":  run.ID,
		"status":  run.Status,
	})
}
