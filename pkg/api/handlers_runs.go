package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sjscal/pkg/models"
	"sjscal/pkg/storage"
)

// listRuns handles GET /api/v1/runs
func (s *Server) listRuns(c *gin.Context) {
	limit, err := s.validator.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runs, err := s.store.ListRuns(c.Request.Context(), c.Query("workflow"), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to list runs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// lookupRun resolves the :id parameter, writing the error response itself.
func (s *Server) lookupRun(c *gin.Context) (*models.Run, bool) {
	id, err := s.validator.ParseRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	run, err := s.store.GetRun(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.fail(c, http.StatusNotFound, "run not found", nil)
		return nil, false
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to load run", err)
		return nil, false
	}
	return run, true
}

// getRun handles GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// getRunLog handles GET /api/v1/runs/:id/logs
func (s *Server) getRunLog(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	if run.LogURI == "" {
		s.fail(c, http.StatusNotFound, "run log not available yet", nil)
		return
	}
	s.streamBlob(c, run.LogURI, "text/plain; charset=utf-8", "")
}

// getArtifact handles GET /api/v1/runs/:id/artifacts/:name
func (s *Server) getArtifact(c *gin.Context) {
	name := c.Param("name")
	if err := s.validator.ValidateName("name", name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	ref, found := run.Artifacts.Find(name)
	if !found {
		s.fail(c, http.StatusNotFound, "artifact not found", nil)
		return
	}
	c.Header("X-Artifact-SHA256", ref.SHA256)
	s.streamBlob(c, ref.URI, "application/zip", name+".zip")
}

func (s *Server) streamBlob(c *gin.Context, ref, contentType, filename string) {
	body, err := s.blobs.Open(c.Request.Context(), ref)
	if errors.Is(err, storage.ErrNotFound) {
		s.fail(c, http.StatusNotFound, "blob not found", nil)
		return
	}
	if err != nil {
		s.fail(c, http.StatusBadGateway, "failed to read blob", err)
		return
	}
	defer body.Close()

	c.Header("Content-Type", contentType)
	if filename != "" {
		c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		_ = c.Error(err)
	}
}
