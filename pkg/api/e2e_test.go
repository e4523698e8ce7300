package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjscal/pkg/api/middleware"
	"sjscal/pkg/executor"
	"sjscal/pkg/models"
	"sjscal/pkg/workflow"
)

const e2eWorkflow = `name: e2e
on: workflow_dispatch
steps:
  - name: Generate
    run: mkdir -p output && echo "BEGIN:VCALENDAR" > output/Boat.ics
  - name: Upload
    if: always()
    uses: actions/upload-artifact@v4
    with:
      name: generated-output
      path: output/
`

// TestEndToEnd_DispatchRunDownload drives a manual dispatch through the API,
// a runner node and back out through the run, log and artifact endpoints.
func TestEndToEnd_DispatchRunDownload(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a shell workflow")
	}
	def, err := workflow.Parse([]byte(e2eWorkflow))
	require.NoError(t, err)
	env := newTestEnv(t, middleware.AuthConfig{}, def)

	engine := workflow.NewEngine(workflow.EngineConfig{WorkspaceRoot: t.TempDir(), Blobs: env.blobs})
	runner := executor.NewExecutor(executor.Config{ID: "runner-e2e", Concurrency: 1, HeartbeatInterval: time.Second},
		env.coord, env.queue, env.store, engine, env.disp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	w := env.do("POST", dispatchPath("e2e"))
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decode(t, w)["run_id"].(string)

	var run models.Run
	require.Eventually(t, func() bool {
		w := env.do("GET", "/api/v1/runs/"+runID)
		if w.Code != http.StatusOK {
			return false
		}
		run = models.Run{}
		return json.Unmarshal(w.Body.Bytes(), &run) == nil && run.Status == models.RunCompleted
	}, 15*time.Second, 50*time.Millisecond)

	assert.Equal(t, models.ConclusionSuccess, run.Conclusion)
	require.NotNil(t, run.NodeID)
	assert.Equal(t, "runner-e2e", *run.NodeID)
	require.Len(t, run.Steps, 2)

	w = env.do("GET", "/api/v1/runs/"+runID+"/logs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Run concluded: success")

	w = env.do("GET", "/api/v1/runs/"+runID+"/artifacts/generated-output")
	require.Equal(t, http.StatusOK, w.Code)
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "Boat.ics", zr.File[0].Name)

	w = env.do("GET", "/api/v1/cluster/nodes")
	assert.Equal(t, float64(1), decode(t, w)["count"])
}
