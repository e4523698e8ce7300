package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjscal/pkg/models"
)

func TestDecodeRequest(t *testing.T) {
	want := models.RunRequest{
		RunID:    uuid.New(),
		Workflow: "scrape",
		Event:    models.EventSchedule,
		QueuedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := decodeRequest(map[string]interface{}{"payload": string(payload)})
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Event, got.Event)
	assert.True(t, want.QueuedAt.Equal(got.QueuedAt))
}

func TestDecodeRequest_Invalid(t *testing.T) {
	_, err := decodeRequest(map[string]interface{}{"payload": 42})
	assert.Error(t, err)

	_, err = decodeRequest(map[string]interface{}{"payload": "{not json"})
	assert.Error(t, err)
}
