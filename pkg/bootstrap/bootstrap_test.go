package bootstrap

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	config "sjscal/configs"
	"sjscal/pkg/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.LoadConfig()
	cfg.BlobDir = t.TempDir()
	cfg.WorkspaceRoot = t.TempDir()
	cfg.WorkflowFile = filepath.Join(t.TempDir(), "missing.yml")
	cfg.JWTSecret = ""
	return cfg
}

func TestBlobs_SelectsBackend(t *testing.T) {
	cfg := testConfig(t)

	blobs, err := Blobs(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.LocalBlobStore{}, blobs)

	cfg.BlobBackend = "ftp"
	_, err = Blobs(context.Background(), cfg)
	assert.Error(t, err)
}

func TestWorkflows_FallsBackToBuiltin(t *testing.T) {
	cfg := testConfig(t)
	blobs, err := Blobs(context.Background(), cfg)
	require.NoError(t, err)

	defs, err := Workflows(cfg, Engine(cfg, blobs, zap.NewNop(), nil))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, []string{"0 0 * * *"}, defs[0].CronSpecs())
}

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	cfg := testConfig(t)

	authCfg, err := Auth(cfg, nil)
	require.NoError(t, err)
	assert.False(t, authCfg.Enabled())

	cfg.JWTSecret = "s3cr3t"
	authCfg, err = Auth(cfg, nil)
	require.NoError(t, err)
	assert.True(t, authCfg.Enabled())
	assert.Nil(t, authCfg.APIKeyStore)
}

func TestScraper_RejectsBadMonth(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScrapeMonth = "June"

	_, err := Scraper(cfg, zap.NewNop(), time.Now())
	assert.Error(t, err)

	cfg.ScrapeMonth = "2024-06"
	s, err := Scraper(cfg, zap.NewNop(), time.Now())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNodeID(t *testing.T) {
	a, b := NodeID("runner"), NodeID("runner")
	assert.True(t, strings.HasPrefix(a, "runner-"))
	assert.NotEqual(t, a, b)
}
