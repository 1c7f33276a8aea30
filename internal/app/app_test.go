package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/config"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
	"github.com/whatsapp-automation/orchestrator/internal/salesflow"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Server:   config.ServerConfig{Addr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(dir, "app.db") + "?_busy_timeout=5000"},
		WhatsApp: config.WhatsAppConfig{SessionsDir: filepath.Join(dir, "sessions"), StoreDriver: "sqlite3"},
		Device:   config.DeviceConfig{Seed: "test-seed", Country: "BR"},
		Proxy: config.ProxyConfig{
			Type:           "socks5",
			HealthInterval: time.Hour,
			HealthTarget:   "http://127.0.0.1:1",
			CheckDelay:     time.Millisecond,
		},
		Session:   config.SessionConfig{BatchLimit: 50, ReconnectDelay: time.Second},
		AutoReply: config.AutoReplyConfig{DedupTTL: 5 * time.Hour},
	}
}

func TestNewWiresHealthyApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	_, inMemory := a.Cache.(*cache.MemoryStore)
	assert.True(t, inMemory)

	require.NoError(t, a.Start(ctx))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["database"])
	assert.EqualValues(t, 0, body["connected_sessions"])
}

func TestSimulatedCoverageWithoutViabilityAPI(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	v, err := a.viabilityChecker(logging.Discard()).Check(context.Background(), "01310100", "100")
	require.NoError(t, err)
	assert.True(t, v.Viable)
	assert.NotEmpty(t, v.Plans)

	_, ok := a.viabilityChecker(logging.Discard()).(*salesflow.CachedChecker)
	assert.True(t, ok)
}

func TestNewFailsOnBadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := New(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
