package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"YTNOTES_STORE", "YTNOTES_PEERS", "YTNOTES_SERVER_ID", "JWT_SECRET", "BRIDGE_TIMEOUT", "STORE_MAX_RETRIES"} {
		t.Setenv(key, "")
	}

	cfg, _ := Load()
	assert.Equal(t, 5*time.Second, cfg.App.BridgeTimeout)
	assert.Equal(t, 5, cfg.Store.MaxRetries)
	assert.Empty(t, cfg.Sync.Peers)
	assert.NotEmpty(t, cfg.Sync.ServerID)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("YTNOTES_PORT", "9090")
	t.Setenv("YTNOTES_ENV", "production")
	t.Setenv("YTNOTES_STORE", "redis")
	t.Setenv("YTNOTES_PEERS", " ws://a:8080/ws/events , ,ws://b:8080/ws/events")
	t.Setenv("YTNOTES_SERVER_ID", "node-1")
	t.Setenv("BRIDGE_TIMEOUT", "250ms")
	t.Setenv("STORE_MAX_RETRIES", "9")
	t.Setenv("TOKEN_TTL", "not-a-duration")

	cfg, _ := Load()
	assert.Equal(t, "9090", cfg.App.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, []string{"ws://a:8080/ws/events", "ws://b:8080/ws/events"}, cfg.Sync.Peers)
	assert.Equal(t, "node-1", cfg.Sync.ServerID)
	assert.Equal(t, 250*time.Millisecond, cfg.App.BridgeTimeout)
	assert.Equal(t, 9, cfg.Store.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestPeerTokenDefaultsToPassword(t *testing.T) {
	t.Setenv("YTNOTES_PASSWORD", "mesh")
	t.Setenv("YTNOTES_PEER_TOKEN", "")

	cfg, _ := Load()
	assert.Equal(t, "mesh", cfg.Sync.PeerToken)

	t.Setenv("YTNOTES_PEER_TOKEN", "peer-secret")
	cfg, _ = Load()
	assert.Equal(t, "peer-secret", cfg.Sync.PeerToken)
}
