package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/api/rest"
	"github.com/novahr/security-engine/internal/domain/alert"
)

func dialFeed(t *testing.T, hub *Hub, auth *rest.Authenticator, tenantID uuid.UUID) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(auth.Middleware(hub))
	t.Cleanup(server.Close)

	token, err := auth.GenerateToken(tenantID, uuid.New(), "security_analyst")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := map[string][]string{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Registration happens just after the handshake; wait for it so an
	// immediately broadcast event cannot slip past the client.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func feedAlert(t *testing.T, tenantID uuid.UUID) *alert.SecurityAlert {
	t.Helper()
	a, err := alert.NewFromCorrelation(tenantID, "shared_ip", 0.9, "several accounts from one address")
	require.NoError(t, err)
	return a
}

func TestHub_StreamsAlertsToTenantClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	auth := rest.NewAuthenticator("test-secret", time.Hour)
	tenantID := uuid.New()

	conn := dialFeed(t, hub, auth, tenantID)
	require.NoError(t, hub.AlertCreated(context.Background(), feedAlert(t, tenantID)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Event string               `json:"event"`
		Alert *alert.SecurityAlert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "alert.created", event.Event)
	assert.Equal(t, tenantID, event.Alert.TenantID)
}

func TestHub_DoesNotLeakAcrossTenants(t *testing.T) {
	hub := NewHub(zap.NewNop())
	auth := rest.NewAuthenticator("test-secret", time.Hour)

	conn := dialFeed(t, hub, auth, uuid.New())
	require.NoError(t, hub.AlertCreated(context.Background(), feedAlert(t, uuid.New())))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "client must not receive another tenant's alert")
}

func TestHub_RejectsUnauthenticatedUpgrade(t *testing.T) {
	hub := NewHub(zap.NewNop())
	auth := rest.NewAuthenticator("test-secret", time.Hour)
	server := httptest.NewServer(auth.Middleware(hub))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
