package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/huddlechat/huddle/internal/auth"
	"github.com/huddlechat/huddle/internal/dispatch"
	"github.com/huddlechat/huddle/internal/events"
	"github.com/huddlechat/huddle/internal/outbox"
	"github.com/huddlechat/huddle/internal/registry"
)

// stubStore backs the resolver with fixed workspace membership so presence
// events have somewhere to go.
type stubStore struct {
	workspaceID uuid.UUID
	channelID   uuid.UUID
	members     []uuid.UUID
}

func (s *stubStore) WorkspaceMembers(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	if workspaceID == s.workspaceID {
		return s.members, nil
	}
	return nil, nil
}

func (s *stubStore) ChannelWorkspace(ctx context.Context, channelID uuid.UUID) (uuid.UUID, bool, error) {
	if channelID == s.channelID {
		return s.workspaceID, true, nil
	}
	return uuid.Nil, false, nil
}

func (s *stubStore) DirectParticipants(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, uuid.UUID, bool, error) {
	return uuid.Nil, uuid.Nil, false, nil
}

func (s *stubStore) AIConversationOwner(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}

func (s *stubStore) MessageScope(ctx context.Context, messageID uuid.UUID) (events.Scope, bool, error) {
	return events.Scope{}, false, nil
}

func (s *stubStore) RelevantContacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, []uuid.UUID, error) {
	for _, member := range s.members {
		if member == userID {
			return []uuid.UUID{s.workspaceID}, nil, nil
		}
	}
	return nil, nil, nil
}

type testEnv struct {
	server *httptest.Server
	authn  *auth.TokenAuthenticator
	reg    *registry.Registry
	store  *stubStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := &stubStore{workspaceID: uuid.New()}
	reg := registry.New(registry.DefaultConfig(), clockwork.NewRealClock())
	dispatcher := dispatch.New(reg, store)
	queue := outbox.New(context.Background())
	authn := auth.NewTokenAuthenticator([]byte("gateway-test-secret"))

	handler := NewHandler(reg, dispatcher, queue, authn, DefaultConfig())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, authn: authn, reg: reg, store: store}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/ws"
}

func (e *testEnv) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := e.authn.GenerateToken(userID, time.Minute)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent reads frames until one of the wanted type arrives, skipping
// unrelated presence traffic from parallel connections.
func readEvent(t *testing.T, conn *websocket.Conn, want events.Type) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "no %s event before deadline", want)

		var frame struct {
			Type events.Type    `json:"type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame.Type == want {
			return frame.Data
		}
	}
}

func TestConnectionRejectsInvalidToken(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	// the upgrade itself succeeds; the server then closes with a policy
	// violation instead of registering the connection
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL()+"?token=bogus", nil)
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err = conn.ReadMessage()
	req.Error(err)
	req.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected close code %d, got %v", websocket.ClosePolicyViolation, err)
	req.Equal(0, env.reg.Len())
}

func TestConnectionRejectsMissingToken(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err = conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestConnectionRegistersAndAnnouncesPresence(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	userID := uuid.New()
	env.store.members = []uuid.UUID{userID}

	conn := env.dial(t, userID)

	// the subject is a relevant user of its own presence event
	data := readEvent(t, conn, events.TypeUserOnline)
	req.Equal(userID.String(), data["id"])
	req.Equal(true, data["is_online"])
	req.Equal(1, env.reg.Len())
}

func TestCookieCredential(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	userID := uuid.New()
	env.store.members = []uuid.UUID{userID}

	token, err := env.authn.GenerateToken(userID, time.Minute)
	req.NoError(err)

	header := http.Header{}
	header.Set("Cookie", "access_token="+token)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	req.NoError(err)
	defer conn.Close()

	readEvent(t, conn, events.TypeUserOnline)
	req.Equal(1, env.reg.Len())
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	userID := uuid.New()
	env.store.members = []uuid.UUID{userID}

	conn := env.dial(t, userID)
	readEvent(t, conn, events.TypeUserOnline)

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("this is not json")))

	data := readEvent(t, conn, events.TypeError)
	req.Equal(userID.String(), data["user_id"])
	req.NotEmpty(data["error"])
	req.NotEmpty(data["human_readable_error"])

	// the connection survives a bad frame
	req.Equal(1, env.reg.Len())
}

func TestUnknownEventTypeGetsErrorReply(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	userID := uuid.New()
	env.store.members = []uuid.UUID{userID}

	conn := env.dial(t, userID)
	readEvent(t, conn, events.TypeUserOnline)

	frame := `{"type":"message_exploded","data":{}}`
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	data := readEvent(t, conn, events.TypeError)
	req.Contains(data["error"], "unknown event type")
}

func TestDisconnectAnnouncesOffline(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()
	env.store.members = []uuid.UUID{alice, bob}

	bobConn := env.dial(t, bob)
	readEvent(t, bobConn, events.TypeUserOnline)

	aliceConn := env.dial(t, alice)
	data := readEvent(t, bobConn, events.TypeUserOnline)
	req.Equal(alice.String(), data["id"])

	req.NoError(aliceConn.Close())

	data = readEvent(t, bobConn, events.TypeUserOffline)
	req.Equal(alice.String(), data["id"])
	req.Equal(false, data["is_online"])
}

func TestValidFrameIsDispatchedToRecipients(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()
	env.store.members = []uuid.UUID{alice, bob}
	channelID := uuid.New()
	env.store.channelID = channelID

	aliceConn := env.dial(t, alice)
	readEvent(t, aliceConn, events.TypeUserOnline)
	bobConn := env.dial(t, bob)
	readEvent(t, bobConn, events.TypeUserOnline)

	payload, err := json.Marshal(map[string]any{
		"id":         uuid.NewString(),
		"content":    "hello channel",
		"user_id":    alice.String(),
		"channel_id": channelID.String(),
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	req.NoError(err)
	frame, err := json.Marshal(map[string]json.RawMessage{
		"type": json.RawMessage(`"message_created"`),
		"data": payload,
	})
	req.NoError(err)
	req.NoError(aliceConn.WriteMessage(websocket.TextMessage, frame))

	data := readEvent(t, bobConn, events.TypeMessageCreated)
	req.Equal("hello channel", data["content"])
}

func TestStatsEndpoint(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	userID := uuid.New()
	env.store.members = []uuid.UUID{userID}

	conn := env.dial(t, userID)
	readEvent(t, conn, events.TypeUserOnline)

	resp, err := http.Get(env.server.URL + "/api/ws/stats")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("application/json", resp.Header.Get("Content-Type"))

	var stats struct {
		TotalConnections int `json:"total_connections"`
		PendingDispatch  int `json:"pending_dispatch"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&stats))
	req.Equal(1, stats.TotalConnections)
}
