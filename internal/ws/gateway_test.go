package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"peerchat/internal/chat"
	"peerchat/internal/event"
	"peerchat/internal/identity"
	"peerchat/internal/middleware"
	"peerchat/internal/presence"
	"peerchat/internal/registry"
	"peerchat/internal/signal"
)

// stubStore keeps messages in memory.
type stubStore struct {
	mu       sync.Mutex
	messages []chat.Message
}

func (s *stubStore) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *stubStore) Conversation(ctx context.Context, userA, userB string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, m := range s.messages {
		if (m.SenderID == userA && m.RecipientID == userB) || (m.SenderID == userB && m.RecipientID == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubStore) Ping(ctx context.Context) error { return nil }

// stubVerifier treats the token itself as the user id.
type stubVerifier struct{}

func (stubVerifier) VerifyToken(token string) (identity.Identity, error) {
	return identity.Identity{ID: token, Name: token + "-name"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	reg := registry.New()
	relay := chat.NewRelay(&stubStore{}, reg, zerolog.Nop(), 3)
	coord := signal.NewCoordinator(reg, zerolog.Nop(), time.Minute)
	// Dead redis address: presence failures are logged and swallowed, which
	// is exactly the degradation the gateway promises.
	pres := presence.NewAnnouncer(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), zerolog.Nop(), time.Second)
	gw := NewGateway(reg, relay, coord, pres, zerolog.Nop())

	auth := middleware.NewAuth(stubVerifier{})
	srv := httptest.NewServer(auth.Handle(http.HandlerFunc(gw.ServeWS)))
	t.Cleanup(srv.Close)
	return srv, reg
}

// dial connects as userID and waits until the gateway has registered the
// connection, so a frame sent right after cannot race the registration.
func dial(t *testing.T, srv *httptest.Server, reg *registry.Registry, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return reg.IsOnline(userID) }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	frame, err := event.Encode(kind, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) event.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := event.Decode(raw)
	require.NoError(t, err)
	return env
}

func TestGateway_RefusesMissingToken(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_MessageDeliveredToRecipient(t *testing.T) {
	req := require.New(t)
	srv, reg := newTestServer(t)

	aliceConn := dial(t, srv, reg, "alice")
	bobConn := dial(t, srv, reg, "bob")

	sendFrame(t, aliceConn, event.KindSendMessage, event.SendMessage{
		RecipientID: "bob",
		Body:        "hi bob",
	})

	env := readFrame(t, bobConn)
	req.Equal(event.KindMessageReceived, env.Event)

	var p event.MessageReceived
	req.NoError(json.Unmarshal(env.Data, &p))
	req.Equal("hi bob", p.Body)
	req.Equal("alice", p.SenderID)
	req.Equal("alice-name", p.SenderName)
	req.NotEmpty(p.MessageID)
	req.False(p.Timestamp.IsZero())
}

func TestGateway_EmptyBodyIsRejected(t *testing.T) {
	req := require.New(t)
	srv, reg := newTestServer(t)

	aliceConn := dial(t, srv, reg, "alice")
	sendFrame(t, aliceConn, event.KindSendMessage, event.SendMessage{
		RecipientID: "bob",
		Body:        "   ",
	})

	env := readFrame(t, aliceConn)
	req.Equal(event.KindError, env.Event)
	var p event.Error
	req.NoError(json.Unmarshal(env.Data, &p))
	req.Equal("validation", p.Code)
}

func TestGateway_UnknownEvent(t *testing.T) {
	req := require.New(t)
	srv, reg := newTestServer(t)

	conn := dial(t, srv, reg, "alice")
	sendFrame(t, conn, "time-travel", struct{}{})

	env := readFrame(t, conn)
	req.Equal(event.KindError, env.Event)
}

func TestGateway_CallFlow(t *testing.T) {
	req := require.New(t)
	srv, reg := newTestServer(t)

	aliceConn := dial(t, srv, reg, "alice")
	bobConn := dial(t, srv, reg, "bob")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	candidate := json.RawMessage(`{"candidate":"candidate:1"}`)

	// alice rings bob
	sendFrame(t, aliceConn, event.KindCallInitiate, event.CallInitiate{CalleeID: "bob", Offer: offer})
	env := readFrame(t, bobConn)
	req.Equal(event.KindCallIncoming, env.Event)
	var incoming event.CallIncoming
	req.NoError(json.Unmarshal(env.Data, &incoming))
	req.Equal("alice", incoming.CallerID)
	req.JSONEq(string(offer), string(incoming.Offer))

	// bob answers
	sendFrame(t, bobConn, event.KindCallAccept, event.CallAccept{CallerID: "alice", Answer: answer})
	env = readFrame(t, aliceConn)
	req.Equal(event.KindCallAccepted, env.Event)

	// candidates trickle
	sendFrame(t, bobConn, event.KindCallICE, event.CallICE{TargetID: "alice", Candidate: candidate})
	env = readFrame(t, aliceConn)
	req.Equal(event.KindCallICE, env.Event)

	// alice hangs up, bob is told
	sendFrame(t, aliceConn, event.KindCallHangup, event.CallHangup{TargetID: "bob"})
	env = readFrame(t, bobConn)
	req.Equal(event.KindCallEnded, env.Event)
	var ended event.CallEnded
	req.NoError(json.Unmarshal(env.Data, &ended))
	req.Equal(event.ReasonHangup, ended.Reason)
}

func TestGateway_CalleeUnavailable(t *testing.T) {
	req := require.New(t)
	srv, reg := newTestServer(t)

	aliceConn := dial(t, srv, reg, "alice")
	sendFrame(t, aliceConn, event.KindCallInitiate, event.CallInitiate{
		CalleeID: "nobody",
		Offer:    json.RawMessage(`{"type":"offer"}`),
	})

	env := readFrame(t, aliceConn)
	req.Equal(event.KindCallEnded, env.Event)
	var ended event.CallEnded
	req.NoError(json.Unmarshal(env.Data, &ended))
	req.Equal(event.ReasonUnavailable, ended.Reason)
}

func TestGateway_TransportCloseEndsCall(t *testing.T) {
	req := require.New(t)
	srv, reg := newTestServer(t)

	aliceConn := dial(t, srv, reg, "alice")
	bobConn := dial(t, srv, reg, "bob")

	offer := json.RawMessage(`{"type":"offer"}`)
	answer := json.RawMessage(`{"type":"answer"}`)

	sendFrame(t, aliceConn, event.KindCallInitiate, event.CallInitiate{CalleeID: "bob", Offer: offer})
	env := readFrame(t, bobConn)
	req.Equal(event.KindCallIncoming, env.Event)
	sendFrame(t, bobConn, event.KindCallAccept, event.CallAccept{CallerID: "alice", Answer: answer})
	env = readFrame(t, aliceConn)
	req.Equal(event.KindCallAccepted, env.Event)

	// When bob's transport closes mid-call
	bobConn.Close()

	// Then alice receives exactly one call-ended for the torn-down session
	env = readFrame(t, aliceConn)
	req.Equal(event.KindCallEnded, env.Event)
	var ended event.CallEnded
	req.NoError(json.Unmarshal(env.Data, &ended))
	req.Equal(event.ReasonDisconnected, ended.Reason)
	req.Equal("bob", ended.TargetID)
}
