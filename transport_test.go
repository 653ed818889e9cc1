package chatlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// chatServer accepts live chat connections for one thread and token.
type chatServer struct {
	frames chan map[string]any
	push   chan string
	kick   chan struct{}
}

func newChatServer(t *testing.T, thread, token string) (*httptest.Server, *chatServer) {
	t.Helper()
	cs := &chatServer{
		frames: make(chan map[string]any, 32),
		push:   make(chan string, 8),
		kick:   make(chan struct{}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != LiveChatPath+thread || r.URL.Query().Get("token") != token {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		go func() {
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var m map[string]any
				if json.Unmarshal(data, &m) == nil {
					cs.frames <- m
				}
			}
		}()
		for {
			select {
			case msg := <-cs.push:
				if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					return
				}
			case <-cs.kick:
				_ = conn.Close(websocket.StatusGoingAway, "restarting")
				return
			case <-ctx.Done():
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, cs
}

func (cs *chatServer) next(t *testing.T, typ string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-cs.frames:
			if f["type"] == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("no %q frame received", typ)
			return nil
		}
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	srv, cs := newChatServer(t, "t-9", "tok")
	events := make(chan Event, 8)

	client := NewClient("tok", WithBaseURL(srv.URL))
	rc := client.Realtime("t-9", func(ev Event) { events <- ev }, &RealtimeConfig{
		HeartbeatInterval:  50 * time.Millisecond,
		ReconnectBaseDelay: time.Hour,
		ReconnectMaxDelay:  time.Hour,
	})
	defer rc.Close()

	join := cs.next(t, "join")
	assert.Equal(t, "t-9", join["thread_id"])
	require.Eventually(t, rc.Ready, 3*time.Second, 5*time.Millisecond)

	cs.push <- `{"event":"typing","payload":{"user":"ana"}}`
	select {
	case ev := <-events:
		assert.Equal(t, "typing", ev.Type)
		assert.Equal(t, map[string]any{"user": "ana"}, ev.Data)
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}

	require.True(t, rc.SendMessage("hello"))
	send := cs.next(t, "send")
	assert.Equal(t, map[string]any{"thread_id": "t-9", "body": "hello"}, send["data"])

	ping := cs.next(t, "ping")
	assert.NotZero(t, ping["at"])

	close(cs.kick)
	require.Eventually(t, func() bool { return rc.Attempts() == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.False(t, rc.Ready())
	assert.Equal(t, StateDisconnected, rc.State())
}

func TestWebSocketDialRejected(t *testing.T) {
	srv, _ := newChatServer(t, "t-9", "right")

	client := NewClient("wrong", WithBaseURL(srv.URL))
	rc := client.Realtime("t-9", nil, &RealtimeConfig{ReconnectBaseDelay: time.Hour, ReconnectMaxDelay: time.Hour})
	defer rc.Close()

	require.Eventually(t, func() bool { return rc.Attempts() == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.False(t, rc.Ready())
}

func TestWebSocketDialerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&WebSocketDialer{}).Dial(ctx, "ws://127.0.0.1:1/api/v1/ws/chat/x")
	assert.Error(t, err)
}
