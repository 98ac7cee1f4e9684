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

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/events"
	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/messages"
)

var upgrader = websocket.Upgrader{}

func serve(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// fakeExtension answers bridge calls from a table of canned results.
type fakeExtension struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	answers map[string]Frame
	replies chan Frame
}

func dialExtension(t *testing.T, url string, answers map[string]Frame) *fakeExtension {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	ext := &fakeExtension{conn: conn, answers: answers, replies: make(chan Frame, 8)}
	t.Cleanup(func() { conn.Close() })

	go func() {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Type {
			case FrameCall:
				ans, ok := answers[f.Method]
				if !ok {
					continue
				}
				ans.ID = f.ID
				ans.Type = FrameResult
				ext.write(ans)
			case FrameReply:
				ext.replies <- f
			}
		}
	}()
	return ext
}

func (e *fakeExtension) write(f Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn.WriteJSON(f)
}

type stubHandler struct {
	installed int
	clicks    []host.MenuClick
}

func (s *stubHandler) OnInstalled(ctx context.Context) error {
	s.installed++
	return nil
}

func (s *stubHandler) OnMenuClicked(ctx context.Context, click host.MenuClick) (domain.Note, error) {
	s.clicks = append(s.clicks, click)
	if click.TabID == "bad" {
		return domain.Note{}, host.ErrInjectionFailed
	}
	return domain.Note{ID: "n1", Timestamp: 7, Description: "d"}, nil
}

func (s *stubHandler) HandleMessage(ctx context.Context, raw []byte) (messages.Response, error) {
	return messages.Response{Handled: true, Token: string(raw)}, nil
}

func connectBridge(t *testing.T, answers map[string]Frame) (*Bridge, *fakeExtension, *stubHandler) {
	t.Helper()
	bridge := NewBridge(200*time.Millisecond, zerolog.Nop())
	handler := &stubHandler{}
	bridge.SetHandler(handler)
	url := serve(t, func(conn *websocket.Conn, r *http.Request) { bridge.Serve(conn) })
	ext := dialExtension(t, url, answers)
	require.Eventually(t, bridge.Connected, time.Second, 5*time.Millisecond)
	return bridge, ext, handler
}

func TestBridgeUnavailable(t *testing.T) {
	bridge := NewBridge(time.Second, zerolog.Nop())

	_, err := bridge.Active(context.Background())
	assert.ErrorIs(t, err, host.ErrBridgeUnavailable)
	assert.ErrorIs(t, bridge.Seek(context.Background(), "t1", 0), host.ErrBridgeUnavailable)
}

func TestBridgeCalls(t *testing.T) {
	bridge, _, _ := connectBridge(t, map[string]Frame{
		MethodActiveTab: {Result: json.RawMessage(`{"id":"t1","url":"https://youtu.be/x"}`)},
		MethodPosition:  {Result: json.RawMessage(`{"position":61.5}`)},
		MethodInject:    {Error: &FrameError{Code: "injection_failed", Message: "blocked"}},
		MethodPrompt:    {Result: json.RawMessage(`{"text":"hello","canceled":false}`)},
		MethodSeek:      {},
	})
	ctx := context.Background()

	tab, err := bridge.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, host.Tab{ID: "t1", URL: "https://youtu.be/x"}, tab)

	pos, err := bridge.Position(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 61.5, pos)

	assert.ErrorIs(t, bridge.Inject(ctx, "t1"), host.ErrInjectionFailed)

	res, err := bridge.Prompt(ctx, "t1", "Add Note at 1:01")
	require.NoError(t, err)
	assert.Equal(t, host.PromptResult{Text: "hello"}, res)

	assert.NoError(t, bridge.Seek(ctx, "t1", 0))
}

func TestBridgeNoVideo(t *testing.T) {
	bridge, _, _ := connectBridge(t, map[string]Frame{
		MethodPosition: {Result: json.RawMessage(`{"position":null}`)},
	})

	_, err := bridge.Position(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrNoVideoFound)
}

func TestBridgeTimeout(t *testing.T) {
	bridge, _, _ := connectBridge(t, map[string]Frame{})

	err := bridge.RegisterMenu(context.Background(), host.MenuItem{ID: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridgeInboundFrames(t *testing.T) {
	_, ext, handler := connectBridge(t, map[string]Frame{})

	ext.write(Frame{ID: "1", Type: FrameMenuClicked, Click: &host.MenuClick{MenuItemID: "addYouTubeNote", TabID: "t1"}})
	reply := <-ext.replies
	assert.Equal(t, "1", reply.ID)
	require.NotNil(t, reply.Response)
	require.NotNil(t, reply.Response.Note)
	assert.Equal(t, 7, reply.Response.Note.Timestamp)

	ext.write(Frame{ID: "2", Type: FrameMenuClicked, Click: &host.MenuClick{TabID: "bad"}})
	reply = <-ext.replies
	require.NotNil(t, reply.Error)
	assert.Equal(t, "injection_failed", reply.Error.Code)

	ext.write(Frame{ID: "3", Type: FrameMessage, Message: json.RawMessage(`{"action":"syncNotes"}`)})
	reply = <-ext.replies
	require.NotNil(t, reply.Response)
	assert.JSONEq(t, `{"action":"syncNotes"}`, reply.Response.Token)

	ext.write(Frame{ID: "4", Type: FrameInstalled})
	reply = <-ext.replies
	assert.Nil(t, reply.Error)
	assert.Equal(t, 1, handler.installed)
}

func TestHubSkipsOriginPeer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	url := serve(t, func(conn *websocket.Conn, r *http.Request) {
		hub.Serve(conn, r.URL.Query().Get("server_id"))
	})

	peer, _, err := websocket.DefaultDialer.Dial(url+"?server_id=peer-a", nil)
	require.NoError(t, err)
	defer peer.Close()
	viewer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer viewer.Close()

	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, events.Event{Type: events.FolderCreated, Folder: "FromA", Origin: "peer-a"}))
	require.NoError(t, hub.Publish(ctx, events.Event{Type: events.FolderCreated, Folder: "Local", Origin: "self"}))

	var got events.Event
	require.NoError(t, viewer.ReadJSON(&got))
	assert.Equal(t, "FromA", got.Folder)
	require.NoError(t, viewer.ReadJSON(&got))
	assert.Equal(t, "Local", got.Folder)

	require.NoError(t, peer.ReadJSON(&got))
	assert.Equal(t, "Local", got.Folder)
	assert.Equal(t, "self", got.Origin)
}

func TestBridgeReplacedConnectionFailsPendingCalls(t *testing.T) {
	bridge := NewBridge(200*time.Millisecond, zerolog.Nop())
	bridge.SetHandler(&stubHandler{})
	url := serve(t, func(conn *websocket.Conn, r *http.Request) { bridge.Serve(conn) })
	dialExtension(t, url, map[string]Frame{})
	require.Eventually(t, bridge.Connected, time.Second, 5*time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := bridge.Prompt(context.Background(), "t1", "Add Note at 0:01")
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return len(bridge.pending) == 1
	}, time.Second, 5*time.Millisecond)

	dialExtension(t, url, map[string]Frame{})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, host.ErrBridgeUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt still waiting after the extension reconnected")
	}
	assert.True(t, bridge.Connected())
}
