// ws/bridge.go
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/messages"
)

// Frame types on the bridge socket.
const (
	FrameCall        = "call"
	FrameResult      = "result"
	FrameInstalled   = "installed"
	FrameMenuClicked = "menuClicked"
	FrameMessage     = "message"
	FrameReply       = "reply"
)

// Bridge call methods.
const (
	MethodActiveTab    = "tabs.active"
	MethodInject       = "tabs.inject"
	MethodPosition     = "player.position"
	MethodSeek         = "player.seek"
	MethodPrompt       = "dialog.prompt"
	MethodRegisterMenu = "menus.register"
)

// Frame is one JSON message on the bridge socket. Calls go from the server
// to the extension and are answered by a result with the same ID;
// installed, menuClicked and message frames go the other way and are
// answered by a reply.
type Frame struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type"`
	Method   string             `json:"method,omitempty"`
	Params   json.RawMessage    `json:"params,omitempty"`
	Result   json.RawMessage    `json:"result,omitempty"`
	Error    *FrameError        `json:"error,omitempty"`
	Click    *host.MenuClick    `json:"click,omitempty"`
	Message  json.RawMessage    `json:"message,omitempty"`
	Response *messages.Response `json:"response,omitempty"`
}

type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	code string
	err  error
}{
	{"no_video", domain.ErrNoVideoFound},
	{"no_active_tab", host.ErrNoActiveTab},
	{"injection_failed", host.ErrInjectionFailed},
	{"empty_description", domain.ErrEmptyDescription},
	{"folder_not_found", domain.ErrFolderNotFound},
}

func encodeError(err error) *FrameError {
	if err == nil {
		return nil
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return &FrameError{Code: ec.code, Message: err.Error()}
		}
	}
	return &FrameError{Code: "internal", Message: err.Error()}
}

func decodeError(fe *FrameError) error {
	for _, ec := range errorCodes {
		if ec.code == fe.Code {
			return ec.err
		}
	}
	return errors.New(fe.Message)
}

// BridgeHandler receives what the extension reports.
type BridgeHandler interface {
	OnInstalled(ctx context.Context) error
	OnMenuClicked(ctx context.Context, click host.MenuClick) (domain.Note, error)
	HandleMessage(ctx context.Context, raw []byte) (messages.Response, error)
}

// Bridge drives the browser through the connected extension. It
// implements host.Platform; calls fail with host.ErrBridgeUnavailable
// while no extension is connected.
type Bridge struct {
	timeout       time.Duration
	promptTimeout time.Duration
	log           zerolog.Logger

	mu      sync.Mutex
	current *client
	pending map[string]pendingCall
	handler BridgeHandler
}

// pendingCall waits for the result of one call sent over owner.
type pendingCall struct {
	owner *client
	ch    chan Frame
}

func NewBridge(timeout time.Duration, log zerolog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{
		timeout:       timeout,
		promptTimeout: 10 * time.Minute,
		log:           log.With().Str("component", "bridge").Logger(),
		pending:       make(map[string]pendingCall),
	}
}

func (b *Bridge) SetHandler(h BridgeHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Connected reports whether an extension is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// ServeBridge runs the bridge on an upgraded fiber connection.
func (b *Bridge) ServeBridge(c *websocket.Conn) {
	b.Serve(c)
}

// Serve attaches conn as the extension connection until it closes. A new
// connection replaces the previous one.
func (b *Bridge) Serve(conn Conn) {
	cl := newClient(conn, "", b.log)

	b.mu.Lock()
	prev := b.current
	b.current = cl
	if prev != nil {
		b.failPendingLocked(prev)
	}
	b.mu.Unlock()
	if prev != nil {
		prev.close()
		b.log.Info().Msg("extension connection replaced")
	}
	b.log.Info().Msg("extension connected")

	go cl.writePump()
	cl.readPump(func(data []byte) { b.receive(cl, data) })

	b.mu.Lock()
	if b.current == cl {
		b.current = nil
	}
	b.failPendingLocked(cl)
	b.mu.Unlock()
	b.log.Info().Msg("extension disconnected")
}

// failPendingLocked wakes every call waiting on cl with a closed channel,
// which the caller reports as host.ErrBridgeUnavailable.
func (b *Bridge) failPendingLocked(cl *client) {
	for id, p := range b.pending {
		if p.owner == cl {
			close(p.ch)
			delete(b.pending, id)
		}
	}
}

func (b *Bridge) receive(cl *client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		b.log.Warn().Err(err).Msg("bridge frame parse error")
		return
	}

	if f.Type == FrameResult {
		b.mu.Lock()
		p, ok := b.pending[f.ID]
		if ok && p.owner == cl {
			delete(b.pending, f.ID)
		}
		b.mu.Unlock()
		if ok && p.owner == cl {
			p.ch <- f
		}
		return
	}

	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		b.log.Warn().Str("type", f.Type).Msg("bridge frame before handler set")
		return
	}

	// Handlers call back into the extension, so they cannot run on the
	// read loop.
	go func() {
		reply := Frame{ID: f.ID, Type: FrameReply}
		ctx := context.Background()
		switch f.Type {
		case FrameInstalled:
			reply.Error = encodeError(h.OnInstalled(ctx))
		case FrameMenuClicked:
			if f.Click == nil {
				reply.Error = encodeError(messages.ErrMalformed)
				break
			}
			note, err := h.OnMenuClicked(ctx, *f.Click)
			if err != nil {
				reply.Error = encodeError(err)
				break
			}
			reply.Response = &messages.Response{Handled: true, Note: &note}
		case FrameMessage:
			resp, err := h.HandleMessage(ctx, f.Message)
			if err != nil {
				reply.Error = encodeError(err)
				break
			}
			reply.Response = &resp
		default:
			b.log.Warn().Str("type", f.Type).Msg("unknown bridge frame")
			return
		}
		data, err := json.Marshal(reply)
		if err == nil {
			cl.enqueue(data)
		}
	}()
}

func (b *Bridge) call(ctx context.Context, timeout time.Duration, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	f := Frame{ID: uuid.NewString(), Type: FrameCall, Method: method, Params: raw}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	ch := make(chan Frame, 1)
	b.mu.Lock()
	cl := b.current
	if cl != nil {
		b.pending[f.ID] = pendingCall{owner: cl, ch: ch}
	}
	b.mu.Unlock()
	if cl == nil {
		return host.ErrBridgeUnavailable
	}
	defer func() {
		b.mu.Lock()
		delete(b.pending, f.ID)
		b.mu.Unlock()
	}()

	if !cl.enqueue(data) {
		return host.ErrBridgeUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case res, ok := <-ch:
		if !ok {
			return host.ErrBridgeUnavailable
		}
		if res.Error != nil {
			return decodeError(res.Error)
		}
		if out != nil && len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, out); err != nil {
				return fmt.Errorf("bridge %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge %s: %w", method, ctx.Err())
	}
}

type tabParams struct {
	TabID string `json:"tabId"`
	Title string `json:"title,omitempty"`
}

type seekParams struct {
	TabID   string `json:"tabId"`
	Seconds int    `json:"seconds"`
}

func (b *Bridge) Active(ctx context.Context) (host.Tab, error) {
	var tab host.Tab
	err := b.call(ctx, b.timeout, MethodActiveTab, struct{}{}, &tab)
	if err == nil && tab.ID == "" {
		return host.Tab{}, host.ErrNoActiveTab
	}
	return tab, err
}

func (b *Bridge) Inject(ctx context.Context, tabID string) error {
	return b.call(ctx, b.timeout, MethodInject, tabParams{TabID: tabID}, nil)
}

func (b *Bridge) Position(ctx context.Context, tabID string) (float64, error) {
	var res struct {
		Position *float64 `json:"position"`
	}
	if err := b.call(ctx, b.timeout, MethodPosition, tabParams{TabID: tabID}, &res); err != nil {
		return 0, err
	}
	if res.Position == nil {
		return 0, domain.ErrNoVideoFound
	}
	return *res.Position, nil
}

func (b *Bridge) Seek(ctx context.Context, tabID string, seconds int) error {
	return b.call(ctx, b.timeout, MethodSeek, seekParams{TabID: tabID, Seconds: seconds}, nil)
}

func (b *Bridge) Prompt(ctx context.Context, tabID, title string) (host.PromptResult, error) {
	var res host.PromptResult
	err := b.call(ctx, b.promptTimeout, MethodPrompt, tabParams{TabID: tabID, Title: title}, &res)
	return res, err
}

func (b *Bridge) RegisterMenu(ctx context.Context, item host.MenuItem) error {
	return b.call(ctx, b.timeout, MethodRegisterMenu, item, nil)
}
