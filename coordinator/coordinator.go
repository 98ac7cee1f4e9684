// coordinator/coordinator.go
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/agent"
	"github.com/ViniZap4/ytnotes-server/auth"
	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/messages"
	"github.com/ViniZap4/ytnotes-server/notes"
)

const MenuItemID = "addYouTubeNote"

var (
	ErrCaptureInProgress = errors.New("note capture already in progress for tab")
	ErrNotYouTube        = errors.New("page is not a YouTube page")
)

var youtubeURL = regexp.MustCompile(`youtube\.com|youtu\.be`)

// IsYouTubeURL reports whether url points at YouTube.
func IsYouTubeURL(url string) bool {
	return youtubeURL.MatchString(url)
}

// Menu is the context-menu entry registered on install.
var Menu = host.MenuItem{
	ID:                  MenuItemID,
	Title:               "Add YouTube Note",
	Contexts:            []string{"video"},
	DocumentURLPatterns: []string{"*://*.youtube.com/*", "*://youtu.be/*"},
}

// State is the capture progress of one tab.
type State int

const (
	Idle State = iota
	Injecting
	Prompting
)

func (s State) String() string {
	switch s {
	case Injecting:
		return "injecting"
	case Prompting:
		return "prompting"
	default:
		return "idle"
	}
}

// Syncer pushes the local Store to replication peers.
type Syncer interface {
	SyncNow(ctx context.Context) error
}

type Coordinator struct {
	svc      *notes.Service
	platform host.Platform
	agent    *agent.Agent
	issuer   *auth.Issuer
	syncer   Syncer
	log      zerolog.Logger

	mu     sync.Mutex
	states map[string]State
}

type Option func(*Coordinator)

func WithIssuer(i *auth.Issuer) Option {
	return func(c *Coordinator) { c.issuer = i }
}

func WithSyncer(s Syncer) Option {
	return func(c *Coordinator) { c.syncer = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l.With().Str("component", "coordinator").Logger() }
}

func New(svc *notes.Service, platform host.Platform, opts ...Option) *Coordinator {
	c := &Coordinator{
		svc:      svc,
		platform: platform,
		log:      zerolog.Nop(),
		states:   map[string]State{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.agent = agent.New(platform, platform, messages.Local{Handler: c}, c.log)
	return c
}

// OnInstalled prepares the Store and registers the context menu.
func (c *Coordinator) OnInstalled(ctx context.Context) error {
	if _, err := c.svc.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	if err := c.platform.RegisterMenu(ctx, Menu); err != nil {
		c.log.Error().Err(err).Msg("context menu registration failed")
		return fmt.Errorf("register menu: %w", err)
	}
	c.log.Info().Msg("extension installed")
	return nil
}

func (c *Coordinator) stateOf(tabID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[tabID]
}

func (c *Coordinator) begin(tabID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[tabID] != Idle {
		return ErrCaptureInProgress
	}
	c.states[tabID] = Injecting
	return nil
}

func (c *Coordinator) advance(tabID string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == Idle {
		delete(c.states, tabID)
		return
	}
	c.states[tabID] = s
}

// OnMenuClicked injects the page agent into the clicked tab and runs the
// note dialog. Clicks on other menu items are ignored. A canceled dialog
// returns agent.ErrCanceled.
func (c *Coordinator) OnMenuClicked(ctx context.Context, click host.MenuClick) (domain.Note, error) {
	if click.MenuItemID != MenuItemID {
		return domain.Note{}, nil
	}
	if click.TabID == "" {
		return domain.Note{}, host.ErrNoActiveTab
	}
	if click.PageURL != "" && !IsYouTubeURL(click.PageURL) {
		return domain.Note{}, ErrNotYouTube
	}

	if err := c.begin(click.TabID); err != nil {
		return domain.Note{}, err
	}
	defer c.advance(click.TabID, Idle)

	log := c.log.With().Str("tab", click.TabID).Logger()
	if err := c.platform.Inject(ctx, click.TabID); err != nil {
		log.Error().Err(err).Msg("injection failed")
		return domain.Note{}, fmt.Errorf("inject agent: %w", err)
	}

	c.advance(click.TabID, Prompting)
	note, err := c.agent.PromptNote(ctx, click.TabID)
	if err != nil {
		if errors.Is(err, agent.ErrCanceled) {
			log.Debug().Msg("note dialog canceled")
			return domain.Note{}, err
		}
		if reportErr := c.agent.ReportError(ctx, err, "capture "+click.TabID); reportErr != nil {
			log.Warn().Err(reportErr).Msg("failed to report capture error")
		}
		return domain.Note{}, err
	}
	return note, nil
}

// HandleMessage decodes and dispatches a raw message. Unknown actions are
// logged and answered with an unhandled response.
func (c *Coordinator) HandleMessage(ctx context.Context, raw []byte) (messages.Response, error) {
	msg, err := messages.Decode(raw)
	if err != nil {
		if errors.Is(err, messages.ErrUnknownAction) {
			c.log.Warn().Str("message", string(raw)).Msg("unhandled message")
			return messages.Response{Handled: false}, nil
		}
		return messages.Response{}, err
	}
	return messages.Dispatch(ctx, c, msg)
}

func (c *Coordinator) HandleAddNoteFromContextMenu(ctx context.Context, msg messages.AddNoteFromContextMenu) (messages.Response, error) {
	tabID := msg.TabID
	if tabID == "" {
		tab, err := c.platform.Active(ctx)
		if err != nil {
			return messages.Response{}, err
		}
		tabID = tab.ID
	}
	note, err := c.OnMenuClicked(ctx, host.MenuClick{MenuItemID: MenuItemID, TabID: tabID})
	if errors.Is(err, agent.ErrCanceled) {
		return messages.Response{Handled: true}, nil
	}
	if err != nil {
		return messages.Response{}, err
	}
	return messages.Response{Handled: true, Note: &note}, nil
}

func (c *Coordinator) HandleSaveNote(ctx context.Context, msg messages.SaveNote) (messages.Response, error) {
	note, _, err := c.svc.ImportNote(ctx, msg.Note.Folder, msg.Note)
	if err != nil {
		return messages.Response{}, err
	}
	return messages.Response{Handled: true, Note: &note}, nil
}

func (c *Coordinator) HandleGetAuthToken(ctx context.Context, msg messages.GetAuthToken) (messages.Response, error) {
	if c.issuer == nil {
		return messages.Response{Handled: false}, nil
	}
	token, _, err := c.issuer.Issue("extension")
	if err != nil {
		return messages.Response{}, err
	}
	return messages.Response{Handled: true, Token: token}, nil
}

func (c *Coordinator) HandleSyncNotes(ctx context.Context, msg messages.SyncNotes) (messages.Response, error) {
	c.mu.Lock()
	syncer := c.syncer
	c.mu.Unlock()
	if syncer == nil {
		return messages.Response{Handled: true}, nil
	}
	if err := syncer.SyncNow(ctx); err != nil {
		return messages.Response{}, fmt.Errorf("sync notes: %w", err)
	}
	return messages.Response{Handled: true}, nil
}

func (c *Coordinator) HandleLogError(ctx context.Context, msg messages.LogError) (messages.Response, error) {
	c.log.Error().
		Str("stack", msg.Error.Stack).
		Int64("reported_at", msg.Error.Timestamp).
		Msg(msg.Error.Message)
	return messages.Response{Handled: true}, nil
}
