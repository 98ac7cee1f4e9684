// peer/peer.go
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/events"
	"github.com/ViniZap4/ytnotes-server/notes"
	"github.com/ViniZap4/ytnotes-server/ws"
)

const reconnectDelay = 5 * time.Second

// PeerManager maintains outbound WebSocket connections to peer servers and
// applies the change events they send.
type PeerManager struct {
	peerURLs       []string
	hub            *ws.Hub
	svc            *notes.Service
	serverID       string
	log            zerolog.Logger
	dialer         *websocket.Dialer
	token          string
	reconnectDelay time.Duration

	wg sync.WaitGroup
}

type Option func(*PeerManager)

// WithToken sets the credential sent as ?token= when dialing peers whose
// URL does not carry one already. Peers check it like any other client.
func WithToken(token string) Option {
	return func(pm *PeerManager) { pm.token = token }
}

// NewPeerManager creates a manager that will connect to the given peer
// change-feed URLs. It also applies events that peers push on inbound
// connections to the hub.
func NewPeerManager(peerURLs []string, hub *ws.Hub, svc *notes.Service, serverID string, log zerolog.Logger, opts ...Option) *PeerManager {
	pm := &PeerManager{
		peerURLs:       peerURLs,
		hub:            hub,
		svc:            svc,
		serverID:       serverID,
		log:            log.With().Str("component", "peer").Logger(),
		dialer:         websocket.DefaultDialer,
		reconnectDelay: reconnectDelay,
	}
	for _, opt := range opts {
		opt(pm)
	}
	hub.OnPeerMessage(func(raw []byte) { pm.Apply(context.Background(), raw) })
	return pm
}

// Start launches a goroutine for each peer that connects and stays
// connected until ctx ends.
func (pm *PeerManager) Start(ctx context.Context) {
	for _, peerURL := range pm.peerURLs {
		pm.wg.Add(1)
		go func() {
			defer pm.wg.Done()
			pm.connectLoop(ctx, peerURL)
		}()
	}
}

// Wait blocks until every connect loop has stopped.
func (pm *PeerManager) Wait() {
	pm.wg.Wait()
}

func (pm *PeerManager) connectLoop(ctx context.Context, peerURL string) {
	for {
		pm.connectToPeer(ctx, peerURL)
		select {
		case <-ctx.Done():
			return
		case <-time.After(pm.reconnectDelay):
		}
		pm.log.Info().Str("peer", peerURL).Msg("reconnecting to peer")
	}
}

func (pm *PeerManager) connectToPeer(ctx context.Context, peerURL string) {
	u, err := url.Parse(peerURL)
	if err != nil {
		pm.log.Error().Err(err).Str("peer", peerURL).Msg("invalid peer URL")
		return
	}

	q := u.Query()
	q.Set("server_id", pm.serverID)
	if pm.token != "" && q.Get("token") == "" {
		q.Set("token", pm.token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := pm.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		pm.log.Warn().Err(err).Str("peer", peerURL).Msg("failed to connect to peer")
		return
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	pm.log.Info().Str("peer", peerURL).Msg("connected to peer")
	pm.hub.Attach(conn, "", func(raw []byte) { pm.Apply(ctx, raw) })
	pm.log.Info().Str("peer", peerURL).Msg("peer connection lost")
}

// Apply replays one peer event on the local Store. Replays are idempotent:
// already-present notes and folders and already-deleted ones are skipped.
// Events that originated here are ignored.
func (pm *PeerManager) Apply(ctx context.Context, raw []byte) {
	var evt events.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		pm.log.Warn().Err(err).Msg("peer message parse error")
		return
	}
	if evt.Origin == "" || evt.Origin == pm.serverID {
		return
	}

	if err := pm.apply(events.WithOrigin(ctx, evt.Origin), evt); err != nil {
		pm.log.Error().Err(err).Str("type", string(evt.Type)).Str("origin", evt.Origin).Msg("peer sync failed")
	}
}

func (pm *PeerManager) apply(ctx context.Context, evt events.Event) error {
	switch evt.Type {
	case events.FolderCreated:
		return pm.svc.EnsureFolder(ctx, evt.Folder)

	case events.FolderDeleted:
		err := pm.svc.DeleteFolder(ctx, evt.Folder)
		if errors.Is(err, domain.ErrFolderNotFound) || errors.Is(err, domain.ErrDefaultFolderProtected) {
			return nil
		}
		return err

	case events.NoteCreated:
		if evt.Note == nil {
			return nil
		}
		folder := notes.ResolveFolder(evt.Folder)
		if err := pm.svc.EnsureFolder(ctx, folder); err != nil {
			return err
		}
		_, _, err := pm.svc.ImportNote(ctx, folder, *evt.Note)
		return err

	case events.NoteDeleted:
		if evt.Note == nil {
			return nil
		}
		_, err := pm.svc.DeleteNote(ctx, evt.Folder, evt.Note.ID)
		if errors.Is(err, domain.ErrNoteNotFound) || errors.Is(err, domain.ErrFolderNotFound) {
			return nil
		}
		return err

	case events.StoreSynced:
		if evt.Snapshot == nil {
			return nil
		}
		_, err := pm.svc.Merge(ctx, evt.Snapshot)
		return err
	}
	return nil
}

// SyncNow pushes a full snapshot of the local Store to every connected
// peer.
func (pm *PeerManager) SyncNow(ctx context.Context) error {
	st, version, err := pm.svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	return pm.hub.Publish(ctx, events.Event{
		Type:       events.StoreSynced,
		Snapshot:   st,
		Version:    version,
		Origin:     pm.serverID,
		OccurredAt: time.Now().UTC(),
	})
}
