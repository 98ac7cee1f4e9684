// messages/messages.go
package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ViniZap4/ytnotes-server/domain"
)

type Action string

const (
	ActionAddNoteFromContextMenu Action = "addNoteFromContextMenu"
	ActionSaveNote               Action = "saveNote"
	ActionGetAuthToken           Action = "getAuthToken"
	ActionSyncNotes              Action = "syncNotes"
	ActionLogError               Action = "logError"
)

var (
	ErrUnknownAction = errors.New("unknown message action")
	ErrMalformed     = errors.New("malformed message")
)

// Message is implemented only by the variants in this package.
type Message interface {
	Action() Action
	sealed()
}

// AddNoteFromContextMenu asks the page agent in TabID to capture the
// current position and prompt for a note.
type AddNoteFromContextMenu struct {
	TabID string `json:"tabId,omitempty"`
}

type SaveNote struct {
	Note domain.Note `json:"note"`
}

type GetAuthToken struct{}

type SyncNotes struct{}

type ErrorReport struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

type LogError struct {
	Error ErrorReport `json:"error"`
}

func (AddNoteFromContextMenu) Action() Action { return ActionAddNoteFromContextMenu }
func (SaveNote) Action() Action               { return ActionSaveNote }
func (GetAuthToken) Action() Action           { return ActionGetAuthToken }
func (SyncNotes) Action() Action              { return ActionSyncNotes }
func (LogError) Action() Action               { return ActionLogError }

func (AddNoteFromContextMenu) sealed() {}
func (SaveNote) sealed()               {}
func (GetAuthToken) sealed()           {}
func (SyncNotes) sealed()              {}
func (LogError) sealed()               {}

// Response is what the receiver hands back to a sender that waits.
type Response struct {
	Handled bool         `json:"handled"`
	Token   string       `json:"token,omitempty"`
	Note    *domain.Note `json:"note,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type envelope struct {
	Action Action `json:"action"`
}

// Decode parses a {"action": ...} message into its variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	var err error
	switch env.Action {
	case ActionAddNoteFromContextMenu:
		var m AddNoteFromContextMenu
		err = json.Unmarshal(data, &m)
		msg = m
	case ActionSaveNote:
		var m SaveNote
		err = json.Unmarshal(data, &m)
		msg = m
	case ActionGetAuthToken:
		msg = GetAuthToken{}
	case ActionSyncNotes:
		msg = SyncNotes{}
	case ActionLogError:
		var m LogError
		err = json.Unmarshal(data, &m)
		msg = m
	case "":
		return nil, fmt.Errorf("%w: missing action", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Action, err)
	}
	return msg, nil
}

// Handler has one method per message variant, so adding a variant breaks
// every receiver until it handles it.
type Handler interface {
	HandleAddNoteFromContextMenu(ctx context.Context, msg AddNoteFromContextMenu) (Response, error)
	HandleSaveNote(ctx context.Context, msg SaveNote) (Response, error)
	HandleGetAuthToken(ctx context.Context, msg GetAuthToken) (Response, error)
	HandleSyncNotes(ctx context.Context, msg SyncNotes) (Response, error)
	HandleLogError(ctx context.Context, msg LogError) (Response, error)
}

func Dispatch(ctx context.Context, h Handler, msg Message) (Response, error) {
	switch m := msg.(type) {
	case AddNoteFromContextMenu:
		return h.HandleAddNoteFromContextMenu(ctx, m)
	case SaveNote:
		return h.HandleSaveNote(ctx, m)
	case GetAuthToken:
		return h.HandleGetAuthToken(ctx, m)
	case SyncNotes:
		return h.HandleSyncNotes(ctx, m)
	case LogError:
		return h.HandleLogError(ctx, m)
	default:
		return Response{}, fmt.Errorf("%w: %T", ErrUnknownAction, msg)
	}
}

// Sender delivers a message to whichever context receives it.
type Sender interface {
	Send(ctx context.Context, msg Message) (Response, error)
}

// Local sends messages to an in-process Handler.
type Local struct {
	Handler Handler
}

func (l Local) Send(ctx context.Context, msg Message) (Response, error) {
	return Dispatch(ctx, l.Handler, msg)
}
