// agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/messages"
)

var ErrCanceled = errors.New("note dialog canceled")

// Agent is the page-side half of note capture: it reads the video
// position, shows the note dialog and hands the result to the coordinator
// as a saveNote message.
type Agent struct {
	player   host.Player
	prompter host.Prompter
	sender   messages.Sender
	log      zerolog.Logger
	now      func() time.Time
}

func New(player host.Player, prompter host.Prompter, sender messages.Sender, log zerolog.Logger) *Agent {
	return &Agent{
		player:   player,
		prompter: prompter,
		sender:   sender,
		log:      log.With().Str("component", "agent").Logger(),
		now:      time.Now,
	}
}

// CaptureTimestamp returns the playback position of the tab's video,
// floored to whole seconds.
func (a *Agent) CaptureTimestamp(ctx context.Context, tabID string) (int, error) {
	pos, err := a.player.Position(ctx, tabID)
	if err != nil {
		if errors.Is(err, domain.ErrNoVideoFound) {
			a.log.Warn().Str("tab", tabID).Msg("no video element found for note creation")
		}
		return 0, err
	}
	return domain.FloorSeconds(pos)
}

// PromptNote captures the position, asks for the note text and saves it
// to the Default folder. Saving blank text keeps the dialog open; Cancel
// returns ErrCanceled without touching the Store.
func (a *Agent) PromptNote(ctx context.Context, tabID string) (domain.Note, error) {
	ts, err := a.CaptureTimestamp(ctx, tabID)
	if err != nil {
		return domain.Note{}, err
	}

	title := "Add Note at " + domain.FormatTimestamp(ts)
	var text string
	for text == "" {
		res, err := a.prompter.Prompt(ctx, tabID, title)
		if err != nil {
			return domain.Note{}, fmt.Errorf("note dialog: %w", err)
		}
		if res.Canceled {
			return domain.Note{}, ErrCanceled
		}
		text = strings.TrimSpace(res.Text)
	}

	note := domain.Note{
		Timestamp:   ts,
		Description: text,
		Folder:      domain.DefaultFolder,
		CreatedAt:   a.now().UTC(),
	}
	resp, err := a.sender.Send(ctx, messages.SaveNote{Note: note})
	if err != nil {
		return domain.Note{}, err
	}
	if resp.Note != nil {
		return *resp.Note, nil
	}
	return note, nil
}

// ReportError relays a page error to the coordinator.
func (a *Agent) ReportError(ctx context.Context, err error, stack string) error {
	_, sendErr := a.sender.Send(ctx, messages.LogError{Error: messages.ErrorReport{
		Message:   err.Error(),
		Stack:     stack,
		Timestamp: a.now().UnixMilli(),
	}})
	return sendErr
}
