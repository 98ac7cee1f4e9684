// popup/controller.go
package popup

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/notes"
)

const EmptyMessage = "No notes in this folder"

type NoteView struct {
	ID          string `json:"id"`
	Timestamp   int    `json:"timestamp"`
	Time        string `json:"time"`
	Description string `json:"description"`
}

// View is what the popup renders: the folder dropdown, the notes of the
// active folder and whether its delete button is enabled.
type View struct {
	Folders         []string   `json:"folders"`
	Active          string     `json:"active"`
	CanDeleteFolder bool       `json:"canDeleteFolder"`
	Notes           []NoteView `json:"notes"`
	EmptyMessage    string     `json:"emptyMessage,omitempty"`
}

// Controller holds one popup's folder selection on top of the shared
// notes service.
type Controller struct {
	svc    *notes.Service
	tabs   host.Tabs
	player host.Player

	mu     sync.Mutex
	active string
}

func NewController(svc *notes.Service, tabs host.Tabs, player host.Player) *Controller {
	return &Controller{svc: svc, tabs: tabs, player: player, active: domain.DefaultFolder}
}

// Load initializes the Store if needed and renders the active folder.
// A selection whose folder no longer exists falls back to Default.
func (c *Controller) Load(ctx context.Context) (View, error) {
	if _, err := c.svc.Initialize(ctx); err != nil {
		return View{}, err
	}
	return c.view(ctx)
}

func (c *Controller) Select(ctx context.Context, folder string) (View, error) {
	folders, err := c.svc.Folders(ctx)
	if err != nil {
		return View{}, err
	}
	folder = notes.ResolveFolder(folder)
	if !slices.Contains(folders, folder) {
		return View{}, domain.ErrFolderNotFound
	}
	c.setActive(folder)
	return c.view(ctx)
}

// CreateFolder creates name and makes it the active folder.
func (c *Controller) CreateFolder(ctx context.Context, name string) (View, error) {
	created, err := c.svc.CreateFolder(ctx, name)
	if err != nil {
		return View{}, err
	}
	c.setActive(created)
	return c.view(ctx)
}

// DeleteFolder removes the active folder and its notes once the user has
// confirmed, then selects Default. Without confirmation nothing changes.
func (c *Controller) DeleteFolder(ctx context.Context, confirmed bool) (View, error) {
	active := c.Active()
	if active == domain.DefaultFolder {
		return View{}, domain.ErrDefaultFolderProtected
	}
	if !confirmed {
		return c.view(ctx)
	}
	if err := c.svc.DeleteFolder(ctx, active); err != nil && !errors.Is(err, domain.ErrFolderNotFound) {
		return View{}, err
	}
	c.setActive(domain.DefaultFolder)
	return c.view(ctx)
}

// AddNote validates the text, reads the playback position of the active
// tab and appends the note to the active folder.
func (c *Controller) AddNote(ctx context.Context, description string) (domain.Note, View, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.Note{}, View{}, domain.ErrEmptyDescription
	}

	tab, err := c.tabs.Active(ctx)
	if err != nil {
		return domain.Note{}, View{}, err
	}
	pos, err := c.player.Position(ctx, tab.ID)
	if err != nil {
		return domain.Note{}, View{}, err
	}
	ts, err := domain.FloorSeconds(pos)
	if err != nil {
		return domain.Note{}, View{}, err
	}

	note, err := c.svc.CreateNote(ctx, c.Active(), description, ts)
	if err != nil {
		return domain.Note{}, View{}, err
	}
	v, err := c.view(ctx)
	return note, v, err
}

func (c *Controller) DeleteNote(ctx context.Context, id string) (View, error) {
	if _, err := c.svc.DeleteNote(ctx, c.Active(), id); err != nil {
		return View{}, err
	}
	return c.view(ctx)
}

// Seek moves the active tab's video to the note's timestamp.
func (c *Controller) Seek(ctx context.Context, id string) error {
	list, err := c.svc.ListNotes(ctx, c.Active())
	if err != nil {
		return err
	}
	idx := domain.IndexOf(list, id)
	if idx < 0 {
		return domain.ErrNoteNotFound
	}
	tab, err := c.tabs.Active(ctx)
	if err != nil {
		if errors.Is(err, host.ErrNoActiveTab) {
			return nil
		}
		return err
	}
	return c.player.Seek(ctx, tab.ID, list[idx].Timestamp)
}

func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) setActive(folder string) {
	c.mu.Lock()
	c.active = folder
	c.mu.Unlock()
}

func (c *Controller) view(ctx context.Context) (View, error) {
	st, _, err := c.svc.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}

	active := c.Active()
	if !st.HasFolder(active) {
		active = domain.DefaultFolder
		c.setActive(active)
	}

	v := View{
		Folders:         slices.Clone(st.Folders),
		Active:          active,
		CanDeleteFolder: active != domain.DefaultFolder,
		Notes:           []NoteView{},
	}
	for _, n := range domain.SortNotes(st.Notes[active]) {
		v.Notes = append(v.Notes, NoteView{
			ID:          n.ID,
			Timestamp:   n.Timestamp,
			Time:        domain.FormatTimestamp(n.Timestamp),
			Description: n.Description,
		})
	}
	if len(v.Notes) == 0 {
		v.EmptyMessage = EmptyMessage
	}
	return v, nil
}
