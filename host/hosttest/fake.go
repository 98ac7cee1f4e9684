// Package hosttest provides an in-memory host.Platform for tests.
package hosttest

import (
	"context"
	"sync"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/host"
)

// Page is the simulated state of one tab.
type Page struct {
	URL      string
	HasVideo bool
	Position float64
	Injected bool
}

type Platform struct {
	mu sync.Mutex

	Pages     map[string]*Page
	ActiveTab string
	// InjectErr, when set, fails every injection.
	InjectErr error
	// Prompts answers dialogs in order; an exhausted queue cancels.
	Prompts []host.PromptResult
	// PromptHook runs before a dialog is answered.
	PromptHook func(tabID, title string)

	Titles []string
	Menus  []host.MenuItem
	Seeks  []int
}

func New() *Platform {
	return &Platform{Pages: map[string]*Page{}}
}

// AddVideoTab registers a YouTube tab with a video at position and makes
// it the active tab.
func (p *Platform) AddVideoTab(id string, position float64) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	page := &Page{URL: "https://www.youtube.com/watch?v=" + id, HasVideo: true, Position: position}
	p.Pages[id] = page
	p.ActiveTab = id
	return page
}

func (p *Platform) Active(ctx context.Context) (host.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, ok := p.Pages[p.ActiveTab]
	if !ok {
		return host.Tab{}, host.ErrNoActiveTab
	}
	return host.Tab{ID: p.ActiveTab, URL: page.URL}, nil
}

func (p *Platform) Inject(ctx context.Context, tabID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InjectErr != nil {
		return p.InjectErr
	}
	page, ok := p.Pages[tabID]
	if !ok {
		return host.ErrInjectionFailed
	}
	page.Injected = true
	return nil
}

func (p *Platform) Position(ctx context.Context, tabID string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, ok := p.Pages[tabID]
	if !ok || !page.HasVideo {
		return 0, domain.ErrNoVideoFound
	}
	return page.Position, nil
}

func (p *Platform) Seek(ctx context.Context, tabID string, seconds int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, ok := p.Pages[tabID]
	if !ok || !page.HasVideo {
		return nil
	}
	page.Position = float64(seconds)
	p.Seeks = append(p.Seeks, seconds)
	return nil
}

func (p *Platform) Prompt(ctx context.Context, tabID, title string) (host.PromptResult, error) {
	p.mu.Lock()
	hook := p.PromptHook
	p.Titles = append(p.Titles, title)
	p.mu.Unlock()

	if hook != nil {
		hook(tabID, title)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Prompts) == 0 {
		return host.PromptResult{Canceled: true}, nil
	}
	res := p.Prompts[0]
	p.Prompts = p.Prompts[1:]
	return res, nil
}

func (p *Platform) RegisterMenu(ctx context.Context, item host.MenuItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Menus = append(p.Menus, item)
	return nil
}
