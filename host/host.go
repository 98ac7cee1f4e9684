// Package host describes the browser capabilities the server drives
// through the extension bridge: tabs, script injection, the page's video
// element, modal prompts and context menus.
package host

import (
	"context"
	"errors"
)

var (
	ErrNoActiveTab       = errors.New("no active tab found")
	ErrInjectionFailed   = errors.New("script injection failed")
	ErrBridgeUnavailable = errors.New("extension bridge not connected")
)

type Tab struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

type Tabs interface {
	// Active returns the focused tab of the current window.
	Active(ctx context.Context) (Tab, error)
	// Inject loads the page agent into the tab unless it is already there.
	Inject(ctx context.Context, tabID string) error
}

type Player interface {
	// Position reports the video element's current playback position in
	// seconds. A page without a video element yields domain.ErrNoVideoFound.
	Position(ctx context.Context, tabID string) (float64, error)
	// Seek moves playback to seconds; it does nothing when the page has no
	// video element.
	Seek(ctx context.Context, tabID string, seconds int) error
}

// PromptResult is the outcome of a modal note dialog.
type PromptResult struct {
	Text     string `json:"text"`
	Canceled bool   `json:"canceled"`
}

type Prompter interface {
	Prompt(ctx context.Context, tabID, title string) (PromptResult, error)
}

type MenuItem struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Contexts            []string `json:"contexts"`
	DocumentURLPatterns []string `json:"documentUrlPatterns"`
}

type MenuClick struct {
	MenuItemID string `json:"menuItemId"`
	TabID      string `json:"tabId"`
	PageURL    string `json:"pageUrl,omitempty"`
}

type Menus interface {
	RegisterMenu(ctx context.Context, item MenuItem) error
}

// Platform bundles every capability.
type Platform interface {
	Tabs
	Player
	Prompter
	Menus
}
