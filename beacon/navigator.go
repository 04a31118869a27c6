package beacon

import (
	"context"
	"sync"
	"time"
)

// Direction describes which way history moved for a given visit.
type Direction int

const (
	DirectionPush Direction = iota
	DirectionBack
	DirectionForward
	DirectionReload
)

// HistoryChange is the payload of TopicHistoryChange.
type HistoryChange struct {
	URL       string
	Direction Direction
	Timestamp int64
}

// NavigationState is the payload of TopicNavigationStateChange.
type NavigationState struct {
	CanGoBack     bool
	CanGoForward  bool
	CurrentIndex  int
	HistoryLength int
	Timestamp     int64
}

// Navigator maintains an internal URL history for the preview iframe,
// per spec.md §4.8, including mirroring of child-initiated navigation
// pushed via the beacon:urlChange event.
type Navigator struct {
	b *Beacon

	mu      sync.Mutex
	history []string
	index   int
}

func newNavigator(b *Beacon) *Navigator {
	return &Navigator{b: b, history: nil, index: -1}
}

// CanGoBack reports whether Back would move the current index.
func (n *Navigator) CanGoBack() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index > 0
}

// CanGoForward reports whether Forward would move the current index.
func (n *Navigator) CanGoForward() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index >= 0 && n.index < len(n.history)-1
}

// Visit navigates to url, truncating any forward history.
func (n *Navigator) Visit(ctx context.Context, url string) error {
	n.mu.Lock()
	n.history = append(n.history[:n.index+1], url)
	n.index = len(n.history) - 1
	n.mu.Unlock()

	if err := n.b.send("beacon:visit", map[string]any{"url": url}); err != nil {
		return err
	}
	n.emitHistoryChange(url, DirectionPush)
	return nil
}

// GoBack moves one step back in history, if possible.
func (n *Navigator) GoBack(ctx context.Context) error {
	n.mu.Lock()
	if n.index <= 0 {
		n.mu.Unlock()
		return nil
	}
	n.index--
	url := n.history[n.index]
	n.mu.Unlock()

	if err := n.b.send("beacon:goBack", nil); err != nil {
		return err
	}
	n.emitHistoryChange(url, DirectionBack)
	return nil
}

// GoForward moves one step forward in history, if possible.
func (n *Navigator) GoForward(ctx context.Context) error {
	n.mu.Lock()
	if n.index < 0 || n.index >= len(n.history)-1 {
		n.mu.Unlock()
		return nil
	}
	n.index++
	url := n.history[n.index]
	n.mu.Unlock()

	if err := n.b.send("beacon:goForward", nil); err != nil {
		return err
	}
	n.emitHistoryChange(url, DirectionForward)
	return nil
}

// Reload re-requests the current URL without changing history position.
func (n *Navigator) Reload(ctx context.Context) error {
	n.mu.Lock()
	url := ""
	if n.index >= 0 && n.index < len(n.history) {
		url = n.history[n.index]
	}
	n.mu.Unlock()

	if err := n.b.send("beacon:reload", nil); err != nil {
		return err
	}
	n.emitHistoryChange(url, DirectionReload)
	return nil
}

// mirrorChildNavigation folds a child-initiated beacon:urlChange push into
// local history, per spec.md §4.8's "Listens to beacon urlChange pushes to
// mirror child-initiated navigation into local history."
func (n *Navigator) mirrorChildNavigation(url string) {
	n.mu.Lock()
	n.history = append(n.history[:n.index+1], url)
	n.index = len(n.history) - 1
	n.mu.Unlock()

	n.emitHistoryChange(url, DirectionPush)
}

func (n *Navigator) emitHistoryChange(url string, dir Direction) {
	now := time.Now().UnixMilli()
	n.b.bus.Emit(TopicHistoryChange, HistoryChange{URL: url, Direction: dir, Timestamp: now})

	n.mu.Lock()
	state := NavigationState{
		CanGoBack:     n.index > 0,
		CanGoForward:  n.index >= 0 && n.index < len(n.history)-1,
		CurrentIndex:  n.index,
		HistoryLength: len(n.history),
		Timestamp:     now,
	}
	n.mu.Unlock()

	n.b.bus.Emit(TopicNavigationStateChange, state)
}
