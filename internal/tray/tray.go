// Package tray provides a system tray menu for the headcount people counter.
package tray

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/ayusman/headcount/internal/zone"
)

// refreshInterval is how often the count items are redrawn.
const refreshInterval = time.Second

// Counter is the live counting state shown in the menu.
type Counter interface {
	ZoneName() string
	Counters() zone.Snapshot
	SetEnabled(enabled bool)
	IsEnabled() bool
}

// Tray represents the system tray application.
type Tray struct {
	counter    Counter
	onLiveView func()
	onQuit     func()
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuInside *systray.MenuItem
	menuTotals *systray.MenuItem
	menuToggle *systray.MenuItem
	stop       chan struct{}
}

// New creates a new Tray showing c.
func New(c Counter) *Tray {
	return &Tray{counter: c, stop: make(chan struct{})}
}

// OnLiveView sets the callback function to be called when the live view menu item is clicked.
func (t *Tray) OnLiveView(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLiveView = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application. It must be called from the main
// goroutine and blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("headcount")
	systray.SetTooltip("headcount: " + t.counter.ZoneName())

	inside, totals := countLabels(t.counter.Counters())
	t.menuInside = systray.AddMenuItem(inside, "People currently inside the zone")
	t.menuInside.Disable()
	t.menuTotals = systray.AddMenuItem(totals, "Crossings since start or last reset")
	t.menuTotals.Disable()
	systray.AddSeparator()

	t.menuToggle = systray.AddMenuItem(toggleLabel(t.counter.IsEnabled()), "Pause or resume counting")
	menuLiveView := systray.AddMenuItem("Open Live View…", "Open the annotated stream in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit headcount")

	go t.refresh()

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuLiveView.ClickedCh:
				t.handleLiveView()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			case <-t.stop:
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {
	close(t.stop)
}

// refresh redraws the count items until the tray exits.
func (t *Tray) refresh() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			inside, totals := countLabels(t.counter.Counters())
			t.menuInside.SetTitle(inside)
			t.menuTotals.SetTitle(totals)
			t.menuToggle.SetTitle(toggleLabel(t.counter.IsEnabled()))
		}
	}
}

// handleToggle flips counting on or off.
func (t *Tray) handleToggle() {
	enabled := !t.counter.IsEnabled()
	t.counter.SetEnabled(enabled)
	t.menuToggle.SetTitle(toggleLabel(enabled))
}

// handleLiveView handles the live view menu item click.
func (t *Tray) handleLiveView() {
	t.mu.RLock()
	callback := t.onLiveView
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

func countLabels(s zone.Snapshot) (inside, totals string) {
	return fmt.Sprintf("Inside: %d", s.Inside), fmt.Sprintf("Entries: %d / Exits: %d", s.Entries, s.Exits)
}

func toggleLabel(enabled bool) string {
	if enabled {
		return "Pause Counting"
	}
	return "Resume Counting"
}
