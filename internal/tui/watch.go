package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sadopc/platelog/internal/daylog"
)

const tickInterval = 30 * time.Second

// stateWatcher turns a Session watch channel into Bubble Tea messages. Each
// dayStateMsg must be followed by another next() to keep listening.
type stateWatcher struct {
	ch   <-chan daylog.DayState
	stop func()
}

func newStateWatcher(e Engine) stateWatcher {
	ch, stop := e.Watch()
	return stateWatcher{ch: ch, stop: stop}
}

func (w stateWatcher) next() tea.Cmd {
	if w.ch == nil {
		return nil
	}
	ch := w.ch
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return watchClosedMsg{}
		}
		return dayStateMsg{state: st}
	}
}

func (w stateWatcher) close() {
	if w.stop != nil {
		w.stop()
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
