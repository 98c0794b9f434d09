package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/dcsf/internal/engine"
	"github.com/verte-zerg/dcsf/internal/model"
)

// Bridge connects the engine loop with the view. Inputs are posted onto the
// loop; engine events come back on a buffered channel that the view drains
// with a command, so neither side blocks the other.
type Bridge struct {
	post  func(func()) bool
	eng   *engine.Engine
	msgs  chan tea.Msg
	done  chan struct{}
	close sync.Once
}

type eventMsg engine.Event

type startErrMsg struct{ err error }

// NewBridge returns a bridge that schedules engine calls with post.
func NewBridge(post func(func()) bool, buffer int) *Bridge {
	if buffer < 1 {
		buffer = 1
	}
	return &Bridge{
		post: post,
		msgs: make(chan tea.Msg, buffer),
		done: make(chan struct{}),
	}
}

// Attach sets the engine driven by the bridge. It must be called before the
// program starts.
func (b *Bridge) Attach(eng *engine.Engine) {
	b.eng = eng
}

// Listener forwards engine events to the view. Pass it to engine.Options.
func (b *Bridge) Listener() engine.Listener {
	return func(ev engine.Event) {
		b.deliver(eventMsg(ev))
	}
}

// Close unblocks the engine loop once the view has stopped reading.
func (b *Bridge) Close() {
	b.close.Do(func() { close(b.done) })
}

func (b *Bridge) deliver(msg tea.Msg) {
	select {
	case b.msgs <- msg:
	case <-b.done:
	}
}

func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.msgs:
			return msg
		case <-b.done:
			return nil
		}
	}
}

// call runs f on the engine loop from a command, off the Update goroutine.
func (b *Bridge) call(f func(*engine.Engine)) tea.Cmd {
	return func() tea.Msg {
		b.post(func() { f(b.eng) })
		return nil
	}
}

func (b *Bridge) start(run model.RunConfig) tea.Cmd {
	return b.call(func(eng *engine.Engine) {
		if err := eng.Start(run); err != nil {
			b.deliver(startErrMsg{err: err})
		}
	})
}

func (b *Bridge) respond(d model.Direction) tea.Cmd {
	return b.call(func(eng *engine.Engine) { eng.SubmitResponse(d) })
}

func (b *Bridge) operator(d model.Direction) tea.Cmd {
	return b.call(func(eng *engine.Engine) { eng.SetOperatorDirection(d) })
}

func (b *Bridge) reset() tea.Cmd {
	return b.call(func(eng *engine.Engine) { eng.Reset() })
}
