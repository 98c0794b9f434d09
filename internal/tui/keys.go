package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/dcsf/internal/model"
)

type keyMap struct {
	Begin      key.Binding
	Up         key.Binding
	Down       key.Binding
	Left       key.Binding
	Right      key.Binding
	OpUp       key.Binding
	OpDown     key.Binding
	OpLeft     key.Binding
	OpRight    key.Binding
	Reset      key.Binding
	Quit       key.Binding
	ToggleHelp key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Begin:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "begin test")),
		Up:         key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "answer up")),
		Down:       key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "answer down")),
		Left:       key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "answer left")),
		Right:      key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "answer right")),
		OpUp:       key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "show up")),
		OpDown:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "show down")),
		OpLeft:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "show left")),
		OpRight:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "show right")),
		Reset:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		ToggleHelp: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Begin, k.Left, k.Right, k.Reset, k.Quit, k.ToggleHelp}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Begin, k.Reset, k.Quit},
		{k.Up, k.Down, k.Left, k.Right},
		{k.OpUp, k.OpDown, k.OpLeft, k.OpRight},
	}
}

// responseFor maps a subject key to its direction.
func (k keyMap) responseFor(msg tea.KeyMsg) (model.Direction, bool) {
	return k.match(msg, k.Up, k.Down, k.Left, k.Right)
}

// operatorFor maps an operator key to its direction.
func (k keyMap) operatorFor(msg tea.KeyMsg) (model.Direction, bool) {
	return k.match(msg, k.OpUp, k.OpDown, k.OpLeft, k.OpRight)
}

func (k keyMap) match(msg tea.KeyMsg, up, down, left, right key.Binding) (model.Direction, bool) {
	switch {
	case key.Matches(msg, up):
		return model.DirUp, true
	case key.Matches(msg, down):
		return model.DirDown, true
	case key.Matches(msg, left):
		return model.DirLeft, true
	case key.Matches(msg, right):
		return model.DirRight, true
	default:
		return "", false
	}
}
