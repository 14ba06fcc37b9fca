package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap is the watch view's key bindings.
type keyMap struct {
	Quit      key.Binding
	ToggleDAG key.Binding
	Help      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		ToggleDAG: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "toggle graph"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more help"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.ToggleDAG, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.ToggleDAG}, {k.Help, k.Quit}}
}
