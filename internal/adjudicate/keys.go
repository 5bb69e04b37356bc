package adjudicate

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Duplicate key.Binding
	Distinct  key.Binding
	Skip      key.Binding
	Back      key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Duplicate: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "duplicate")),
		Distinct:  key.NewBinding(key.WithKeys("k"), key.WithHelp("k", "keep both")),
		Skip:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip")),
		Back:      key.NewBinding(key.WithKeys("b", "left"), key.WithHelp("b", "back")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "save & quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Duplicate, k.Distinct, k.Skip, k.Back, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Duplicate, k.Distinct, k.Skip},
		{k.Back, k.Help, k.Quit},
	}
}
