package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"portcaisse/internal/domain"
)

// LoginFunc authenticates an operator against the backend.
type LoginFunc func(ctx context.Context, username, password string) (domain.Actor, error)

type loginResultMsg struct {
	actor domain.Actor
	err   error
}

// LoginModel asks for credentials and quits once the operator is signed in.
type LoginModel struct {
	login    LoginFunc
	username textinput.Model
	password textinput.Model
	focus    int
	busy     bool
	err      string
	actor    *domain.Actor
}

func NewLogin(login LoginFunc) LoginModel {
	username := textinput.New()
	username.Placeholder = "utilisateur"
	username.CharLimit = 64
	username.Focus()

	password := textinput.New()
	password.Placeholder = "mot de passe"
	password.CharLimit = 128
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'

	return LoginModel{login: login, username: username, password: password}
}

// Actor returns the signed-in operator, if any.
func (m LoginModel) Actor() (domain.Actor, bool) {
	if m.actor == nil {
		return domain.Actor{}, false
	}
	return *m.actor, true
}

func (m LoginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loginResultMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err.Error()
			m.password.SetValue("")
			return m, nil
		}
		actor := msg.actor
		m.actor = &actor
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab", "shift+tab", "up", "down":
			m = m.toggleFocus()
			return m, textinput.Blink
		case "enter":
			if m.focus == 0 {
				m = m.toggleFocus()
				return m, textinput.Blink
			}
			if m.busy {
				return m, nil
			}
			username := strings.TrimSpace(m.username.Value())
			if username == "" || m.password.Value() == "" {
				m.err = "utilisateur et mot de passe requis"
				return m, nil
			}
			m.busy = true
			m.err = ""
			login, password := m.login, m.password.Value()
			return m, func() tea.Msg {
				actor, err := login(context.Background(), username, password)
				return loginResultMsg{actor: actor, err: err}
			}
		}
	}

	var cmd tea.Cmd
	if m.focus == 0 {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m LoginModel) toggleFocus() LoginModel {
	if m.focus == 0 {
		m.focus = 1
		m.username.Blur()
		m.password.Focus()
	} else {
		m.focus = 0
		m.password.Blur()
		m.username.Focus()
	}
	return m
}

func (m LoginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" Caisse portuaire ") + "\n\n")
	b.WriteString("  " + labelStyle.Render("Utilisateur") + " " + m.username.View() + "\n")
	b.WriteString("  " + labelStyle.Render("Mot de passe") + " " + m.password.View() + "\n\n")
	if m.busy {
		b.WriteString("  " + mutedStyle.Render("connexion...") + "\n")
	}
	if m.err != "" {
		b.WriteString("  " + errorStyle.Render(m.err) + "\n")
	}
	b.WriteString(helpStyle.Render("  entree: valider  esc: quitter"))
	return b.String()
}
