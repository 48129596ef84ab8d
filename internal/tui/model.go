package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/qdash-dev/copilot/internal/copilot"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/qdash-dev/copilot/internal/recovery"
	"github.com/qdash-dev/copilot/internal/render"
	"github.com/qdash-dev/copilot/internal/session"
)

const (
	// header, status line, input and footer
	chromeHeight = 7
	minViewport  = 3
)

// Model is the chat screen.
type Model struct {
	ctrl     *copilot.Controller
	sessions *session.Store

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	snap     copilot.Snapshot
	style    string
	renderer *render.Renderer
	// rendered assistant content by raw content, reset on resize
	cache map[string]string

	// reloaded on external changes; a reload waits while a request runs
	sessionsPath  string
	reloadPending bool

	width  int
	height int
	ready  bool
	notice string
}

func NewModel(ctrl *copilot.Controller, style string) Model {
	input := textinput.New()
	input.Placeholder = "Ask about your chip, qubits or last calibration..."
	input.Prompt = "› "
	input.CharLimit = 4000
	input.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPrimary)).Bold(true)
	input.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorText))
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	return Model{
		ctrl:     ctrl,
		sessions: ctrl.Sessions(),
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		style:    style,
		renderer: render.NewRenderer(76, style),
		cache:    make(map[string]string),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func sendCmd(ctrl *copilot.Controller, text string) tea.Cmd {
	return func() tea.Msg {
		err := recovery.Run("copilot-send", func() error {
			return ctrl.SendMessage(context.Background(), text)
		})
		return sendDoneMsg{err: err}
	}
}

// Cancel notifies through program.Send, so it must not run on the update loop.
func cancelCmd(ctrl *copilot.Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Cancel()
		return canceledMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, minViewport)
		m.input.Width = max(msg.Width-4, 10)
		m.renderer = render.NewRenderer(msg.Width-4, m.style)
		m.cache = make(map[string]string)
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "esc":
			if m.snap.Loading {
				return m, cancelCmd(m.ctrl)
			}
			return m, nil

		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.notice = ""
			return m, sendCmd(m.ctrl, text)

		// the transcript is redrawn when the store reports the change
		case "ctrl+n":
			m.ctrl.NewSession()
			m.notice = "started a new session"
			return m, nil

		case "ctrl+l":
			if m.sessions.ClearActiveSession() {
				m.notice = "session cleared"
			}
			return m, nil

		case "ctrl+d":
			m.deleteActive()
			return m, nil

		case "tab":
			m.cycleSession()
			return m, nil

		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case copilotUpdateMsg:
		m.snap = msg.Snapshot
		return m, nil

	case storeChangedMsg:
		m.refresh()
		return m, nil

	case sendDoneMsg:
		m.snap = m.ctrl.Snapshot()
		if m.reloadPending && !m.snap.Loading {
			m.reloadSessions()
		}
		return m, nil

	case fileChangedMsg:
		if m.snap.Loading {
			m.reloadPending = true
			return m, nil
		}
		m.reloadSessions()
		return m, nil

	case canceledMsg:
		m.notice = "request canceled"
		m.snap = m.ctrl.Snapshot()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// deleteActive removes the active session and selects the newest remaining one.
func (m *Model) deleteActive() {
	id := m.sessions.ActiveSessionID()
	if id == "" || !m.sessions.DeleteSession(id) {
		return
	}
	m.notice = "session deleted"
	if list := m.sessions.List(); len(list) > 0 {
		m.sessions.SwitchSession(list[0].ID)
	}
}

func (m *Model) reloadSessions() {
	m.reloadPending = false
	if m.sessionsPath == "" {
		return
	}
	if err := m.sessions.Reload(m.sessionsPath); err != nil {
		logger.Warnf("failed to reload sessions: %v", err)
		return
	}
	if m.sessions.ActiveSessionID() == "" {
		if list := m.sessions.List(); len(list) > 0 {
			m.sessions.SwitchSession(list[0].ID)
		}
	}
	m.refresh()
}

func (m *Model) cycleSession() {
	list := m.sessions.List()
	if len(list) < 2 {
		return
	}
	active := m.sessions.ActiveSessionID()
	next := list[0].ID
	for i, s := range list {
		if s.ID == active {
			next = list[(i+1)%len(list)].ID
			break
		}
	}
	m.sessions.SwitchSession(next)
	m.notice = ""
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m *Model) transcript() string {
	sess := m.sessions.ActiveSession()
	if sess == nil || len(sess.Messages) == 0 {
		return mutedStyle.Render("No messages yet. Type a question and press enter.")
	}

	width := max(m.width-4, 20)
	var b strings.Builder
	for i, msg := range sess.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case session.RoleUser:
			b.WriteString(userLabelStyle.Render("You") + "\n")
			b.WriteString(lipgloss.NewStyle().Width(width).Render(msg.Content))
		default:
			b.WriteString(assistantLabelStyle.Render("Copilot") + "\n")
			b.WriteString(m.renderAssistant(msg.Content))
		}
	}
	return b.String()
}

func (m *Model) renderAssistant(content string) string {
	if strings.HasPrefix(content, "Error: ") {
		return errorStyle.Render(content)
	}
	if out, ok := m.cache[content]; ok {
		return out
	}
	out := m.renderer.Content(content)
	m.cache[content] = out
	return out
}

func (m Model) header() string {
	title := "no session"
	position := ""
	if sess := m.sessions.ActiveSession(); sess != nil {
		title = sess.Title
		list := m.sessions.List()
		for i, s := range list {
			if s.ID == sess.ID {
				position = fmt.Sprintf(" (%d/%d)", i+1, len(list))
				break
			}
		}
	}
	return headerStyle.Width(max(m.width, 20)).Render(
		fmt.Sprintf("QDash Copilot · %s%s · %s", title, position, m.ctrl.Mode()))
}

func (m Model) statusLine() string {
	switch {
	case m.snap.Loading:
		status := m.snap.Status
		if status == "" {
			status = "Thinking..."
		}
		line := m.spinner.View() + " " + statusStyle.Render(status)
		for _, tool := range m.snap.CompletedTools {
			line += "  " + toolStyle.Render("✓ "+tool)
		}
		return line
	case m.snap.Err != "":
		return errorStyle.Render("Error: " + m.snap.Err)
	case m.notice != "":
		return mutedStyle.Render(m.notice)
	}
	return ""
}

func (m Model) footer() string {
	keys := []string{
		keyStyle.Render("enter") + " send",
		keyStyle.Render("esc") + " cancel",
		keyStyle.Render("ctrl+n") + " new",
		keyStyle.Render("tab") + " next",
		keyStyle.Render("ctrl+l") + " clear",
		keyStyle.Render("ctrl+d") + " delete",
		keyStyle.Render("ctrl+c") + " quit",
	}
	return footerStyle.Width(max(m.width, 20)).Render(strings.Join(keys, "  "))
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.viewport.View(),
		m.statusLine(),
		m.input.View(),
		m.footer(),
	)
}
