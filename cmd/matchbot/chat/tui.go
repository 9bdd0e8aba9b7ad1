package chatcmder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/papercomputeco/matchbot/pkg/chat"
	"github.com/papercomputeco/matchbot/pkg/cliui"
)

// header, status line, input and help.
const (
	inputHeight  = 3
	chromeHeight = inputHeight + 4
)

var (
	tuiTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	tuiErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	tuiSpinStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	tuiDividerLine = lipgloss.NewStyle().Foreground(lipgloss.Color("237"))
)

type chatKeyMap struct {
	Send   key.Binding
	Cancel key.Binding
	Clear  key.Binding
	Quit   key.Binding
}

func (k chatKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Cancel, k.Clear, k.Quit}
}

func (k chatKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultChatKeyMap() chatKeyMap {
	return chatKeyMap{
		Send:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop")),
		Clear:  key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "new chat")),
		Quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

type snapshotMsg chat.Snapshot

type exchangeDoneMsg struct {
	err error
}

// snapshotFeed hands snapshots from the session to the UI without ever
// blocking the session. Only the newest undelivered snapshot is kept; each
// one is a complete copy of the conversation, so skipping is harmless.
type snapshotFeed struct {
	ch chan chat.Snapshot
}

func newSnapshotFeed() *snapshotFeed {
	return &snapshotFeed{ch: make(chan chat.Snapshot, 1)}
}

// push is called with the session's publish lock held, so there is a
// single producer.
func (f *snapshotFeed) push(snap chat.Snapshot) {
	for {
		select {
		case f.ch <- snap:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *snapshotFeed) wait(ctx context.Context) bubbletea.Cmd {
	return func() bubbletea.Msg {
		select {
		case snap := <-f.ch:
			return snapshotMsg(snap)
		case <-ctx.Done():
			return nil
		}
	}
}

type chatModel struct {
	ctx     context.Context
	session *chat.Session
	feed    *snapshotFeed

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	keys     chatKeyMap

	width  int
	height int

	snap    chat.Snapshot
	sending bool
	notice  string
	lastErr error

	// rendered markdown of finished assistant turns, keyed by content.
	rendered      map[string]string
	renderedWidth int
}

func runTUI(ctx context.Context, build sessionBuilder) error {
	lipgloss.SetHasDarkBackground(termenv.HasDarkBackground())

	feed := newSnapshotFeed()
	session, err := build(chat.WithListener(feed.push))
	if err != nil {
		return err
	}

	program := bubbletea.NewProgram(newChatModel(ctx, session, feed),
		bubbletea.WithContext(ctx),
		bubbletea.WithAltScreen(),
	)
	_, err = program.Run()
	session.Cancel()
	if errors.Is(err, bubbletea.ErrProgramKilled) {
		return nil
	}
	return err
}

func newChatModel(ctx context.Context, session *chat.Session, feed *snapshotFeed) chatModel {
	input := textarea.New()
	input.Placeholder = "Ask about the people you'd like to meet..."
	input.ShowLineNumbers = false
	input.Prompt = "┃ "
	input.CharLimit = 0
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	return chatModel{
		ctx:      ctx,
		session:  session,
		feed:     feed,
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(tuiSpinStyle)),
		help:     help.New(),
		keys:     defaultChatKeyMap(),
		width:    80,
		height:   20 + chromeHeight,
		rendered: make(map[string]string),
	}
}

func (m chatModel) Init() bubbletea.Cmd {
	return bubbletea.Batch(textarea.Blink, m.spinner.Tick, m.feed.wait(m.ctx))
}

func (m chatModel) Update(msg bubbletea.Msg) (bubbletea.Model, bubbletea.Cmd) {
	switch msg := msg.(type) {
	case bubbletea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 1)
		m.help.Width = msg.Width
		m.refresh()
		return m, nil

	case snapshotMsg:
		m.snap = chat.Snapshot(msg)
		m.refresh()
		return m, m.feed.wait(m.ctx)

	case exchangeDoneMsg:
		m.sending = false
		switch {
		case msg.err == nil:
		case errors.Is(msg.err, context.Canceled):
			m.notice = "Reply stopped."
		case errors.Is(msg.err, chat.ErrBusy):
		default:
			m.lastErr = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		var cmd bubbletea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case bubbletea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd bubbletea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) handleKey(msg bubbletea.KeyMsg) (bubbletea.Model, bubbletea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.session.Cancel()
		return m, bubbletea.Quit

	case key.Matches(msg, m.keys.Cancel):
		m.session.Cancel()
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.clear()
		return m, nil

	case key.Matches(msg, m.keys.Send):
		return m.submit()
	}

	var cmd bubbletea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input, or runs it as a slash command. While an
// exchange is running the input is left in place.
func (m chatModel) submit() (bubbletea.Model, bubbletea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	switch text {
	case "":
		return m, nil
	case cmdExit:
		m.session.Cancel()
		return m, bubbletea.Quit
	case cmdClear:
		m.clear()
		if m.lastErr == nil {
			m.input.Reset()
		}
		return m, nil
	}

	if m.sending || m.session.Busy() {
		return m, nil
	}

	m.sending = true
	m.notice = ""
	m.lastErr = nil
	m.input.Reset()

	ctx, session := m.ctx, m.session
	return m, func() bubbletea.Msg {
		return exchangeDoneMsg{err: session.SendMessage(ctx, text)}
	}
}

func (m *chatModel) clear() {
	if m.sending {
		m.lastErr = chat.ErrBusy
		return
	}
	if err := m.session.Reset(); err != nil {
		m.lastErr = err
		return
	}
	m.lastErr = nil
	m.notice = ""
	m.rendered = make(map[string]string)
}

func (m chatModel) busy() bool {
	return m.sending || m.snap.Busy
}

func (m *chatModel) refresh() {
	if m.renderedWidth != m.viewport.Width {
		m.rendered = make(map[string]string)
		m.renderedWidth = m.viewport.Width
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if atBottom || m.busy() {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) renderConversation() string {
	turns := m.snap.Conversation
	if len(turns) == 0 {
		return tuiMutedStyle.Render("No messages yet. Say hello to get some introductions.")
	}

	width := max(m.viewport.Width, 20)
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		streaming := m.snap.Busy && i == len(turns)-1

		switch turn.Role {
		case chat.RoleUser:
			b.WriteString(cliui.UserStyle.Render("you"))
			b.WriteString("\n")
			b.WriteString(ansi.Wrap(turn.Content, width, ""))
			b.WriteString("\n")
		case chat.RoleAssistant:
			b.WriteString(cliui.AssistantStyle.Render("assistant"))
			b.WriteString("\n")
			if streaming {
				b.WriteString(ansi.Wrap(turn.Content, width, ""))
				b.WriteString("\n")
				continue
			}
			b.WriteString(m.markdown(turn.Content, width))
		}
	}
	return b.String()
}

func (m *chatModel) markdown(content string, width int) string {
	if out, ok := m.rendered[content]; ok {
		return out
	}
	out, err := cliui.RenderMarkdownWidth(content, width)
	if err != nil {
		out = ansi.Wrap(content, width, "") + "\n"
	}
	m.rendered[content] = out
	return out
}

func (m chatModel) View() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.viewStatus())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m chatModel) viewHeader() string {
	title := tuiTitleStyle.Render("matchbot")
	endpoint := m.session.Endpoint()
	if endpoint == "" {
		endpoint = "not configured"
	}
	room := m.width - ansi.StringWidth(title) - 1
	if room <= 0 {
		return title
	}
	return title + " " + tuiMutedStyle.Render(ansi.Truncate(endpoint, room, "…"))
}

func (m chatModel) viewStatus() string {
	switch {
	case m.busy():
		return fmt.Sprintf("%s %s", m.spinner.View(), tuiMutedStyle.Render(statusLabel(m.snap.State)))
	case m.lastErr != nil:
		line := tuiErrorStyle.Render(ansi.Truncate(m.lastErr.Error(), max(m.width, 1), "…"))
		var cfgErr *chat.ConfigError
		if errors.As(m.lastErr, &cfgErr) {
			line += "\n" + tuiMutedStyle.Render(ansi.Truncate(configHint, max(m.width, 1), "…"))
		}
		return line
	case m.notice != "":
		return tuiMutedStyle.Render(m.notice)
	}
	return tuiDividerLine.Render(strings.Repeat("─", max(m.width, 1)))
}

func statusLabel(state chat.State) string {
	switch state {
	case chat.StateSending, chat.StateAwaitingHeaders:
		return "Connecting..."
	case chat.StateStreaming:
		return "Replying..."
	}
	return "Working..."
}
