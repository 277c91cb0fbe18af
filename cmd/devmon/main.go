// Command devmon is a terminal view of device online status. Type a device ID
// and press enter to start watching it.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/domino14/devgrant/pkg/config"
	"github.com/domino14/devgrant/pkg/hub"
	"github.com/domino14/devgrant/pkg/monitor"
	"github.com/domino14/devgrant/pkg/token"
)

type statusMsg hub.DeviceStatus

type watchEndedMsg struct {
	deviceID string
	err      error
}

type model struct {
	textInput textinput.Model
	ctx       context.Context
	cancel    context.CancelFunc
	issuer    token.Issuer
	server    string

	statusCh chan hub.DeviceStatus
	endedCh  chan watchEndedMsg

	statuses map[string]hub.DeviceStatus
	watching map[string]bool
	lastErr  string
	// Watched from Init.
	initial []string
}

func waitForStatus(ch chan hub.DeviceStatus) tea.Cmd {
	return func() tea.Msg {
		return statusMsg(<-ch)
	}
}

func waitForEnd(ch chan watchEndedMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitForStatus(m.statusCh), waitForEnd(m.endedCh)}
	for _, id := range m.initial {
		cmds = append(cmds, m.watch(id))
	}
	return tea.Batch(cmds...)
}

// watch mints a token for deviceID and follows it until the program exits.
func (m model) watch(deviceID string) tea.Cmd {
	tok, err := m.issuer.Issue(deviceID, time.Now())
	if err != nil {
		return func() tea.Msg { return watchEndedMsg{deviceID: deviceID, err: err} }
	}
	ctx, server, statuses, ended := m.ctx, m.server, m.statusCh, m.endedCh
	return func() tea.Msg {
		go func() {
			err := monitor.Watch(ctx, server, deviceID, tok, statuses)
			select {
			case ended <- watchEndedMsg{deviceID: deviceID, err: err}:
			case <-ctx.Done():
			}
		}()
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancel()
			return m, tea.Quit

		case tea.KeyEnter:
			deviceID := strings.TrimSpace(m.textInput.Value())
			m.textInput.Reset()
			if err := token.ValidateDeviceID(deviceID); err != nil {
				m.lastErr = err.Error()
				return m, nil
			}
			if m.watching[deviceID] {
				return m, nil
			}
			m.watching[deviceID] = true
			m.lastErr = ""
			return m, m.watch(deviceID)
		}

	case statusMsg:
		m.statuses[msg.DeviceID] = hub.DeviceStatus(msg)
		return m, waitForStatus(m.statusCh)

	case watchEndedMsg:
		delete(m.watching, msg.deviceID)
		delete(m.statuses, msg.deviceID)
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.deviceID, msg.err)
		}
		return m, waitForEnd(m.endedCh)
	}
	m.textInput, cmd = m.textInput.Update(msg)

	return m, cmd
}

func (m model) View() string {
	ids := make([]string, 0, len(m.watching))
	for id := range m.watching {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		st, ok := m.statuses[id]
		switch {
		case !ok:
			fmt.Fprintf(&b, "%-24s connecting\n", id)
		case st.Online:
			fmt.Fprintf(&b, "%-24s online   since %s\n", id, st.Since.Local().Format(time.Stamp))
		default:
			fmt.Fprintf(&b, "%-24s offline  since %s\n", id, st.Since.Local().Format(time.Stamp))
		}
	}
	if len(ids) == 0 {
		b.WriteString("no devices watched\n")
	}
	if m.lastErr != "" {
		fmt.Fprintf(&b, "\nerror: %s\n", m.lastErr)
	}
	return fmt.Sprintf("%s\n%s\n\n", b.String(), m.textInput.View())
}

func initialModel(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) model {
	ti := textinput.New()
	ti.Placeholder = "Device ID"
	ti.Focus()
	ti.CharLimit = 64
	ti.Width = 32

	m := model{
		textInput: ti,
		ctx:       ctx,
		cancel:    cancel,
		issuer: token.Issuer{
			Issuer:  cfg.JWTIssuer,
			Subject: cfg.JWTSubject,
			Secret:  []byte(cfg.JWTSecret),
		},
		server:   cfg.Server,
		statusCh: make(chan hub.DeviceStatus, 16),
		endedCh:  make(chan watchEndedMsg, 16),
		statuses: make(map[string]hub.DeviceStatus),
		watching: make(map[string]bool),
	}
	if cfg.DeviceID != "" {
		m.watching[cfg.DeviceID] = true
		m.initial = []string{cfg.DeviceID}
	}
	return m
}

func main() {
	cfg := &config.Config{}
	if err := cfg.Load(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// The terminal belongs to the TUI.
	log.Logger = zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := initialModel(ctx, cancel, cfg)

	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
