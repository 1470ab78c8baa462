// Package tui holds the frame shared by conduit's terminal dashboards.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultInterval is how often Base samples when no interval is set.
const DefaultInterval = 500 * time.Millisecond

// SampleFunc reads the current state of whatever the dashboard watches. It
// runs on a tea command goroutine, so it must be safe for concurrent use.
type SampleFunc func() any

// App is the interface each dashboard implements.
type App interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (App, tea.Cmd)
	View() (body string, help string)
	CanQuit() bool
}

// Liveness is implemented by samples that know whether the watched stream
// is flowing. It drives the header's pulse.
type Liveness interface {
	Live() bool
}

// SampleMsg carries one sample to the app.
type SampleMsg struct {
	At    time.Time
	Value any
}

type sampleTickMsg struct{}

// ErrMsg is a generic error message any app can emit.
type ErrMsg struct{ Err error }

// DoneMsg reports that the watched process stopped. A nil Err is a clean stop.
type DoneMsg struct{ Err error }

// Base handles shared dashboard concerns: layout, spinner, periodic sampling
// and error display.
type Base struct {
	Ctx      context.Context
	Layout   *Layout
	Spinner  spinner.Model
	Err      error
	Interval time.Duration
	app      App
	sample   SampleFunc
	done     <-chan error
}

// NewBase creates a Base with the standard spinner and layout.
func NewBase(ctx context.Context, appName, target string) Base {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(AccentColor)

	return Base{
		Ctx: ctx,
		Layout: &Layout{
			AppName: appName,
			Target:  target,
		},
		Spinner:  s,
		Interval: DefaultInterval,
	}
}

// WithApp sets the app implementation and returns the Base.
func (b Base) WithApp(app App) Base {
	b.app = app
	return b
}

// WithSampler sets the function sampled every Interval.
func (b Base) WithSampler(fn SampleFunc) Base {
	b.sample = fn
	return b
}

// WatchDone delivers a DoneMsg to the app once done yields.
func (b Base) WatchDone(done <-chan error) Base {
	b.done = done
	return b
}

// Init starts the spinner, the first sample and the app.
func (b Base) Init() tea.Cmd {
	cmds := []tea.Cmd{b.Spinner.Tick}
	if b.app != nil {
		cmds = append(cmds, b.app.Init())
	}
	if b.sample != nil {
		cmds = append(cmds, b.takeSample())
	}
	if b.done != nil {
		done := b.done
		cmds = append(cmds, func() tea.Msg { return DoneMsg{Err: <-done} })
	}
	return tea.Batch(cmds...)
}

func (b Base) takeSample() tea.Cmd {
	fn := b.sample
	return func() tea.Msg {
		return SampleMsg{At: time.Now(), Value: fn()}
	}
}

func (b Base) scheduleSample() tea.Cmd {
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return tea.Tick(interval, func(time.Time) tea.Msg { return sampleTickMsg{} })
}

// Update handles shared messages and delegates the rest to the app.
func (b Base) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return b, tea.Quit
		case "esc", "q":
			if b.app == nil || b.app.CanQuit() {
				return b, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		b.Layout.Width = msg.Width
		b.Layout.Height = msg.Height
	case ErrMsg:
		b.Err = msg.Err
		return b, nil
	case DoneMsg:
		b.Layout.Connected = false
		if msg.Err != nil {
			b.Err = msg.Err
		}
	case sampleTickMsg:
		if b.Ctx.Err() != nil {
			return b, nil
		}
		return b, b.takeSample()
	case SampleMsg:
		b.Layout.Samples++
		if l, ok := msg.Value.(Liveness); ok {
			b.Layout.Connected = l.Live()
		}
		cmds := []tea.Cmd{b.scheduleSample()}
		if b.app != nil {
			var appCmd tea.Cmd
			b.app, appCmd = b.app.Update(msg)
			cmds = append(cmds, appCmd)
		}
		return b, tea.Batch(cmds...)
	case spinner.TickMsg:
		b.Layout.Frame++
		b.Spinner, _ = b.Spinner.Update(msg)
		// Fall through so app spinners animate too.
	}

	if b.app != nil {
		var cmd tea.Cmd
		b.app, cmd = b.app.Update(msg)
		return b, cmd
	}
	return b, nil
}

// View renders the layout frame around the app's view.
func (b Base) View() string {
	if b.Err != nil {
		body := ErrorStyle.Render("Error: "+b.Err.Error()) + "\n\nPress esc to quit.\n"
		return b.Layout.Render(body, "esc: quit")
	}
	if b.app != nil {
		body, help := b.app.View()
		return b.Layout.Render(body, help)
	}
	return b.Layout.Render(b.Spinner.View()+" waiting", "")
}

// Run creates a tea.Program on the alternate screen and runs it.
func (b Base) Run() error {
	p := tea.NewProgram(b, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
