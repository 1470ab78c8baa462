package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

type live bool

func (l live) Live() bool { return bool(l) }

type stubApp struct {
	quit    bool
	samples int
}

func (a *stubApp) Init() tea.Cmd { return nil }

func (a *stubApp) Update(msg tea.Msg) (App, tea.Cmd) {
	if _, ok := msg.(SampleMsg); ok {
		a.samples++
	}
	return a, nil
}

func (a *stubApp) View() (string, string) { return "body", "help" }

func (a *stubApp) CanQuit() bool { return a.quit }

func newTestBase(app *stubApp) Base {
	return NewBase(context.Background(), "top", "aeron:ipc/1001").
		WithApp(app).
		WithSampler(func() any { return live(true) })
}

func TestBaseSample(t *testing.T) {
	app := &stubApp{}
	b := newTestBase(app)

	m, cmd := b.Update(SampleMsg{Value: live(true)})
	b = m.(Base)
	if cmd == nil {
		t.Fatal("sample did not schedule the next one")
	}
	if !b.Layout.Connected {
		t.Error("Connected = false after live sample")
	}
	if b.Layout.Samples != 1 || app.samples != 1 {
		t.Errorf("samples = %d, app samples = %d, want 1 and 1", b.Layout.Samples, app.samples)
	}

	m, _ = b.Update(SampleMsg{Value: live(false)})
	if m.(Base).Layout.Connected {
		t.Error("Connected = true after idle sample")
	}
}

func TestBaseDone(t *testing.T) {
	b := newTestBase(&stubApp{})
	b.Layout.Connected = true

	m, _ := b.Update(DoneMsg{Err: errors.New("driver gone")})
	b = m.(Base)
	if b.Layout.Connected {
		t.Error("Connected = true after DoneMsg")
	}
	if view := b.View(); !strings.Contains(view, "driver gone") {
		t.Errorf("view does not show error:\n%s", view)
	}
}

func TestBaseQuit(t *testing.T) {
	q := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}

	_, cmd := newTestBase(&stubApp{quit: false}).Update(q)
	if cmd != nil {
		if _, ok := cmd().(tea.QuitMsg); ok {
			t.Error("q quit while app refused")
		}
	}

	_, cmd = newTestBase(&stubApp{quit: true}).Update(q)
	if cmd == nil {
		t.Fatal("q did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not return tea.Quit")
	}

	_, cmd = newTestBase(&stubApp{quit: false}).Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not return tea.Quit")
	}
}

func TestBaseStopsSamplingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBase(ctx, "top", "").WithSampler(func() any { return nil })
	cancel()
	if _, cmd := b.Update(sampleTickMsg{}); cmd != nil {
		t.Error("sample taken after context cancel")
	}
}

func TestLayoutRender(t *testing.T) {
	l := Layout{AppName: "top", Target: "aeron:ipc/1001", Width: 80, Height: 20}
	out := l.Render("hello", "q: quit")
	for _, want := range []string{"conduit", "top", "aeron:ipc/1001", "hello", "q: quit"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines < 14 {
		t.Errorf("render has %d lines, want body padded to height", lines)
	}
}

func TestLayoutBodySize(t *testing.T) {
	w, h := Layout{}.BodySize()
	if w != 10 || h != 3 {
		t.Errorf("BodySize of empty layout = %d, %d, want 10, 3", w, h)
	}
	w, h = Layout{Width: 100, Height: 40}.BodySize()
	if w != 96 || h != 34 {
		t.Errorf("BodySize = %d, %d, want 96, 34", w, h)
	}
}
