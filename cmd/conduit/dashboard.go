package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/gezibash/arc-conduit/cmd/conduit/tui"
	"github.com/gezibash/arc-conduit/internal/node"
)

// rateHistory is how many throughput samples the sparkline keeps.
const rateHistory = 120

// dashboard is the top app: it turns successive node snapshots into rates
// and renders them.
type dashboard struct {
	width  int
	paused bool

	last    node.Snapshot
	lastAt  time.Time
	hasLast bool

	rate  float64
	peak  float64
	rates []float64
}

func newDashboard() *dashboard {
	return &dashboard{rates: make([]float64, 0, rateHistory)}
}

func (d *dashboard) Init() tea.Cmd { return nil }

func (d *dashboard) CanQuit() bool { return true }

func (d *dashboard) Update(msg tea.Msg) (tui.App, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "p", " ":
			d.paused = !d.paused
		case "r":
			d.peak = 0
			d.rates = d.rates[:0]
		}
	case tui.SampleMsg:
		if s, ok := msg.Value.(node.Snapshot); ok && !d.paused {
			d.observe(msg.At, s)
		}
	}
	return d, nil
}

// observe records s and derives the receive rate since the previous sample.
func (d *dashboard) observe(at time.Time, s node.Snapshot) {
	if d.hasLast {
		if dt := at.Sub(d.lastAt).Seconds(); dt > 0 {
			d.rate = float64(s.Received-d.last.Received) / dt
			d.peak = max(d.peak, d.rate)
			if len(d.rates) == rateHistory {
				d.rates = append(d.rates[:0], d.rates[1:]...)
			}
			d.rates = append(d.rates, d.rate)
		}
	}
	d.last, d.lastAt, d.hasLast = s, at, true
}

func (d *dashboard) View() (string, string) {
	help := "p: pause · r: reset peak · q: quit"
	if !d.hasLast {
		return tui.SubtitleStyle.Render("waiting for first sample…"), help
	}
	if d.paused {
		help = "p: resume · r: reset peak · q: quit"
	}
	s := d.last

	width := max(d.width-4, 20)
	spark := tui.Sparkline(d.rates, min(width, rateHistory))

	throughput := section("Throughput",
		row("Rate", fmt.Sprintf("%s msg/s", humanCount(d.rate)), tui.ValueStyle),
		row("Peak", fmt.Sprintf("%s msg/s", humanCount(d.peak)), tui.ValueStyle),
		row("Sent", humanCount(float64(s.Sent)), tui.ValueStyle),
		row("Received", humanCount(float64(s.Received)), tui.GoodValueStyle),
		row("Filtered", humanCount(float64(s.Filtered)), tui.ValueStyle),
		row("Bytes Sent", humanBytes(s.BytesSent), tui.ValueStyle),
	)
	latency := section("Latency",
		row("Last", s.LastLatency.String(), tui.ValueStyle),
		row("Mean", s.MeanLatency.String(), tui.ValueStyle),
		row("Max", s.MaxLatency.String(), tui.ValueStyle),
	)
	flow := section("Flow Control",
		row("Back Pressured", humanCount(float64(s.BackPressured)), warnIf(s.BackPressured > 0)),
		row("Not Connected", humanCount(float64(s.NotConnected)), warnIf(s.NotConnected > 0)),
		row("Admin Actions", humanCount(float64(s.AdminActions)), warnIf(s.AdminActions > 0)),
	)
	drv := section("Driver",
		row("Clients", fmt.Sprint(s.Driver.Clients), tui.ValueStyle),
		row("Publications", fmt.Sprint(s.Driver.Publications), tui.ValueStyle),
		row("Subscriptions", fmt.Sprint(s.Driver.Subscriptions), tui.ValueStyle),
		row("Images", fmt.Sprint(s.Images), tui.ValueStyle),
		row("Client Timeouts", fmt.Sprint(s.Driver.ClientTimeouts), warnIf(s.Driver.ClientTimeouts > 0)),
	)

	left := lipgloss.JoinVertical(lipgloss.Left, throughput, latency)
	right := lipgloss.JoinVertical(lipgloss.Left, flow, drv)
	if s.RunID != "" {
		right = lipgloss.JoinVertical(lipgloss.Left, right, section("Recording",
			row("Run", s.RunID, tui.ValueStyle),
			row("Recorded", humanCount(float64(s.Recorded)), tui.ValueStyle),
		))
	}

	var b strings.Builder
	b.WriteString(tui.SectionStyle.Render("Receive Rate"))
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(tui.AccentColor).Render(spark))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "    ", right))
	b.WriteString("\n\n")
	b.WriteString(tui.SubtitleStyle.Render(fmt.Sprintf("%d publishers · up %s", s.Publishers, s.Elapsed.Truncate(time.Second))))
	return b.String(), help
}

func section(title string, rows ...string) string {
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{tui.SectionStyle.Render(title)}, rows...)...)
}

func row(label, value string, style lipgloss.Style) string {
	return tui.LabelStyle.Render(label) + style.Render(value)
}

func warnIf(cond bool) lipgloss.Style {
	if cond {
		return tui.WarnValueStyle
	}
	return tui.ValueStyle
}

func humanCount(n float64) string {
	return humanize.CommafWithDigits(n, 0)
}

func humanBytes(n int64) string {
	return humanize.IBytes(uint64(max(n, 0)))
}
