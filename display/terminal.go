package display

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fatih/color"
)

const (
	clearScreen = "\033[H\033[2J"
	cursorHome  = "\033[H"
	clearToEnd  = "\033[J"

	unavailable = "—"
)

// TerminalSink 固定布局的行情面板，每个 tick 原位重绘。
type TerminalSink struct {
	out      io.Writer
	labels   [12]string
	drawn    bool
	red      *color.Color
	green    *color.Color
	faint    *color.Color
	useColor bool
}

// NewTerminalSink domestic/foreign 为利率行的币种标签，如 USD、BTC。
func NewTerminalSink(out io.Writer, domestic, foreign string, useColor bool) *TerminalSink {
	t := &TerminalSink{
		out: out,
		labels: [12]string{
			"Option Price:",
			"Spot Price:",
			domestic + " Rate:",
			foreign + " Rate:",
			"Strike:",
			"Maturity (y):",
			"Implied vol.:",
			"Delta:",
			"Vega:",
			"Theta:",
			"Rho:",
			"Time Taken:",
		},
		red:      color.New(color.FgRed),
		green:    color.New(color.FgGreen),
		faint:    color.New(color.Faint),
		useColor: useColor,
	}
	for _, c := range []*color.Color{t.red, t.green, t.faint} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return t
}

func (t *TerminalSink) Render(f Frame) error {
	var buf bytes.Buffer
	if !t.drawn {
		buf.WriteString(clearScreen)
		t.drawn = true
	} else {
		buf.WriteString(cursorHome)
	}

	values := [12]string{}
	for i := range values {
		values[i] = unavailable
	}
	if m := f.Market; m != nil {
		values[0] = fmt.Sprintf("%-13.9f", m.OptionValue)
		values[1] = fmt.Sprintf("%-13.8f", m.Spot)
		values[2] = fmt.Sprintf("%-13.11f", m.DomesticRate)
		values[3] = fmt.Sprintf("%-13.11f", m.ForeignRate)
		values[4] = fmt.Sprintf("%-13.8f", m.Strike)
		values[5] = fmt.Sprintf("%-13.11f", m.Tau)
	}
	if a := f.Analytics; a != nil {
		values[6] = fmt.Sprintf("%-13.10f", a.ImpliedVol)
		values[7] = fmt.Sprintf("%-13.10f", a.Delta)
		values[8] = fmt.Sprintf("%-13.10f", a.Vega)
		values[9] = fmt.Sprintf("%-13.10f", a.Theta)
		values[10] = fmt.Sprintf("%-13.10f", a.Rho)
	}
	values[11] = fmt.Sprintf("%-13.10f", f.Latency.Seconds())

	for i, label := range t.labels {
		v := values[i]
		if v == unavailable {
			v = t.faint.Sprint(v)
		}
		fmt.Fprintf(&buf, "%-15s %s\033[K\n", label, v)
	}

	status := t.green.Sprintf("tick %d ok", f.Tick)
	if f.Error != "" {
		status = t.red.Sprintf("tick %d failed: %s", f.Tick, f.Error)
	}
	fmt.Fprintf(&buf, "\n%s %s\033[K\n%s", status, t.faint.Sprint(f.At.Format("15:04:05")), clearToEnd)

	_, err := t.out.Write(buf.Bytes())
	return err
}
