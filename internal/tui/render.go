package tui

import (
	"fmt"
	"io"
	"strings"

	"siranga/internal/common"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBold    = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiReverse = "\x1b[7m"
	ansiRed     = "\x1b[31m"
	ansiCyan    = "\x1b[36m"

	clearScreen = "\x1b[2J\x1b[H"
	enterScreen = "\x1b[?1049h\x1b[?25l"
	leaveScreen = "\x1b[?25h\x1b[?1049l"
)

var tableHeader = []string{"NAME", "ADDRESS", "PORT", "ACCESS", "CONNS", "RX", "TX"}

// render repaints the whole frame. Terminals coalesce repaints well enough
// that a full clear-and-redraw at this refresh rate is not worth optimizing.
func (t *TUI) render() {
	t.refresh()

	var lines []string
	lines = append(lines, t.centered(ansiBold+fmt.Sprintf("siranga (%s)", t.version)+ansiReset))
	lines = append(lines, "")
	lines = append(lines, t.renderTable()...)
	lines = append(lines, "")
	lines = append(lines, t.renderFooter()...)

	if t.status != "" {
		lines = append(lines, "")
		lines = append(lines, ansiRed+t.status+ansiReset)
	}
	if t.mode == modeRename {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("New name: %s_", t.buffer))
	}
	if t.mode == modeACL {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("Allowed users (comma separated): %s_", t.buffer))
	}

	io.WriteString(t.out, clearScreen+strings.Join(lines, "\r\n")+"\r\n")
}

func (t *TUI) renderTable() []string {
	rows := make([][]string, 0, len(t.tunnels))
	for _, tun := range t.tunnels {
		access := tun.Visibility().String()
		if acl := tun.ACL(); len(acl) > 0 {
			access = fmt.Sprintf("%s (%s)", access, strings.Join(acl, ","))
		}
		rows = append(rows, []string{
			tun.Name(),
			t.urls.Address(tun.Name()),
			fmt.Sprint(tun.RemotePort()),
			access,
			fmt.Sprint(tun.ActiveConns()),
			common.FormatBytes(tun.BytesIn()),
			common.FormatBytes(tun.BytesOut()),
		})
	}

	widths := make([]int, len(tableHeader))
	for i, h := range tableHeader {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	pad := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}
		return strings.Join(parts, "   ")
	}

	lines := []string{"  " + ansiReverse + pad(tableHeader) + ansiReset}
	if len(rows) == 0 {
		lines = append(lines, "  "+ansiDim+"no tunnels - connect with ssh -R name:80:localhost:port"+ansiReset)
		return lines
	}
	for i, row := range rows {
		marker := "  "
		style, unstyle := "", ""
		if i == t.selected {
			marker = "> "
			style, unstyle = ansiBold, ansiReset
		}
		lines = append(lines, marker+style+pad(row)+unstyle)
	}

	return lines
}

func (t *TUI) renderFooter() []string {
	key := func(k, text string) string {
		return ansiBold + ansiCyan + k + ansiReset + " " + ansiDim + text + ansiReset
	}

	var commands []string
	if t.selected >= 0 {
		commands = []string{
			key("q", "quit"),
			key("esc", "deselect"),
			key("j/k", "move"),
			key("del", "close"),
			key("r", "rename"),
			key("a", "allowed users"),
			key("p", "make private"),
			key("ctrl-p", "make protected"),
			key("shift-p", "make public"),
		}
	} else {
		commands = []string{
			key("q", "quit"),
			key("j/k", "select"),
			key("p", "make all private"),
			key("ctrl-p", "make all protected"),
			key("shift-p", "make all public"),
		}
	}

	return []string{strings.Join(commands, " | ")}
}

func (t *TUI) centered(text string) string {
	// ANSI codes carry no width
	visible := len(text) - len(ansiBold) - len(ansiReset)
	if pad := (t.width - visible) / 2; pad > 0 {
		return strings.Repeat(" ", pad) + text
	}
	return text
}
