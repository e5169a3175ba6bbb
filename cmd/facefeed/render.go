package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"facefeed/internal/aggregate"
	"facefeed/internal/detection"
	"facefeed/internal/session"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderUpdate(u session.Update, colorize bool) string {
	var b strings.Builder
	b.WriteString(summaryLine(u, colorize))
	b.WriteString("\n")
	b.WriteString(renderEvents("Known", u.Snapshot.Known, true, colorize))
	b.WriteString("\n")
	b.WriteString(renderEvents("Unknown", u.Snapshot.Unknown, false, colorize))
	return b.String()
}

func summaryLine(u session.Update, colorize bool) string {
	s := u.Summary
	occ := string(s.Occupancy)
	if colorize {
		occ = occupancyColors(s.Occupancy).Sprint(occ)
	}
	return fmt.Sprintf("%s  session %d  source %d  known %d  unknown %d  total %d  capacity %d%% (%s)",
		u.At.Local().Format(time.TimeOnly), u.Session, u.SourceID,
		s.KnownCount, s.UnknownCount, s.Total, s.CapacityPercent, occ)
}

func occupancyColors(o aggregate.Occupancy) text.Colors {
	switch o {
	case aggregate.OccupancyHigh:
		return text.Colors{text.FgRed, text.Bold}
	case aggregate.OccupancyModerate:
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.FgGreen}
	}
}

func renderEvents(title string, events []detection.Event, withIdentity, colorize bool) string {
	tw := table.NewWriter()
	if colorize {
		tw.SetStyle(table.StyleColoredBright)
	} else {
		tw.SetStyle(table.StyleRounded)
	}
	tw.SetTitle("%s (%d)", title, len(events))

	header := table.Row{"ID"}
	if withIdentity {
		header = append(header, "Identity")
	}
	header = append(header, "Last seen", "Source", "Confidence")
	tw.AppendHeader(header)

	for _, ev := range events {
		row := table.Row{ev.ID}
		if withIdentity {
			row = append(row, ev.Identity)
		}
		row = append(row, formatSeen(ev.ObservedAt), strconv.Itoa(ev.SourceID), formatConfidence(ev.Confidence))
		tw.AppendRow(row)
	}

	last := len(header)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: last - 1, Align: text.AlignRight},
		{Number: last, Align: text.AlignRight},
	})
	return tw.Render()
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *c*100)
}
