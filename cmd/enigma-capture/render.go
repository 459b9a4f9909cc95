package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
	"EnigmaNetz/Enigma-Go-Capture/internal/history"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("203"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...)
}

func renderInterfaces(w io.Writer, devs []capture.Device) {
	t := newTable("NAME", "DESCRIPTION", "ADDRESSES").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, d := range devs {
		t.Row(d.Name, d.Description, strings.Join(d.Addresses, ", "))
	}
	fmt.Fprintln(w, t.Render())
}

func renderHistory(w io.Writer, entries []history.Entry) {
	t := newTable("STARTED", "INTERFACE", "STATE", "PACKETS", "FILE", "ID").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(entries) && entries[row].State == capture.StateFailed.String():
				return failedStyle
			}
			return cellStyle
		})
	for _, e := range entries {
		t.Row(
			e.StartTime.Local().Format("2006-01-02 15:04:05"),
			e.Interface,
			e.State,
			fmt.Sprintf("%d", e.PacketCount),
			e.OutputPath,
			e.ID,
		)
	}
	fmt.Fprintln(w, t.Render())
}
