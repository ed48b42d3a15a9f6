package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"videra/internal/transcoder"
)

func renderEncoderTable(names []string, selected transcoder.EncoderProfile) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Encoder", "Kind", "Selected"})

	for _, name := range names {
		kind := "hardware"
		if name == transcoder.CodecSoftware {
			kind = "software"
		}
		mark := ""
		if name == selected.Codec {
			mark = "*"
		}
		tw.AppendRow(table.Row{name, kind, mark})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignCenter, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
