package main

import "github.com/fatih/color"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// stateLabel renders a connection state for the terminal.
func stateLabel(live bool) string {
	if live {
		return green("● Live")
	}
	return red("○ Offline")
}
