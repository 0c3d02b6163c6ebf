package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/narrately/api/pkg/renderclient"
)

const (
	ansiReset     = "\x1b[0m"
	ansiRed       = "\x1b[31m"
	ansiGreen     = "\x1b[32m"
	ansiYellow    = "\x1b[33m"
	ansiBlue      = "\x1b[34m"
	ansiClearLine = "\r\x1b[K"
)

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stateColor(state string) string {
	switch state {
	case renderclient.StateCompleted:
		return ansiGreen
	case renderclient.StateFailed:
		return ansiRed
	case renderclient.StateCancelled:
		return ansiYellow
	default:
		return ansiBlue
	}
}

// statusLine is the one-line progress summary used by watch.
func statusLine(st *renderclient.Status, colorize bool) string {
	state := st.State
	if colorize {
		state = stateColor(st.State) + state + ansiReset
	}
	line := fmt.Sprintf("%s %-9s %3d%%", st.JobID, state, st.ProgressPct)
	if st.CurrentStage != "" && !renderclient.IsTerminal(st.State) {
		line += " " + st.CurrentStage
	}
	if st.IsStale {
		warn := "(stale: no heartbeat)"
		if colorize {
			warn = ansiYellow + warn + ansiReset
		}
		line += " " + warn
	}
	return line
}

func statusRows(st *renderclient.Status) [][]string {
	rows := [][]string{
		{"Job", st.JobID},
		{"State", st.State},
		{"Progress", fmt.Sprintf("%d%%", st.ProgressPct)},
	}
	if st.CurrentStage != "" {
		rows = append(rows, []string{"Stage", st.CurrentStage})
	}
	rows = append(rows, []string{"Created", formatTime(&st.CreatedAt)})
	if st.HeartbeatAt != nil {
		rows = append(rows, []string{"Heartbeat", formatTime(st.HeartbeatAt)})
	}
	if st.CompletedAt != nil {
		rows = append(rows, []string{"Finished", formatTime(st.CompletedAt)})
	}
	if st.VideoDuration > 0 {
		rows = append(rows, []string{"Duration", fmt.Sprintf("%.2fs", st.VideoDuration)})
	}
	if meta := st.AudioMetadata; meta != nil {
		rows = append(rows, []string{"Audio", fmt.Sprintf("%s %s via %s, %.2fs", meta.Lang, meta.VoiceID, meta.Provider, meta.TotalDurationSec)})
	}
	if ae := st.AudioError; ae != nil {
		rows = append(rows, []string{"Audio error", fmt.Sprintf("%s scenes %v: %s", ae.Code, ae.Scenes, ae.Message)})
	}
	if e := st.Error; e != nil {
		rows = append(rows, []string{"Error", fmt.Sprintf("%s (%s): %s", e.Code, e.Phase, e.Message)})
	}

	kinds := make([]string, 0, len(st.Artifacts))
	for kind := range st.Artifacts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		for _, loc := range st.Artifacts[kind] {
			rows = append(rows, []string{"Artifact " + kind, loc})
		}
	}
	return rows
}

func eventRows(events []renderclient.Event) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			fmt.Sprintf("%d", ev.Seq),
			formatTime(&ev.TS),
			ev.EventType,
			ev.Message,
		})
	}
	return rows
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatRetry(d time.Duration) string {
	if d <= 0 {
		return "later"
	}
	return "in " + d.Round(time.Second).String()
}
