package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

var titleCaser = cases.Title(language.English)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// statusLabel title-cases a snake_case status and colours it by outcome.
func statusLabel(status string, colorize bool) string {
	label := titleCaser.String(strings.ReplaceAll(status, "_", " "))
	if !colorize {
		return label
	}
	switch status {
	case "succeeded", "completed", "visible":
		return ansiGreen + label + ansiReset
	case "failed", "quarantined", "expired":
		return ansiRed + label + ansiReset
	case "running", "in_progress":
		return ansiBlue + label + ansiReset
	case "pending", "pending_review", "initiated":
		return ansiYellow + label + ansiReset
	default:
		return label
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatMS(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
