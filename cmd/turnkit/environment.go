package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// buildEnvironmentMetadata describes the host for the system prompt.
func buildEnvironmentMetadata(workspace string) string {
	return environmentLines(time.Now(), workspace, os.Getenv)
}

func environmentLines(now time.Time, workspace string, getenv func(string) string) string {
	zone, offset := now.Zone()
	if strings.TrimSpace(zone) == "" {
		zone = "Local"
	}
	lines := []string{fmt.Sprintf("- OS: %s (%s)", runtime.GOOS, runtime.GOARCH)}
	if shell := firstEnv(getenv, "SHELL", "COMSPEC"); shell != "" {
		lines = append(lines, "- Shell: "+shell)
	}
	lines = append(lines,
		"- Date: "+now.Format("2006-01-02"),
		fmt.Sprintf("- Timezone: %s (UTC%s)", zone, formatUTCOffset(offset)),
	)
	if locale := firstEnv(getenv, "LC_ALL", "LC_MESSAGES", "LANG"); locale != "" {
		lines = append(lines, "- System Language: "+locale)
	}
	if workspace != "" {
		lines = append(lines, "- Workspace Root: "+workspace)
	}
	if Version != "" {
		lines = append(lines, "- Turnkit Version: "+Version)
	}
	return strings.Join(lines, "\n")
}

func firstEnv(getenv func(string) string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func formatUTCOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offsetSeconds/3600, (offsetSeconds%3600)/60)
}
