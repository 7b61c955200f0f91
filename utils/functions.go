package utils

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const badFilenameChars = "<>:\"/\\|?*\n\r\t"

// SafeFilename replaces characters that are invalid in file names on common
// filesystems with underscores and trims surrounding whitespace.
func SafeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range name {
		if strings.ContainsRune(badFilenameChars, c) {
			b.WriteRune('_')
		} else {
			b.WriteRune(c)
		}
	}
	return strings.TrimSpace(b.String())
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatETA renders a seconds value for display. Unknown or infinite
// estimates show as a dash.
func FormatETA(seconds float64) string {
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds <= 0 {
		return "-"
	}
	etaSeconds := int64(seconds)
	switch {
	case etaSeconds < 60:
		return fmt.Sprintf("%ds", etaSeconds)
	case etaSeconds < 3600:
		return fmt.Sprintf("%dm %ds", etaSeconds/60, etaSeconds%60)
	default:
		return fmt.Sprintf("%dh %dm", etaSeconds/3600, (etaSeconds%3600)/60)
	}
}

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}
