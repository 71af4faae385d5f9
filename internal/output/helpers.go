package output

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
	"golang.org/x/term"
)

// ProgressBar renders a fixed-width bar with its percentage.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"] + strings.Repeat(StyleSymbols["hline"], filled) +
		strings.Repeat(" ", width-filled) + StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return utils.FormatBytes(uint64(bytesPerSec)) + "/s"
}

// progressLine renders one sample; unknown fields are left out.
func progressLine(s progress.Status) string {
	var downloaded, total int64
	if s.DownloadedBytes != nil {
		downloaded = *s.DownloadedBytes
	}
	var parts []string
	if s.TotalBytes != nil && *s.TotalBytes > 0 {
		total = *s.TotalBytes
		parts = append(parts, fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(downloaded)), utils.FormatBytes(uint64(total))))
	} else {
		parts = append(parts, utils.FormatBytes(uint64(downloaded)))
	}
	if s.Speed != nil {
		parts = append(parts, FormatSpeed(*s.Speed))
	}
	if s.ETA != nil {
		parts = append(parts, "ETA "+time.Duration(*s.ETA*float64(time.Second)).Round(time.Second).String())
	}
	if s.FragmentIndex != nil && s.FragmentCount != nil {
		parts = append(parts, fmt.Sprintf("frag %d/%d", *s.FragmentIndex, *s.FragmentCount))
	}
	text := debugStyle.Render(strings.Join(parts, " "+StyleSymbols["bullet"]+" "))
	if total == 0 {
		return text
	}
	return ProgressBar(downloaded, total, 30) + text
}

func getTerminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

func wrapText(text string, indent int) []string {
	termWidth, _ := getTerminalSize()
	maxWidth := termWidth - indent - 2
	if maxWidth <= 10 {
		maxWidth = 80
	}
	if utf8.RuneCountInString(text) <= maxWidth {
		return []string{text}
	}
	var lines []string
	runes := []rune(text)
	for len(runes) > maxWidth {
		lines = append(lines, string(runes[:maxWidth]))
		runes = runes[maxWidth:]
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
