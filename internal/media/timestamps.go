package media

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimestamp converts a timestamp string into seconds. Two forms are
// accepted: SRT ("HH:MM:SS,mmm", a comma or dot before the milliseconds) and
// plain seconds ("12" or "12.5").
func ParseTimestamp(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	if strings.Contains(s, ":") {
		return parseSRT(s)
	}

	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("negative timestamp %q", raw)
	}
	return seconds, nil
}

func parseSRT(s string) (float64, error) {
	// Normalize the SRT millisecond separator
	s = strings.Replace(s, ",", ".", 1)

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid SRT timestamp %q: want HH:MM:SS,mmm", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("invalid hours in timestamp %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes in timestamp %q", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, fmt.Errorf("invalid seconds in timestamp %q", s)
	}

	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}

// FormatSRT renders seconds as an SRT timestamp ("HH:MM:SS,mmm")
func FormatSRT(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	millis := int64(seconds*1000 + 0.5)
	h := millis / 3600000
	millis -= h * 3600000
	m := millis / 60000
	millis -= m * 60000
	s := millis / 1000
	ms := millis - s*1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
