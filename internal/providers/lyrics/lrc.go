// SPDX-License-Identifier: MIT

package lyrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// lrcLineRe matches "[mm:ss.xx]" and "[mm:ss.xxx]" timestamps, possibly
// several per line for repeated lyrics.
var lrcLineRe = regexp.MustCompile(`\[(\d{1,3}):(\d{2})(?:[.:](\d{1,3}))?\]`)

// ValidateLRC checks that synced lyrics are well formed: at least one
// timestamped line, and timestamps that never move backwards. Metadata tags
// like [ar:...] are ignored.
func ValidateLRC(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("lrc: empty text")
	}

	lastMs := int64(-1)
	stamped := 0
	for _, line := range strings.Split(text, "\n") {
		matches := lrcLineRe.FindAllStringSubmatch(line, -1)
		for _, m := range matches {
			ms, err := stampToMs(m)
			if err != nil {
				return err
			}
			stamped++
			if ms < lastMs {
				return fmt.Errorf("lrc: timestamp %s moves backwards", m[0])
			}
			lastMs = ms
		}
	}
	if stamped == 0 {
		return fmt.Errorf("lrc: no timestamped lines")
	}
	return nil
}

// LastTimestampMs returns the final timestamp of synced lyrics in
// milliseconds, or 0 when the text has none.
func LastTimestampMs(text string) int64 {
	var last int64
	for _, m := range lrcLineRe.FindAllStringSubmatch(text, -1) {
		if ms, err := stampToMs(m); err == nil && ms > last {
			last = ms
		}
	}
	return last
}

func stampToMs(m []string) (int64, error) {
	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("lrc: bad minutes in %s", m[0])
	}
	seconds, err := strconv.Atoi(m[2])
	if err != nil || seconds > 59 {
		return 0, fmt.Errorf("lrc: bad seconds in %s", m[0])
	}
	frac := int64(0)
	if m[3] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return 0, fmt.Errorf("lrc: bad fraction in %s", m[0])
		}
		switch len(m[3]) {
		case 1:
			frac = int64(n) * 100
		case 2:
			frac = int64(n) * 10
		default:
			frac = int64(n)
		}
	}
	return int64(minutes)*60_000 + int64(seconds)*1_000 + frac, nil
}
