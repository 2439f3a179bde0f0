package extract

import (
	"regexp"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	"02-01-2006 15:04",
	"02-01-2006",
	"2-1-2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"2 January 2006 15:04",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"Monday 2 January 2006",
	"Monday, 2 January 2006",
}

var dutchMonths = map[string]string{
	"januari":   "January",
	"februari":  "February",
	"maart":     "March",
	"mei":       "May",
	"juni":      "June",
	"juli":      "July",
	"augustus":  "August",
	"oktober":   "October",
	"mrt":       "Mar",
	"okt":       "Oct",
	"maandag":   "Monday",
	"dinsdag":   "Tuesday",
	"woensdag":  "Wednesday",
	"donderdag": "Thursday",
	"vrijdag":   "Friday",
	"zaterdag":  "Saturday",
	"zondag":    "Sunday",
}

var dutchWord = regexp.MustCompile(`(?i)\b(januari|februari|maart|mei|juni|juli|augustus|oktober|mrt|okt|maandag|dinsdag|woensdag|donderdag|vrijdag|zaterdag|zondag)\b`)

// ParseDate parses a scraped date string. Unparsable input yields nil, never an error.
// Values without a zone are taken as UTC.
func ParseDate(raw string) *time.Time {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return nil
	}

	if t, ok := parseLayouts(s); ok {
		return &t
	}

	translated := dutchWord.ReplaceAllStringFunc(s, func(w string) string {
		return dutchMonths[strings.ToLower(w)]
	})
	if translated != s {
		if t, ok := parseLayouts(translated); ok {
			return &t
		}
	}

	return nil
}

func parseLayouts(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
