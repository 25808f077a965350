package timer

import (
	"regexp"
	"strconv"
	"strings"
)

// Command is a parsed timer request, consumed immediately by Registry.Start.
type Command struct {
	DurationMinutes int
	Description     string // original input text, used as notification body
}

// Keyword sets for the two supported locales (Croatian + English).
var (
	timerKeywords = []string{"timer", "tajmer", "alarm"}
	startKeywords = []string{"start", "pokreni", "upali", "postavi", "stavi"}
)

var (
	minutesPattern = regexp.MustCompile(`(\d+)\s*(min|minuta|minute)`)
	hoursPattern   = regexp.MustCompile(`(\d+)\s*(sat|sati|hour|hours)`)
	bareIntPattern = regexp.MustCompile(`\b(\d+)\b`)
)

// A bare integer with no unit is only trusted as minutes inside this range.
const (
	bareMinutesMin = 1
	bareMinutesMax = 120
)

// Detect parses free text into a timer command.
//
// It requires both a timer keyword ("timer", "tajmer", "alarm") and a start
// keyword ("start", "pokreni", ...); the start gate avoids false positives
// when a user merely mentions a timer without asking to start one. The
// duration is extracted by the first matching pattern, in order: explicit
// minutes, explicit hours, then a standalone bare integer in [1,120] as a
// low-confidence fallback.
//
// Detect is pure and deterministic; absence of a match is a normal outcome,
// not an error.
func Detect(text string) (Command, bool) {
	lower := strings.ToLower(text)

	if !containsAny(lower, timerKeywords) {
		return Command{}, false
	}
	if !containsAny(lower, startKeywords) {
		return Command{}, false
	}

	minutes := extractMinutes(lower)
	if minutes <= 0 {
		return Command{}, false
	}
	return Command{DurationMinutes: minutes, Description: text}, true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func extractMinutes(lower string) int {
	if m := minutesPattern.FindStringSubmatch(lower); m != nil {
		return atoiSafe(m[1])
	}
	if m := hoursPattern.FindStringSubmatch(lower); m != nil {
		return atoiSafe(m[1]) * 60
	}
	// Known heuristic limitation: a bare integer elsewhere in the sentence
	// can false-positive ("kupi 5 jaja" with keywords present).
	if m := bareIntPattern.FindStringSubmatch(lower); m != nil {
		n := atoiSafe(m[1])
		if n >= bareMinutesMin && n <= bareMinutesMax {
			return n
		}
	}
	return 0
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
