package offers

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reMultiplier = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*x\s+miles\b`)
	reStatic     = regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+|\d+)\s+miles\b`)
	rePercent    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s+back\b`)
	reDollar     = regexp.MustCompile(`(?i)\$\s*(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)\s+back\b`)
)

// Reward normalisation: one "X" is worth 1000 miles, one percent back is
// treated like one X, and one dollar back like 100 miles.
const (
	milesPerMultiplier = 1000
	milesPerPercent    = 1000
	milesPerDollar     = 100
)

// ParseReward turns reward text such as "5X miles", "10,000 miles",
// "3% back" or "$25 back" into a comparable value. Anything else parses to
// 0 with KindUnknown.
func ParseReward(text string) (float64, RewardKind) {
	t := condenseSpaces(strings.ReplaceAll(text, "*", ""))
	if t == "" {
		return 0, KindUnknown
	}
	if m := reMultiplier.FindStringSubmatch(t); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			return v * milesPerMultiplier, KindMultiplier
		}
	}
	if m := reStatic.FindStringSubmatch(t); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			return v, KindStatic
		}
	}
	if m := rePercent.FindStringSubmatch(t); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			return v * milesPerPercent, KindMultiplier
		}
	}
	if m := reDollar.FindStringSubmatch(t); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			return v * milesPerDollar, KindStatic
		}
	}
	return 0, KindUnknown
}

// LooksLikeReward reports whether text has one of the recognised shapes.
func LooksLikeReward(text string) bool {
	_, kind := ParseReward(text)
	return kind != KindUnknown
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
