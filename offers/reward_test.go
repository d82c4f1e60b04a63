package offers

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestParseReward(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		value float64
		kind  RewardKind
	}{
		{"5X miles", 5000, KindMultiplier},
		{"10x miles*", 10000, KindMultiplier},
		{"Earn 2X Miles", 2000, KindMultiplier},
		{"10,000 miles", 10000, KindStatic},
		{"**1,250 miles", 1250, KindStatic},
		{"500 miles", 500, KindStatic},
		{"3% back", 3000, KindMultiplier},
		{"2.5% back", 2500, KindMultiplier},
		{"$25 back", 2500, KindStatic},
		{"$1,000 back", 100000, KindStatic},
		{"Limited time offer", 0, KindUnknown},
		{"", 0, KindUnknown},
		{"miles", 0, KindUnknown},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			v, k := ParseReward(tc.in)
			if v != tc.value || k != tc.kind {
				t.Fatalf("ParseReward(%q) = (%v,%s), want (%v,%s)", tc.in, v, k, tc.value, tc.kind)
			}
		})
	}
}

func withCommas(n int) string {
	s := strconv.Itoa(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func TestParseRewardProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("NX miles parses to N*1000", prop.ForAll(
		func(n int) bool {
			v, k := ParseReward(fmt.Sprintf("%dX miles", n))
			return k == KindMultiplier && v == float64(n)*1000
		},
		gen.IntRange(0, 99),
	))

	properties.Property("N miles with commas parses to N", prop.ForAll(
		func(n int) bool {
			v, k := ParseReward(withCommas(n) + " miles")
			return k == KindStatic && v == float64(n)
		},
		gen.IntRange(0, 5000000),
	))

	properties.Property("text without digits parses to 0", prop.ForAll(
		func(s string) bool {
			v, k := ParseReward(s)
			return v == 0 && k == KindUnknown
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
