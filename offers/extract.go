package offers

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

// CardClass tells real offer cards apart from placeholders the host renders
// in the same list.
type CardClass int

const (
	ClassOther CardClass = iota
	ClassCard
	ClassSkeleton
	ClassCarousel
)

func (c CardClass) String() string {
	switch c {
	case ClassCard:
		return "card"
	case ClassSkeleton:
		return "skeleton"
	case ClassCarousel:
		return "carousel"
	default:
		return "other"
	}
}

// Extractor reads records out of rendered card nodes.
type Extractor struct {
	profile Profile
	sel     *compiledProfile
	log     zerolog.Logger
}

// NewExtractor compiles the profile selectors.
func NewExtractor(p Profile, log zerolog.Logger) (*Extractor, error) {
	cp, err := compileProfile(p)
	if err != nil {
		return nil, err
	}
	return &Extractor{profile: p, sel: cp, log: log}, nil
}

// Profile returns the profile the extractor was built from.
func (e *Extractor) Profile() Profile { return e.profile }

// Classify decides whether n is an extractable card.
func (e *Extractor) Classify(n *html.Node) CardClass {
	if n == nil || n.Type != html.ElementNode || !e.sel.card.Match(n) {
		return ClassOther
	}
	if e.sel.carousel != nil {
		for p := n; p != nil; p = p.Parent {
			if p.Type == html.ElementNode && e.sel.carousel.Match(p) {
				return ClassCarousel
			}
		}
	}
	if e.sel.skeleton != nil {
		if e.sel.skeleton.MatchFirst(n) != nil {
			return ClassSkeleton
		}
	}
	if collectText(n) == "" {
		return ClassSkeleton
	}
	return ClassCard
}

// Cards returns the card elements under root in document order, excluding
// skeletons and carousel tiles.
func (e *Extractor) Cards(root *html.Node) []*html.Node {
	if root == nil {
		return nil
	}
	var out []*html.Node
	for _, n := range e.sel.card.MatchAll(root) {
		if e.Classify(n) == ClassCard {
			out = append(out, n)
		}
	}
	return out
}

// Extract reads one card. It never fails: missing pieces leave fields empty
// and a malformed identity payload degrades the card to unidentified.
func (e *Extractor) Extract(card *html.Node) Record {
	rec := Record{Key: getAttr(card, KeyAttr), RewardKind: KindUnknown}
	rec.MerchantKey = e.merchantKey(card)
	rec.RewardText = e.rewardText(card)
	rec.RewardValue, rec.RewardKind = ParseReward(rec.RewardText)
	rec.MerchantName = e.merchantName(card, rec.MerchantKey)
	rec.Channels = e.channels(card)
	return rec
}

func (e *Extractor) merchantKey(card *html.Node) string {
	if attr := e.profile.IdentityAttr; attr != "" {
		raw := getAttr(card, attr)
		if strings.HasPrefix(raw, e.profile.IdentityPrefix) {
			raw = strings.TrimPrefix(raw, e.profile.IdentityPrefix)
			key, err := decodeEmbeddedIdentity(raw)
			if err == nil {
				return key
			}
			if errors.Is(err, ErrMalformedEmbedded) {
				e.log.Debug().Err(err).Str("card", getAttr(card, KeyAttr)).Msg("EXTRACT identity payload rejected")
			}
		}
	}
	for _, img := range e.sel.img.MatchAll(card) {
		if key := identityFromURL(getAttr(img, "src"), e.profile.ImageParam); key != "" {
			return key
		}
	}
	for _, a := range e.sel.link.MatchAll(card) {
		if key := identityFromURL(getAttr(a, "href"), e.profile.LinkParam); key != "" {
			return key
		}
	}
	return ""
}

func (e *Extractor) merchantName(card *html.Node, key string) string {
	if e.sel.merchant != nil {
		if n := e.sel.merchant.MatchFirst(card); n != nil {
			if t := collectText(n); t != "" {
				return t
			}
		}
	}
	for _, img := range e.sel.img.MatchAll(card) {
		if alt := condenseSpaces(getAttr(img, "alt")); alt != "" {
			return strings.TrimSuffix(alt, " logo")
		}
	}
	return key
}

// maxRewardTextLen bounds the fallback scan so that long descriptions with a
// number in them are not mistaken for the reward.
const maxRewardTextLen = 40

func (e *Extractor) rewardText(card *html.Node) string {
	if e.sel.marker != nil {
		var found *html.Node
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if found != nil {
				return
			}
			if n != card && e.sel.marker.matches(n) {
				found = n
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(card)
		if found != nil {
			if t := collectText(found); t != "" {
				return t
			}
		}
	}
	if e.sel.rewardFallback == nil {
		return ""
	}
	best := ""
	for _, n := range e.sel.rewardFallback.MatchAll(card) {
		t := collectText(n)
		if t == "" || len(t) > maxRewardTextLen {
			continue
		}
		// innermost match wins: its text is the shortest
		if LooksLikeReward(t) && (best == "" || len(t) < len(best)) {
			best = t
		}
	}
	return best
}

func (e *Extractor) channels(card *html.Node) ChannelSet {
	var set ChannelSet
	if e.sel.badge == nil {
		return set
	}
	for _, n := range e.sel.badge.MatchAll(card) {
		t := collectText(n)
		if t == "" || len(t) > 20 {
			continue
		}
		if c, ok := ParseChannel(t); ok && c != "" {
			set = set.With(c)
		}
	}
	return set
}
