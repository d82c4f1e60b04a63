package offers

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Profile describes where the host page keeps the pieces of an offer card.
// Host pages change their markup without notice, so every selector can be
// overridden per host (see internal/server site profiles).
type Profile struct {
	Container      string   `json:"container"`
	Card           string   `json:"card"`
	Skeleton       string   `json:"skeleton"`
	Carousel       string   `json:"carousel"`
	IdentityAttr   string   `json:"identityAttr"`
	IdentityPrefix string   `json:"identityPrefix"`
	ImageParam     string   `json:"imageParam"`
	LinkParam      string   `json:"linkParam"`
	Merchant       string   `json:"merchant"`
	RewardMarker   string   `json:"rewardMarker"`
	RewardFallback string   `json:"rewardFallback"`
	Badge          string   `json:"badge"`
	LoadMore       string   `json:"loadMore"`
	LoadMoreText   []string `json:"loadMoreText"`
}

// DefaultProfile matches the offers feed markup as of the last review.
func DefaultProfile() Profile {
	return Profile{
		Container:      `[data-testid="feed-tiles"]`,
		Card:           `[data-testid^="feed-tile-"]`,
		Skeleton:       `.skeleton, [aria-busy="true"], [data-testid="feed-tile-skeleton"]`,
		Carousel:       `[data-testid*="carousel"], .carousel`,
		IdentityAttr:   "data-testid",
		IdentityPrefix: "feed-tile-",
		ImageParam:     "domain",
		LinkParam:      "merchantTLD",
		Merchant:       `[data-testid="merchant-name"], .merchant-name`,
		RewardMarker:   "color: rgb(37, 129, 14)",
		RewardFallback: "h1, h2, h3, h4, h5, h6, p, span, div",
		Badge:          "span, div, li",
		LoadMore:       "button",
		LoadMoreText:   []string{"view more offers", "load more", "show more"},
	}
}

// Merge returns p with every non-empty field of o applied on top.
func (p Profile) Merge(o Profile) Profile {
	pick := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	pick(&p.Container, o.Container)
	pick(&p.Card, o.Card)
	pick(&p.Skeleton, o.Skeleton)
	pick(&p.Carousel, o.Carousel)
	pick(&p.IdentityAttr, o.IdentityAttr)
	pick(&p.IdentityPrefix, o.IdentityPrefix)
	pick(&p.ImageParam, o.ImageParam)
	pick(&p.LinkParam, o.LinkParam)
	pick(&p.Merchant, o.Merchant)
	pick(&p.RewardMarker, o.RewardMarker)
	pick(&p.RewardFallback, o.RewardFallback)
	pick(&p.Badge, o.Badge)
	pick(&p.LoadMore, o.LoadMore)
	if len(o.LoadMoreText) > 0 {
		p.LoadMoreText = append([]string(nil), o.LoadMoreText...)
	}
	return p
}

// compiledProfile holds the parsed selectors of a Profile.
type compiledProfile struct {
	card           cascadia.Selector
	skeleton       cascadia.Selector
	carousel       cascadia.Selector
	merchant       cascadia.Selector
	rewardFallback cascadia.Selector
	badge          cascadia.Selector
	img            cascadia.Selector
	link           cascadia.Selector
	marker         *styleMarker
}

func compileProfile(p Profile) (*compiledProfile, error) {
	cp := &compiledProfile{}
	sels := []struct {
		name string
		src  string
		dst  *cascadia.Selector
	}{
		{"card", p.Card, &cp.card},
		{"skeleton", p.Skeleton, &cp.skeleton},
		{"carousel", p.Carousel, &cp.carousel},
		{"merchant", p.Merchant, &cp.merchant},
		{"rewardFallback", p.RewardFallback, &cp.rewardFallback},
		{"badge", p.Badge, &cp.badge},
		{"img", "img[src]", &cp.img},
		{"link", "a[href]", &cp.link},
	}
	for _, s := range sels {
		if strings.TrimSpace(s.src) == "" {
			continue
		}
		sel, err := cascadia.Compile(s.src)
		if err != nil {
			return nil, fmt.Errorf("profile selector %s %q: %w", s.name, s.src, err)
		}
		*s.dst = sel
	}
	if cp.card == nil {
		return nil, fmt.Errorf("profile: card selector is required")
	}
	if strings.TrimSpace(p.RewardMarker) != "" {
		m, err := parseStyleMarker(p.RewardMarker)
		if err != nil {
			return nil, fmt.Errorf("profile reward marker %q: %w", p.RewardMarker, err)
		}
		cp.marker = m
	}
	return cp, nil
}
