package offers

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

func mustParse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return doc
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	ex, err := NewExtractor(DefaultProfile(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return ex
}

func payload(s string) string {
	return "feed-tile-" + base64.StdEncoding.EncodeToString([]byte(s))
}

func TestExtractEmbeddedIdentity(t *testing.T) {
	src := `<html><body><div data-testid="feed-tiles">
<div data-testid="` + payload(`{"merchantTLD":"WWW.Target.com","slot":3}`) + `" data-offerlens-key="1">
  <img src="https://img.example/logo?domain=other.com" alt="Target logo">
  <div data-testid="merchant-name">Target</div>
  <div style="color: rgb(37, 129, 14); font-weight: 700">5X miles*</div>
  <span>In-Store</span><span>Online</span>
</div></div></body></html>`
	ex := newTestExtractor(t)
	cards := ex.Cards(mustParse(t, src))
	if len(cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(cards))
	}
	r := ex.Extract(cards[0])
	if r.Key != "1" {
		t.Fatalf("key = %q", r.Key)
	}
	if r.MerchantKey != "target.com" {
		t.Fatalf("merchant key = %q, want target.com", r.MerchantKey)
	}
	if r.MerchantName != "Target" {
		t.Fatalf("merchant name = %q", r.MerchantName)
	}
	if r.RewardText != "5X miles*" || r.RewardValue != 5000 || r.RewardKind != KindMultiplier {
		t.Fatalf("reward = %q %v %s", r.RewardText, r.RewardValue, r.RewardKind)
	}
	if !r.Channels.Has(ChannelInStore) || !r.Channels.Has(ChannelOnline) || r.Channels.Has(ChannelInApp) {
		t.Fatalf("channels = %v", r.Channels.List())
	}
}

func TestExtractIdentityFallbacks(t *testing.T) {
	cases := []struct {
		name string
		card string
		want string
	}{
		{
			name: "malformed payload falls back to image",
			card: `<div data-testid="feed-tile-!!notbase64!!"><img src="/logo.png?domain=shop.example.com" alt="Shop"><p>1,000 miles</p></div>`,
			want: "shop.example.com",
		},
		{
			name: "schema violation falls back to link",
			card: `<div data-testid="` + payload(`{"merchantTLD":"not a domain"}`) + `"><a href="/offer?merchantTLD=link.example.org">Go</a><p>$5 back</p></div>`,
			want: "link.example.org",
		},
		{
			name: "payload not an object",
			card: `<div data-testid="` + payload(`["x.com"]`) + `"><p>2X miles</p></div>`,
			want: "",
		},
		{
			name: "oversized payload rejected",
			card: `<div data-testid="` + payload(`{"merchantTLD":"x.com","pad":"`+strings.Repeat("a", 5000)+`"}`) + `"><p>2X miles</p></div>`,
			want: "",
		},
		{
			name: "hostile image param ignored",
			card: `<div data-testid="feed-tile-"><img src="/l.png?domain=javascript:alert(1)"><p>2X miles</p></div>`,
			want: "",
		},
	}
	ex := newTestExtractor(t)
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			doc := mustParse(t, `<html><body><div data-testid="feed-tiles">`+tc.card+`</div></body></html>`)
			cards := ex.Cards(doc)
			if len(cards) != 1 {
				t.Fatalf("expected 1 card, got %d", len(cards))
			}
			if got := ex.Extract(cards[0]).MerchantKey; got != tc.want {
				t.Fatalf("merchant key = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractRewardFallbackIsBounded(t *testing.T) {
	src := `<html><body><div data-testid="feed-tiles"><div data-testid="feed-tile-a">
<p>Terms: earn 3X miles on purchases over $50 made before the end of the month.</p>
<h3>10,000 miles</h3>
</div></div></body></html>`
	ex := newTestExtractor(t)
	r := ex.Extract(ex.Cards(mustParse(t, src))[0])
	if r.RewardText != "10,000 miles" || r.RewardValue != 10000 || r.RewardKind != KindStatic {
		t.Fatalf("reward = %q %v %s", r.RewardText, r.RewardValue, r.RewardKind)
	}
	if r.Identified() {
		t.Fatalf("card without identity should be unidentified, got %q", r.MerchantKey)
	}
}

func TestClassifyExcludesPlaceholders(t *testing.T) {
	src := `<html><body><div data-testid="feed-tiles">
<div data-testid="feed-tile-skeleton" class="skeleton"></div>
<div data-testid="feed-tile-empty"></div>
<div data-testid="offers-carousel"><div data-testid="feed-tile-c"><p>5X miles</p></div></div>
<div data-testid="feed-tile-real"><p>5X miles</p></div>
</div></body></html>`
	ex := newTestExtractor(t)
	cards := ex.Cards(mustParse(t, src))
	if len(cards) != 1 {
		t.Fatalf("expected only the real card, got %d", len(cards))
	}
	if got := GetAttr(cards[0], "data-testid"); got != "feed-tile-real" {
		t.Fatalf("unexpected card %q", got)
	}
}

func TestExtractAllUsesCacheAndSweeps(t *testing.T) {
	src := `<html><body><div data-testid="feed-tiles">
<div data-testid="feed-tile-a" data-offerlens-key="1"><p>5X miles</p></div>
<div data-testid="feed-tile-b" data-offerlens-key="2"><p>2X miles</p></div>
</div></body></html>`
	ex := newTestExtractor(t)
	cache := NewCache()
	first := ex.ExtractAll(mustParse(t, src), cache)
	if len(first) != 2 || cache.Len() != 2 {
		t.Fatalf("expected 2 records cached, got %d/%d", len(first), cache.Len())
	}
	cache.Store(Record{Key: "1", MerchantName: "cached", RewardKind: KindStatic})
	cache.MarkProcessed("2")

	after := mustParse(t, `<html><body><div data-testid="feed-tiles">
<div data-testid="feed-tile-a" data-offerlens-key="1"><p>5X miles</p></div>
</div></body></html>`)
	second := ex.ExtractAll(after, cache)
	if len(second) != 1 || second[0].MerchantName != "cached" {
		t.Fatalf("expected cached record to be reused, got %+v", second)
	}
	if cache.Len() != 1 || cache.Processed("2") {
		t.Fatalf("detached card should be swept")
	}
}
