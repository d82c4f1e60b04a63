package offers

import (
	"encoding/json"
	"strings"
)

// KeyAttr is stamped on every card element so that a record can be traced back
// to the live node it was extracted from.
const KeyAttr = "data-offerlens-key"

// RewardKind classifies the parsed reward text.
type RewardKind string

const (
	KindMultiplier RewardKind = "multiplier"
	KindStatic     RewardKind = "static"
	KindUnknown    RewardKind = "unknown"
)

// ParseKind maps user supplied filter values onto a RewardKind. Empty input
// means "any kind" and returns ok=true with an empty kind.
func ParseKind(s string) (RewardKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "any":
		return "", true
	case "multiplier", "multipliers", "x":
		return KindMultiplier, true
	case "static", "fixed":
		return KindStatic, true
	case "unknown":
		return KindUnknown, true
	}
	return "", false
}

// Channel is one redemption channel of an offer.
type Channel string

const (
	ChannelInStore Channel = "in-store"
	ChannelInApp   Channel = "in-app"
	ChannelOnline  Channel = "online"
)

var allChannels = []Channel{ChannelInStore, ChannelInApp, ChannelOnline}

// ParseChannel normalises "In Store", "in_store", "instore" and friends.
// Empty input means "any channel".
func ParseChannel(s string) (Channel, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(norm)
	switch norm {
	case "", "all", "any":
		return "", true
	case "instore":
		return ChannelInStore, true
	case "inapp":
		return ChannelInApp, true
	case "online":
		return ChannelOnline, true
	}
	return "", false
}

// ChannelSet is a small bit set of channels.
type ChannelSet uint8

func channelBit(c Channel) ChannelSet {
	for i, ch := range allChannels {
		if ch == c {
			return 1 << uint(i)
		}
	}
	return 0
}

// NewChannelSet builds a set from the given channels.
func NewChannelSet(chs ...Channel) ChannelSet {
	var s ChannelSet
	for _, c := range chs {
		s = s.With(c)
	}
	return s
}

func (s ChannelSet) With(c Channel) ChannelSet { return s | channelBit(c) }

// Has reports whether c is a member. The empty channel never is.
func (s ChannelSet) Has(c Channel) bool {
	bit := channelBit(c)
	return bit != 0 && s&bit != 0
}

func (s ChannelSet) Empty() bool { return s == 0 }

// List returns the members in a fixed order.
func (s ChannelSet) List() []Channel {
	out := make([]Channel, 0, len(allChannels))
	for _, c := range allChannels {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s ChannelSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *ChannelSet) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*s = 0
	for _, raw := range list {
		if c, ok := ParseChannel(raw); ok && c != "" {
			*s = s.With(c)
		}
	}
	return nil
}

// Record is the normalized view of one rendered offer card. It is derived from
// the DOM and only valid for the snapshot it was extracted from: Key refers to
// the live card and must be revalidated before reuse.
type Record struct {
	Key          string     `json:"key"`
	MerchantKey  string     `json:"merchantKey"`
	MerchantName string     `json:"merchantName"`
	RewardText   string     `json:"rewardText"`
	RewardValue  float64    `json:"rewardValue"`
	RewardKind   RewardKind `json:"rewardKind"`
	Channels     ChannelSet `json:"channels"`
}

// Identified reports whether the record carries a merchant identity and can
// therefore take part in favorite grouping.
func (r Record) Identified() bool { return r.MerchantKey != "" }
