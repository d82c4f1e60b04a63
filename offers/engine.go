package offers

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Criteria selects the sort key.
type Criteria string

const (
	CriteriaNone           Criteria = ""
	CriteriaReward         Criteria = "reward"
	CriteriaMerchant       Criteria = "merchant"
	CriteriaRewardMerchant Criteria = "reward-merchant"
)

// ParseCriteria accepts the names used by the popup and a few aliases.
func ParseCriteria(s string) (Criteria, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "default":
		return CriteriaNone, true
	case "reward", "mileage", "miles", "value":
		return CriteriaReward, true
	case "merchant", "name", "alphabetical":
		return CriteriaMerchant, true
	case "reward-merchant", "mileage-merchant", "combined":
		return CriteriaRewardMerchant, true
	}
	return CriteriaNone, false
}

// Direction of one sort key.
type Direction int

const (
	Desc Direction = iota
	Asc
)

func (d Direction) String() string {
	if d == Asc {
		return "asc"
	}
	return "desc"
}

// Order carries one direction per key. Reward is used by reward sorts,
// Merchant by merchant sorts, both by the combined sort.
type Order struct {
	Reward   Direction
	Merchant Direction
}

// DefaultCombinedOrder is used when a combined order string is not
// recognised: highest reward first, merchants A to Z.
var DefaultCombinedOrder = Order{Reward: Desc, Merchant: Asc}

func parseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "desc", "high", "highest", "descending", "za", "z-a":
		return Desc, true
	case "asc", "low", "lowest", "ascending", "az", "a-z":
		return Asc, true
	}
	return Desc, false
}

// ParseOrder interprets order for the given criteria. Single-key sorts take
// "asc"/"desc"; the combined sort takes "<reward>-<merchant>", for example
// "desc-asc" or "high-az". When the string is not understood the documented
// default is returned together with ok=false so the caller can report it:
// reward sorts default to descending, merchant sorts to A to Z and the
// combined sort to DefaultCombinedOrder.
func ParseOrder(c Criteria, order string) (Order, bool) {
	switch c {
	case CriteriaReward:
		d, ok := parseDirection(order)
		if !ok {
			d = Desc
		}
		return Order{Reward: d, Merchant: Asc}, ok
	case CriteriaMerchant:
		d, ok := parseDirection(order)
		if !ok {
			d = Asc
		}
		return Order{Reward: Desc, Merchant: d}, ok
	case CriteriaRewardMerchant:
		parts := strings.FieldsFunc(strings.ToLower(order), func(r rune) bool {
			return r == '-' || r == '_' || r == '/' || r == ' ' || r == ','
		})
		if len(parts) == 3 && (parts[1] == "a" || parts[1] == "z") {
			// "high-a-z": rejoin the merchant half
			parts = []string{parts[0], parts[1] + parts[2]}
		}
		if len(parts) != 2 {
			return DefaultCombinedOrder, false
		}
		rd, ok1 := parseDirection(parts[0])
		md, ok2 := parseDirection(parts[1])
		if !ok1 || !ok2 {
			return DefaultCombinedOrder, false
		}
		return Order{Reward: rd, Merchant: md}, true
	}
	return Order{Reward: Desc, Merchant: Asc}, true
}

// Filter is the conjunction of up to three predicates. Zero values disable
// a predicate.
type Filter struct {
	FavoritesOnly bool
	Favorites     map[string]bool
	Kind          RewardKind
	Channel       Channel
}

// Active reports whether any predicate is enabled.
func (f Filter) Active() bool {
	return f.FavoritesOnly || f.Kind != "" || f.Channel != ""
}

// Match applies every active predicate to r.
func (f Filter) Match(r Record) bool {
	if f.FavoritesOnly {
		if !r.Identified() || !f.Favorites[r.MerchantKey] {
			return false
		}
	}
	if f.Kind != "" && r.RewardKind != f.Kind {
		return false
	}
	if f.Channel != "" && !r.Channels.Has(f.Channel) {
		return false
	}
	return true
}

// Request is one sort/filter decision request.
type Request struct {
	Criteria Criteria
	Order    Order
	Filter   Filter
}

// Active reports whether the request overrides the host page's own order or
// visibility.
func (r Request) Active() bool {
	return r.Criteria != CriteriaNone || r.Filter.Active()
}

// Decision is the engine's answer: the visible records in display order and
// the records to hide.
type Decision struct {
	Ordered     []Record
	Hidden      []Record
	HiddenCount int
}

// Engine computes decisions. It never touches the DOM.
type Engine struct {
	lang language.Tag
}

// NewEngine returns an engine comparing merchant names under lang.
func NewEngine(lang language.Tag) *Engine {
	return &Engine{lang: lang}
}

// Reconcile partitions records into visible and hidden and orders the visible
// ones. Input order is the tie breaker, so repeated calls are stable.
func (e *Engine) Reconcile(records []Record, req Request) Decision {
	var d Decision
	d.Ordered = make([]Record, 0, len(records))
	for _, r := range records {
		if req.Filter.Match(r) {
			d.Ordered = append(d.Ordered, r)
		} else {
			d.Hidden = append(d.Hidden, r)
		}
	}
	d.HiddenCount = len(d.Hidden)
	if less := e.comparator(req.Criteria, req.Order); less != nil {
		sort.SliceStable(d.Ordered, func(i, j int) bool {
			return less(d.Ordered[i], d.Ordered[j])
		})
	}
	return d
}

// comparator returns a strict weak ordering for the criteria, or nil to keep
// page order.
func (e *Engine) comparator(c Criteria, o Order) func(a, b Record) bool {
	col := collate.New(e.lang, collate.IgnoreCase)
	merchant := func(a, b Record) int {
		cmp := col.CompareString(a.MerchantName, b.MerchantName)
		if o.Merchant == Desc {
			cmp = -cmp
		}
		return cmp
	}
	reward := func(a, b Record) int {
		var cmp int
		switch {
		case a.RewardValue < b.RewardValue:
			cmp = -1
		case a.RewardValue > b.RewardValue:
			cmp = 1
		}
		if o.Reward == Desc {
			cmp = -cmp
		}
		return cmp
	}
	switch c {
	case CriteriaReward:
		return func(a, b Record) bool { return reward(a, b) < 0 }
	case CriteriaMerchant:
		return func(a, b Record) bool { return merchant(a, b) < 0 }
	case CriteriaRewardMerchant:
		return func(a, b Record) bool {
			if cmp := reward(a, b); cmp != 0 {
				return cmp < 0
			}
			return merchant(a, b) < 0
		}
	}
	return nil
}
