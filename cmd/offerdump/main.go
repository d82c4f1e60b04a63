// Command offerdump extracts offer records from a saved or fetched offers page
// and prints them in the order a sort/filter request would display them.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"offerlens/offers"
)

func main() {
	profilePath := flag.String("profile", "", "site profile JSON overriding the default selectors")
	criteria := flag.String("sort", "", "sort criteria: reward, merchant or combined")
	order := flag.String("order", "", "sort order, e.g. desc or desc-asc")
	kind := flag.String("type", "", "reward type filter")
	channel := flag.String("channel", "", "channel filter")
	favorites := flag.String("favorites", "", "comma separated merchant keys; shows only these")
	lang := flag.String("lang", "en", "collation language for merchant names")
	asJSON := flag.Bool("json", false, "print records as JSON")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	src := "-"
	if flag.NArg() > 0 {
		src = flag.Arg(0)
	}
	doc, err := load(src)
	if err != nil {
		log.Fatal().Err(err).Str("src", src).Msg("load")
	}

	prof := offers.DefaultProfile()
	if *profilePath != "" {
		raw, err := os.ReadFile(*profilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("read profile")
		}
		var override offers.Profile
		if err := json.Unmarshal(raw, &override); err != nil {
			log.Fatal().Err(err).Msg("parse profile")
		}
		prof = prof.Merge(override)
	}

	req, err := buildRequest(*criteria, *order, *kind, *channel, *favorites)
	if err != nil {
		log.Fatal().Err(err).Msg("request")
	}

	ex, err := offers.NewExtractor(prof, log)
	if err != nil {
		log.Fatal().Err(err).Msg("profile")
	}
	sel, err := cascadia.Compile(prof.Container)
	if err != nil {
		log.Fatal().Err(err).Str("container", prof.Container).Msg("container selector")
	}
	root := cascadia.Query(doc, sel)
	if root == nil {
		log.Fatal().Str("container", prof.Container).Msg("offers container not found")
	}

	tag, err := language.Parse(*lang)
	if err != nil {
		log.Warn().Err(err).Msg("unknown language, using en")
		tag = language.English
	}
	d := offers.NewEngine(tag).Reconcile(ex.ExtractAll(root, nil), req)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			log.Fatal().Err(err).Msg("encode")
		}
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMERCHANT\tKEY\tREWARD\tVALUE\tKIND\tCHANNELS")
	for i, r := range d.Ordered {
		chs := make([]string, 0, 3)
		for _, c := range r.Channels.List() {
			chs = append(chs, string(c))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%g\t%s\t%s\n",
			i+1, r.MerchantName, r.MerchantKey, r.RewardText, r.RewardValue, r.RewardKind, strings.Join(chs, ","))
	}
	tw.Flush()
	fmt.Fprintf(os.Stderr, "%d shown, %d hidden\n", len(d.Ordered), d.HiddenCount)
}

func buildRequest(criteria, order, kind, channel, favorites string) (offers.Request, error) {
	var req offers.Request
	c, ok := offers.ParseCriteria(criteria)
	if !ok {
		return req, fmt.Errorf("unknown sort criteria %q", criteria)
	}
	req.Criteria = c
	req.Order, _ = offers.ParseOrder(c, order)
	if req.Filter.Kind, ok = offers.ParseKind(kind); !ok {
		return req, fmt.Errorf("unknown reward type %q", kind)
	}
	if req.Filter.Channel, ok = offers.ParseChannel(channel); !ok {
		return req, fmt.Errorf("unknown channel %q", channel)
	}
	if favorites != "" {
		req.Filter.FavoritesOnly = true
		req.Filter.Favorites = map[string]bool{}
		for _, f := range strings.Split(favorites, ",") {
			if k := offers.NormalizeMerchantKey(f); k != "" {
				req.Filter.Favorites[k] = true
			}
		}
	}
	return req, nil
}

// load parses src as a local file, an http(s) URL or stdin ("-").
func load(src string) (*html.Node, error) {
	var r io.Reader
	switch {
	case src == "-":
		r = os.Stdin
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		req, err := http.NewRequest(http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "offerdump/1.0")
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: %s", src, resp.Status)
		}
		r = resp.Body
	default:
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return html.Parse(r)
}
