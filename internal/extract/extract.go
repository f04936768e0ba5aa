// File: internal/extract/extract.go
// Description: Turns raw listing HTML fragments into normalized ProductRecords
// and applies the plan's constraints. Items that cannot yield a title, a
// parseable price and an absolute link are dropped and counted rather than
// failing the whole extraction.
package extract

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/selectors"
)

// Extractor parses listing fragments using a site's locator strategy.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor wires the extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("extractor")}
}

// Listing parses each fragment with the strategy's field queries and
// normalizes the survivors. baseURL resolves relative listing links. The
// second return value counts dropped fragments.
func (e *Extractor) Listing(fragments []string, strategy selectors.LocatorStrategy, baseURL string) ([]schemas.ProductRecord, int, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	records := make([]schemas.ProductRecord, 0, len(fragments))
	dropped := 0
	for _, fragment := range fragments {
		raw, ok := e.parseFragment(fragment, strategy)
		if !ok {
			dropped++
			continue
		}
		record, ok := e.normalize(raw, base)
		if !ok {
			dropped++
			continue
		}
		records = append(records, record)
	}

	e.logger.Debug("Listing extraction complete",
		zap.String("strategy", strategy.Name),
		zap.Int("extracted", len(records)),
		zap.Int("dropped", dropped),
	)
	return records, dropped, nil
}

// parseFragment pulls the strategy's title/price/link fields out of one item
// fragment.
func (e *Extractor) parseFragment(fragment string, strategy selectors.LocatorStrategy) (schemas.RawListingItem, bool) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return schemas.RawListingItem{}, false
	}

	item := schemas.RawListingItem{HTML: fragment}
	if q := strategy.Fields[selectors.FieldTitle]; q != "" {
		if n := selectFirst(root, q); n != nil {
			item.Title = textContent(n)
		}
	}
	if q := strategy.Fields[selectors.FieldPrice]; q != "" {
		if n := selectFirst(root, q); n != nil {
			item.PriceText = textContent(n)
		}
	}
	if q := strategy.Fields[selectors.FieldLink]; q != "" {
		if n := selectFirst(root, q); n != nil {
			item.Href = attrValue(n, "href")
		}
	}
	if item.Title == "" {
		return schemas.RawListingItem{}, false
	}
	return item, true
}

// normalize validates and converts a raw item. Sponsored-placeholder titles,
// unparsable prices and missing links all drop the item.
func (e *Extractor) normalize(raw schemas.RawListingItem, base *url.URL) (schemas.ProductRecord, bool) {
	title := strings.TrimSpace(raw.Title)
	if title == "" || strings.EqualFold(title, "shop on ebay") {
		return schemas.ProductRecord{}, false
	}

	price, ok := ParsePrice(raw.PriceText)
	if !ok {
		return schemas.ProductRecord{}, false
	}

	link := strings.TrimSpace(raw.Href)
	if link == "" {
		return schemas.ProductRecord{}, false
	}
	ref, err := url.Parse(link)
	if err != nil {
		return schemas.ProductRecord{}, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return schemas.ProductRecord{}, false
	}

	return schemas.ProductRecord{
		Title: title,
		Price: price,
		Link:  abs.String(),
	}, true
}

// Rank applies the plan's constraints and orders survivors cheapest first,
// then assigns the stable indexes a later choose call references. A zero
// maxPrice means no ceiling.
func Rank(records []schemas.ProductRecord, maxPrice float64, mustHave []string) []schemas.ProductRecord {
	out := make([]schemas.ProductRecord, 0, len(records))
	for _, r := range records {
		if maxPrice > 0 && r.Price.Amount > maxPrice {
			continue
		}
		if !containsAll(r.Title, mustHave) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price.Amount < out[j].Price.Amount
	})
	for i := range out {
		out[i].Index = i
	}
	return out
}

func containsAll(title string, keywords []string) bool {
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}
