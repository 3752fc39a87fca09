package miner

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"recnet/pkg/protocol"
)

// Generator produces the recommendation list for one request. It returns the
// results plus the model identifiers that produced them; both end up verbatim
// in the wire response.
type Generator interface {
	Recommend(req protocol.RecRequest) (results []string, models []string, err error)
}

// CatalogItem is one product in a request's catalog context.
type CatalogItem struct {
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// maxCatalogItems bounds how large a catalog a single request may carry.
const maxCatalogItems = 10000

// CatalogGenerator recommends by sampling the catalog embedded in the
// request context: it parses the catalog, drops the item being browsed, and
// returns a uniform random sample of the rest. It is the reference
// implementation of the Generator seam; model-backed generators plug in the
// same way.
type CatalogGenerator struct{}

// catalogModelName is what CatalogGenerator reports in ModelsUsed.
const catalogModelName = "catalog-sampler/1"

// Recommend implements Generator.
func (CatalogGenerator) Recommend(req protocol.RecRequest) ([]string, []string, error) {
	var catalog []CatalogItem
	if err := json.Unmarshal([]byte(req.Context), &catalog); err != nil {
		return nil, nil, fmt.Errorf("parse catalog context: %w", err)
	}
	if len(catalog) == 0 {
		return nil, nil, fmt.Errorf("empty catalog context")
	}
	if len(catalog) > maxCatalogItems {
		return nil, nil, fmt.Errorf("catalog too large: %d items", len(catalog))
	}

	// Never recommend the product the shopper is already looking at.
	pool := make([]CatalogItem, 0, len(catalog))
	for _, item := range catalog {
		if item.SKU == "" || item.SKU == req.Query {
			continue
		}
		pool = append(pool, item)
	}
	if len(pool) < req.NumResults {
		return nil, nil, fmt.Errorf("catalog has %d eligible items, need %d", len(pool), req.NumResults)
	}

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	results := make([]string, 0, req.NumResults)
	for _, item := range pool[:req.NumResults] {
		item.Name = sanitizeName(item.Name)
		encoded, err := json.Marshal(item)
		if err != nil {
			return nil, nil, fmt.Errorf("encode result: %w", err)
		}
		results = append(results, string(encoded))
	}
	return results, []string{catalogModelName}, nil
}

// sanitizeName strips characters that break downstream display of product
// names and collapses the whitespace that removal leaves behind.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch r {
		case '"', '\'', '`', '<', '>', '\\':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
