package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// CatalogData is the per-ASIN catalog summary. Zero values mean the
// provider returned no data for that field.
type CatalogData struct {
	ASIN       string `json:"asin"`
	Title      string `json:"title"`
	Brand      string `json:"brand"`
	ImageURL   string `json:"image_url"`
	Category   string `json:"category"`
	SalesRank  int    `json:"sales_rank"`
	ParentASIN string `json:"parent_asin"`
	Hazmat     bool   `json:"hazmat"`
}

type catalogItemResponse struct {
	ASIN      string `json:"asin"`
	Summaries []struct {
		MarketplaceID string `json:"marketplaceId"`
		ItemName      string `json:"itemName"`
		Brand         string `json:"brand"`
	} `json:"summaries"`
	Images []struct {
		MarketplaceID string `json:"marketplaceId"`
		Images        []struct {
			Variant string `json:"variant"`
			Link    string `json:"link"`
			Height  int    `json:"height"`
			Width   int    `json:"width"`
		} `json:"images"`
	} `json:"images"`
	SalesRanks []struct {
		MarketplaceID       string      `json:"marketplaceId"`
		DisplayGroupRanks   []rankEntry `json:"displayGroupRanks"`
		ClassificationRanks []rankEntry `json:"classificationRanks"`
	} `json:"salesRanks"`
	// Dangerous-goods attributes signal hazmat handling requirements.
	Attributes    map[string]json.RawMessage `json:"attributes"`
	Relationships []struct {
		MarketplaceID string `json:"marketplaceId"`
		Relationships []struct {
			Type        string   `json:"type"`
			ParentASINs []string `json:"parentAsins"`
		} `json:"relationships"`
	} `json:"relationships"`
}

type rankEntry struct {
	Title string `json:"title"`
	Rank  int    `json:"rank"`
}

// hazmatAttributes are the dangerous-goods attribute keys whose
// presence marks an item as requiring hazmat handling. The regulation
// attribute is declared on most items and only counts when its value
// names an actual regulation.
var hazmatAttributes = []string{
	"ghs_classification_class",
	"hazmat",
	"safety_data_sheet_url",
}

func hazmatFromAttributes(attrs map[string]json.RawMessage) bool {
	for _, key := range hazmatAttributes {
		if _, ok := attrs[key]; ok {
			return true
		}
	}
	raw, ok := attrs["supplier_declared_dg_hz_regulation"]
	if !ok {
		return false
	}
	var vals []struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &vals); err != nil {
		return false
	}
	for _, v := range vals {
		if v.Value != "" && v.Value != "not_applicable" {
			return true
		}
	}
	return false
}

// CatalogItem fetches one catalog item, serving from the 24-hour
// (asin, marketplace) cache when fresh. Uncached fetches are bounded
// by the concurrency semaphore and spaced by the pacing delay to stay
// under the upstream's hard requests-per-second ceiling, which is
// enforced independently of the token bucket. Concurrent callers for
// the same ASIN share one in-flight fetch.
func (c *Client) CatalogItem(ctx context.Context, asin string) (*CatalogData, error) {
	if c.cache != nil {
		if payload, ok := c.cache.GetCatalog(asin, c.marketplace, c.cacheTTL); ok {
			var d CatalogData
			if err := json.Unmarshal(payload, &d); err == nil && d.ASIN != "" {
				return &d, nil
			}
		}
	}

	v, err, _ := c.catalogGroup.Do(asin, func() (interface{}, error) {
		if err := c.catalogSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.catalogSem.Release(1)

		d, err := c.fetchCatalogItem(ctx, asin)
		if err != nil {
			return nil, err
		}
		if c.catalogPacing > 0 {
			select {
			case <-time.After(c.catalogPacing):
			case <-ctx.Done():
				return d, ctx.Err()
			}
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CatalogData), nil
}

func (c *Client) fetchCatalogItem(ctx context.Context, asin string) (*CatalogData, error) {
	q := url.Values{
		"marketplaceIds": {c.marketplace},
		"includedData":   {"attributes,summaries,images,salesRanks,relationships"},
	}
	var resp catalogItemResponse
	if err := c.call(ctx, "catalog", "GET", "/catalog/2022-04-01/items/"+url.PathEscape(asin), q, nil, &resp); err != nil {
		return nil, fmt.Errorf("catalog item %s: %w", asin, err)
	}

	d := &CatalogData{ASIN: asin}
	if resp.ASIN != "" {
		d.ASIN = resp.ASIN
	}
	for _, s := range resp.Summaries {
		if s.MarketplaceID == c.marketplace || d.Title == "" {
			d.Title = s.ItemName
			d.Brand = s.Brand
		}
	}
	for _, imgs := range resp.Images {
		for _, img := range imgs.Images {
			if img.Variant == "MAIN" && d.ImageURL == "" {
				d.ImageURL = img.Link
			}
		}
	}
	for _, sr := range resp.SalesRanks {
		if len(sr.DisplayGroupRanks) > 0 {
			d.Category = sr.DisplayGroupRanks[0].Title
			d.SalesRank = sr.DisplayGroupRanks[0].Rank
		} else if len(sr.ClassificationRanks) > 0 && d.SalesRank == 0 {
			d.Category = sr.ClassificationRanks[0].Title
			d.SalesRank = sr.ClassificationRanks[0].Rank
		}
	}
	d.Hazmat = hazmatFromAttributes(resp.Attributes)
	for _, rel := range resp.Relationships {
		for _, r := range rel.Relationships {
			if r.Type == "VARIATION" && len(r.ParentASINs) > 0 {
				d.ParentASIN = r.ParentASINs[0]
			}
		}
	}

	if c.cache != nil {
		if raw, err := json.Marshal(d); err == nil {
			c.cache.SetCatalog(d.ASIN, c.marketplace, raw)
		}
	}
	return d, nil
}

// CatalogItems fetches many catalog items concurrently. Per-ASIN
// failures are dropped from the map rather than failing the batch;
// the caller treats missing catalog data as absent, not fatal.
func (c *Client) CatalogItems(ctx context.Context, asins []string) map[string]*CatalogData {
	asins = dedupe(asins)
	type result struct {
		asin string
		data *CatalogData
	}
	ch := make(chan result, len(asins))
	for _, asin := range asins {
		go func(asin string) {
			d, err := c.CatalogItem(ctx, asin)
			if err != nil {
				ch <- result{asin: asin}
				return
			}
			ch <- result{asin: asin, data: d}
		}(asin)
	}

	out := make(map[string]*CatalogData, len(asins))
	for range asins {
		r := <-ch
		if r.data != nil {
			out[r.asin] = r.data
		}
	}
	return out
}
