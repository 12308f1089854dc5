package keepa

import "time"

// Keepa timestamps are minutes since an epoch offset from Unix time.
// Convert before any date arithmetic.
const keepaEpochOffsetMinutes = 21564000

// FromKeepaTime converts Keepa minutes to a wall-clock instant.
func FromKeepaTime(minutes int64) time.Time {
	return time.Unix((minutes+keepaEpochOffsetMinutes)*60, 0).UTC()
}

// ToKeepaTime converts a wall-clock instant to Keepa minutes.
func ToKeepaTime(t time.Time) int64 {
	return t.Unix()/60 - keepaEpochOffsetMinutes
}

// csv history array indices, per the Keepa product wire format.
const (
	csvAmazon       = 0  // Amazon's own price, cents, -1 = out of stock
	csvNew          = 1  // lowest New offer, cents
	csvSalesRank    = 3  // sales rank
	csvOfferCount   = 11 // New offer count
	csvRating       = 16 // rating * 10
	csvReviewCount  = 17 // review count
	csvBuyBox       = 18 // buy box price + shipping, cents
	minCSVChannels  = 19
)

// Response is the top-level Keepa API payload. Token-flow fields are
// informational; throttling is signaled by HTTP status and handled by
// the executor.
type Response struct {
	Timestamp          int64     `json:"timestamp"`
	TokensLeft         int       `json:"tokensLeft"`
	RefillIn           int       `json:"refillIn"`
	RefillRate         int       `json:"refillRate"`
	TokensConsumed     int       `json:"tokensConsumed"`
	ProcessingTimeInMs int       `json:"processingTimeInMs"`
	Products           []Product `json:"products"`
}

// CategoryTreeItem is one node of the product's category hierarchy.
type CategoryTreeItem struct {
	CatID int64  `json:"catId"`
	Name  string `json:"name"`
}

// Stats carries the server-computed aggregates requested with stats=N.
// Prices and ranks share the csv channel indexing; -1 means no data.
type Stats struct {
	Current []int `json:"current"`
	Avg30   []int `json:"avg30"`
	Avg90   []int `json:"avg90"`
	Avg180  []int `json:"avg180"`

	SalesRankDrops30 int `json:"salesRankDrops30"`
	SalesRankDrops90 int `json:"salesRankDrops90"`

	OutOfStockPercentage90 []int `json:"outOfStockPercentage90"`
}

// Product is one product entry of a Keepa response. CSV is the
// run-length-encoded history: per channel, alternating
// (keepaTime, value) pairs where a value persists until the next pair.
type Product struct {
	ASIN          string             `json:"asin"`
	DomainID      int                `json:"domainId"`
	Title         string             `json:"title"`
	Brand         string             `json:"brand"`
	ImagesCSV     string             `json:"imagesCSV"`
	RootCategory  int64              `json:"rootCategory"`
	CategoryTree  []CategoryTreeItem `json:"categoryTree"`
	ParentASIN    string             `json:"parentAsin"`
	MonthlySold   int                `json:"monthlySold"`
	CSV           [][]int64          `json:"csv"`
	Stats         *Stats             `json:"stats"`
}

// categoryName returns the leaf category name, or "".
func (p *Product) categoryName() string {
	if len(p.CategoryTree) == 0 {
		return ""
	}
	return p.CategoryTree[len(p.CategoryTree)-1].Name
}

// primaryImage returns the first image filename, or "".
func (p *Product) primaryImage() string {
	for i := 0; i < len(p.ImagesCSV); i++ {
		if p.ImagesCSV[i] == ',' {
			return p.ImagesCSV[:i]
		}
	}
	return p.ImagesCSV
}
