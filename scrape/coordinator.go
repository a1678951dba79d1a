package scrape

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/dropwatch/links"
	"github.com/onnwee/dropwatch/telemetry"
)

// Announcer receives batches of newly discovered products.
type Announcer interface {
	Announce(ctx context.Context, products []Product) error
}

// ProductStore persists discovered products. Optional; a nil store disables
// persistence.
type ProductStore interface {
	UpsertProduct(ctx context.Context, p Product) error
}

// pageState tracks one campaign page for the current day.
type pageState struct {
	Dead       bool // permanent scrape failure, skip until reset
	LastScrape time.Time
	LastError  string
}

// PageStatus is the externally visible state of a tracked campaign page.
type PageStatus struct {
	Link       string    `json:"link"`
	Dead       bool      `json:"dead"`
	LastScrape time.Time `json:"last_scrape,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Coordinator guarantees each campaign link is scraped at most once per day
// on discovery, merges scrape results into the cross-platform seen-products
// set, and forwards only novel products to the announcer.
type Coordinator struct {
	scraper   Scraper
	announcer Announcer
	ledger    *links.Ledger
	store     ProductStore

	mu    sync.Mutex
	seen  map[string]Product    // product id -> product
	pages map[string]*pageState // campaign link -> state
}

func NewCoordinator(scraper Scraper, announcer Announcer, ledger *links.Ledger, store ProductStore) *Coordinator {
	return &Coordinator{
		scraper:   scraper,
		announcer: announcer,
		ledger:    ledger,
		store:     store,
		seen:      make(map[string]Product),
		pages:     make(map[string]*pageState),
	}
}

// SubmitLink handles a newly discovered campaign link. Links already in the
// ledger are a no-op; exactly one of any number of concurrent submissions of
// the same link proceeds to scrape.
func (c *Coordinator) SubmitLink(ctx context.Context, link string) error {
	if !c.ledger.RecordIfNew(link) {
		return nil
	}
	telemetry.IncLinksDiscovered()
	telemetry.LoggerWithCorr(ctx).Info("coordinator: new campaign link", "link", link)

	c.mu.Lock()
	c.pages[link] = &pageState{}
	c.mu.Unlock()

	return c.scrapePage(ctx, link)
}

// RescrapeAll re-fetches every live tracked page to catch products added to a
// known campaign after discovery. Dead pages are skipped until the daily
// reset.
func (c *Coordinator) RescrapeAll(ctx context.Context) {
	telemetry.IncRescrapeCycle()
	c.mu.Lock()
	targets := make([]string, 0, len(c.pages))
	for link, st := range c.pages {
		if !st.Dead {
			targets = append(targets, link)
		}
	}
	c.mu.Unlock()
	sort.Strings(targets)

	for _, link := range targets {
		if ctx.Err() != nil {
			return
		}
		if err := c.scrapePage(ctx, link); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("coordinator: rescrape failed", "link", link, "err", err)
		}
	}
}

// ResetDay drops all per-day state: tracked pages and the seen-products set.
// The ledger is reset separately by its owner.
func (c *Coordinator) ResetDay() {
	c.mu.Lock()
	c.seen = make(map[string]Product)
	c.pages = make(map[string]*pageState)
	c.mu.Unlock()
	telemetry.SetTrackedCounts(0, 0)
}

// scrapePage fetches one page, merges the results and announces novel
// products. A permanent failure marks the page dead for the day.
func (c *Coordinator) scrapePage(ctx context.Context, link string) error {
	start := time.Now()
	products, err := c.scraper.Scrape(ctx, link)
	telemetry.ObserveScrape(err == nil, time.Since(start))

	c.mu.Lock()
	st, ok := c.pages[link]
	if !ok {
		st = &pageState{}
		c.pages[link] = st
	}
	st.LastScrape = time.Now()
	if err != nil {
		st.LastError = err.Error()
		if !IsTransient(err) {
			st.Dead = true
		}
		c.mu.Unlock()
		telemetry.LoggerWithCorr(ctx).Warn("coordinator: scrape failed",
			"link", link, "transient", IsTransient(err), "err", err)
		return err
	}
	st.LastError = ""

	var fresh []Product
	for _, p := range products {
		if _, dup := c.seen[p.ID]; dup {
			continue
		}
		c.seen[p.ID] = p
		fresh = append(fresh, p)
	}
	campaigns, seen := len(c.pages), len(c.seen)
	c.mu.Unlock()

	telemetry.SetTrackedCounts(campaigns, seen)
	if len(fresh) == 0 {
		return nil
	}
	telemetry.AddProductsDiscovered(len(fresh))
	telemetry.LoggerWithCorr(ctx).Info("coordinator: new products",
		"link", link, "count", len(fresh))

	if c.store != nil {
		for _, p := range fresh {
			if err := c.store.UpsertProduct(ctx, p); err != nil {
				telemetry.LoggerWithCorr(ctx).Warn("coordinator: persist product",
					"product_id", p.ID, "err", err)
			}
		}
	}
	if err := c.announcer.Announce(ctx, fresh); err != nil {
		// Per-target failures are already isolated inside the announcer; a
		// joined error here is informational.
		telemetry.LoggerWithCorr(ctx).Warn("coordinator: announce", "err", err)
	}
	return nil
}

// Products returns today's seen products sorted by id.
func (c *Coordinator) Products() []Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Product, 0, len(c.seen))
	for _, p := range c.seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pages returns today's tracked campaign pages sorted by link.
func (c *Coordinator) Pages() []PageStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PageStatus, 0, len(c.pages))
	for link, st := range c.pages {
		out = append(out, PageStatus{Link: link, Dead: st.Dead, LastScrape: st.LastScrape, LastError: st.LastError})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Link < out[j].Link })
	return out
}

// ProductCount returns the number of products seen today.
func (c *Coordinator) ProductCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// PageCount returns the number of campaign pages tracked today.
func (c *Coordinator) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}
