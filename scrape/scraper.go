// Package scrape turns a campaign page URL into product records and
// coordinates when each page is fetched: once on discovery, again on the
// periodic rescrape pass, never twice for the same link on the same day.
package scrape

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Product is one item on a campaign page. Novelty is keyed by ID across
// platforms, so re-scraping a page only surfaces genuinely new items.
type Product struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Link            string  `json:"link"`
	ImageURL        string  `json:"image_url,omitempty"`
	OldPrice        int     `json:"old_price,omitempty"`
	NewPrice        int     `json:"new_price,omitempty"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
	SoldOut         bool    `json:"sold_out"`
}

// Scraper fetches and parses one campaign page.
type Scraper interface {
	Scrape(ctx context.Context, link string) ([]Product, error)
}

var (
	productHrefPattern = regexp.MustCompile(`/produkt/(\d+)/`)
	nonDigits          = regexp.MustCompile(`[^\d]`)
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// SiteScraper scrapes the retailer's campaign listing pages. The retailer
// serves two list markups; the data-test-id layout is tried first and the
// class-based layout is the fallback.
type SiteScraper struct {
	HTTPClient *http.Client
	// BaseURL prefixes relative product hrefs, e.g. https://www.example.se.
	BaseURL   string
	UserAgent string
}

func (s *SiteScraper) http() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *SiteScraper) Scrape(ctx context.Context, link string) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, &Error{Link: link, Transient: false, Err: err}
	}
	ua := s.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := s.http().Do(req)
	if err != nil {
		return nil, newError(link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newError(link, fmt.Errorf("unexpected status %s", resp.Status))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &Error{Link: link, Transient: false, Err: fmt.Errorf("parse html: %w", err)}
	}
	return s.parse(doc), nil
}

// parse extracts products from a campaign page document. An empty result is
// not an error; a campaign can legitimately be empty before the drop starts.
func (s *SiteScraper) parse(doc *goquery.Document) []Product {
	products := s.parsePrimary(doc)
	if len(products) == 0 {
		products = s.parseFallback(doc)
	}
	return products
}

// parsePrimary reads the data-test-id list layout.
func (s *SiteScraper) parsePrimary(doc *goquery.Document) []Product {
	var out []Product
	doc.Find(`li[data-test-id^="search_product_"]`).Each(func(_ int, item *goquery.Selection) {
		id := strings.TrimPrefix(item.AttrOr("data-test-id", ""), "search_product_")
		if id == "" {
			return
		}
		p := Product{ID: id}
		p.Name = strings.TrimSpace(item.Find("h3").First().Text())
		if href, ok := item.Find("a[href]").First().Attr("href"); ok {
			p.Link = s.absoluteURL(href)
		}
		p.ImageURL = item.Find("img").First().AttrOr("src", "")
		s.fillPricing(item, &p)
		out = append(out, p)
	})
	return out
}

// parseFallback reads the class-based list layout, pulling the product id out
// of the item's href.
func (s *SiteScraper) parseFallback(doc *goquery.Document) []Product {
	var out []Product
	doc.Find("li.lamvqw").Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		m := productHrefPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		p := Product{ID: m[1], Link: s.absoluteURL(href)}
		p.Name = strings.TrimSpace(item.Find("div.dseywor").First().Text())
		p.ImageURL = item.Find("img.i1n0jahz").First().AttrOr("src", "")
		s.fillPricing(item, &p)
		out = append(out, p)
	})
	return out
}

// fillPricing extracts prices, discount and availability; shared by both
// layouts.
func (s *SiteScraper) fillPricing(item *goquery.Selection, p *Product) {
	p.OldPrice = parsePrice(item.Find(`s[role="deletion"]`).First().Text())
	p.NewPrice = parsePrice(item.Find(`span[data-test-is-discounted-price="true"]`).First().Text())
	if p.NewPrice == 0 {
		// Non-discounted items carry a plain price span.
		p.NewPrice = parsePrice(item.Find(`span[class*="b1"]`).First().Text())
	}
	if p.OldPrice > 0 && p.NewPrice > 0 {
		p.DiscountPercent = roundOne(float64(p.OldPrice-p.NewPrice) / float64(p.OldPrice) * 100)
	}

	// Availability indicator is an svg dot; red means sold out. Older pages
	// spell it out instead.
	if fill, ok := item.Find("svg[fill]").First().Attr("fill"); ok {
		p.SoldOut = strings.Contains(strings.ToLower(fill), "red")
		return
	}
	item.Find("span").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		if text == "slutsåld" || text == "slutsald" {
			p.SoldOut = true
			return false
		}
		return true
	})
}

func (s *SiteScraper) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimSuffix(s.BaseURL, "/") + href
}

// parsePrice strips everything but digits from a price string like
// "12 990 kr". Returns 0 when no digits remain.
func parsePrice(text string) int {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func roundOne(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
