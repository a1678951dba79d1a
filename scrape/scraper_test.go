package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const primaryLayoutHTML = `
<html><body><ul>
  <li data-test-id="search_product_1977294">
    <a href="/produkt/1977294/geforce-rtx"><h3 class="h1k2j">GeForce RTX 4070</h3></a>
    <img src="https://cdn.example.se/img/1977294.jpg">
    <svg fill="green"><circle/></svg>
    <s role="deletion">8 990 kr</s>
    <span data-test-is-discounted-price="true">6 990 kr</span>
  </li>
  <li data-test-id="search_product_2000001">
    <a href="/produkt/2000001/ssd-2tb"><h3 class="h1k2j">SSD 2TB</h3></a>
    <img src="https://cdn.example.se/img/2000001.jpg">
    <svg fill="rgb(255,0,0) red"><circle/></svg>
    <span class="b1f8x">1 490 kr</span>
  </li>
</ul></body></html>`

const fallbackLayoutHTML = `
<html><body><ul>
  <li class="lamvqw">
    <a href="/produkt/1977294/geforce-rtx"></a>
    <div class="dseywor">GeForce RTX 4070</div>
    <img class="i1n0jahz" src="https://cdn.example.se/img/1977294.jpg">
    <s role="deletion">8 990 kr</s>
    <span data-test-is-discounted-price="true">6 990 kr</span>
  </li>
</ul></body></html>`

func serveHTML(t *testing.T, status int, html string) (*SiteScraper, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(html))
	}))
	t.Cleanup(server.Close)
	return &SiteScraper{HTTPClient: server.Client(), BaseURL: "https://www.example.se"}, server.URL
}

func TestScrapePrimaryLayout(t *testing.T) {
	s, url := serveHTML(t, http.StatusOK, primaryLayoutHTML)
	products, err := s.Scrape(context.Background(), url)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("got %d products, want 2", len(products))
	}

	p := products[0]
	if p.ID != "1977294" || p.Name != "GeForce RTX 4070" {
		t.Errorf("first product = %+v", p)
	}
	if p.Link != "https://www.example.se/produkt/1977294/geforce-rtx" {
		t.Errorf("link = %q", p.Link)
	}
	if p.OldPrice != 8990 || p.NewPrice != 6990 {
		t.Errorf("prices = %d/%d, want 8990/6990", p.OldPrice, p.NewPrice)
	}
	if p.DiscountPercent != 22.2 {
		t.Errorf("discount = %v, want 22.2", p.DiscountPercent)
	}
	if p.SoldOut {
		t.Error("first product marked sold out")
	}

	q := products[1]
	if q.ID != "2000001" || q.OldPrice != 0 || q.NewPrice != 1490 {
		t.Errorf("second product = %+v", q)
	}
	if !q.SoldOut {
		t.Error("red availability dot not detected as sold out")
	}
	if q.DiscountPercent != 0 {
		t.Errorf("discount without old price = %v", q.DiscountPercent)
	}
}

func TestScrapeFallbackLayout(t *testing.T) {
	s, url := serveHTML(t, http.StatusOK, fallbackLayoutHTML)
	products, err := s.Scrape(context.Background(), url)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	p := products[0]
	if p.ID != "1977294" {
		t.Errorf("id = %q, want 1977294 (from href)", p.ID)
	}
	if p.Name != "GeForce RTX 4070" {
		t.Errorf("name = %q", p.Name)
	}
	if p.ImageURL != "https://cdn.example.se/img/1977294.jpg" {
		t.Errorf("image = %q", p.ImageURL)
	}
	if p.OldPrice != 8990 || p.NewPrice != 6990 {
		t.Errorf("prices = %d/%d", p.OldPrice, p.NewPrice)
	}
}

func TestScrapeEmptyPage(t *testing.T) {
	s, url := serveHTML(t, http.StatusOK, "<html><body><p>Kampanjen har inte startat</p></body></html>")
	products, err := s.Scrape(context.Background(), url)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("got %d products from empty page", len(products))
	}
}

func TestScrapeStatusClassification(t *testing.T) {
	t.Run("404 is permanent", func(t *testing.T) {
		s, url := serveHTML(t, http.StatusNotFound, "")
		_, err := s.Scrape(context.Background(), url)
		if err == nil {
			t.Fatal("expected error")
		}
		if IsTransient(err) {
			t.Errorf("404 classified transient: %v", err)
		}
	})

	t.Run("503 is transient", func(t *testing.T) {
		s, url := serveHTML(t, http.StatusServiceUnavailable, "")
		_, err := s.Scrape(context.Background(), url)
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsTransient(err) {
			t.Errorf("503 classified permanent: %v", err)
		}
		var se *Error
		if !errors.As(err, &se) {
			t.Errorf("error is not *Error: %T", err)
		}
	})
}
