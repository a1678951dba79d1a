package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/dropwatch/scrape"
)

// Embed colors, picked by discount depth.
const (
	colorRed    = 0xED4245 // hot deal, 50%+ off
	colorOrange = 0xE67E22 // good deal, 30%+ off
	colorBlue   = 0x3498DB // regular discount
	colorGreen  = 0x57F287 // new product, no discount
)

// Discord caps embeds per webhook request.
const maxEmbedsPerRequest = 10

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Image       *embedImage  `json:"image,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// WebhookSink posts product batches to webhook targets as rich embeds. The
// target string is the webhook URL itself.
type WebhookSink struct {
	HTTPClient *http.Client
}

func (s *WebhookSink) http() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *WebhookSink) Deliver(ctx context.Context, target string, products []scrape.Product) error {
	for start := 0; start < len(products); start += maxEmbedsPerRequest {
		end := start + maxEmbedsPerRequest
		if end > len(products) {
			end = len(products)
		}
		payload := webhookPayload{}
		for _, p := range products[start:end] {
			payload.Embeds = append(payload.Embeds, productEmbed(p))
		}
		if err := s.post(ctx, target, payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, target string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post failed: %s", resp.Status)
	}
	return nil
}

func productEmbed(p scrape.Product) embed {
	e := embed{
		Title:       p.Name,
		URL:         p.Link,
		Description: "New product available!",
		Color:       embedColor(p),
	}
	if p.ImageURL != "" {
		e.Image = &embedImage{URL: p.ImageURL}
	}
	if p.NewPrice > 0 {
		price := fmt.Sprintf("**%s kr**", groupDigits(p.NewPrice))
		if p.OldPrice > 0 {
			price = fmt.Sprintf("~~%s kr~~ → %s", groupDigits(p.OldPrice), price)
		}
		e.Fields = append(e.Fields, embedField{Name: "Price", Value: price, Inline: true})
	}
	if p.DiscountPercent > 0 {
		e.Fields = append(e.Fields, embedField{
			Name:   "Discount",
			Value:  fmt.Sprintf("**%.1f%%** OFF", p.DiscountPercent),
			Inline: true,
		})
	}
	availability := "In Stock"
	if p.SoldOut {
		availability = "Sold Out"
	}
	e.Fields = append(e.Fields, embedField{Name: "Availability", Value: availability, Inline: true})
	e.Footer = &embedFooter{Text: "Product ID: " + p.ID}
	return e
}

func embedColor(p scrape.Product) int {
	switch {
	case p.DiscountPercent >= 50:
		return colorRed
	case p.DiscountPercent >= 30:
		return colorOrange
	case p.DiscountPercent > 0:
		return colorBlue
	default:
		return colorGreen
	}
}

// groupDigits renders 12990 as "12 990", the local convention for prices.
func groupDigits(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, c)
	}
	return string(out)
}
