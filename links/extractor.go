// Package links provides campaign link extraction from raw chat text and the
// daily ledger that guarantees each discovered link is scraped at most once
// per day.
package links

import (
	"fmt"
	"regexp"
	"strings"
)

// urlPattern finds URL candidates inside arbitrary chat text. Characters that
// commonly terminate a pasted URL in chat (whitespace, quotes, brackets) end
// the match.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

// trailingPunct covers punctuation chatters tend to append directly after a
// link ("check this out: https://... !").
const trailingPunct = `.,!?;:)'"`

// Matcher matches URLs against a configured glob template such as
// https://www.example.se/kampanj/*. A '*' matches any run of characters
// (including '/'); a '?' matches a single character. Matching is
// case-sensitive.
type Matcher struct {
	template string
	re       *regexp.Regexp
}

// NewMatcher compiles a glob template into a Matcher.
func NewMatcher(template string) (*Matcher, error) {
	if template == "" {
		return nil, fmt.Errorf("empty link template")
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range template {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile link template %q: %w", template, err)
	}
	return &Matcher{template: template, re: re}, nil
}

// Template returns the original glob template.
func (m *Matcher) Template() string { return m.template }

// Extract scans a batch of chat texts and returns the unique campaign links
// found, in first-seen order. Non-matching input yields an empty slice; the
// function is pure and never fails.
func (m *Matcher) Extract(texts []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, raw := range urlPattern.FindAllString(text, -1) {
			link := strings.TrimRight(raw, trailingPunct)
			if link == "" || !m.re.MatchString(link) {
				continue
			}
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			out = append(out, link)
		}
	}
	return out
}
