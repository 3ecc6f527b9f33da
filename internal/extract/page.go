// Package extract derives preview metadata from a rendered page. Parsing the
// DOM into a Page snapshot happens once; Extract is a pure function over it.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the subset of rendered DOM state the extractor reads.
type Page struct {
	// URL is the final document location after redirects.
	URL   string
	Title string
	// Meta maps a meta element's name or property attribute to its content.
	// The first element in document order wins.
	Meta map[string]string
	// Links maps a link element's lowercased rel attribute to its absolute
	// href. The first element in document order wins.
	Links map[string]string
}

// ParseHTML builds a Page from serialized HTML located at pageURL.
func ParseHTML(pageURL, html string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("parse page url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, refErr := base.Parse(strings.TrimSpace(href)); refErr == nil {
			base = ref
		}
	}

	page := Page{
		URL:   pageURL,
		Title: collapseSpace(doc.Find("title").First().Text()),
		Meta:  make(map[string]string),
		Links: make(map[string]string),
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := s.AttrOr("content", "")
		for _, attr := range []string{"name", "property"} {
			key, ok := s.Attr(attr)
			if !ok || key == "" {
				continue
			}
			if _, seen := page.Meta[key]; !seen {
				page.Meta[key] = content
			}
		}
	})

	doc.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(strings.TrimSpace(s.AttrOr("rel", "")))
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if rel == "" || href == "" {
			return
		}
		if _, seen := page.Links[rel]; seen {
			return
		}
		page.Links[rel] = resolve(base, href)
	})

	return page, nil
}

func resolve(base *url.URL, ref string) string {
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
