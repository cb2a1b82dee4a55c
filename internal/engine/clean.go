package engine

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

// droppedTags never carry page content.
const droppedTags = "script, style, noscript, iframe, svg, template"

// textBlocks are the leaf elements subject to the word-count threshold.
const textBlocks = "p, li, td, span, div, blockquote, a"

// cleanHTML strips non-content tags, narrows the page to cssSelector when
// set, and removes leaf text blocks shorter than minWords.
func cleanHTML(raw, cssSelector string, minWords int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(droppedTags).Remove()

	if selector := strings.TrimSpace(cssSelector); selector != "" {
		matches := doc.Find(selector)
		if matches.Length() == 0 {
			return "", fmt.Errorf("%w: %q", ErrSelectorNoMatch, selector)
		}
		var b strings.Builder
		b.WriteString("<div>")
		matches.Each(func(_ int, s *goquery.Selection) {
			if h, err := goquery.OuterHtml(s); err == nil {
				b.WriteString(h)
			}
		})
		b.WriteString("</div>")
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(b.String()))
		if err != nil {
			return "", fmt.Errorf("parse selection: %w", err)
		}
	}

	if minWords > 0 {
		doc.Find(textBlocks).Each(func(_ int, s *goquery.Selection) {
			if s.Children().Length() > 0 {
				return
			}
			if len(strings.Fields(s.Text())) < minWords {
				s.Remove()
			}
		})
	}

	body, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render cleaned html: %w", err)
	}
	return strings.TrimSpace(body), nil
}

func toMarkdown(html, pageURL string) (string, error) {
	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Host
	}
	converter := md.NewConverter(domain, true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// extractMetadata reads the title and common meta tags of the raw page.
func extractMetadata(page crawler.CachedPage) map[string]string {
	meta := map[string]string{"final_url": page.URL}
	if ct := page.Headers.Get("Content-Type"); ct != "" {
		meta["content_type"] = ct
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return meta
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	doc.Find("meta[name], meta[property]").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok {
			name, _ = s.Attr("property")
		}
		content, _ := s.Attr("content")
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "description", "keywords", "author", "og:title", "og:description", "og:image":
			if content = strings.TrimSpace(content); content != "" {
				meta[name] = content
			}
		}
	})
	if lang, ok := doc.Find("html").Attr("lang"); ok && lang != "" {
		meta["language"] = lang
	}
	return meta
}
