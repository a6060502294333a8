package blocker

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	unblockTexts = []string{"Unblock", "차단 해제", "차단해제"}
	confirmTexts = []string{"Block", "차단", "차단하기"}
)

// Page is a parsed snapshot of a profile page.
type Page struct {
	doc *goquery.Document
}

// ParsePage parses an HTML snapshot taken from a worker window.
func ParsePage(content string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return &Page{doc: doc}, nil
}

// IsErrorPage reports whether the browser rendered its own network error
// page instead of the profile.
func (p *Page) IsErrorPage() bool {
	if p.doc.Find("body.neterror, #main-frame-error, #sub-frame-error").Length() > 0 {
		return true
	}
	return p.doc.Find(`meta[http-equiv="X-Chrome-Error"]`).Length() > 0
}

// HasUnblock reports whether a short visible control offers to unblock the
// profile, meaning the account is already blocked.
func (p *Page) HasUnblock() bool {
	found := false
	p.doc.Find(`div[role="button"], button, div[role="menuitem"], span, div`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if childElementCount(s) > 3 || hidden(s) {
			return true
		}
		text := strings.TrimSpace(s.Text())
		if text == "" || utf8.RuneCountInString(text) >= 20 {
			return true
		}
		for _, t := range unblockTexts {
			if strings.Contains(text, t) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// HasDialog reports whether a modal dialog is open.
func (p *Page) HasDialog() bool {
	return p.doc.Find(`[role="dialog"]`).Length() > 0
}

// HasConfirm reports whether the newest dialog holds the block confirmation.
func (p *Page) HasConfirm() bool {
	dialogs := p.doc.Find(`[role="dialog"]`)
	root := p.doc.Selection
	if dialogs.Length() > 0 {
		root = dialogs.Last()
	}

	found := false
	root.Find(`div[role="button"], button`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		for _, t := range confirmTexts {
			if text == t {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func childElementCount(s *goquery.Selection) int {
	if len(s.Nodes) == 0 {
		return 0
	}
	n := 0
	for c := s.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			n++
		}
	}
	return n
}

func hidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, ok := s.Attr("aria-hidden"); ok && v == "true" {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}
