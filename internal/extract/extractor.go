package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"sjsage522/slothproxy/helpers"
	"sjsage522/slothproxy/logger"
	apperrors "sjsage522/slothproxy/pkg/errors"
)

// DefaultMaxItems bounds how many list matches are evaluated per page
const DefaultMaxItems = 500

// Extractor maps rendered HTML and a selector schema to article items
type Extractor struct {
	maxItems int
	log      *logger.Logger
}

// NewExtractor creates an extractor evaluating at most maxItems list matches
func NewExtractor(maxItems int, log *logger.Logger) *Extractor {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{maxItems: maxItems, log: log}
}

// Extract returns the items of src in document order. Only an invalid schema or
// base URL is an error; malformed HTML is parsed permissively.
func (e *Extractor) Extract(src string, schema Schema, baseURL string) ([]Item, error) {
	cs, err := schema.compile()
	if err != nil {
		return nil, err
	}

	base, err := helpers.ParseTargetURL(baseURL)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeInput, "extract", "invalid base url", err)
	}

	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, apperrors.NewInternal("extract", "failed to parse html", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	// a <base href> in the page takes precedence, as in the browser
	if href, ok := doc.Find("head base[href]").First().Attr("href"); ok {
		if abs := helpers.ResolveURL(base, href); abs != "" {
			if u, perr := url.Parse(abs); perr == nil {
				base = u
			}
		}
	}

	matches := doc.FindMatcher(cs.list)
	items := make([]Item, 0, min(matches.Length(), e.maxItems))
	dropped := 0

	matches.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= e.maxItems {
			return false
		}
		if item, ok := e.processItem(s, cs, base); ok {
			items = append(items, item)
		} else {
			dropped++
		}
		return true
	})

	e.log.Debug().
		Str("url", baseURL).
		Int("matches", matches.Length()).
		Int("items", len(items)).
		Int("dropped", dropped).
		Msg("Extraction finished")

	return items, nil
}

// processItem extracts a single item; ok is false when title or link is missing
func (e *Extractor) processItem(s *goquery.Selection, cs *compiledSchema, base *url.URL) (Item, bool) {
	// Extract title
	titleSel := s
	if cs.title != nil {
		if found := s.FindMatcher(cs.title).First(); found.Length() > 0 {
			titleSel = found
		}
	}
	title := normalizeText(titleSel.Text())
	if title == "" {
		return Item{}, false
	}

	// Extract link
	var link string
	if cs.link != nil {
		link = helpers.ResolveURL(base, hrefOf(s.FindMatcher(cs.link).First()))
	}
	if link == "" {
		link = helpers.ResolveURL(base, titleHref(s, titleSel))
	}
	if link == "" {
		return Item{}, false
	}

	item := Item{Title: title, Link: link}

	// Extract date
	if cs.date != nil {
		dateSel := s.FindMatcher(cs.date).First()
		raw, ok := dateSel.Attr("datetime")
		if !ok || strings.TrimSpace(raw) == "" {
			raw = dateSel.Text()
		}
		item.Date = ParseDate(raw)
	}

	// Extract summary
	if cs.summary != nil {
		item.Summary = normalizeText(s.FindMatcher(cs.summary).First().Text())
	}

	// Extract image
	if cs.image != nil {
		imgSel := s.FindMatcher(cs.image).First()
		src, _ := imgSel.Attr("src")
		if strings.TrimSpace(src) == "" || strings.HasPrefix(src, "data:") {
			src, _ = imgSel.Attr("data-src")
		}
		item.Image = helpers.ResolveURL(base, src)
	}

	return item, true
}

// titleHref finds the link of the title element: its own href, a descendant
// anchor, or an enclosing anchor that still lies within the item.
func titleHref(item, titleSel *goquery.Selection) string {
	if href := hrefOf(titleSel); href != "" {
		return href
	}
	if href := hrefOf(titleSel.Find("a[href]").First()); href != "" {
		return href
	}

	anchor := titleSel.Closest("a[href]")
	if anchor.Length() > 0 && (anchor.IsSelection(item) || item.Find("a[href]").IsSelection(anchor)) {
		return hrefOf(anchor)
	}
	return ""
}

func hrefOf(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	href, _ := s.Attr("href")
	return strings.TrimSpace(href)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
