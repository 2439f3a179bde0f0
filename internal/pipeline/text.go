package pipeline

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	apperrors "sjsage522/slothproxy/pkg/errors"
)

// MaxSearchMatches bounds the matches returned by Search
const MaxSearchMatches = 1000

// Match is one search hit in the page text; Index counts characters
type Match struct {
	Index int    `json:"index"`
	Match string `json:"match"`
}

// Text returns the visible text of the rendered page body, one line per
// non-empty text line with whitespace collapsed.
func (s *Service) Text(ctx context.Context, url string) (string, error) {
	page, err := s.Snapshot(ctx, url)
	if err != nil {
		return "", err
	}
	return visibleText(page)
}

// Search finds case-insensitive matches of pattern in the page text
func (s *Service) Search(ctx context.Context, url, pattern string) ([]Match, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, apperrors.NewInput("search", "missing query")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeInput, "search", "invalid query", err)
	}

	text, err := s.Text(ctx, url)
	if err != nil {
		return nil, err
	}

	locs := re.FindAllStringIndex(text, MaxSearchMatches)
	matches := make([]Match, 0, len(locs))

	// rune offsets are counted forward from the previous match only
	offset, runes := 0, 0
	for _, loc := range locs {
		if loc[0] == loc[1] {
			continue
		}
		runes += utf8.RuneCountInString(text[offset:loc[0]])
		offset = loc[0]
		matches = append(matches, Match{
			Index: runes,
			Match: text[loc[0]:loc[1]],
		})
	}
	return matches, nil
}

// blockElements start and end a line of text
var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Details: true, atom.Dialog: true, atom.Div: true, atom.Dl: true,
	atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true,
	atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true,
	atom.Li: true, atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Summary: true, atom.Table: true,
	atom.Caption: true, atom.Tr: true, atom.Ul: true, atom.Option: true,
}

var hiddenElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Head: true, atom.Iframe: true, atom.Object: true, atom.Svg: true,
}

// visibleText approximates innerText of the body: blocks and <br> break lines,
// table cells are separated by a space, whitespace is collapsed per line.
func visibleText(src string) (string, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", apperrors.NewInternal("page", "failed to parse html", err)
	}

	var b strings.Builder
	for _, n := range goquery.NewDocumentFromNode(root).Find("body").Nodes {
		writeText(&b, n)
	}

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if l := strings.Join(strings.Fields(line), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if hiddenElements[n.DataAtom] || hasAttr(n, "hidden") {
			return
		}
		if n.DataAtom == atom.Br {
			b.WriteByte('\n')
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	switch {
	case block:
		b.WriteByte('\n')
	case n.Type == html.ElementNode && (n.DataAtom == atom.Td || n.DataAtom == atom.Th):
		b.WriteByte(' ')
	}
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
