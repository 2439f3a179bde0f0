package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	apperrors "sjsage522/slothproxy/pkg/errors"
)

// MaxSelectorLength bounds every selector taken from a schema.
// Schemas come from the registry or from callers and are untrusted.
const MaxSelectorLength = 512

type compiledSchema struct {
	list    goquery.Matcher
	title   goquery.Matcher
	link    goquery.Matcher
	date    goquery.Matcher
	summary goquery.Matcher
	image   goquery.Matcher
}

// Validate reports whether the schema can be evaluated
func (s Schema) Validate() error {
	_, err := s.compile()
	return err
}

func (s Schema) compile() (*compiledSchema, error) {
	if strings.TrimSpace(s.List) == "" {
		return nil, apperrors.NewInput("extract", "selectors.list is required")
	}

	cs := &compiledSchema{}
	fields := []struct {
		name string
		sel  string
		dst  *goquery.Matcher
	}{
		{"list", s.List, &cs.list},
		{"title", s.Title, &cs.title},
		{"link", s.Link, &cs.link},
		{"date", s.Date, &cs.date},
		{"summary", s.Summary, &cs.summary},
		{"image", s.Image, &cs.image},
	}

	for _, f := range fields {
		sel := strings.TrimSpace(f.sel)
		if sel == "" {
			continue
		}
		if len(sel) > MaxSelectorLength {
			return nil, apperrors.NewInput("extract",
				fmt.Sprintf("selectors.%s exceeds %d characters", f.name, MaxSelectorLength))
		}
		m, err := cascadia.Compile(sel)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrorTypeInput, "extract",
				fmt.Sprintf("selectors.%s is not a valid CSS selector", f.name), err)
		}
		*f.dst = m
	}

	return cs, nil
}

// CacheKey is the deterministic extraction cache key for (url, schema)
func CacheKey(normalizedURL string, s Schema) string {
	// struct field order makes the encoding stable
	b, _ := json.Marshal(s)
	return normalizedURL + "|" + string(b)
}
