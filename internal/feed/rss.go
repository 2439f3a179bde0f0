package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"sjsage522/slothproxy/internal/extract"
)

// EnclosureType is the MIME type declared for every item image
const EnclosureType = "image/jpeg"

// Generator is written to <generator>
const Generator = "slothproxy"

// Channel describes the feed being published
type Channel struct {
	Title         string
	Link          string
	Description   string
	LastBuildDate time.Time
	Items         []extract.Item
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Generator     string    `xml:"generator"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string        `xml:"title"`
	Link        string        `xml:"link"`
	Description string        `xml:"description,omitempty"`
	PubDate     string        `xml:"pubDate"`
	GUID        rssGUID       `xml:"guid"`
	Enclosure   *rssEnclosure `xml:"enclosure,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int    `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// Build serializes the channel to RSS 2.0. Items keep their extraction order.
// An item without a date is stamped with the build time.
func Build(ch Channel) ([]byte, error) {
	built := ch.LastBuildDate
	if built.IsZero() {
		built = time.Now()
	}
	buildStamp := formatDate(built)

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:         ch.Title,
			Link:          ch.Link,
			Description:   ch.Description,
			LastBuildDate: buildStamp,
			Generator:     Generator,
			Items:         make([]rssItem, 0, len(ch.Items)),
		},
	}

	for _, it := range ch.Items {
		item := rssItem{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Summary,
			PubDate:     buildStamp,
			GUID:        rssGUID{IsPermaLink: true, Value: it.Link},
		}
		if it.Date != nil {
			item.PubDate = formatDate(*it.Date)
		}
		if it.Image != "" {
			item.Enclosure = &rssEnclosure{URL: it.Image, Type: EnclosureType}
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode rss: %w", err)
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// formatDate renders RFC 1123 in GMT, the form RSS readers parse most reliably
func formatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
