package extract

import "time"

// Schema maps item fields to CSS selectors scoped within each List match
type Schema struct {
	List    string `json:"list"`
	Title   string `json:"title,omitempty"`
	Link    string `json:"link,omitempty"`
	Date    string `json:"date,omitempty"`
	Summary string `json:"summary,omitempty"`
	Image   string `json:"image,omitempty"`
}

// Item is one extracted article record
type Item struct {
	Title   string     `json:"title"`
	Link    string     `json:"link"`
	Date    *time.Time `json:"date"`
	Summary string     `json:"summary"`
	Image   string     `json:"image"`
}
