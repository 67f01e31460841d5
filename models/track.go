package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Track is one catalog song. Equality for dedup purposes is by ID only;
// display fields are never compared.
type Track struct {
	ID         string `json:"id"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	Album      string `json:"album,omitempty"`
	Year       int    `json:"year,omitempty"`
	Popularity int    `json:"popularity,omitempty"`
}

func (t Track) String() string {
	return t.Artist + " - " + t.Title
}

// Line renders the "Artist - Title" form used in prompts and search queries.
func (t Track) Line() string {
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}

// IDs extracts the catalog identifiers of a track slice, preserving order.
func IDs(tracks []Track) []string {
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

// SampleJSON serializes a track sample to the compact JSON embedded in
// recommendation prompts.
func SampleJSON(tracks []Track) (string, error) {
	lines := make([]string, 0, len(tracks))
	for _, t := range tracks {
		lines = append(lines, t.Line())
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SampleLines renders a track sample as newline-separated "Artist - Title"
// rows for the image prompt, which reads better than JSON for mood text.
func SampleLines(tracks []Track) string {
	lines := make([]string, 0, len(tracks))
	for _, t := range tracks {
		lines = append(lines, t.Line())
	}
	return strings.Join(lines, "\n")
}
