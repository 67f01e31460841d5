package spotify

import (
	"context"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"cratebot/models"
	"cratebot/normalize"
)

// Searcher is the single catalog capability the resolver needs; *Client
// satisfies it.
type Searcher interface {
	SearchTrack(ctx context.Context, query string) (models.Track, bool, error)
}

// Resolve maps "Artist - Title" recommendation strings to catalog tracks.
// Each query is normalized and searched; when the hit looks wrong (or there
// is none) and a native-script guess exists, the guess is searched as a
// second stage. Search errors skip the query — a missing track is never
// fatal to the run. Results are deduplicated by ID, preserving query order.
func Resolve(ctx context.Context, s Searcher, queries []string) []models.Track {
	found := make([]models.Track, 0, len(queries))
	seen := mapset.NewThreadUnsafeSet[string]()

	for _, raw := range queries {
		query := normalize.Normalize(raw)
		if query == "" {
			log.Debugf("Skipping query that normalized to nothing: %q", raw)
			continue
		}

		track, ok := searchOnce(ctx, s, query)
		matched := ok && titleMatches(query, track)

		if !matched {
			if guess, hasGuess := normalize.GuessOriginalScript(query); hasGuess {
				log.Debugf("Retrying %q with native-script guess %q", query, guess)
				if retry, retryOK := searchOnce(ctx, s, guess); retryOK {
					track, ok = retry, true
				}
			}
		}

		if !ok {
			log.Debugf("No catalog match for %q", raw)
			continue
		}
		if seen.Contains(track.ID) {
			continue
		}
		seen.Add(track.ID)
		found = append(found, track)
	}

	log.Infof("Resolved %d of %d recommendations against the catalog", len(found), len(queries))
	return found
}

func searchOnce(ctx context.Context, s Searcher, query string) (models.Track, bool) {
	track, ok, err := s.SearchTrack(ctx, query)
	if err != nil {
		log.Warnf("Catalog search for %q failed: %v", query, err)
		return models.Track{}, false
	}
	return track, ok
}

// titleMatches is the best-effort "did the search find the right song"
// signal: the normalized title part of the query must appear in the
// normalized candidate title, or vice versa. Deliberately loose; a miss
// only costs an extra native-script retry.
func titleMatches(query string, track models.Track) bool {
	queryTitle := query
	if _, title, ok := strings.Cut(query, " - "); ok && strings.TrimSpace(title) != "" {
		queryTitle = strings.TrimSpace(title)
	}
	candidate := normalize.Normalize(track.Title)
	if candidate == "" || queryTitle == "" {
		return false
	}
	return strings.Contains(candidate, queryTitle) || strings.Contains(queryTitle, candidate)
}
