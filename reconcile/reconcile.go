// Package reconcile merges newly found tracks into an existing ordered
// playlist under a size cap. Dedup is strictly by catalog identifier.
package reconcile

import (
	mapset "github.com/deckarep/golang-set/v2"

	"cratebot/models"
)

// WriteChunkSize matches the catalog API's per-request track limit.
const WriteChunkSize = 100

type Result struct {
	// ToAdd is the deduplicated new material, in candidate order.
	ToAdd []models.Track
	// Final is ToAdd prepended to the existing snapshot, trimmed from the
	// tail to the size cap. Oldest-by-position tracks are evicted first.
	Final []models.Track
}

// NoOp reports whether the reconciliation produced nothing to write. The
// orchestrator must skip all catalog writes in that case so playlist
// metadata is not refreshed for no reason.
func (r Result) NoOp() bool {
	return len(r.ToAdd) == 0
}

// Reconcile computes the merge of candidates into existing. Candidates
// already present in the playlist are dropped, as are duplicate candidates
// (the same catalog item can arrive twice, once from a Latin-script query
// and once from its reverse-transliterated guess).
func Reconcile(existing []models.Track, candidates []models.Track, maxSize int) Result {
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, t := range existing {
		seen.Add(t.ID)
	}

	toAdd := make([]models.Track, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == "" || seen.Contains(c.ID) {
			continue
		}
		seen.Add(c.ID)
		toAdd = append(toAdd, c)
	}

	final := make([]models.Track, 0, len(toAdd)+len(existing))
	final = append(final, toAdd...)
	final = append(final, existing...)
	if maxSize >= 0 && len(final) > maxSize {
		final = final[:maxSize]
	}

	return Result{ToAdd: toAdd, Final: final}
}

// Chunk splits tracks into write-sized batches, preserving order.
func Chunk(tracks []models.Track, size int) [][]models.Track {
	if size <= 0 {
		size = WriteChunkSize
	}
	var chunks [][]models.Track
	for start := 0; start < len(tracks); start += size {
		end := min(start+size, len(tracks))
		chunks = append(chunks, tracks[start:end])
	}
	return chunks
}

// RemoveListened drops every playlist track whose ID appears in the
// recent-listening history. The changed flag tells the caller whether a
// write-back is needed at all.
func RemoveListened(playlist []models.Track, listenedIDs mapset.Set[string]) (kept []models.Track, changed bool) {
	kept = make([]models.Track, 0, len(playlist))
	for _, t := range playlist {
		if listenedIDs.Contains(t.ID) {
			changed = true
			continue
		}
		kept = append(kept, t)
	}
	return kept, changed
}
