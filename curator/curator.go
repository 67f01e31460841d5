// Package curator holds the run entry points: the scheduled grow and
// cleanup runs and the on-demand generator. It sequences the library
// sample, the recommendation chain, catalog search resolution,
// reconciliation, and cover art.
package curator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"cratebot/config"
	"cratebot/gemini"
	"cratebot/library"
	"cratebot/models"
	"cratebot/reconcile"
	"cratebot/sentryutil"
	"cratebot/spotify"
)

// Catalog is the full capability surface the runs need from the music
// catalog; *spotify.Client satisfies it.
type Catalog interface {
	spotify.Searcher
	PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error)
	SetPlaylistTracks(ctx context.Context, playlistID string, tracks []models.Track) error
	PrependTracks(ctx context.Context, playlistID string, tracks []models.Track) error
	TrimPlaylist(ctx context.Context, playlistID string, maxSize int) error
	UploadCover(ctx context.Context, playlistID string, jpeg []byte) error
	RecentlyPlayedIDs(ctx context.Context, days int) (mapset.Set[string], error)
	SavedTracks(ctx context.Context) ([]models.Track, error)
	CreatePlaylist(ctx context.Context, name string, description string) (string, error)
	FindPlaylistByName(ctx context.Context, name string) (string, bool, error)
	PlaylistName(ctx context.Context, playlistID string) (string, error)
	UpdatePlaylistDetails(ctx context.Context, playlistID string, name string, description string) error
}

// Recommender is the text-generation capability; *gemini.Client satisfies it.
type Recommender interface {
	GenerateList(ctx context.Context, prompt string) (raw string, modelUsed string, err error)
	GenerateText(ctx context.Context, prompt string) (text string, modelUsed string, err error)
}

// Library is the cached saved-tracks snapshot; *library.Store satisfies it.
type Library interface {
	RefreshIfStale(ctx context.Context, fetcher library.Fetcher, maxAge time.Duration) error
	Sample(n int) ([]models.Track, error)
}

// CoverGenerator produces the playlist cover, nil on any failure;
// *coverart.Pipeline satisfies it.
type CoverGenerator interface {
	GenerateCover(ctx context.Context, sample []models.Track) []byte
}

type Curator struct {
	cfg     *config.Config
	catalog Catalog
	llm     Recommender
	library Library
	covers  CoverGenerator
}

func New(cfg *config.Config, catalog Catalog, llm Recommender, library Library, covers CoverGenerator) *Curator {
	return &Curator{cfg: cfg, catalog: catalog, llm: llm, library: library, covers: covers}
}

// Run executes one entry point inside the outermost error boundary: panics
// are recovered and captured, the transaction is closed, and the scheduler
// provides the retry by triggering the next run.
func (c *Curator) Run(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	ctx, transaction := sentryutil.StartRunTransaction(ctx, name)
	defer transaction.Finish()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run %s panicked: %v", name, r)
			sentryutil.CaptureException(ctx, err)
			log.WithField("run", name).Errorf("Recovered from panic: %v", r)
		}
	}()

	log.WithField("run", name).Info("Run starting")
	if err := fn(ctx); err != nil {
		sentryutil.CaptureException(ctx, err)
		log.WithField("run", name).Errorf("Run failed: %v", err)
		return err
	}
	log.WithField("run", name).Info("Run finished")
	return nil
}

// Grow is the scheduled refresh: sample the library, ask for
// recommendations, resolve them against the catalog, and merge the result
// into the target playlist.
func (c *Curator) Grow(ctx context.Context) error {
	cfg := c.cfg.Playlist

	if err := c.library.RefreshIfStale(ctx, c.catalog,
		time.Duration(c.cfg.Library.MaxAgeHours)*time.Hour); err != nil {
		return err
	}

	sample, err := c.library.Sample(c.cfg.Library.SampleSize)
	if err != nil {
		return err
	}
	if len(sample) == 0 {
		return errors.New("saved-track library is empty, nothing to sample")
	}

	sampleJSON, err := models.SampleJSON(sample)
	if err != nil {
		return err
	}
	prompt := gemini.BuildRecommendationPrompt(sampleJSON, time.Now(), gemini.RecommendationOptions{
		Count:           cfg.RecommendCount,
		DiscoveryShare:  cfg.DiscoveryShare,
		RegionalQuota:   cfg.RegionalQuota,
		RegionalScene:   cfg.RegionalScene,
		ExcludeLanguage: cfg.ExcludeLanguage,
	})

	// Text-chain exhaustion is fatal for the run: with no recommendations
	// there is nothing useful left to do.
	raw, modelUsed, err := c.llm.GenerateList(ctx, prompt)
	if err != nil {
		return fmt.Errorf("recommendation generation failed: %w", err)
	}

	queries := gemini.ParseTrackList(raw)
	if len(queries) == 0 {
		log.Warn("Model returned zero usable recommendations, stopping run")
		return nil
	}
	log.Infof("Model %s recommended %d tracks", modelUsed, len(queries))

	candidates := spotify.Resolve(ctx, c.catalog, queries)
	if len(candidates) == 0 {
		log.Warn("No recommendation matched the catalog, stopping run")
		return nil
	}

	existing, err := c.catalog.PlaylistTracks(ctx, cfg.ID)
	if err != nil {
		return err
	}

	result := reconcile.Reconcile(existing, candidates, cfg.MaxSize)
	if result.NoOp() {
		log.Info("Every resolved track is already in the playlist, skipping writes")
		return nil
	}
	log.Infof("Adding %d new tracks (playlist %d -> %d)",
		len(result.ToAdd), len(existing), len(result.Final))

	// Only the new material goes through the write; existing content stays
	// out of the destructive path entirely. The trim pass then enforces the
	// cap by evicting from the tail.
	if err := c.catalog.PrependTracks(ctx, cfg.ID, result.ToAdd); err != nil {
		return err
	}
	if err := c.catalog.TrimPlaylist(ctx, cfg.ID, cfg.MaxSize); err != nil {
		log.Warnf("Trim pass failed, playlist may exceed %d tracks: %v", cfg.MaxSize, err)
	}

	desc := expandTemplate(cfg.DescTemplate, map[string]string{
		"date":  time.Now().Format("2006-01-02"),
		"model": modelUsed,
	})
	if err := c.catalog.UpdatePlaylistDetails(ctx, cfg.ID, "", desc); err != nil {
		log.Warnf("Failed to update playlist description: %v", err)
	}

	c.uploadCover(ctx, cfg.ID, sample)
	return nil
}

// Cleanup removes playlist tracks the user already listened to within the
// configured window. No write happens unless the set actually changed.
func (c *Curator) Cleanup(ctx context.Context) error {
	cfg := c.cfg.Playlist

	playlist, err := c.catalog.PlaylistTracks(ctx, cfg.ID)
	if err != nil {
		return err
	}
	history, err := c.catalog.RecentlyPlayedIDs(ctx, cfg.CleanupDays)
	if err != nil {
		return err
	}

	kept, changed := reconcile.RemoveListened(playlist, history)
	if !changed {
		log.Info("No playlist track appears in recent listening history, skipping write")
		return nil
	}

	log.Infof("Removing %d listened tracks (%d -> %d)",
		len(playlist)-len(kept), len(playlist), len(kept))
	return c.catalog.SetPlaylistTracks(ctx, cfg.ID, kept)
}

// GenerateOptions parameterizes the on-demand generator.
type GenerateOptions struct {
	// Topic is a free-text theme. Mutually exclusive with SourcePlaylistID;
	// Topic wins when both are set.
	Topic string
	// SourcePlaylistID derives the theme from an existing playlist.
	SourcePlaylistID string
	// Name overrides the templated playlist name.
	Name string
	// Count of tracks to request; falls back to the configured default.
	Count int
	// Overwrite reuses an existing playlist with the same name instead of
	// creating a new one.
	Overwrite bool
}

// Generate builds a one-off playlist from a topic or a source playlist.
func (c *Curator) Generate(ctx context.Context, opts GenerateOptions) error {
	count := opts.Count
	if count <= 0 {
		count = c.cfg.Playlist.RecommendCount
	}

	topic, sourceName, err := c.resolveTopic(ctx, opts)
	if err != nil {
		return err
	}

	prompt := gemini.BuildTopicPrompt(topic, count, c.cfg.Playlist.ExcludeLanguage)
	raw, modelUsed, err := c.llm.GenerateList(ctx, prompt)
	if err != nil {
		return fmt.Errorf("playlist generation failed: %w", err)
	}

	queries := gemini.ParseTrackList(raw)
	if len(queries) == 0 {
		log.Warn("Model returned zero usable tracks, stopping run")
		return nil
	}
	log.Infof("Model %s proposed %d tracks for %q", modelUsed, len(queries), topic)

	tracks := spotify.Resolve(ctx, c.catalog, queries)
	if len(tracks) == 0 {
		log.Warn("No proposed track matched the catalog, stopping run")
		return nil
	}
	result := reconcile.Reconcile(nil, tracks, count)

	name := opts.Name
	if name == "" {
		name = c.playlistTitle(ctx, topic, sourceName)
	}
	desc := expandTemplate(c.cfg.Playlist.DescTemplate, map[string]string{
		"date":        time.Now().Format("2006-01-02"),
		"topic":       topic,
		"source_name": sourceName,
		"model":       modelUsed,
	})

	playlistID, err := c.targetPlaylist(ctx, name, desc, opts.Overwrite)
	if err != nil {
		return err
	}

	if err := c.catalog.SetPlaylistTracks(ctx, playlistID, result.Final); err != nil {
		return err
	}
	log.Infof("Playlist %q (%s) written with %d tracks", name, playlistID, len(result.Final))

	c.uploadCover(ctx, playlistID, result.Final)
	return nil
}

func (c *Curator) resolveTopic(ctx context.Context, opts GenerateOptions) (topic string, sourceName string, err error) {
	if opts.Topic != "" {
		return opts.Topic, "", nil
	}
	if opts.SourcePlaylistID == "" {
		return "", "", errors.New("generate needs a topic or a source playlist")
	}

	sourceName, err = c.catalog.PlaylistName(ctx, opts.SourcePlaylistID)
	if err != nil {
		return "", "", err
	}
	source, err := c.catalog.PlaylistTracks(ctx, opts.SourcePlaylistID)
	if err != nil {
		return "", "", err
	}
	if len(source) == 0 {
		return "", "", fmt.Errorf("source playlist %q is empty", sourceName)
	}

	topic = fmt.Sprintf("songs in the spirit of the playlist %q, which contains:\n%s",
		sourceName, models.SampleLines(source))
	return topic, sourceName, nil
}

// playlistTitle names the generated playlist. Long topics are distilled to
// a 2-3 word title by the model; a failure there falls back to truncation.
func (c *Curator) playlistTitle(ctx context.Context, topic string, sourceName string) string {
	base := topic
	if sourceName != "" {
		base = sourceName + " expanded"
	} else if len([]rune(topic)) > 40 {
		if title, _, err := c.llm.GenerateText(ctx, gemini.BuildTitlePrompt(topic)); err == nil {
			if short := strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`)); short != "" {
				base = short
			}
		} else {
			runes := []rune(topic)
			base = string(runes[:40])
		}
	}

	return expandTemplate(c.cfg.Playlist.NameTemplate, map[string]string{
		"topic":       base,
		"date":        time.Now().Format("2006-01-02"),
		"source_name": sourceName,
	})
}

func (c *Curator) targetPlaylist(ctx context.Context, name string, desc string, overwrite bool) (string, error) {
	if overwrite {
		if id, found, err := c.catalog.FindPlaylistByName(ctx, name); err != nil {
			return "", err
		} else if found {
			if err := c.catalog.UpdatePlaylistDetails(ctx, id, "", desc); err != nil {
				log.Warnf("Failed to refresh description of %q: %v", name, err)
			}
			return id, nil
		}
	}
	return c.catalog.CreatePlaylist(ctx, name, desc)
}

// uploadCover is best-effort: the playlist update already succeeded and a
// missing cover is a degraded outcome, not a failure.
func (c *Curator) uploadCover(ctx context.Context, playlistID string, sample []models.Track) {
	cover := c.covers.GenerateCover(ctx, sample)
	if cover == nil {
		return
	}
	if err := c.catalog.UploadCover(ctx, playlistID, cover); err != nil {
		log.Warnf("Cover upload rejected, keeping playlist without new art: %v", err)
	}
}

func expandTemplate(tmpl string, vars map[string]string) string {
	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
