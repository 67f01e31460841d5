// Package spotify is the catalog adapter: search, playlist read/write,
// cover upload, saved tracks, and listening history.
package spotify

import (
	"bytes"
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	spotifyclient "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"cratebot/config"
	"cratebot/models"
	"cratebot/reconcile"
)

// CoverSizeLimit is the catalog's upload ceiling for playlist images.
const CoverSizeLimit = 256 * 1024

const pageLimit = 50

// chunkPause spaces out consecutive playlist writes to stay under the
// rate limit.
const chunkPause = time.Second

type Client struct {
	api    *spotifyclient.Client
	userID string
	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewClient builds a user-authorized client from a stored refresh token.
// Playlist writes and the library endpoints all need user scopes, so the
// client-credentials flow is not enough here.
func NewClient(ctx context.Context, cfg config.SpotifyConfig) (*Client, error) {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistReadPrivate,
			spotifyauth.ScopePlaylistModifyPrivate,
			spotifyauth.ScopePlaylistModifyPublic,
			spotifyauth.ScopeUserLibraryRead,
			spotifyauth.ScopeUserReadRecentlyPlayed,
			spotifyauth.ScopeImageUpload,
		),
	)

	// Expired token with a refresh token: the oauth2 transport refreshes on
	// first use.
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	httpClient := auth.Client(ctx, token)
	api := spotifyclient.New(httpClient)

	user, err := api.CurrentUser(ctx)
	if err != nil {
		sentry.CaptureException(err)
		return nil, fmt.Errorf("spotify: resolve current user: %w", err)
	}
	log.Debugf("Authenticated to Spotify as %s", user.ID)

	return &Client{api: api, userID: user.ID, sleep: time.Sleep}, nil
}

func fromFullTrack(t *spotifyclient.FullTrack) models.Track {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	year := 0
	if len(t.Album.ReleaseDate) >= 4 {
		fmt.Sscanf(t.Album.ReleaseDate[:4], "%d", &year)
	}
	return models.Track{
		ID:         string(t.ID),
		Artist:     artist,
		Title:      t.Name,
		Album:      t.Album.Name,
		Year:       year,
		Popularity: int(t.Popularity),
	}
}

// SearchTrack runs a free-text track search and returns the top hit.
func (c *Client) SearchTrack(ctx context.Context, query string) (models.Track, bool, error) {
	span := sentry.StartSpan(ctx, "spotify.search")
	span.Description = "Search Spotify API"
	span.SetTag("query", query)
	defer span.Finish()

	results, err := c.api.Search(ctx, query, spotifyclient.SearchTypeTrack, spotifyclient.Limit(5))
	if err != nil {
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return models.Track{}, false, err
	}
	span.Status = sentry.SpanStatusOK

	if results.Tracks == nil || len(results.Tracks.Tracks) == 0 {
		return models.Track{}, false, nil
	}
	top := results.Tracks.Tracks[0]
	return fromFullTrack(&top), true, nil
}

// PlaylistTracks reads the full ordered track list of a playlist.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	span := sentry.StartSpan(ctx, "spotify.get_playlist_tracks")
	span.Description = "Get playlist tracks from Spotify API"
	span.SetTag("playlist_id", playlistID)
	defer span.Finish()

	var tracks []models.Track
	for offset := 0; ; offset += pageLimit {
		page, err := c.api.GetPlaylistItems(ctx, spotifyclient.ID(playlistID),
			spotifyclient.Limit(pageLimit), spotifyclient.Offset(offset))
		if err != nil {
			log.Errorf("Failed to fetch Spotify playlist items %s: %v", playlistID, err)
			sentry.CaptureException(err)
			span.Status = sentry.SpanStatusInternalError
			return nil, err
		}
		for _, item := range page.Items {
			// Skip non-track items (podcasts, episodes, local files).
			if item.Track.Track == nil {
				continue
			}
			tracks = append(tracks, fromFullTrack(item.Track.Track))
		}
		if len(page.Items) < pageLimit {
			break
		}
	}

	span.Status = sentry.SpanStatusOK
	span.SetData("tracks_count", len(tracks))
	log.Debugf("Fetched %d tracks from playlist %s", len(tracks), playlistID)
	return tracks, nil
}

// SetPlaylistTracks overwrites a playlist with the given ordering, split
// into API-sized chunks with a pause between writes. Every chunk of a full
// replace holds content the caller expects to keep, so a failed append
// chunk is retried once and then surfaced as an error rather than skipped;
// additive writes that may tolerate a lost chunk belong to PrependTracks.
func (c *Client) SetPlaylistTracks(ctx context.Context, playlistID string, tracks []models.Track) error {
	span := sentry.StartSpan(ctx, "spotify.set_playlist_tracks")
	span.Description = "Replace playlist tracks"
	span.SetTag("playlist_id", playlistID)
	defer span.Finish()

	chunks := reconcile.Chunk(tracks, reconcile.WriteChunkSize)
	if len(chunks) == 0 {
		if err := c.api.ReplacePlaylistTracks(ctx, spotifyclient.ID(playlistID)); err != nil {
			sentry.CaptureException(err)
			span.Status = sentry.SpanStatusInternalError
			return err
		}
		span.Status = sentry.SpanStatusOK
		return nil
	}

	written := 0
	for i, chunk := range chunks {
		var err error
		if i == 0 {
			err = c.api.ReplacePlaylistTracks(ctx, spotifyclient.ID(playlistID), trackIDs(chunk)...)
			if err != nil {
				sentry.CaptureException(err)
				span.Status = sentry.SpanStatusInternalError
				return fmt.Errorf("spotify: replace playlist %s: %w", playlistID, err)
			}
		} else {
			if _, err = c.api.AddTracksToPlaylist(ctx, spotifyclient.ID(playlistID), trackIDs(chunk)...); err != nil {
				log.Warnf("Failed to write chunk %d/%d to playlist %s, retrying once: %v",
					i+1, len(chunks), playlistID, err)
				c.sleep(chunkPause)
				_, err = c.api.AddTracksToPlaylist(ctx, spotifyclient.ID(playlistID), trackIDs(chunk)...)
			}
			if err != nil {
				sentry.CaptureException(err)
				span.Status = sentry.SpanStatusInternalError
				return fmt.Errorf("spotify: playlist %s left truncated at %d of %d tracks: %w",
					playlistID, written, len(tracks), err)
			}
		}
		written += len(chunk)

		if i < len(chunks)-1 {
			c.sleep(chunkPause)
		}
	}

	span.Status = sentry.SpanStatusOK
	log.Infof("Wrote %d tracks to playlist %s in %d chunks", written, playlistID, len(chunks))
	return nil
}

// PrependTracks appends tracks in chunks and then moves the appended block
// to the top of the playlist. The write is purely additive: a failed chunk
// is logged and skipped, because the next scheduled run's reconciliation
// re-adds whatever is missing. Existing playlist content is never touched.
func (c *Client) PrependTracks(ctx context.Context, playlistID string, tracks []models.Track) error {
	span := sentry.StartSpan(ctx, "spotify.prepend_tracks")
	span.Description = "Append and surface new playlist tracks"
	span.SetTag("playlist_id", playlistID)
	defer span.Finish()

	if len(tracks) == 0 {
		span.Status = sentry.SpanStatusOK
		return nil
	}

	playlist, err := c.api.GetPlaylist(ctx, spotifyclient.ID(playlistID))
	if err != nil {
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return fmt.Errorf("spotify: read playlist %s: %w", playlistID, err)
	}
	offset := int(playlist.Tracks.Total)

	chunks := reconcile.Chunk(tracks, reconcile.WriteChunkSize)
	appended := 0
	for i, chunk := range chunks {
		if _, err := c.api.AddTracksToPlaylist(ctx, spotifyclient.ID(playlistID), trackIDs(chunk)...); err != nil {
			log.Errorf("Failed to append chunk %d/%d to playlist %s, skipping: %v",
				i+1, len(chunks), playlistID, err)
			sentry.CaptureException(err)
		} else {
			appended += len(chunk)
		}
		if i < len(chunks)-1 {
			c.sleep(chunkPause)
		}
	}
	if appended == 0 {
		span.Status = sentry.SpanStatusInternalError
		return fmt.Errorf("spotify: no chunk could be appended to playlist %s", playlistID)
	}

	// Successful chunks always land at the tail, so the appended block is
	// contiguous even when a middle chunk was skipped.
	_, err = c.api.ReorderPlaylistTracks(ctx, spotifyclient.ID(playlistID), spotifyclient.PlaylistReorderOptions{
		RangeStart:   spotifyclient.Numeric(offset),
		RangeLength:  spotifyclient.Numeric(appended),
		InsertBefore: 0,
	})
	if err != nil {
		// The tracks are in the playlist, just not at the top.
		log.Warnf("Failed to move %d appended tracks to the top of playlist %s: %v",
			appended, playlistID, err)
		sentry.CaptureException(err)
	}

	span.Status = sentry.SpanStatusOK
	log.Infof("Appended %d of %d tracks to playlist %s in %d chunks", appended, len(tracks), playlistID, len(chunks))
	return nil
}

func trackIDs(tracks []models.Track) []spotifyclient.ID {
	ids := make([]spotifyclient.ID, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, spotifyclient.ID(t.ID))
	}
	return ids
}

// TrimPlaylist re-reads the playlist and cuts it down to maxSize if a
// previous partial run or concurrent append pushed it over. Separate pass
// because the write API has no atomic append-and-truncate.
func (c *Client) TrimPlaylist(ctx context.Context, playlistID string, maxSize int) error {
	tracks, err := c.PlaylistTracks(ctx, playlistID)
	if err != nil {
		return err
	}
	if len(tracks) <= maxSize {
		return nil
	}
	log.Infof("Trimming playlist %s from %d to %d tracks", playlistID, len(tracks), maxSize)
	return c.SetPlaylistTracks(ctx, playlistID, tracks[:maxSize])
}

// UploadCover sets the playlist cover from JPEG bytes. Oversized images are
// attempted anyway; the catalog's rejection is handled as a soft error by
// the caller.
func (c *Client) UploadCover(ctx context.Context, playlistID string, jpeg []byte) error {
	span := sentry.StartSpan(ctx, "spotify.upload_cover")
	span.Description = "Upload playlist cover image"
	span.SetTag("playlist_id", playlistID)
	defer span.Finish()

	if len(jpeg) > CoverSizeLimit {
		log.Warnf("Cover image is %d bytes, over the %d byte limit; upload may be rejected",
			len(jpeg), CoverSizeLimit)
	}

	if err := c.api.SetPlaylistImage(ctx, spotifyclient.ID(playlistID), bytes.NewReader(jpeg)); err != nil {
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return err
	}
	span.Status = sentry.SpanStatusOK
	return nil
}

// RecentlyPlayedIDs returns the set of track IDs played within the last
// `days` days. The history endpoint caps out at the 50 most recent plays.
func (c *Client) RecentlyPlayedIDs(ctx context.Context, days int) (mapset.Set[string], error) {
	span := sentry.StartSpan(ctx, "spotify.recently_played")
	span.Description = "Get recently played tracks"
	defer span.Finish()

	after := time.Now().AddDate(0, 0, -days).UnixMilli()
	items, err := c.api.PlayerRecentlyPlayedOpt(ctx, &spotifyclient.RecentlyPlayedOptions{
		Limit:        50,
		AfterEpochMs: after,
	})
	if err != nil {
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	ids := mapset.NewSet[string]()
	for _, item := range items {
		ids.Add(string(item.Track.ID))
	}
	span.Status = sentry.SpanStatusOK
	return ids, nil
}

// SavedTracks pages through the user's library.
func (c *Client) SavedTracks(ctx context.Context) ([]models.Track, error) {
	span := sentry.StartSpan(ctx, "spotify.saved_tracks")
	span.Description = "Get user saved tracks"
	defer span.Finish()

	var tracks []models.Track
	for offset := 0; ; offset += pageLimit {
		page, err := c.api.CurrentUsersTracks(ctx,
			spotifyclient.Limit(pageLimit), spotifyclient.Offset(offset))
		if err != nil {
			sentry.CaptureException(err)
			span.Status = sentry.SpanStatusInternalError
			return nil, err
		}
		for _, saved := range page.Tracks {
			tracks = append(tracks, fromFullTrack(&saved.FullTrack))
		}
		if len(page.Tracks) < pageLimit {
			break
		}
	}

	span.Status = sentry.SpanStatusOK
	log.Debugf("Fetched %d saved tracks", len(tracks))
	return tracks, nil
}

// CreatePlaylist creates a private playlist and returns its ID. The create
// call returns the identifier synchronously, so no listing diff is needed.
func (c *Client) CreatePlaylist(ctx context.Context, name string, description string) (string, error) {
	span := sentry.StartSpan(ctx, "spotify.create_playlist")
	span.Description = "Create playlist"
	span.SetTag("name", name)
	defer span.Finish()

	playlist, err := c.api.CreatePlaylistForUser(ctx, c.userID, name, description, false, false)
	if err != nil {
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return "", err
	}
	span.Status = sentry.SpanStatusOK
	log.Infof("Created playlist %q (%s)", name, playlist.ID)
	return string(playlist.ID), nil
}

// FindPlaylistByName looks up one of the user's playlists by exact name.
func (c *Client) FindPlaylistByName(ctx context.Context, name string) (string, bool, error) {
	for offset := 0; ; offset += pageLimit {
		page, err := c.api.CurrentUsersPlaylists(ctx,
			spotifyclient.Limit(pageLimit), spotifyclient.Offset(offset))
		if err != nil {
			sentry.CaptureException(err)
			return "", false, err
		}
		for _, p := range page.Playlists {
			if p.Name == name {
				return string(p.ID), true, nil
			}
		}
		if len(page.Playlists) < pageLimit {
			return "", false, nil
		}
	}
}

// PlaylistName returns the display name of a playlist.
func (c *Client) PlaylistName(ctx context.Context, playlistID string) (string, error) {
	playlist, err := c.api.GetPlaylist(ctx, spotifyclient.ID(playlistID))
	if err != nil {
		sentry.CaptureException(err)
		return "", err
	}
	return playlist.Name, nil
}

// UpdatePlaylistDetails renames a playlist and refreshes its description.
func (c *Client) UpdatePlaylistDetails(ctx context.Context, playlistID string, name string, description string) error {
	if name != "" {
		if err := c.api.ChangePlaylistName(ctx, spotifyclient.ID(playlistID), name); err != nil {
			sentry.CaptureException(err)
			return err
		}
	}
	if description != "" {
		if err := c.api.ChangePlaylistDescription(ctx, spotifyclient.ID(playlistID), description); err != nil {
			sentry.CaptureException(err)
			return err
		}
	}
	return nil
}
