package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Spotify  SpotifyConfig
	Gemini   GeminiConfig
	Image    ImageConfig
	Playlist PlaylistConfig
	Library  LibraryConfig
	Options  Options
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type GeminiConfig struct {
	APIKey string
	// Models are tried in priority order until one returns content.
	Models      []string
	Temperature float32
}

type ImageConfig struct {
	Enabled bool
	// APIToken is the bearer token for the inference endpoint.
	APIToken string
	Models   []string
	// SampleSize bounds the sub-sample used for the cover prompt.
	SampleSize int
	// TempHostURL receives the raw image so the resize proxy can reach it.
	TempHostURL string
	ResizeProxy string
}

type PlaylistConfig struct {
	ID              string
	MaxSize         int
	RecommendCount  int
	DiscoveryShare  int
	RegionalQuota   int
	RegionalScene   string
	ExcludeLanguage string
	CleanupDays     int
	NameTemplate    string
	DescTemplate    string
}

type LibraryConfig struct {
	DBPath      string
	SampleSize  int
	MaxAgeHours int
}

type Options struct {
	Port       string
	ServeToken string
	LogLevel   string
}

// Load reads configuration from the environment. Callers get a value to
// thread into constructors; there is no package-level config.
func Load() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			ClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
			ClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
			RefreshToken: os.Getenv("SPOTIFY_REFRESH_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Models: getList("GEMINI_MODELS",
				"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"),
			Temperature: 1.2,
		},
		Image: ImageConfig{
			Enabled:  os.Getenv("COVER_ART_ENABLED") != "false",
			APIToken: os.Getenv("HF_API_TOKEN"),
			Models: getList("IMAGE_MODELS",
				"black-forest-labs/FLUX.1-dev",
				"stabilityai/stable-diffusion-xl-base-1.0",
				"stable-diffusion-v1-5/stable-diffusion-v1-5"),
			SampleSize:  getInt("COVER_SAMPLE_SIZE", 50),
			TempHostURL: getString("TEMP_HOST_URL", "https://litterbox.catbox.moe/resources/internals/api.php"),
			ResizeProxy: getString("RESIZE_PROXY_URL", "https://images.weserv.nl"),
		},
		Playlist: PlaylistConfig{
			ID:              os.Getenv("TARGET_PLAYLIST_ID"),
			MaxSize:         getInt("PLAYLIST_MAX_SIZE", 300),
			RecommendCount:  getInt("RECOMMEND_COUNT", 150),
			DiscoveryShare:  getInt("DISCOVERY_SHARE_PERCENT", 30),
			RegionalQuota:   getInt("REGIONAL_QUOTA_PERCENT", 10),
			RegionalScene:   os.Getenv("REGIONAL_SCENE"),
			ExcludeLanguage: os.Getenv("EXCLUDE_LANGUAGE"),
			CleanupDays:     getInt("CLEANUP_DAYS", 30),
			NameTemplate:    getString("PLAYLIST_NAME_TEMPLATE", "{topic}"),
			DescTemplate:    getString("PLAYLIST_DESC_TEMPLATE", "Updated {date} by cratebot"),
		},
		Library: LibraryConfig{
			DBPath:      getString("DB_PATH", "/app/data/cratebot.db"),
			SampleSize:  getInt("LIBRARY_SAMPLE_SIZE", 150),
			MaxAgeHours: getInt("LIBRARY_MAX_AGE_HOURS", 24),
		},
		Options: Options{
			Port:       os.Getenv("PORT"),
			ServeToken: os.Getenv("SERVE_TOKEN"),
			LogLevel:   getString("LOG_LEVEL", "info"),
		},
	}
}

// Validate fails fast on missing secrets before any side effect happens.
// The image token is checked only when cover art is enabled, since a run
// without a cover is an acceptable configuration.
func (c *Config) Validate() error {
	var missing []string
	if c.Spotify.ClientID == "" {
		missing = append(missing, "SPOTIFY_CLIENT_ID")
	}
	if c.Spotify.ClientSecret == "" {
		missing = append(missing, "SPOTIFY_CLIENT_SECRET")
	}
	if c.Spotify.RefreshToken == "" {
		missing = append(missing, "SPOTIFY_REFRESH_TOKEN")
	}
	if c.Gemini.APIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.Image.Enabled && c.Image.APIToken == "" {
		missing = append(missing, "HF_API_TOKEN")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment: " + strings.Join(missing, ", "))
	}
	return nil
}

// ValidateGrow additionally requires the scheduled target playlist.
func (c *Config) ValidateGrow() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Playlist.ID == "" {
		return errors.New("missing required environment: TARGET_PLAYLIST_ID")
	}
	return nil
}

func getString(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getList(key string, fallback ...string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
