package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cratebot/config"
	"cratebot/coverart"
	"cratebot/curator"
	"cratebot/gemini"
	"cratebot/imagegen"
	"cratebot/library"
	"cratebot/resizer"
	"cratebot/sentryutil"
	"cratebot/spotify"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg := config.Load()
	setupLogging(cfg.Options.LogLevel)
	sentryutil.Init()
	defer sentryutil.Flush()

	if err := rootCommand(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	log.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"run"},
	})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func rootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "cratebot",
		Short:         "Keeps Spotify playlists fresh with model-picked tracks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(growCommand(cfg))
	root.AddCommand(cleanupCommand(cfg))
	root.AddCommand(generateCommand(cfg))
	root.AddCommand(serveCommand(cfg))
	return root
}

func growCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "grow",
		Short: "Refresh the target playlist with new recommendations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.ValidateGrow(); err != nil {
				return err
			}
			c, closeAll, err := buildCurator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeAll()
			return c.Run(cmd.Context(), "grow", c.Grow)
		},
	}
}

func cleanupCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop target-playlist tracks that were recently listened to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.ValidateGrow(); err != nil {
				return err
			}
			c, closeAll, err := buildCurator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeAll()
			return c.Run(cmd.Context(), "cleanup", c.Cleanup)
		},
	}
}

func generateCommand(cfg *config.Config) *cobra.Command {
	var opts curator.GenerateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build a one-off playlist from a topic or a source playlist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			c, closeAll, err := buildCurator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeAll()
			return c.Run(cmd.Context(), "generate", func(ctx context.Context) error {
				return c.Generate(ctx, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Topic, "topic", "", "free-text theme for the playlist")
	cmd.Flags().StringVar(&opts.SourcePlaylistID, "source", "", "playlist ID to derive the theme from")
	cmd.Flags().StringVar(&opts.Name, "name", "", "playlist name (defaults to a templated title)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "number of tracks to request")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "reuse an existing playlist with the same name")
	return cmd
}

func serveCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose the runs over HTTP for an external scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			c, closeAll, err := buildCurator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeAll()
			return serve(cfg, c)
		},
	}
}

// buildCurator wires the whole dependency graph from config. The returned
// closer releases the library store.
func buildCurator(ctx context.Context, cfg *config.Config) (*curator.Curator, func(), error) {
	catalog, err := spotify.NewClient(ctx, cfg.Spotify)
	if err != nil {
		return nil, nil, err
	}
	llm, err := gemini.NewClient(ctx, cfg.Gemini)
	if err != nil {
		return nil, nil, err
	}
	store, err := library.Open(cfg.Library.DBPath)
	if err != nil {
		return nil, nil, err
	}

	covers := coverart.New(cfg.Image, llm,
		imagegen.New(cfg.Image.APIToken),
		resizer.New(cfg.Image.TempHostURL, cfg.Image.ResizeProxy))

	closeAll := func() {
		if err := store.Close(); err != nil {
			log.Warnf("Closing library store: %v", err)
		}
	}
	return curator.New(cfg, catalog, llm, store, covers), closeAll, nil
}

func serve(cfg *config.Config, c *curator.Curator) error {
	if cfg.Options.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(sentrygin.New(sentrygin.Options{Repanic: false}))
	router.Use(authMiddleware(cfg.Options.ServeToken))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	router.POST("/run/grow", func(g *gin.Context) {
		if err := cfg.ValidateGrow(); err != nil {
			g.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
			return
		}
		runAndRespond(g, c, "grow", c.Grow)
	})

	router.POST("/run/cleanup", func(g *gin.Context) {
		if err := cfg.ValidateGrow(); err != nil {
			g.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
			return
		}
		runAndRespond(g, c, "cleanup", c.Cleanup)
	})

	router.POST("/generate", func(g *gin.Context) {
		var req struct {
			Topic            string `json:"topic"`
			SourcePlaylistID string `json:"source_playlist_id"`
			Name             string `json:"name"`
			Count            int    `json:"count"`
			Overwrite        bool   `json:"overwrite"`
		}
		if err := g.ShouldBindJSON(&req); err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		runAndRespond(g, c, "generate", func(ctx context.Context) error {
			return c.Generate(ctx, curator.GenerateOptions{
				Topic:            req.Topic,
				SourcePlaylistID: req.SourcePlaylistID,
				Name:             req.Name,
				Count:            req.Count,
				Overwrite:        req.Overwrite,
			})
		})
	})

	port := cfg.Options.Port
	if port == "" {
		port = "8080"
	}
	log.Infof("Listening on :%s", port)
	return router.Run(":" + port)
}

// runAndRespond executes a run synchronously; the external scheduler's HTTP
// timeout is expected to exceed a full run.
func runAndRespond(g *gin.Context, c *curator.Curator, name string, fn func(context.Context) error) {
	if err := c.Run(g.Request.Context(), name, fn); err != nil {
		g.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	g.JSON(http.StatusOK, gin.H{"ok": true, "run": name})
}

// authMiddleware requires the configured bearer token on every mutating
// route. An empty token leaves the server open, which is only sane behind a
// private network.
func authMiddleware(token string) gin.HandlerFunc {
	return func(g *gin.Context) {
		if token == "" || g.Request.Method == http.MethodGet {
			g.Next()
			return
		}
		header := g.GetHeader("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || got != token {
			g.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		g.Next()
	}
}
