// Package coverart turns a track sample into playlist cover art: an LLM
// writes the visual prompt, an image-model chain renders it, and the result
// is recompressed under the catalog's upload limit. Every failure path
// degrades to "no cover" — a playlist update without new art is fine.
package coverart

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"cratebot/config"
	"cratebot/fallback"
	"cratebot/gemini"
	"cratebot/models"
)

// PromptGenerator writes the text-to-image prompt; the Gemini client
// satisfies it.
type PromptGenerator interface {
	GenerateText(ctx context.Context, prompt string) (text string, modelUsed string, err error)
}

// ImageGenerator renders one image with one model; the imagegen client
// satisfies it.
type ImageGenerator interface {
	Generate(ctx context.Context, model string, prompt string) ([]byte, error)
}

// Resizer recompresses the image; the resizer client satisfies it.
type Resizer interface {
	Resize(ctx context.Context, img []byte) ([]byte, error)
}

type Pipeline struct {
	cfg     config.ImageConfig
	prompts PromptGenerator
	images  ImageGenerator
	resizer Resizer

	// shuffle and sleep are swapped out in tests.
	shuffle func(n int, swap func(i, j int))
	sleep   func(time.Duration)
}

func New(cfg config.ImageConfig, prompts PromptGenerator, images ImageGenerator, resizer Resizer) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		prompts: prompts,
		images:  images,
		resizer: resizer,
		shuffle: rand.Shuffle,
	}
}

// GenerateCover produces JPEG bytes for the playlist cover, or nil when the
// feature is disabled or any stage fails.
func (p *Pipeline) GenerateCover(ctx context.Context, sample []models.Track) []byte {
	if !p.cfg.Enabled {
		log.Debug("Cover art generation is disabled")
		return nil
	}
	if len(sample) == 0 {
		log.Debug("Empty track sample, skipping cover art")
		return nil
	}

	sub := p.subSample(sample)
	imagePrompt, modelUsed, err := p.prompts.GenerateText(ctx, gemini.BuildImagePrompt(models.SampleLines(sub)))
	if err != nil {
		log.Warnf("No model produced an image prompt, skipping cover art: %v", err)
		return nil
	}
	log.Debugf("Image prompt written by %s: %q", modelUsed, imagePrompt)

	runner := fallback.Runner[[]byte]{
		Candidates: p.cfg.Models,
		Sleep:      p.sleep,
		Empty:      func(b []byte) bool { return len(b) == 0 },
	}
	res, err := runner.Run(ctx, func(ctx context.Context, model string) ([]byte, error) {
		return p.images.Generate(ctx, model, imagePrompt)
	})
	if err != nil {
		log.Warnf("Every image model failed, skipping cover art: %v", err)
		return nil
	}
	log.Infof("Cover art generated by %s (%d bytes)", res.ModelUsed, len(res.Value))

	resized, err := p.resizer.Resize(ctx, res.Value)
	if err != nil {
		// The original may exceed the upload ceiling; the catalog's
		// rejection is handled as a soft error upstream.
		log.Warnf("Resize failed, falling back to the unresized image: %v", err)
		return res.Value
	}
	return resized
}

// subSample draws a bounded random subset for prompt economy; the full
// sample would blow past useful prompt sizes.
func (p *Pipeline) subSample(sample []models.Track) []models.Track {
	limit := p.cfg.SampleSize
	if limit <= 0 || limit >= len(sample) {
		return sample
	}
	shuffled := make([]models.Track, len(sample))
	copy(shuffled, sample)
	p.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:limit]
}
