package coverart

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cratebot/config"
	"cratebot/models"
)

type fakePrompts struct {
	text  string
	err   error
	calls int
	seen  string
}

func (f *fakePrompts) GenerateText(_ context.Context, prompt string) (string, string, error) {
	f.calls++
	f.seen = prompt
	return f.text, "fake-model", f.err
}

type fakeImages struct {
	// perModel maps model -> image; absent models fail.
	perModel map[string][]byte
	called   []string
}

func (f *fakeImages) Generate(_ context.Context, model string, _ string) ([]byte, error) {
	f.called = append(f.called, model)
	if img, ok := f.perModel[model]; ok {
		return img, nil
	}
	return nil, errors.New("model unavailable")
}

type fakeResizer struct {
	out   []byte
	err   error
	calls int
}

func (f *fakeResizer) Resize(_ context.Context, img []byte) ([]byte, error) {
	f.calls++
	return f.out, f.err
}

func sample(n int) []models.Track {
	out := make([]models.Track, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Track{ID: string(rune('a' + i)), Artist: "artist", Title: "title"})
	}
	return out
}

func testConfig() config.ImageConfig {
	return config.ImageConfig{
		Enabled:    true,
		Models:     []string{"slow-hq", "mid", "baseline"},
		SampleSize: 50,
	}
}

func newTestPipeline(cfg config.ImageConfig, prompts *fakePrompts, images *fakeImages, rz *fakeResizer) *Pipeline {
	p := New(cfg, prompts, images, rz)
	p.sleep = func(time.Duration) {}
	return p
}

func TestGenerateCoverHappyPath(t *testing.T) {
	prompts := &fakePrompts{text: "a dark moody landscape"}
	images := &fakeImages{perModel: map[string][]byte{"slow-hq": []byte("raw-image")}}
	rz := &fakeResizer{out: []byte("resized")}

	p := newTestPipeline(testConfig(), prompts, images, rz)
	got := p.GenerateCover(context.Background(), sample(5))

	if string(got) != "resized" {
		t.Errorf("GenerateCover = %q, want resized bytes", got)
	}
	if !strings.Contains(prompts.seen, "artist - title") {
		t.Errorf("image prompt missing the track sample: %q", prompts.seen)
	}
	if len(images.called) != 1 || images.called[0] != "slow-hq" {
		t.Errorf("image models called = %v, want only the first", images.called)
	}
}

func TestGenerateCoverFallsThroughModels(t *testing.T) {
	prompts := &fakePrompts{text: "prompt"}
	images := &fakeImages{perModel: map[string][]byte{"baseline": []byte("img")}}
	rz := &fakeResizer{out: []byte("resized")}

	p := newTestPipeline(testConfig(), prompts, images, rz)
	got := p.GenerateCover(context.Background(), sample(3))

	if string(got) != "resized" {
		t.Fatalf("GenerateCover = %q, want resized", got)
	}
	want := []string{"slow-hq", "mid", "baseline"}
	if len(images.called) != 3 {
		t.Fatalf("image models called = %v, want %v", images.called, want)
	}
	for i, m := range want {
		if images.called[i] != m {
			t.Errorf("call %d = %s, want %s", i, images.called[i], m)
		}
	}
}

func TestGenerateCoverTotalImageFailure(t *testing.T) {
	prompts := &fakePrompts{text: "prompt"}
	images := &fakeImages{}
	rz := &fakeResizer{}

	p := newTestPipeline(testConfig(), prompts, images, rz)
	if got := p.GenerateCover(context.Background(), sample(3)); got != nil {
		t.Errorf("GenerateCover = %q, want nil when every model fails", got)
	}
	if rz.calls != 0 {
		t.Errorf("resizer calls = %d, want 0", rz.calls)
	}
}

func TestGenerateCoverPromptFailure(t *testing.T) {
	prompts := &fakePrompts{err: errors.New("all text models down")}
	images := &fakeImages{perModel: map[string][]byte{"slow-hq": []byte("img")}}

	p := newTestPipeline(testConfig(), prompts, images, &fakeResizer{})
	if got := p.GenerateCover(context.Background(), sample(3)); got != nil {
		t.Errorf("GenerateCover = %q, want nil without an image prompt", got)
	}
	if len(images.called) != 0 {
		t.Errorf("image models called = %v, want none", images.called)
	}
}

func TestGenerateCoverResizeFailureFallsBack(t *testing.T) {
	prompts := &fakePrompts{text: "prompt"}
	images := &fakeImages{perModel: map[string][]byte{"slow-hq": []byte("original")}}
	rz := &fakeResizer{err: errors.New("proxy down")}

	p := newTestPipeline(testConfig(), prompts, images, rz)
	got := p.GenerateCover(context.Background(), sample(3))
	if string(got) != "original" {
		t.Errorf("GenerateCover = %q, want the original unresized image", got)
	}
}

func TestGenerateCoverDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	prompts := &fakePrompts{text: "prompt"}

	p := newTestPipeline(cfg, prompts, &fakeImages{}, &fakeResizer{})
	if got := p.GenerateCover(context.Background(), sample(3)); got != nil {
		t.Errorf("GenerateCover = %q, want nil when disabled", got)
	}
	if prompts.calls != 0 {
		t.Errorf("prompt calls = %d, want 0", prompts.calls)
	}
}

func TestGenerateCoverEmptySample(t *testing.T) {
	prompts := &fakePrompts{text: "prompt"}
	p := newTestPipeline(testConfig(), prompts, &fakeImages{}, &fakeResizer{})

	if got := p.GenerateCover(context.Background(), nil); got != nil {
		t.Errorf("GenerateCover = %q, want nil for an empty sample", got)
	}
	if prompts.calls != 0 {
		t.Errorf("prompt calls = %d, want 0", prompts.calls)
	}
}

func TestSubSampleBounded(t *testing.T) {
	cfg := testConfig()
	cfg.SampleSize = 2
	p := newTestPipeline(cfg, &fakePrompts{}, &fakeImages{}, &fakeResizer{})

	sub := p.subSample(sample(10))
	if len(sub) != 2 {
		t.Errorf("len(subSample) = %d, want 2", len(sub))
	}

	// A sample smaller than the bound is returned whole.
	sub = p.subSample(sample(2))
	if len(sub) != 2 {
		t.Errorf("len(subSample) = %d, want 2", len(sub))
	}
}
