package curator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"cratebot/config"
	"cratebot/library"
	"cratebot/models"
)

type mockCatalog struct {
	playlist      []models.Track
	playlistErr   error
	search        map[string]models.Track
	history       mapset.Set[string]
	saved         []models.Track
	names         map[string]string // playlistID -> name
	byName        map[string]string // name -> playlistID
	createdID     string
	setCalls      int
	lastSetID     string
	lastSetTracks []models.Track
	prependCalls  int
	lastPrepended []models.Track
	trimCalls     int
	uploadCalls   int
	detailCalls   int
	createCalls   int
}

func (m *mockCatalog) SearchTrack(_ context.Context, query string) (models.Track, bool, error) {
	t, ok := m.search[query]
	return t, ok, nil
}

func (m *mockCatalog) PlaylistTracks(_ context.Context, _ string) ([]models.Track, error) {
	return m.playlist, m.playlistErr
}

func (m *mockCatalog) SetPlaylistTracks(_ context.Context, playlistID string, tracks []models.Track) error {
	m.setCalls++
	m.lastSetID = playlistID
	m.lastSetTracks = tracks
	return nil
}

func (m *mockCatalog) PrependTracks(_ context.Context, _ string, tracks []models.Track) error {
	m.prependCalls++
	m.lastPrepended = tracks
	return nil
}

func (m *mockCatalog) TrimPlaylist(_ context.Context, _ string, _ int) error {
	m.trimCalls++
	return nil
}

func (m *mockCatalog) UploadCover(_ context.Context, _ string, _ []byte) error {
	m.uploadCalls++
	return nil
}

func (m *mockCatalog) RecentlyPlayedIDs(_ context.Context, _ int) (mapset.Set[string], error) {
	if m.history == nil {
		return mapset.NewSet[string](), nil
	}
	return m.history, nil
}

func (m *mockCatalog) SavedTracks(_ context.Context) ([]models.Track, error) {
	return m.saved, nil
}

func (m *mockCatalog) CreatePlaylist(_ context.Context, name string, _ string) (string, error) {
	m.createCalls++
	if m.createdID == "" {
		m.createdID = "new-playlist-id"
	}
	return m.createdID, nil
}

func (m *mockCatalog) FindPlaylistByName(_ context.Context, name string) (string, bool, error) {
	id, ok := m.byName[name]
	return id, ok, nil
}

func (m *mockCatalog) PlaylistName(_ context.Context, playlistID string) (string, error) {
	return m.names[playlistID], nil
}

func (m *mockCatalog) UpdatePlaylistDetails(_ context.Context, _ string, _ string, _ string) error {
	m.detailCalls++
	return nil
}

type mockLibrary struct {
	sample     []models.Track
	refreshErr error
}

func (m *mockLibrary) RefreshIfStale(_ context.Context, _ library.Fetcher, _ time.Duration) error {
	return m.refreshErr
}

func (m *mockLibrary) Sample(int) ([]models.Track, error) {
	return m.sample, nil
}

type mockLLM struct {
	listRaw string
	listErr error
	text    string
	textErr error
}

func (m *mockLLM) GenerateList(context.Context, string) (string, string, error) {
	return m.listRaw, "mock-model", m.listErr
}

func (m *mockLLM) GenerateText(context.Context, string) (string, string, error) {
	return m.text, "mock-model", m.textErr
}

type mockCovers struct {
	img   []byte
	calls int
}

func (m *mockCovers) GenerateCover(context.Context, []models.Track) []byte {
	m.calls++
	return m.img
}

func testConfig() *config.Config {
	return &config.Config{
		Playlist: config.PlaylistConfig{
			ID:             "target",
			MaxSize:        4,
			RecommendCount: 10,
			DiscoveryShare: 30,
			CleanupDays:    30,
			NameTemplate:   "{topic}",
			DescTemplate:   "Updated {date}",
		},
		Library: config.LibraryConfig{SampleSize: 10, MaxAgeHours: 24},
	}
}

func track(id string) models.Track {
	return models.Track{ID: id, Artist: "Artist " + id, Title: "Song " + id}
}

func TestGrowHappyPath(t *testing.T) {
	catalog := &mockCatalog{
		playlist: []models.Track{track("A"), track("B"), track("C")},
		search: map[string]models.Track{
			"artist c - song c": track("C"),
			"artist d - song d": track("D"),
			"artist e - song e": track("E"),
		},
	}
	llm := &mockLLM{listRaw: `["Artist C - Song C", "Artist D - Song D", "Artist E - Song E"]`}
	lib := &mockLibrary{sample: []models.Track{track("s1"), track("s2")}}
	covers := &mockCovers{img: []byte("cover")}

	c := New(testConfig(), catalog, llm, lib, covers)
	if err := c.Grow(context.Background()); err != nil {
		t.Fatalf("Grow() error = %v", err)
	}

	// C is already present, so only D and E go through the write; the trim
	// pass enforces the cap. Existing content never enters a write call.
	if catalog.prependCalls != 1 {
		t.Fatalf("prependCalls = %d, want 1", catalog.prependCalls)
	}
	if got := models.IDs(catalog.lastPrepended); !reflect.DeepEqual(got, []string{"D", "E"}) {
		t.Errorf("prepended tracks = %v, want [D E]", got)
	}
	if catalog.setCalls != 0 {
		t.Errorf("setCalls = %d, want 0 (grow never rewrites existing content)", catalog.setCalls)
	}
	if catalog.trimCalls != 1 {
		t.Errorf("trimCalls = %d, want 1", catalog.trimCalls)
	}
	if catalog.uploadCalls != 1 {
		t.Errorf("uploadCalls = %d, want 1", catalog.uploadCalls)
	}
	if covers.calls != 1 {
		t.Errorf("cover generations = %d, want 1", covers.calls)
	}
}

func TestGrowNoOpSkipsAllWrites(t *testing.T) {
	catalog := &mockCatalog{
		playlist: []models.Track{track("A")},
		search: map[string]models.Track{
			"artist a - song a": track("A"),
		},
	}
	llm := &mockLLM{listRaw: `["Artist A - Song A"]`}
	covers := &mockCovers{img: []byte("cover")}

	c := New(testConfig(), catalog, llm, &mockLibrary{sample: []models.Track{track("s1")}}, covers)
	if err := c.Grow(context.Background()); err != nil {
		t.Fatalf("Grow() error = %v", err)
	}

	if catalog.prependCalls != 0 {
		t.Errorf("prependCalls = %d, want 0 on no-op", catalog.prependCalls)
	}
	if catalog.setCalls != 0 {
		t.Errorf("setCalls = %d, want 0 on no-op", catalog.setCalls)
	}
	if catalog.trimCalls != 0 {
		t.Errorf("trimCalls = %d, want 0 on no-op", catalog.trimCalls)
	}
	if catalog.uploadCalls != 0 {
		t.Errorf("uploadCalls = %d, want 0 on no-op", catalog.uploadCalls)
	}
	if catalog.detailCalls != 0 {
		t.Errorf("detailCalls = %d, want 0 on no-op", catalog.detailCalls)
	}
	if covers.calls != 0 {
		t.Errorf("cover generations = %d, want 0 on no-op", covers.calls)
	}
}

func TestGrowZeroRecommendationsStopsGracefully(t *testing.T) {
	catalog := &mockCatalog{}
	llm := &mockLLM{listRaw: "sorry, I can't help with that"}

	c := New(testConfig(), catalog, llm, &mockLibrary{sample: []models.Track{track("s1")}}, &mockCovers{})
	if err := c.Grow(context.Background()); err != nil {
		t.Fatalf("Grow() = %v, want nil (zero recommendations is a stop, not a crash)", err)
	}
	if catalog.prependCalls != 0 || catalog.setCalls != 0 {
		t.Errorf("write calls = %d/%d, want none", catalog.prependCalls, catalog.setCalls)
	}
}

func TestGrowTextChainExhaustionIsFatal(t *testing.T) {
	llm := &mockLLM{listErr: errors.New("all models exhausted")}

	c := New(testConfig(), &mockCatalog{}, llm, &mockLibrary{sample: []models.Track{track("s1")}}, &mockCovers{})
	if err := c.Grow(context.Background()); err == nil {
		t.Error("Grow() = nil, want error when the text chain is exhausted")
	}
}

func TestGrowEmptyLibraryIsFatal(t *testing.T) {
	c := New(testConfig(), &mockCatalog{}, &mockLLM{}, &mockLibrary{}, &mockCovers{})
	if err := c.Grow(context.Background()); err == nil {
		t.Error("Grow() = nil, want error for an empty library")
	}
}

func TestGrowCoverFailureIsSoft(t *testing.T) {
	catalog := &mockCatalog{
		playlist: nil,
		search:   map[string]models.Track{"artist d - song d": track("D")},
	}
	llm := &mockLLM{listRaw: `["Artist D - Song D"]`}
	covers := &mockCovers{img: nil} // total cover-art failure

	c := New(testConfig(), catalog, llm, &mockLibrary{sample: []models.Track{track("s1")}}, covers)
	if err := c.Grow(context.Background()); err != nil {
		t.Fatalf("Grow() error = %v, want nil (cover failure is soft)", err)
	}
	if catalog.prependCalls != 1 {
		t.Errorf("prependCalls = %d, want 1 (playlist update proceeds)", catalog.prependCalls)
	}
	if catalog.uploadCalls != 0 {
		t.Errorf("uploadCalls = %d, want 0 (no image to upload)", catalog.uploadCalls)
	}
}

func TestCleanupRemovesListenedTracks(t *testing.T) {
	catalog := &mockCatalog{
		playlist: []models.Track{track("A"), track("B"), track("C"), track("D")},
		history:  mapset.NewSet("B", "D"),
	}

	c := New(testConfig(), catalog, &mockLLM{}, &mockLibrary{}, &mockCovers{})
	if err := c.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	if catalog.setCalls != 1 {
		t.Fatalf("setCalls = %d, want 1", catalog.setCalls)
	}
	if got := models.IDs(catalog.lastSetTracks); !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Errorf("written tracks = %v, want [A C]", got)
	}
}

func TestCleanupNoChangeSkipsWrite(t *testing.T) {
	catalog := &mockCatalog{
		playlist: []models.Track{track("A"), track("B")},
		history:  mapset.NewSet("X", "Y"),
	}

	c := New(testConfig(), catalog, &mockLLM{}, &mockLibrary{}, &mockCovers{})
	if err := c.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if catalog.setCalls != 0 {
		t.Errorf("setCalls = %d, want 0 when nothing changed", catalog.setCalls)
	}
}

func TestGenerateFromTopicCreatesPlaylist(t *testing.T) {
	catalog := &mockCatalog{
		search: map[string]models.Track{
			"artist d - song d": track("D"),
			"artist e - song e": track("E"),
		},
	}
	llm := &mockLLM{listRaw: `["Artist D - Song D", "Artist E - Song E"]`}

	c := New(testConfig(), catalog, llm, &mockLibrary{}, &mockCovers{})
	err := c.Generate(context.Background(), GenerateOptions{Topic: "rainy day", Count: 10})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if catalog.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", catalog.createCalls)
	}
	if catalog.lastSetID != "new-playlist-id" {
		t.Errorf("wrote to %q, want the freshly created playlist", catalog.lastSetID)
	}
	if got := models.IDs(catalog.lastSetTracks); !reflect.DeepEqual(got, []string{"D", "E"}) {
		t.Errorf("written tracks = %v, want [D E]", got)
	}
}

func TestGenerateOverwriteReusesExisting(t *testing.T) {
	catalog := &mockCatalog{
		byName: map[string]string{"rainy day": "existing-id"},
		search: map[string]models.Track{"artist d - song d": track("D")},
	}
	llm := &mockLLM{listRaw: `["Artist D - Song D"]`}

	c := New(testConfig(), catalog, llm, &mockLibrary{}, &mockCovers{})
	err := c.Generate(context.Background(), GenerateOptions{Topic: "rainy day", Overwrite: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if catalog.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0 on overwrite", catalog.createCalls)
	}
	if catalog.lastSetID != "existing-id" {
		t.Errorf("wrote to %q, want existing-id", catalog.lastSetID)
	}
}

func TestGenerateFromSourcePlaylist(t *testing.T) {
	catalog := &mockCatalog{
		playlist: []models.Track{track("A")},
		names:    map[string]string{"src": "Workout Mix"},
		search:   map[string]models.Track{"artist d - song d": track("D")},
	}
	llm := &mockLLM{listRaw: `["Artist D - Song D"]`}

	c := New(testConfig(), catalog, llm, &mockLibrary{}, &mockCovers{})
	err := c.Generate(context.Background(), GenerateOptions{SourcePlaylistID: "src"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if catalog.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", catalog.createCalls)
	}
}

func TestGenerateRequiresTopicOrSource(t *testing.T) {
	c := New(testConfig(), &mockCatalog{}, &mockLLM{}, &mockLibrary{}, &mockCovers{})
	if err := c.Generate(context.Background(), GenerateOptions{}); err == nil {
		t.Error("Generate() = nil, want error without topic or source")
	}
}

func TestRunRecoversPanic(t *testing.T) {
	c := New(testConfig(), &mockCatalog{}, &mockLLM{}, &mockLibrary{}, &mockCovers{})

	err := c.Run(context.Background(), "panicky", func(context.Context) error {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("Run() = %v, want recovered panic error", err)
	}
}

func TestRunPassesThroughErrors(t *testing.T) {
	c := New(testConfig(), &mockCatalog{}, &mockLLM{}, &mockLibrary{}, &mockCovers{})

	wantErr := errors.New("run failed")
	err := c.Run(context.Background(), "failing", func(context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Run() = %v, want the inner error", err)
	}

	if err := c.Run(context.Background(), "ok", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}
