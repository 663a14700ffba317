package profiles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/cache"
	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/store"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*style.Profile
	globals  map[string]*style.GlobalProfile
	gets     int
	failGet  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: map[string]*style.Profile{},
		globals:  map[string]*style.GlobalProfile{},
	}
}

func (f *fakeStore) GetProfile(_ context.Context, userID, subspecialty string) (*style.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet != nil {
		return nil, f.failGet
	}
	p, ok := f.profiles[ProfileKey(userID, subspecialty)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (f *fakeStore) UpsertProfile(_ context.Context, p *style.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[ProfileKey(p.UserID, p.Subspecialty)] = p.Clone()
	return nil
}

func (f *fakeStore) SetLearningStrength(_ context.Context, userID, subspecialty string, strength float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[ProfileKey(userID, subspecialty)]
	if !ok {
		return 0, store.ErrNotFound
	}
	prev := p.LearningStrength
	p.LearningStrength = strength
	return prev, nil
}

func (f *fakeStore) DeleteProfile(_ context.Context, userID, subspecialty string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ProfileKey(userID, subspecialty)
	_, ok := f.profiles[key]
	delete(f.profiles, key)
	return ok, nil
}

func (f *fakeStore) GetGlobalProfile(_ context.Context, userID string) (*style.GlobalProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.globals[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g.Clone(), nil
}

func (f *fakeStore) UpsertGlobalProfile(_ context.Context, g *style.GlobalProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globals[g.UserID] = g.Clone()
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *fakeSink) WriteAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

type fixture struct {
	svc   *Service
	store *fakeStore
	sink  *fakeSink
	cache *cache.MemoryCache[*style.Profile]
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pc, err := cache.NewMemory[*style.Profile](16, cache.DefaultTTL)
	require.NoError(t, err)
	gc, err := cache.NewMemory[*style.GlobalProfile](16, cache.DefaultTTL)
	require.NoError(t, err)

	f := &fixture{store: newFakeStore(), sink: &fakeSink{}, cache: pc}
	f.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pc.SetClock(func() time.Time { return f.clock })
	gc.SetClock(func() time.Time { return f.clock })
	f.svc = NewService(f.store, pc, gc, audit.New(f.sink, nil, logger), logger)
	return f
}

func analyzedProfile(userID, subspecialty string, edits int) *style.Profile {
	p := style.NewProfile(userID, subspecialty)
	p.SectionOrder = []sections.Type{sections.History, sections.Plan}
	p.GreetingStyle = style.GreetingFormal
	p.Confidence[style.FeatureGreetingStyle] = 0.8
	p.TotalEditsAnalyzed = edits
	return p
}

func TestGet_MissingProfile(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "u1", "cardiology")
	assert.ErrorIs(t, err, style.ErrNoProfile)
}

func TestGet_ReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertProfile(ctx, analyzedProfile("u1", "cardiology", 10)))

	_, err := f.svc.Get(ctx, "u1", "cardiology")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, "u1", "cardiology")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.gets, "second read should hit the cache")

	f.clock = f.clock.Add(cache.DefaultTTL)
	_, err = f.svc.Get(ctx, "u1", "cardiology")
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.gets, "expired entry should reload")
}

func TestGet_ReturnsCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertProfile(ctx, analyzedProfile("u1", "cardiology", 10)))

	p, err := f.svc.Get(ctx, "u1", "cardiology")
	require.NoError(t, err)
	p.VocabularyMap["mutated"] = "yes"

	again, err := f.svc.Get(ctx, "u1", "cardiology")
	require.NoError(t, err)
	assert.NotContains(t, again.VocabularyMap, "mutated")
}

func TestSave_RepopulatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := analyzedProfile("u1", "cardiology", 10)
	require.NoError(t, f.svc.Save(ctx, p))

	p.GreetingStyle = style.GreetingCollegial
	require.NoError(t, f.svc.Save(ctx, p))

	gets := f.store.gets
	got, err := f.svc.Get(ctx, "u1", "cardiology")
	require.NoError(t, err)
	assert.Equal(t, style.GreetingCollegial, got.GreetingStyle)
	assert.Equal(t, gets, f.store.gets, "write should leave a fresh cache entry")
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestGetOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.GetOrCreate(ctx, "u1", "neurology")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.LearningStrength)
	assert.Zero(t, p.TotalEditsAnalyzed)

	again, err := f.svc.GetOrCreate(ctx, "u1", "neurology")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Save(ctx, analyzedProfile("u1", "cardiology", 10)))

	res, err := f.svc.Reset(ctx, "u1", "cardiology")
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = f.svc.Get(ctx, "u1", "cardiology")
	assert.ErrorIs(t, err, style.ErrNoProfile, "reset must invalidate the cache")

	res, err = f.svc.Reset(ctx, "u1", "cardiology")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)

	require.Len(t, f.sink.entries, 1)
	assert.Equal(t, audit.ActionProfileReset, f.sink.entries[0].Action)
}

func TestSetLearningStrength(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Save(ctx, analyzedProfile("u1", "cardiology", 10)))
	_, _ = f.svc.Get(ctx, "u1", "cardiology")

	p, err := f.svc.SetLearningStrength(ctx, "u1", "cardiology", 1.7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.LearningStrength)

	p, err = f.svc.SetLearningStrength(ctx, "u1", "cardiology", 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, p.LearningStrength)

	last := f.sink.entries[len(f.sink.entries)-1]
	assert.Equal(t, audit.ActionLearningStrength, last.Action)
	assert.Equal(t, 1.0, last.Metadata["previous"])
	assert.Equal(t, 0.25, last.Metadata["new"])

	_, err = f.svc.SetLearningStrength(ctx, "nobody", "cardiology", 0.5)
	assert.ErrorIs(t, err, style.ErrNoProfile)
}

func TestGetEffectiveProfile_FallbackOrder(t *testing.T) {
	ctx := context.Background()

	usableGlobal := &style.GlobalProfile{
		UserID:             "u1",
		GreetingStyle:      style.GreetingCollegial,
		Confidence:         map[style.Feature]float64{style.FeatureGreetingStyle: 0.7},
		LearningStrength:   1,
		TotalEditsAnalyzed: 30,
	}

	tests := []struct {
		name    string
		profile *style.Profile
		global  *style.GlobalProfile
		want    Source
	}{
		{"subspecialty with edits", analyzedProfile("u1", "cardiology", 12), usableGlobal, SourceSubspecialty},
		{"subspecialty without edits falls to global", analyzedProfile("u1", "cardiology", 0), usableGlobal, SourceGlobal},
		{"no subspecialty profile uses global", nil, usableGlobal, SourceGlobal},
		{"global without edits is default", nil, &style.GlobalProfile{UserID: "u1", Confidence: map[style.Feature]float64{style.FeatureGreetingStyle: 0.9}}, SourceDefault},
		{"global without confidence is default", nil, &style.GlobalProfile{UserID: "u1", TotalEditsAnalyzed: 5}, SourceDefault},
		{"nothing stored", nil, nil, SourceDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.profile != nil {
				require.NoError(t, f.store.UpsertProfile(ctx, tt.profile))
			}
			if tt.global != nil {
				require.NoError(t, f.store.UpsertGlobalProfile(ctx, tt.global))
			}

			eff, err := f.svc.GetEffectiveProfile(ctx, "u1", "cardiology")
			require.NoError(t, err)
			assert.Equal(t, tt.want, eff.Source)
			if tt.want == SourceDefault {
				assert.Nil(t, eff.Profile)
				return
			}
			require.NotNil(t, eff.Profile)
			assert.Equal(t, "cardiology", eff.Profile.Subspecialty)
		})
	}
}

func TestGetEffectiveProfile_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failGet = errors.New("connection refused")
	_, err := f.svc.GetEffectiveProfile(context.Background(), "u1", "cardiology")
	assert.Error(t, err)
}

func TestSaveGlobal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := &style.GlobalProfile{UserID: "u1", TotalEditsAnalyzed: 3, Confidence: map[style.Feature]float64{style.FeatureFormalityLevel: 0.6}}
	require.NoError(t, f.svc.SaveGlobal(ctx, g))

	got, err := f.svc.GetGlobal(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalEditsAnalyzed)
	assert.False(t, got.CreatedAt.IsZero())
}
