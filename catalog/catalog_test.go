package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/screener/screener"
)

func validDefinition(title string) *screener.Definition {
	return &screener.Definition{
		Title: title,
		Questions: []screener.Question{
			{ID: "q1", Type: screener.QuestionYesNo, Text: "Are you pregnant?", Required: true},
		},
		Logic: screener.Logic{
			Rules:          []screener.Rule{{Condition: "q1 == 'yes'", Outcome: screener.OutcomeDoNotUse}},
			DefaultOutcome: screener.OutcomeOKToUse,
		},
	}
}

func brokenDefinition() *screener.Definition {
	def := validDefinition("broken")
	def.Logic.Rules[0].Condition = "q99 == 'x'"
	return def
}

func newEngine(t *testing.T) *screener.Engine {
	t.Helper()
	en, err := screener.NewEngine()
	require.NoError(t, err)
	return en
}

// countingSource records Get calls
type countingSource struct {
	Source
	gets int
}

func (s *countingSource) Get(ctx context.Context, key Key) (*screener.Definition, error) {
	s.gets++
	return s.Source.Get(ctx, key)
}

func TestInMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewInMemorySource()

	require.NoError(t, src.Put(Key{"statin", 2}, validDefinition("v2")))
	require.NoError(t, src.Put(Key{"statin", 1}, validDefinition("v1")))
	require.NoError(t, src.Put(Key{"allergy", 1}, validDefinition("a1")))

	t.Run("Put is write-once", func(t *testing.T) {
		err := src.Put(Key{"statin", 1}, validDefinition("other"))
		assert.Error(t, err)

		def, err := src.Get(ctx, Key{"statin", 1})
		require.NoError(t, err)
		assert.Equal(t, "v1", def.Title)
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := src.Get(ctx, Key{"statin", 9})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List is ordered", func(t *testing.T) {
		keys, err := src.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Key{{"allergy", 1}, {"statin", 1}, {"statin", 2}}, keys)
	})
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "statin@v3", Key{ScreenerID: "statin", Version: 3}.String())
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	key := Key{"statin", 1}

	t.Run("Hit and invalidate", func(t *testing.T) {
		c := NewInMemoryCache(CacheConfig{})
		_, ok := c.Get(ctx, key)
		assert.False(t, ok)

		def := validDefinition("v1")
		c.Set(ctx, key, def)
		got, ok := c.Get(ctx, key)
		require.True(t, ok)
		assert.Same(t, def, got)

		c.Invalidate(ctx)
		_, ok = c.Get(ctx, key)
		assert.False(t, ok)
	})

	t.Run("TTL expiry", func(t *testing.T) {
		c := NewInMemoryCache(CacheConfig{TTL: time.Minute})
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		c.Set(ctx, key, validDefinition("v1"))
		_, ok := c.Get(ctx, key)
		assert.True(t, ok)

		now = now.Add(2 * time.Minute)
		_, ok = c.Get(ctx, key)
		assert.False(t, ok)
	})
}

func TestRegistryLoadAll(t *testing.T) {
	ctx := context.Background()
	src := NewInMemorySource()
	require.NoError(t, src.Put(Key{"statin", 1}, validDefinition("v1")))
	require.NoError(t, src.Put(Key{"statin", 2}, brokenDefinition()))

	reg := NewRegistry(src, nil, newEngine(t), nil)
	n, err := reg.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []Key{{"statin", 1}}, reg.List())
	assert.Equal(t, []Key{{"statin", 2}}, reg.Rejected())

	_, err = reg.Get(ctx, Key{"statin", 2})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = reg.Get(ctx, Key{"statin", 3})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryEvaluate(t *testing.T) {
	ctx := context.Background()
	src := NewInMemorySource()
	require.NoError(t, src.Put(Key{"statin", 1}, validDefinition("v1")))

	reg := NewRegistry(src, nil, newEngine(t), nil)
	_, err := reg.LoadAll(ctx)
	require.NoError(t, err)

	result, err := reg.Evaluate(ctx, Key{"statin", 1}, screener.AnswerSet{"q1": "yes"})
	require.NoError(t, err)
	assert.Equal(t, screener.OutcomeDoNotUse, result.Outcome)
	require.NotNil(t, result.MatchedRule)
	assert.Equal(t, "q1 == 'yes'", result.MatchedRule.Condition)

	result, err = reg.Evaluate(ctx, Key{"statin", 1}, screener.AnswerSet{})
	require.NoError(t, err)
	assert.True(t, result.Undetermined())
	assert.Equal(t, []string{"q1"}, result.MissingRequired)
}

func TestRegistryGetFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemorySource()
	src := &countingSource{Source: inner}
	cache := NewInMemoryCache(CacheConfig{})

	reg := NewRegistry(src, cache, newEngine(t), nil)
	_, err := reg.LoadAll(ctx)
	require.NoError(t, err)

	// published after the registry loaded
	require.NoError(t, inner.Put(Key{"statin", 1}, validDefinition("late")))

	def, err := reg.Get(ctx, Key{"statin", 1})
	require.NoError(t, err)
	assert.Equal(t, "late", def.Title)
	assert.Equal(t, 1, src.gets)

	_, err = reg.Get(ctx, Key{"statin", 1})
	require.NoError(t, err)
	assert.Equal(t, 1, src.gets, "second lookup should be served from the cache")

	n, err := reg.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := cache.Get(ctx, Key{"statin", 1})
	assert.False(t, ok, "Reload should invalidate the cache")
}

func TestRegistryGetRejectsLateBrokenVersion(t *testing.T) {
	ctx := context.Background()
	src := NewInMemorySource()
	reg := NewRegistry(src, NewInMemoryCache(CacheConfig{}), newEngine(t), nil)

	require.NoError(t, src.Put(Key{"statin", 1}, brokenDefinition()))
	_, err := reg.Get(ctx, Key{"statin", 1})
	assert.ErrorIs(t, err, ErrRejected)
}

// failingSource fails List
type failingSource struct{ InMemorySource }

func (*failingSource) List(context.Context) ([]Key, error) {
	return nil, errors.New("connection refused")
}

func TestRegistryLoadAllSourceError(t *testing.T) {
	reg := NewRegistry(&failingSource{}, nil, newEngine(t), nil)
	_, err := reg.LoadAll(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestParseSeed(t *testing.T) {
	seed := `[
		{"screenerId": "statin", "version": 1, "definition": {
			"title": "Statin",
			"questions": [{"id": "q1", "type": "yes_no", "text": "Pregnant?"}],
			"logic": {"rules": [{"condition": "q1 == 'yes'", "outcome": "do_not_use"}], "defaultOutcome": "ok_to_use"}
		}}
	]`

	src, err := ParseSeed([]byte(seed))
	require.NoError(t, err)

	def, err := src.Get(context.Background(), Key{"statin", 1})
	require.NoError(t, err)
	assert.Equal(t, "Statin", def.Title)
	assert.True(t, def.Questions[0].Required)

	_, err = ParseSeed([]byte(`[{"screenerId": "", "version": 1, "definition": {}}]`))
	assert.Error(t, err)

	_, err = ParseSeed([]byte(`[{"screenerId": "s", "version": 1}]`))
	assert.Error(t, err)
}
