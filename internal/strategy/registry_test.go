package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zap.NewNop())
	require.NoError(t, RegisterBuiltins(r, BuiltinConfig{LLM: LLMConfig{Model: "claude-test"}}))
	return r
}

func TestResolveUnknownName(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.ResolveExtraction("MissingStrategy", nil, false)
	require.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, KindExtraction, nf.Kind)
	require.Equal(t, "MissingStrategy", nf.Name)

	_, err = r.ResolveChunking("NoExtractionStrategy", nil, false)
	require.ErrorIs(t, err, ErrNotFound, "names are scoped per kind")

	_, err = r.Resolve(Kind("bogus"), "RegexChunking", nil, false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveConstructionErrors(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	cases := []struct {
		name string
		kind Kind
		strt string
		args Args
	}{
		{"unknown arg", KindChunking, "RegexChunking", Args{"bogus": 1}},
		{"bad regex", KindChunking, "RegexChunking", Args{"patterns": []string{"("}}},
		{"zero chunk size", KindChunking, "FixedLengthWordChunking", Args{"chunk_size": 0}},
		{"wrong type", KindChunking, "SlidingWindowChunking", Args{"step": "many"}},
		{"missing selector", KindExtraction, "CSSExtractionStrategy", Args{}},
		{"bad selector", KindExtraction, "CSSExtractionStrategy", Args{"selector": "div[["}},
		{"bad threshold", KindExtraction, "CosineStrategy", Args{"sim_threshold": 2}},
		{"llm without key", KindExtraction, "LLMExtractionStrategy", Args{}},
		{"llm bad provider", KindExtraction, "LLMExtractionStrategy", Args{"provider": "openai/gpt-4o", "api_token": "k"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := r.Resolve(tc.kind, tc.strt, tc.args, false)
			require.Nil(t, s)
			require.ErrorIs(t, err, ErrConstruction)
			var ce *ConstructionError
			require.True(t, errors.As(err, &ce))
			require.Equal(t, tc.strt, ce.Name)
		})
	}
}

func TestResolveStripsVerboseWithoutMutatingArgs(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	args := Args{"chunk_size": "2", "verbose": true}

	c, err := r.ResolveChunking("FixedLengthWordChunking", args, true)
	require.NoError(t, err)
	require.Contains(t, args, "verbose")

	chunks, err := c.Chunk("one two three")
	require.NoError(t, err)
	require.Equal(t, []string{"one two", "three"}, chunks)
}

func TestResolveReturnsIndependentEquivalentHandles(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	args := Args{"patterns": []string{`\|`}}

	first, err := r.ResolveChunking("RegexChunking", args, false)
	require.NoError(t, err)
	second, err := r.ResolveChunking("RegexChunking", args, false)
	require.NoError(t, err)
	require.NotSame(t, first, second)

	a, err := first.Chunk("x|y")
	require.NoError(t, err)
	b, err := second.Chunk("x|y")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	factory := func(Args, Settings) (ExtractionStrategy, error) { return PassThroughExtractor{}, nil }
	require.NoError(t, r.RegisterExtraction(Descriptor{Name: "X"}, factory))
	require.Error(t, r.RegisterExtraction(Descriptor{Name: "X"}, factory))
	require.Error(t, r.RegisterExtraction(Descriptor{}, factory))
	require.Error(t, r.RegisterChunking(Descriptor{Name: "Y"}, nil))
}

func TestVerboseFlagReachesFactory(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var got Settings
	require.NoError(t, r.RegisterExtraction(Descriptor{Name: "Probe"}, func(_ Args, s Settings) (ExtractionStrategy, error) {
		got = s
		return PassThroughExtractor{}, nil
	}))

	_, err := r.ResolveExtraction("Probe", Args{"verbose": false}, true)
	require.NoError(t, err)
	require.True(t, got.Verbose)
	require.NotNil(t, got.Logger)
}

func TestDescriptors(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	names := func(ds []Descriptor) []string {
		out := make([]string, 0, len(ds))
		for _, d := range ds {
			out = append(out, d.Name)
		}
		return out
	}
	require.Equal(t, []string{
		"CSSExtractionStrategy", "CosineStrategy", "LLMExtractionStrategy", "NoExtractionStrategy",
	}, names(r.Descriptors(KindExtraction)))
	require.Equal(t, []string{
		"FixedLengthWordChunking", "NlpSentenceChunking", "RegexChunking", "SlidingWindowChunking",
	}, names(r.Descriptors(KindChunking)))
	for _, d := range r.Descriptors(KindChunking) {
		require.Equal(t, KindChunking, d.Kind)
	}
}

func TestDefaultsResolve(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	e, err := r.ResolveExtraction(DefaultExtraction, nil, false)
	require.NoError(t, err)
	blocks, err := e.Extract(context.Background(), Input{Sections: []string{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, []crawler.Block{
		{Index: 0, Tags: []string{}, Content: "a"},
		{Index: 1, Tags: []string{}, Content: "b"},
	}, blocks)

	_, err = r.ResolveChunking(DefaultChunking, nil, false)
	require.NoError(t, err)
}
