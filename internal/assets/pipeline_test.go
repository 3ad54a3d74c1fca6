package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/storage"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(src SourceProvider, store storage.ObjectStore, opts ...Option) *Pipeline {
	base := []Option{
		WithSpec(Spec{Widths: []int{32, 64, 1280}, PrimaryFormat: FormatJPEG, FallbackFormat: FormatPNG, Quality: 70, PlaceholderSize: 8}),
		WithParallelism(4),
		WithCDNBaseURL("https://cdn.example/"),
	}
	return New(src, store, append(base, opts...)...)
}

func TestOptimizeProducesVariants(t *testing.T) {
	src := NewMemorySource()
	src.Put("acme", "hero", solidPNG(t, 100, 50, color.RGBA{R: 0, G: 0, B: 255, A: 255}))
	store := storage.NewMemoryStore()
	p := newTestPipeline(src, store)

	res, err := p.Optimize(context.Background(), "acme", []string{"hero"})
	require.NoError(t, err)
	rec := res.Records["hero"]
	require.NotNil(t, rec)
	assert.False(t, rec.Fallback)
	assert.Equal(t, 100, rec.Width)
	assert.Len(t, rec.Variants, 4, "two widths fit the source, two formats each")
	assert.Equal(t, 4, store.Size())
	assert.True(t, strings.HasPrefix(rec.URL, "https://cdn.example/"))
	assert.True(t, strings.HasSuffix(rec.URL, ".png"))
	assert.True(t, strings.HasPrefix(rec.Placeholder, "data:image/png;base64,"))
	assert.Equal(t, "#0000ff", rec.DominantColor)
	assert.Contains(t, rec.SrcSet(FormatJPEG), ".jpg 32w")
	assert.Contains(t, rec.SrcSet(FormatJPEG), ".jpg 64w")
	assert.Equal(t, 1, res.Computed)
	assert.Len(t, res.Objects(), 4)
}

func TestOptimizeEncodesWebPWithJPEGFallback(t *testing.T) {
	src := NewMemorySource()
	src.Put("acme", "hero", solidPNG(t, 100, 50, color.RGBA{R: 200, G: 120, B: 0, A: 255}))
	store := storage.NewMemoryStore()
	p := newTestPipeline(src, store, WithSpec(Spec{Widths: []int{32, 64}, Quality: 70, PlaceholderSize: 8}))

	res, err := p.Optimize(context.Background(), "acme", []string{"hero"})
	require.NoError(t, err)
	rec := res.Records["hero"]
	require.NotNil(t, rec)
	assert.Equal(t, FormatWebP, rec.PrimaryFormat)
	assert.Equal(t, FormatJPEG, rec.FallbackFormat)
	assert.Contains(t, rec.SrcSet(FormatWebP), ".webp 32w")
	assert.True(t, strings.HasSuffix(rec.URL, ".jpg"), "the plain src points at the fallback")

	for _, v := range rec.Variants {
		obj, err := store.Get(context.Background(), v.Hash)
		require.NoError(t, err)
		assert.Equal(t, "image/"+v.Format, obj.ContentType)
		cfg, format, err := image.DecodeConfig(bytes.NewReader(obj.Data))
		require.NoError(t, err)
		assert.Equal(t, v.Format, format)
		assert.Equal(t, v.Width, cfg.Width)
	}
}

func TestOptimizeIsIdempotent(t *testing.T) {
	src := NewMemorySource()
	src.Put("acme", "logo", solidPNG(t, 40, 40, color.White))
	p := newTestPipeline(src, storage.NewMemoryStore())

	first, err := p.Optimize(context.Background(), "acme", []string{"logo"})
	require.NoError(t, err)
	second, err := p.Optimize(context.Background(), "acme", []string{"logo"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.Computations())
	assert.Equal(t, 1, second.CacheHits)
	assert.Same(t, first.Records["logo"], second.Records["logo"])
}

func TestOptimizeSharesInFlightComputationAcrossTenants(t *testing.T) {
	shared := solidPNG(t, 48, 48, color.RGBA{R: 200, A: 255})
	src := NewMemorySource()
	src.Put("acme", "badge", shared)
	src.Put("globex", "seal", shared)
	p := newTestPipeline(src, storage.NewMemoryStore())

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	p.beforeTransform = func() {
		started <- struct{}{}
		<-release
	}

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	run := func(i int, tenantID, id string) {
		defer wg.Done()
		res, err := p.Optimize(context.Background(), tenantID, []string{id})
		assert.NoError(t, err)
		results[i] = res
	}
	wg.Add(2)
	go run(0, "acme", "badge")
	<-started
	go run(1, "globex", "seal")
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), p.Computations())
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Same(t, results[0].Records["badge"], results[1].Records["seal"])
}

func TestOptimizeSubstitutesFallbackForBrokenAsset(t *testing.T) {
	src := NewMemorySource()
	src.Put("acme", "good", solidPNG(t, 40, 40, color.Black))
	src.Put("acme", "broken", []byte("not an image"))
	p := newTestPipeline(src, storage.NewMemoryStore())

	res, err := p.Optimize(context.Background(), "acme", []string{"broken", "good", "missing"})
	require.NoError(t, err)
	assert.True(t, res.Records["broken"].Fallback)
	assert.True(t, res.Records["missing"].Fallback)
	assert.False(t, res.Records["good"].Fallback)
	assert.Equal(t, 2, res.Fallbacks)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "broken", res.Warnings[0].AssetID)
	assert.Equal(t, "AssetProcessingError", foundationerrors.KindOf(res.Warnings[0].Err))
}

func TestOptimizeFailsWhenStorageIsDown(t *testing.T) {
	src := NewMemorySource()
	src.Put("acme", "a", solidPNG(t, 40, 40, color.Black))
	src.Put("acme", "b", solidPNG(t, 40, 40, color.White))
	store := storage.NewMemoryStore()
	store.SetFailure(errors.New("connection refused"))
	b := breaker.New(breaker.AssetBackend, breaker.Settings{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute})
	p := newTestPipeline(src, store, WithBreaker(b), WithParallelism(1))

	_, err := p.Optimize(context.Background(), "acme", []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryStorage))
	assert.Equal(t, breaker.Open, b.State())

	_, err = p.Optimize(context.Background(), "acme", []string{"a"})
	assert.Equal(t, "CircuitOpenError", foundationerrors.KindOf(err))
}

func TestOptimizeHonoursCancellation(t *testing.T) {
	src := NewMemorySource()
	src.Put("acme", "a", solidPNG(t, 40, 40, color.Black))
	p := newTestPipeline(src, storage.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Optimize(ctx, "acme", []string{"a"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.Computations())
}

func TestSpecKey(t *testing.T) {
	a := Spec{Widths: []int{640, 320}}
	b := Spec{Widths: []int{320, 640, 640}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, a.Key([]byte("x")), b.Key([]byte("x")))
	assert.NotEqual(t, a.Key([]byte("x")), Spec{Widths: []int{320}}.Key([]byte("x")))
	assert.NotEqual(t, a.Key([]byte("x")), a.Key([]byte("y")))
}
