package assets

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/cache"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/metrics"
	"git.home.luguber.info/inful/storebuilder/internal/storage"
)

// Warning records an asset that was replaced by the fallback image.
type Warning struct {
	AssetID string
	Err     error
}

// Result is the outcome of optimizing one store's assets.
type Result struct {
	Records   map[string]*Record // by asset id
	Warnings  []Warning          // sorted by asset id
	Computed  int
	CacheHits int
	Fallbacks int
}

// Rewrite resolves the asset tokens in doc against the result's records.
func (r *Result) Rewrite(doc string) string {
	return RewriteReferences(doc, r.Records)
}

// Objects returns the sorted content hashes of every stored variant.
func (r *Result) Objects() []string {
	seen := map[string]bool{}
	var out []string
	for _, rec := range r.Records {
		for _, h := range rec.Objects() {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Pipeline optimizes assets over a bounded worker pool.
type Pipeline struct {
	spec        Spec
	source      SourceProvider
	store       storage.ObjectStore
	tier        *cache.Tier[*Record]
	breaker     *breaker.Breaker
	parallelism int
	cdnBase     string
	recorder    metrics.Recorder
	logger      *slog.Logger

	computations atomic.Int64

	// beforeTransform lets tests hold a computation in flight.
	beforeTransform func()
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithSpec(s Spec) Option       { return func(p *Pipeline) { p.spec = s.normalized() } }
func WithParallelism(n int) Option { return func(p *Pipeline) { p.parallelism = n } }
func WithCDNBaseURL(u string) Option {
	return func(p *Pipeline) { p.cdnBase = strings.TrimRight(u, "/") }
}
func WithTier(t *cache.Tier[*Record]) Option { return func(p *Pipeline) { p.tier = t } }
func WithBreaker(b *breaker.Breaker) Option  { return func(p *Pipeline) { p.breaker = b } }
func WithRecorder(r metrics.Recorder) Option { return func(p *Pipeline) { p.recorder = r } }
func WithLogger(l *slog.Logger) Option       { return func(p *Pipeline) { p.logger = l } }

// New creates a pipeline reading sources from source and uploading variants
// to store.
func New(source SourceProvider, store storage.ObjectStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		spec:        Spec{}.normalized(),
		source:      source,
		store:       store,
		parallelism: 8,
		cdnBase:     "/cdn",
		recorder:    metrics.NoopRecorder{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tier == nil {
		p.tier = cache.NewTier[*Record]("assets", 7*24*time.Hour)
	}
	if p.breaker == nil {
		p.breaker = breaker.New(breaker.AssetBackend, breaker.Settings{})
	}
	if p.parallelism <= 0 {
		p.parallelism = 1
	}
	return p
}

// Spec returns the transform spec.
func (p *Pipeline) Spec() Spec { return p.spec }

// Computations counts transforms actually executed, across all calls.
func (p *Pipeline) Computations() int64 { return p.computations.Load() }

// Optimize processes ids for tenantID. Failures of a single asset are
// absorbed: the fallback image is used and a warning recorded. A failing or
// open storage backend fails the whole call. Cancellation stops scheduling
// new items; items already transforming run to completion.
func (p *Pipeline) Optimize(ctx context.Context, tenantID string, ids []string) (*Result, error) {
	res := &Result{Records: make(map[string]*Record, len(ids))}
	if len(ids) == 0 {
		return res, nil
	}
	if err := p.breaker.Allow(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	workers := pool.New().
		WithMaxGoroutines(p.parallelism).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		workers.Go(func(ctx context.Context) error {
			if ctx.Err() != nil {
				return nil
			}
			rec, outcome, err := p.optimizeOne(ctx, tenantID, id)
			if err != nil {
				if structural(err) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Warn("Asset replaced by fallback",
					logfields.TenantID(tenantID), logfields.Asset(id), logfields.Error(err))
				rec, outcome = FallbackRecord(), metrics.AssetFallback
				mu.Lock()
				res.Warnings = append(res.Warnings, Warning{AssetID: id, Err: err})
				mu.Unlock()
			}
			p.recorder.IncAssetResult(outcome)
			mu.Lock()
			defer mu.Unlock()
			res.Records[id] = rec
			switch outcome {
			case metrics.AssetComputed:
				res.Computed++
			case metrics.AssetCacheHit:
				res.CacheHits++
			case metrics.AssetFallback:
				res.Fallbacks++
			}
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	sort.Slice(res.Warnings, func(i, j int) bool { return res.Warnings[i].AssetID < res.Warnings[j].AssetID })
	return res, nil
}

func structural(err error) bool {
	return foundationerrors.HasCategory(err, foundationerrors.CategoryStorage) ||
		foundationerrors.HasCategory(err, foundationerrors.CategoryCircuitOpen)
}

func (p *Pipeline) optimizeOne(ctx context.Context, tenantID, id string) (*Record, string, error) {
	data, err := p.source.Open(ctx, tenantID, id)
	if err != nil {
		return nil, "", foundationerrors.WrapError(err, foundationerrors.CategoryAssetProcessing, "load asset source").
			WithContext("asset", id).
			Build()
	}
	key := p.spec.Key(data)
	rec, result, err := p.tier.GetOrLoad(ctx, key, func(ctx context.Context) (*Record, error) {
		return p.transform(ctx, key, data)
	})
	if err != nil {
		if ce, ok := foundationerrors.AsClassified(err); ok {
			return nil, "", ce.WithContext("asset", id)
		}
		return nil, "", err
	}
	if result == cache.Miss {
		return rec, metrics.AssetComputed, nil
	}
	return rec, metrics.AssetCacheHit, nil
}

// transform runs detached from job cancellation: once started it finishes
// so no half-uploaded record is ever cached.
func (p *Pipeline) transform(ctx context.Context, key string, src []byte) (*Record, error) {
	if p.beforeTransform != nil {
		p.beforeTransform()
	}
	p.computations.Add(1)
	img, err := decode(src)
	if err != nil {
		return nil, err
	}
	encodedVariants, err := variants(img, p.spec)
	if err != nil {
		return nil, err
	}
	blur, err := placeholder(img, p.spec.PlaceholderSize)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rec := &Record{
		Key:            key,
		SourceHash:     storage.HashOf(src),
		Spec:           p.spec.Fingerprint(),
		Width:          b.Dx(),
		Height:         b.Dy(),
		PrimaryFormat:  p.spec.PrimaryFormat,
		FallbackFormat: p.spec.FallbackFormat,
		Placeholder:    blur,
		DominantColor:  dominantColor(img),
	}
	for _, v := range encodedVariants {
		hash, err := p.upload(ctx, v)
		if err != nil {
			return nil, err
		}
		rec.Variants = append(rec.Variants, Variant{
			Width: v.width, Height: v.height, Format: v.format,
			Hash: hash, URL: p.cdnURL(hash, v.format), Bytes: len(v.data),
		})
		if v.format == p.spec.FallbackFormat {
			rec.URL = p.cdnURL(hash, v.format)
		}
	}
	return rec, nil
}

func (p *Pipeline) upload(ctx context.Context, v encoded) (string, error) {
	var hash string
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		h, err := p.store.Put(ctx, &storage.Object{
			Type:        storage.ObjectTypeVariant,
			ContentType: "image/" + v.format,
			Data:        v.data,
		})
		if err != nil {
			return foundationerrors.StorageError("upload asset variant").WithCause(err).Build()
		}
		hash = h
		return nil
	})
	return hash, err
}

// Extension returns the file extension used for format in CDN URLs.
func Extension(format string) string {
	if format == FormatJPEG {
		return "jpg"
	}
	return format
}

func (p *Pipeline) cdnURL(hash, format string) string {
	return p.cdnBase + "/" + hash + "." + Extension(format)
}
