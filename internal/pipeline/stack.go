package pipeline

import (
	"io"
	"log/slog"
	"time"

	"github.com/ppiankov/cfrfetch/internal/cache"
	"github.com/ppiankov/cfrfetch/internal/catalog"
	"github.com/ppiankov/cfrfetch/internal/fetch"
	"github.com/ppiankov/cfrfetch/internal/hierarchy"
	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/store"
)

// Stack holds the components of one run. They share a single transport so
// that catalog, ancestry and document requests are paced together.
type Stack struct {
	Fetcher   *fetch.Fetcher
	Catalog   *catalog.Client
	Resolver  *hierarchy.Resolver
	Documents *store.Documents
	Pipeline  *Pipeline
}

// NewStack builds the components described by cfg
func NewStack(cfg *model.Config, logger *slog.Logger, observer Observer) *Stack {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fetcher := fetch.NewFetcher(fetch.OptionsFromConfig(cfg), logger)

	var verdicts cache.Cache = cache.Noop{}
	if cfg.Cache.Enabled {
		verdicts = cache.NewMemoryCache(cfg.Cache.AncestryTTL, 10*time.Minute)
	}

	resolver := hierarchy.NewResolver(fetcher, hierarchy.Options{
		BaseURL:  cfg.HTTP.BaseURL,
		Cache:    verdicts,
		CacheTTL: cfg.Cache.AncestryTTL,
		AsOf:     cfg.Run.AsOf,
	}, logger)

	docs := store.NewDocuments(cfg.Output.Dir)

	opts := OptionsFromConfig(cfg)
	opts.Observer = observer
	opts.Logger = logger

	return &Stack{
		Fetcher:   fetcher,
		Catalog:   catalog.New(fetcher, cfg.HTTP.BaseURL),
		Resolver:  resolver,
		Documents: docs,
		Pipeline:  New(fetcher, resolver, docs, opts),
	}
}
