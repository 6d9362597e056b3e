package hierarchy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ppiankov/cfrfetch/internal/cache"
	"github.com/ppiankov/cfrfetch/internal/fetch"
	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/validate"
)

// Getter is the transport the resolver issues ancestry lookups through
type Getter interface {
	Fetch(ctx context.Context, rawURL string, accept string) (*fetch.Outcome, error)
}

// Options configures a Resolver
type Options struct {
	BaseURL  string
	Cache    cache.Cache // nil disables verdict caching
	CacheTTL time.Duration
	AsOf     func(model.Title) string // nil uses the latest issue date
}

// Stats counts ancestry lookups
type Stats struct {
	Lookups   int64
	CacheHits int64
}

// Resolver confirms catalog (title, chapter) references against the
// title's ancestry for an as-of date.
type Resolver struct {
	getter  Getter
	baseURL string
	cache   cache.Cache
	ttl     time.Duration
	asOf    func(model.Title) string
	logger  *slog.Logger

	lookups   atomic.Int64
	cacheHits atomic.Int64
}

type ancestor struct {
	Type       string `json:"type"`
	Label      string `json:"label"`
	Identifier string `json:"identifier"`
}

type ancestryResponse struct {
	Ancestors []ancestor `json:"ancestors"`
}

// verdict is the cached result of one ancestry URL
type verdict struct {
	Confirmed bool   `json:"confirmed"`
	Label     string `json:"label,omitempty"`
}

// NewResolver creates a Resolver. A nil logger discards log output.
func NewResolver(getter Getter, opts Options, logger *slog.Logger) *Resolver {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.AsOf == nil {
		opts.AsOf = func(t model.Title) string { return t.AsOf(model.DateLatestIssue) }
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		getter:  getter,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		asOf:    opts.AsOf,
		logger:  logger.With("component", "resolver"),
	}
}

// AncestryURL builds the ancestry lookup for one chapter of a title
func AncestryURL(baseURL, asOf string, title int, chapter string) string {
	return fmt.Sprintf("%s/versioner/v1/ancestry/%s/title-%d.json?chapter=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(asOf), title, url.QueryEscape(chapter))
}

// Stats returns a snapshot of lookup counters
func (r *Resolver) Stats() Stats {
	return Stats{Lookups: r.lookups.Load(), CacheHits: r.cacheHits.Load()}
}

// Resolve confirms that label names a chapter of title on asOf. An empty asOf
// uses the resolver's date selection.
//
// The bool result is false when the reference is not applicable: the
// ancestry endpoint returned 404 or listed no chapter-kind ancestor. Any other
// non-200 response is returned as a *fetch.StatusError and an undecodable
// body as a *validate.MalformedError.
func (r *Resolver) Resolve(ctx context.Context, title model.Title, agency model.Agency, label, asOf string) (Chapter, bool, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Chapter{}, false, fmt.Errorf("title %d: empty chapter label", title.Number)
	}
	if asOf == "" {
		asOf = r.asOf(title)
	}
	if asOf == "" {
		return Chapter{}, false, fmt.Errorf("title %d: no as-of date", title.Number)
	}

	v, err := r.lookup(ctx, AncestryURL(r.baseURL, asOf, title.Number, label))
	if err != nil {
		return Chapter{}, false, fmt.Errorf("resolve title %d chapter %s: %w", title.Number, label, err)
	}
	if !v.Confirmed {
		r.logger.Debug("chapter not applicable", "title", title.Number, "chapter", label, "as_of", asOf, "agency", agency.Key())
		return Chapter{}, false, nil
	}

	r.logger.Debug("chapter confirmed", "title", title.Number, "chapter", label, "label", v.Label, "agency", agency.Key())
	return Chapter{
		code:   label,
		title:  title.Number,
		agency: agency.Key(),
		label:  v.Label,
		asOf:   asOf,
	}, true, nil
}

func (r *Resolver) lookup(ctx context.Context, rawURL string) (verdict, error) {
	key := cache.CacheKey(rawURL)
	if b, ok := r.cache.Get(key); ok {
		var v verdict
		if err := json.Unmarshal(b, &v); err == nil {
			r.cacheHits.Add(1)
			return v, nil
		}
	}

	r.lookups.Add(1)
	out, err := r.getter.Fetch(ctx, rawURL, "application/json")
	if err != nil {
		return verdict{}, err
	}

	var v verdict
	switch out.Kind {
	case fetch.Success:
		var resp ancestryResponse
		if err := validate.JSON(rawURL, out.Body, &resp); err != nil {
			return verdict{}, err
		}
		for _, a := range resp.Ancestors {
			if strings.EqualFold(strings.TrimSpace(a.Type), "chapter") {
				v = verdict{Confirmed: true, Label: a.Label}
				break
			}
		}
	case fetch.NotFound:
	default:
		return verdict{}, out.Err()
	}

	if b, err := json.Marshal(v); err == nil {
		_ = r.cache.Set(key, b, r.ttl)
	}
	return v, nil
}

// ResolveAgency resolves every reference of agency in catalog order. Non-chapter
// references, references to unknown or reserved titles and repeats of an
// earlier reference are Ignored without a lookup. The first lookup error stops
// the agency; the decisions made so far are returned with it.
func (r *Resolver) ResolveAgency(ctx context.Context, agency model.Agency, titles *model.TitleIndex) (*AgencyResolution, error) {
	res := &AgencyResolution{Agency: agency}
	seen := make(map[string]bool)

	for _, ref := range agency.References {
		d := Decision{Reference: ref}
		t, known := titles.Get(ref.Title)
		key := fmt.Sprintf("%d/%s", ref.Title, strings.TrimSpace(ref.Chapter))

		switch {
		case !ref.IsChapter():
			d.Verdict, d.Reason = Ignored, "not a chapter reference"
		case !known:
			d.Verdict, d.Reason = Ignored, "unknown title"
		case t.Reserved:
			d.Verdict, d.Reason = Ignored, "reserved title"
		case seen[key]:
			d.Verdict, d.Reason = Ignored, "duplicate reference"
		default:
			seen[key] = true
			d.AsOf = r.asOf(t)
			ch, ok, err := r.Resolve(ctx, t, agency, ref.Chapter, d.AsOf)
			if err != nil {
				return res, err
			}
			if ok {
				d.Verdict, d.Chapter = Confirmed, ch
			} else {
				d.Verdict = NotApplicable
			}
		}
		res.Decisions = append(res.Decisions, d)
	}
	return res, nil
}
