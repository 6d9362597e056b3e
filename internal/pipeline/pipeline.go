package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/cfrfetch/internal/fetch"
	"github.com/ppiankov/cfrfetch/internal/hierarchy"
	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/validate"
	"github.com/ppiankov/cfrfetch/internal/worker"
)

// backoffSleepFunc is the wait between unit attempts (injectable for tests)
var backoffSleepFunc = worker.Sleep

// Getter is the transport documents are fetched through
type Getter interface {
	Fetch(ctx context.Context, rawURL string, accept string) (*fetch.Outcome, error)
}

// Resolver confirms an agency's references against the title hierarchy
type Resolver interface {
	ResolveAgency(ctx context.Context, agency model.Agency, titles *model.TitleIndex) (*hierarchy.AgencyResolution, error)
}

// DocumentStore persists fetched documents and returns where they went
type DocumentStore interface {
	PutChapter(agencyDir string, title int, code string, body []byte) (string, error)
	PutTitle(title int, body []byte) (string, error)
}

// Options configures a Pipeline
type Options struct {
	BaseURL       string
	MaxAttempts   int
	BaseDelay     time.Duration
	FailurePolicy model.FailurePolicy
	ResolveOnly   bool
	FullTitles    bool
	ValidateXML   bool
	AsOf          func(model.Title) string // date used for full-title fetches
	Observer      Observer
	Logger        *slog.Logger
}

// OptionsFromConfig maps the retry and run config sections
func OptionsFromConfig(cfg *model.Config) Options {
	run := cfg.Run
	return Options{
		BaseURL:       cfg.HTTP.BaseURL,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		FailurePolicy: run.FailurePolicy,
		ResolveOnly:   run.ResolveOnly,
		FullTitles:    run.FullTitles,
		ValidateXML:   run.ValidateXML,
		AsOf:          run.AsOf,
	}
}

// Pipeline resolves each agency's references and fetches the confirmed
// chapters one at a time.
type Pipeline struct {
	getter   Getter
	resolver Resolver
	docs     DocumentStore
	opts     Options
	observer Observer
	logger   *slog.Logger
}

// New creates a Pipeline
func New(getter Getter, resolver Resolver, docs DocumentStore, opts Options) *Pipeline {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = model.FailureAbort
	}
	if opts.AsOf == nil {
		opts.AsOf = func(t model.Title) string { return t.AsOf(model.DateLatestIssue) }
	}
	observer := opts.Observer
	if observer == nil {
		observer = ObserverFunc(func(Event) {})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Pipeline{
		getter:   getter,
		resolver: resolver,
		docs:     docs,
		opts:     opts,
		observer: observer,
		logger:   logger.With("component", "pipeline"),
	}
}

// DocumentURL builds the full-document query for one chapter of a title
func DocumentURL(baseURL, asOf string, title int, chapter string) string {
	return fmt.Sprintf("%s/versioner/v1/full/%s/title-%d.xml?chapter=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(asOf), title, url.QueryEscape(chapter))
}

// TitleURL builds the full-document query for a whole title
func TitleURL(baseURL, asOf string, title int) string {
	return fmt.Sprintf("%s/versioner/v1/full/%s/title-%d.xml",
		strings.TrimRight(baseURL, "/"), url.PathEscape(asOf), title)
}

func (p *Pipeline) emit(e Event) {
	e.Time = time.Now()
	p.observer.Observe(e)
}

// Run processes agencies in order: all references of an agency are resolved
// before any of its chapters is fetched.
//
// Under the abort policy the first unit that exhausts its attempts, or the
// first resolver error, ends the run and is returned. Under the isolate policy
// the failing agency is recorded and the run moves on; Run then returns
// ErrPartialFailure. Context cancellation and malformed responses always end
// the run. The report is returned in every case.
func (p *Pipeline) Run(ctx context.Context, agencies []model.Agency, titles *model.TitleIndex) (*model.Report, error) {
	report := &model.Report{
		StartedAt:     time.Now().UTC(),
		FailurePolicy: string(p.opts.FailurePolicy),
		ResolveOnly:   p.opts.ResolveOnly,
	}
	finish := func(err error) (*model.Report, error) {
		report.FinishedAt = time.Now().UTC()
		if err != nil && !errors.Is(err, ErrPartialFailure) {
			report.Fatal = err.Error()
		}
		p.logger.Debug("run finished", "outcome", report.Outcome(), "duration", report.Duration(), "error", err)
		return report, err
	}
	p.logger.Debug("run started", "agencies", len(agencies), "titles", titles.Len(), "policy", p.opts.FailurePolicy, "resolve_only", p.opts.ResolveOnly)

	var resolution hierarchy.Resolution
	partial := false

	for _, agency := range agencies {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		summary, err := p.runAgency(ctx, agency, titles, report, &resolution)
		report.Agencies = append(report.Agencies, summary)
		if err != nil {
			if fatal(err, p.opts.FailurePolicy) {
				return finish(err)
			}
			partial = true
		}
	}

	if p.opts.FullTitles && !p.opts.ResolveOnly {
		for _, n := range resolution.Titles() {
			t, ok := titles.Get(n)
			if !ok {
				continue
			}
			if err := p.fetchTitle(ctx, t, report); err != nil {
				if fatal(err, p.opts.FailurePolicy) {
					return finish(err)
				}
				partial = true
			}
		}
	}

	if partial {
		return finish(ErrPartialFailure)
	}
	return finish(nil)
}

func (p *Pipeline) runAgency(ctx context.Context, agency model.Agency, titles *model.TitleIndex, report *model.Report, resolution *hierarchy.Resolution) (model.AgencySummary, error) {
	key := agency.Key()
	summary := model.AgencySummary{
		Slug:       key,
		Name:       agency.Name,
		References: len(agency.References),
	}
	report.Counts.Agencies++
	report.Counts.References += len(agency.References)
	p.emit(Event{Type: EventAgencyStarted, Agency: key, Count: len(agency.References)})

	fail := func(err error) (model.AgencySummary, error) {
		summary.Error = err.Error()
		p.emit(Event{Type: EventAgencyFinished, Agency: key, Err: err})
		return summary, err
	}

	res, err := p.resolver.ResolveAgency(ctx, agency, titles)
	if res != nil {
		for _, d := range res.Decisions {
			e := Event{Agency: key, Title: d.Reference.Title, Chapter: d.Reference.Chapter}
			switch d.Verdict {
			case hierarchy.Confirmed:
				summary.Confirmed++
				report.Counts.Confirmed++
				e.Type, e.Label = EventUnitConfirmed, d.Chapter.Label()
			case hierarchy.NotApplicable:
				summary.NotApplicable++
				report.Counts.NotApplicable++
				e.Type = EventUnitNotApplicable
			default:
				report.Counts.Ignored++
				e.Type, e.Reason = EventUnitIgnored, d.Reason
			}
			p.emit(e)
		}
	}
	if err != nil {
		return fail(fmt.Errorf("agency %s: %w", key, err))
	}

	confirmed := res.Confirmed()
	resolution.Add(confirmed...)

	for _, ch := range confirmed {
		if p.opts.ResolveOnly {
			report.Units = append(report.Units, model.UnitResult{
				Agency:  ch.AgencySlug(),
				Title:   ch.TitleNumber(),
				Chapter: ch.Code(),
				Label:   ch.Label(),
				AsOf:    ch.AsOf(),
				Status:  model.UnitConfirmed,
			})
			continue
		}

		unit, err := p.fetchChapter(ctx, ch)
		report.Units = append(report.Units, unit)
		switch unit.Status {
		case model.UnitPersisted:
			summary.Persisted++
			report.Counts.Persisted++
		case model.UnitSkipped:
			summary.Skipped++
			report.Counts.Skipped++
		case model.UnitFailed:
			summary.Failed++
			report.Counts.Failed++
		}
		if err != nil {
			return fail(fmt.Errorf("agency %s: %w", key, err))
		}
	}

	p.emit(Event{Type: EventAgencyFinished, Agency: key})
	return summary, nil
}

// fetchChapter downloads and stores one confirmed chapter. Taking a
// hierarchy.Chapter keeps unconfirmed references out of this stage.
func (p *Pipeline) fetchChapter(ctx context.Context, ch hierarchy.Chapter) (model.UnitResult, error) {
	unit := model.UnitResult{
		Agency:  ch.AgencySlug(),
		Title:   ch.TitleNumber(),
		Chapter: ch.Code(),
		Label:   ch.Label(),
		AsOf:    ch.AsOf(),
	}
	base := Event{Agency: unit.Agency, Title: unit.Title, Chapter: unit.Chapter}
	p.emitAs(EventUnitStarted, base)

	u := DocumentURL(p.opts.BaseURL, ch.AsOf(), ch.TitleNumber(), ch.Code())
	body, attempts, reason, err := p.fetchDocument(ctx, u, ch.String(), base)
	unit.Attempts = attempts
	if err == nil && reason == "" {
		unit.Path, err = p.docs.PutChapter(ch.AgencySlug(), ch.TitleNumber(), ch.Code(), body)
	}
	return p.settle(unit, base, body, reason, err)
}

// fetchTitle downloads a full title document
func (p *Pipeline) fetchTitle(ctx context.Context, t model.Title, report *model.Report) error {
	unit := model.UnitResult{
		Title: t.Number,
		Label: t.Name,
		AsOf:  p.opts.AsOf(t),
	}
	base := Event{Title: t.Number}
	p.emitAs(EventUnitStarted, base)

	u := TitleURL(p.opts.BaseURL, unit.AsOf, t.Number)
	body, attempts, reason, err := p.fetchDocument(ctx, u, fmt.Sprintf("title %d", t.Number), base)
	unit.Attempts = attempts
	if err == nil && reason == "" {
		unit.Path, err = p.docs.PutTitle(t.Number, body)
	}
	unit, err = p.settle(unit, base, body, reason, err)

	report.Titles = append(report.Titles, unit)
	switch unit.Status {
	case model.UnitPersisted:
		report.Counts.TitleDocs++
	case model.UnitFailed:
		report.Counts.Failed++
	}
	return err
}

func (p *Pipeline) emitAs(t EventType, e Event) {
	e.Type = t
	p.emit(e)
}

// settle assigns the unit's terminal status and emits the matching event
func (p *Pipeline) settle(unit model.UnitResult, e Event, body []byte, reason string, err error) (model.UnitResult, error) {
	e.Attempt = unit.Attempts
	switch {
	case err != nil:
		unit.Status = model.UnitFailed
		unit.Error = err.Error()
		e.Type, e.Err = EventUnitFailed, err
	case reason != "":
		unit.Status = model.UnitSkipped
		unit.Reason = reason
		e.Type, e.Reason = EventUnitSkipped, reason
	default:
		unit.Status = model.UnitPersisted
		unit.Bytes = len(body)
		e.Type, e.Path, e.Bytes = EventUnitPersisted, unit.Path, unit.Bytes
	}
	p.emit(e)
	return unit, err
}

// fetchDocument fetches an XML document with retry. A non-empty reason means
// the unit is skipped: the document does not exist or is empty.
func (p *Pipeline) fetchDocument(ctx context.Context, u, unit string, e Event) (body []byte, attempts int, reason string, err error) {
	out, attempts, err := p.fetchWithRetry(ctx, u, unit, e)
	if err != nil {
		return nil, attempts, "", err
	}
	if out.Kind == fetch.NotFound {
		return nil, attempts, "not found", nil
	}
	if len(bytes.TrimSpace(out.Body)) == 0 {
		return nil, attempts, "empty document", nil
	}
	if p.opts.ValidateXML {
		if err := validate.XML(u, out.Body); err != nil {
			return nil, attempts, "", err
		}
	}
	return out.Body, attempts, "", nil
}

// fetchWithRetry retries server errors, persisting rate limits and transport
// failures with a linear backoff of attempt × BaseDelay. Success and NotFound
// end the loop.
func (p *Pipeline) fetchWithRetry(ctx context.Context, u, unit string, e Event) (*fetch.Outcome, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		out, err := p.getter.Fetch(ctx, u, "application/xml")
		if err == nil {
			if out.Kind == fetch.Success || out.Kind == fetch.NotFound {
				return out, attempt, nil
			}
			err = out.Err()
		} else if !fetch.IsRetryable(err) {
			return nil, attempt, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, ctxErr
		}

		lastErr = err
		if attempt == p.opts.MaxAttempts {
			break
		}
		delay := time.Duration(attempt) * p.opts.BaseDelay
		e.Type, e.Attempt, e.Delay, e.Err = EventUnitRetrying, attempt, delay, err
		p.emit(e)
		if err := backoffSleepFunc(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
	return nil, p.opts.MaxAttempts, &RetryError{Unit: unit, Attempts: p.opts.MaxAttempts, Err: lastErr}
}
