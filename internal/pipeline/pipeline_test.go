package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/cfrfetch/internal/fetch"
	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/validate"
)

const chapterIXML = `<?xml version="1.0" encoding="UTF-8"?>
<DIV3 N="I" TYPE="CHAPTER"><HEAD>CHAPTER I—AGRICULTURAL MARKETING SERVICE</HEAD><DIV5 N="27" TYPE="PART"><HEAD>PART 27—COTTON CLASSIFICATION</HEAD></DIV5></DIV3>`

type reply struct {
	status int
	body   string
	header map[string]string
}

// fakeECFR serves ancestry and full-document endpoints from scripted replies
type fakeECFR struct {
	t        *testing.T
	mu       sync.Mutex
	ancestry map[string]reply   // "7/I"; missing keys answer with no chapter ancestor
	docs     map[string][]reply // "7/I" or "7" for a full title; the last reply repeats
	calls    map[string]int
	requests []string
}

var ecfrPath = regexp.MustCompile(`^/versioner/v1/(ancestry|full)/([^/]+)/title-(\d+)\.(json|xml)$`)

func newFakeECFR(t *testing.T) *fakeECFR {
	return &fakeECFR{
		t:        t,
		ancestry: make(map[string]reply),
		docs:     make(map[string][]reply),
		calls:    make(map[string]int),
	}
}

func (f *fakeECFR) confirm(title int, chapter string) {
	f.ancestry[fmt.Sprintf("%d/%s", title, chapter)] = reply{
		status: http.StatusOK,
		body: fmt.Sprintf(`{"ancestors":[{"type":"title","label":"Title %d"},{"type":"chapter","label":"Chapter %s"}]}`,
			title, chapter),
	}
}

func (f *fakeECFR) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := ecfrPath.FindStringSubmatch(r.URL.Path)
	if m == nil {
		f.t.Errorf("unexpected request %s", r.URL)
		http.NotFound(w, r)
		return
	}
	kind, title, chapter := m[1], m[3], r.URL.Query().Get("chapter")
	key := title
	if chapter != "" {
		key = title + "/" + chapter
	}
	f.requests = append(f.requests, kind+":"+key)

	var rep reply
	switch kind {
	case "ancestry":
		var ok bool
		if rep, ok = f.ancestry[key]; !ok {
			rep = reply{status: http.StatusOK, body: fmt.Sprintf(`{"ancestors":[{"type":"title","label":"Title %s"}]}`, title)}
		}
	case "full":
		script := f.docs[key]
		if len(script) == 0 {
			http.NotFound(w, r)
			return
		}
		n := f.calls[key]
		f.calls[key] = n + 1
		if n >= len(script) {
			n = len(script) - 1
		}
		rep = script[n]
	}

	for k, v := range rep.header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(rep.status)
	_, _ = fmt.Fprint(w, rep.body)
}

func (f *fakeECFR) count(entry string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == entry {
			n++
		}
	}
	return n
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

// stubBackoff records backoff waits instead of sleeping
func stubBackoff(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := backoffSleepFunc
	backoffSleepFunc = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { backoffSleepFunc = orig })
	return &waits
}

type harness struct {
	ecfr   *fakeECFR
	cfg    *model.Config
	events *eventLog
	titles *model.TitleIndex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ecfr := newFakeECFR(t)
	server := httptest.NewServer(ecfr)
	t.Cleanup(server.Close)

	cfg := model.DefaultConfig()
	cfg.HTTP.BaseURL = server.URL
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.RateLimiting.RequestsPerSecond = 1000
	cfg.RateLimiting.BurstSize = 10
	cfg.Output.Dir = t.TempDir()

	titles, err := model.NewTitleIndex([]model.Title{
		{Number: 7, Name: "Agriculture", LatestIssueDate: "2024-05-01"},
		{Number: 9, Name: "Animals and Animal Products", LatestIssueDate: "2024-05-02"},
	})
	if err != nil {
		t.Fatalf("NewTitleIndex: %v", err)
	}
	return &harness{ecfr: ecfr, cfg: cfg, events: &eventLog{}, titles: titles}
}

func (h *harness) run(t *testing.T, ctx context.Context, agencies ...model.Agency) (*model.Report, error) {
	t.Helper()
	stack := NewStack(h.cfg, nil, h.events)
	return stack.Pipeline.Run(ctx, agencies, h.titles)
}

var (
	ams = model.Agency{
		Name: "Agricultural Marketing Service",
		Slug: "agricultural-marketing-service",
		References: []model.Reference{
			{Title: 7, Chapter: "I"},
			{Title: 7, Chapter: "Z"},
		},
	}
	fsis = model.Agency{
		Name:       "Food Safety and Inspection Service",
		Slug:       "food-safety-and-inspection-service",
		References: []model.Reference{{Title: 9, Chapter: "III"}},
	}
)

func ok(body string) reply { return reply{status: http.StatusOK, body: body} }

func TestRun_ConfirmsAndPersistsChapter(t *testing.T) {
	h := newHarness(t)
	h.ecfr.confirm(7, "I")
	h.ecfr.docs["7/I"] = []reply{ok(chapterIXML)}

	report, err := h.run(t, context.Background(), ams)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	path := filepath.Join(h.cfg.Output.Dir, "agricultural-marketing-service", "Title-07", "chapter-I.xml")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected chapter document: %v", err)
	}
	if string(got) != chapterIXML {
		t.Errorf("document content mismatch")
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Output.Dir, "agricultural-marketing-service", "Title-07", "chapter-Z.xml")); !os.IsNotExist(err) {
		t.Error("chapter Z must not be written")
	}
	if h.ecfr.count("full:7/Z") != 0 {
		t.Error("chapter Z must never be fetched")
	}

	c := report.Counts
	if c.Agencies != 1 || c.References != 2 || c.Confirmed != 1 || c.NotApplicable != 1 || c.Persisted != 1 || c.Failed != 0 {
		t.Errorf("unexpected counts %+v", c)
	}
	if report.Outcome() != model.OutcomeComplete {
		t.Errorf("expected complete outcome, got %s", report.Outcome())
	}
	if len(report.Units) != 1 {
		t.Fatalf("expected one unit, got %d", len(report.Units))
	}
	u := report.Units[0]
	if u.Status != model.UnitPersisted || u.Chapter != "I" || u.Path != path || u.Bytes != len(chapterIXML) || u.Attempts != 1 || u.AsOf != "2024-05-01" {
		t.Errorf("unexpected unit %+v", u)
	}

	want := []EventType{
		EventAgencyStarted,
		EventUnitConfirmed,
		EventUnitNotApplicable,
		EventUnitStarted,
		EventUnitPersisted,
		EventAgencyFinished,
	}
	got2 := h.events.types()
	if fmt.Sprint(got2) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got2, want)
	}
}

func TestRun_ResolvesAllReferencesBeforeFetching(t *testing.T) {
	h := newHarness(t)
	h.ecfr.confirm(7, "I")
	h.ecfr.confirm(7, "IX")
	h.ecfr.docs["7/I"] = []reply{ok(chapterIXML)}
	h.ecfr.docs["7/IX"] = []reply{ok(`<DIV3 N="IX"/>`)}

	agency := ams
	agency.References = []model.Reference{{Title: 7, Chapter: "I"}, {Title: 7, Chapter: "IX"}}
	if _, err := h.run(t, context.Background(), agency); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"ancestry:7/I", "ancestry:7/IX", "full:7/I", "full:7/IX"}
	if fmt.Sprint(h.ecfr.requests) != fmt.Sprint(want) {
		t.Errorf("requests = %v, want %v", h.ecfr.requests, want)
	}
}

func TestRun_ExhaustedRetriesAbortRun(t *testing.T) {
	waits := stubBackoff(t)
	h := newHarness(t)
	h.ecfr.confirm(7, "I")
	h.ecfr.confirm(9, "III")
	h.ecfr.docs["7/I"] = []reply{{status: http.StatusServiceUnavailable, body: "maintenance"}}
	h.ecfr.docs["9/III"] = []reply{ok(`<DIV3 N="III"/>`)}

	report, err := h.run(t, context.Background(), ams, fsis)

	var re *RetryError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RetryError, got %v", err)
	}
	if re.Attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", re.Attempts)
	}
	var se *fetch.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected the last cause to be a 503, got %v", err)
	}

	if n := h.ecfr.count("full:7/I"); n != 4 {
		t.Errorf("expected 4 document attempts, got %d", n)
	}
	if n := h.ecfr.count("ancestry:9/III") + h.ecfr.count("full:9/III"); n != 0 {
		t.Errorf("run must stop after the failure, got %d further requests", n)
	}

	if len(*waits) != 3 {
		t.Fatalf("expected 3 backoff waits, got %v", *waits)
	}
	for i := 1; i < len(*waits); i++ {
		if (*waits)[i] <= (*waits)[i-1] {
			t.Errorf("backoff must strictly increase: %v", *waits)
		}
	}
	if (*waits)[0] != 50*time.Millisecond {
		t.Errorf("expected first backoff 50ms, got %v", (*waits)[0])
	}

	if report.Fatal == "" || report.Counts.Failed != 1 || report.Outcome() != model.OutcomeFailed {
		t.Errorf("unexpected report %+v", report.Counts)
	}
	if len(report.Agencies) != 1 || report.Agencies[0].Error == "" {
		t.Errorf("failing agency must be recorded: %+v", report.Agencies)
	}
}

func TestRun_RateLimitedThenSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the wall clock")
	}
	waits := stubBackoff(t)
	h := newHarness(t)
	h.ecfr.confirm(7, "I")
	h.ecfr.docs["7/I"] = []reply{
		{status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "1"}},
		ok(chapterIXML),
	}

	start := time.Now()
	report, err := h.run(t, context.Background(), ams)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("expected to wait at least Retry-After, waited %v", elapsed)
	}
	if report.Counts.Persisted != 1 || len(report.Units) != 1 {
		t.Errorf("expected exactly one persisted document, got %+v", report.Counts)
	}
	if h.ecfr.count("full:7/I") != 2 {
		t.Errorf("expected 2 document requests, got %d", h.ecfr.count("full:7/I"))
	}
	if len(*waits) != 0 {
		t.Errorf("a recovered 429 must not use the unit backoff, got %v", *waits)
	}
}

func TestRun_RerunIsByteIdentical(t *testing.T) {
	h := newHarness(t)
	h.ecfr.confirm(7, "I")
	h.ecfr.docs["7/I"] = []reply{ok(chapterIXML)}

	snapshot := func() map[string]string {
		files := make(map[string]string)
		err := filepath.WalkDir(h.cfg.Output.Dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files[path] = string(b)
			return nil
		})
		if err != nil {
			t.Fatalf("walk: %v", err)
		}
		return files
	}

	if _, err := h.run(t, context.Background(), ams); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := snapshot()
	if _, err := h.run(t, context.Background(), ams); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := snapshot()

	if len(first) != 1 || fmt.Sprint(first) != fmt.Sprint(second) {
		t.Errorf("rerun changed output:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestRun_IsolatePolicyContinues(t *testing.T) {
	stubBackoff(t)
	h := newHarness(t)
	h.cfg.Run.FailurePolicy = model.FailureIsolate
	h.ecfr.confirm(7, "I")
	h.ecfr.confirm(9, "III")
	h.ecfr.docs["7/I"] = []reply{{status: http.StatusBadGateway, body: "bad gateway"}}
	h.ecfr.docs["9/III"] = []reply{ok(`<DIV3 N="III"/>`)}

	report, err := h.run(t, context.Background(), ams, fsis)
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}
	if report.Fatal != "" {
		t.Errorf("partial failure is not fatal: %q", report.Fatal)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Output.Dir, "food-safety-and-inspection-service", "Title-09", "chapter-III.xml")); err != nil {
		t.Errorf("second agency should still be fetched: %v", err)
	}
	if len(report.Agencies) != 2 || report.Agencies[0].Error == "" || report.Agencies[1].Error != "" {
		t.Errorf("unexpected agency summaries %+v", report.Agencies)
	}
	if report.Outcome() != model.OutcomePartial {
		t.Errorf("expected partial outcome, got %s", report.Outcome())
	}
}

func TestRun_SkipsMissingAndEmptyDocuments(t *testing.T) {
	waits := stubBackoff(t)
	h := newHarness(t)
	h.ecfr.confirm(7, "I")
	h.ecfr.confirm(7, "II")
	h.ecfr.docs["7/II"] = []reply{ok("  \n")}

	agency := ams
	agency.References = []model.Reference{{Title: 7, Chapter: "I"}, {Title: 7, Chapter: "II"}}
	report, err := h.run(t, context.Background(), agency)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Counts.Skipped != 2 || report.Counts.Persisted != 0 {
		t.Fatalf("unexpected counts %+v", report.Counts)
	}
	if report.Units[0].Reason != "not found" || report.Units[1].Reason != "empty document" {
		t.Errorf("unexpected reasons %q %q", report.Units[0].Reason, report.Units[1].Reason)
	}
	if len(*waits) != 0 {
		t.Errorf("skips must not retry, got %v", *waits)
	}
	if report.Outcome() != model.OutcomeComplete {
		t.Errorf("skips are informational, got %s", report.Outcome())
	}
}

func TestRun_MalformedDocumentIsFatal(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.FailurePolicy = model.FailureIsolate
	h.ecfr.confirm(7, "I")
	h.ecfr.confirm(9, "III")
	h.ecfr.docs["7/I"] = []reply{ok(`<DIV3 N="I"><HEAD>truncated`)}
	h.ecfr.docs["9/III"] = []reply{ok(`<DIV3 N="III"/>`)}

	report, err := h.run(t, context.Background(), ams, fsis)
	if !validate.IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if h.ecfr.count("ancestry:9/III") != 0 {
		t.Error("malformed responses must end the run even under isolate")
	}
	if h.ecfr.count("full:7/I") != 1 {
		t.Error("malformed responses must not be retried")
	}
	if report.Fatal == "" {
		t.Error("expected fatal error in report")
	}
}

func TestRun_MalformedAncestryIsFatal(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.FailurePolicy = model.FailureIsolate
	h.ecfr.ancestry["7/I"] = ok("<html>oops</html>")

	_, err := h.run(t, context.Background(), ams, fsis)
	if !validate.IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if h.ecfr.count("ancestry:9/III") != 0 {
		t.Error("run must stop at the malformed response")
	}
}

func TestRun_ResolverErrorPolicy(t *testing.T) {
	for _, policy := range []model.FailurePolicy{model.FailureAbort, model.FailureIsolate} {
		t.Run(string(policy), func(t *testing.T) {
			h := newHarness(t)
			h.cfg.Run.FailurePolicy = policy
			h.ecfr.ancestry["7/I"] = reply{status: http.StatusInternalServerError, body: "boom"}
			h.ecfr.confirm(9, "III")
			h.ecfr.docs["9/III"] = []reply{ok(`<DIV3 N="III"/>`)}

			report, err := h.run(t, context.Background(), ams, fsis)
			var se *fetch.StatusError
			if policy == model.FailureAbort {
				if !errors.As(err, &se) {
					t.Fatalf("expected status error, got %v", err)
				}
				if h.ecfr.count("ancestry:9/III") != 0 {
					t.Error("abort must stop the run")
				}
				return
			}
			if !errors.Is(err, ErrPartialFailure) {
				t.Fatalf("expected ErrPartialFailure, got %v", err)
			}
			if report.Counts.Persisted != 1 {
				t.Errorf("second agency should persist, got %+v", report.Counts)
			}
			if h.ecfr.count("full:7/I") != 0 {
				t.Error("failed agency must not fetch documents")
			}
		})
	}
}

func TestRun_ResolveOnly(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.ResolveOnly = true
	h.cfg.Run.FullTitles = true
	h.ecfr.confirm(7, "I")

	report, err := h.run(t, context.Background(), ams)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range h.ecfr.requests {
		if strings.HasPrefix(r, "full:") {
			t.Errorf("resolve-only must not fetch documents, got %s", r)
		}
	}
	if len(report.Units) != 1 || report.Units[0].Status != model.UnitConfirmed || report.Units[0].Label != "Chapter I" {
		t.Errorf("unexpected units %+v", report.Units)
	}
	if report.Outcome() != model.OutcomeComplete {
		t.Errorf("unexpected outcome %s", report.Outcome())
	}
}

func TestRun_FullTitles(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.FullTitles = true
	h.ecfr.confirm(7, "I")
	h.ecfr.docs["7/I"] = []reply{ok(chapterIXML)}
	h.ecfr.docs["7"] = []reply{ok(`<ECFR><DIV1 N="7" TYPE="TITLE"/></ECFR>`)}

	other := model.Agency{Name: "Other", Slug: "other", References: []model.Reference{{Title: 7, Chapter: "I"}}}
	report, err := h.run(t, context.Background(), ams, other)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.ecfr.count("full:7") != 1 {
		t.Errorf("expected one full-title request, got %d", h.ecfr.count("full:7"))
	}
	path := filepath.Join(h.cfg.Output.Dir, "AllTitles", "title-7", "title-7.xml")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected full title document: %v", err)
	}
	if report.Counts.TitleDocs != 1 || len(report.Titles) != 1 || report.Titles[0].Path != path {
		t.Errorf("unexpected title results %+v", report.Titles)
	}
	if report.Counts.Persisted != 2 {
		t.Errorf("both agencies should save chapter I, got %d", report.Counts.Persisted)
	}
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.run(t, ctx, ams)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.ecfr.requests) != 0 {
		t.Errorf("no requests expected, got %v", h.ecfr.requests)
	}
	if report.Fatal == "" {
		t.Error("expected cancellation recorded in report")
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	h := newHarness(t)
	h.cfg.Retry.BaseDelay = time.Hour
	h.ecfr.confirm(7, "I")
	h.ecfr.docs["7/I"] = []reply{{status: http.StatusServiceUnavailable}}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.run(t, ctx, ams)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("cancellation did not interrupt the backoff")
	}
	if h.ecfr.count("full:7/I") != 1 {
		t.Errorf("expected a single attempt, got %d", h.ecfr.count("full:7/I"))
	}
}

// scriptedGetter returns canned outcomes in order
type scriptedGetter struct {
	results []func() (*fetch.Outcome, error)
	calls   int
}

func (g *scriptedGetter) Fetch(ctx context.Context, rawURL, accept string) (*fetch.Outcome, error) {
	i := g.calls
	g.calls++
	if i >= len(g.results) {
		i = len(g.results) - 1
	}
	return g.results[i]()
}

func TestFetchWithRetry(t *testing.T) {
	transportErr := func() (*fetch.Outcome, error) {
		return nil, &fetch.TransportError{Method: http.MethodGet, URL: "u", Err: errors.New("connection reset")}
	}
	success := func() (*fetch.Outcome, error) {
		return &fetch.Outcome{Kind: fetch.Success, StatusCode: http.StatusOK, Body: []byte("<a/>")}, nil
	}
	rateLimited := func() (*fetch.Outcome, error) {
		return &fetch.Outcome{Kind: fetch.RateLimited, StatusCode: http.StatusTooManyRequests}, nil
	}
	disallowed := func() (*fetch.Outcome, error) {
		return nil, fmt.Errorf("%w: u", fetch.ErrDisallowed)
	}

	tests := []struct {
		name      string
		results   []func() (*fetch.Outcome, error)
		wantCalls int
		wantErr   bool
		wantRetry bool
	}{
		{"transport error recovers", []func() (*fetch.Outcome, error){transportErr, success}, 2, false, false},
		{"rate limit recovers", []func() (*fetch.Outcome, error){rateLimited, rateLimited, success}, 3, false, false},
		{"rate limit exhausts", []func() (*fetch.Outcome, error){rateLimited}, 4, true, true},
		{"disallowed is final", []func() (*fetch.Outcome, error){disallowed}, 1, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waits := stubBackoff(t)
			g := &scriptedGetter{results: tt.results}
			p := New(g, nil, nil, Options{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond})

			_, attempts, err := p.fetchWithRetry(context.Background(), "u", "unit", Event{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if g.calls != tt.wantCalls || attempts != tt.wantCalls {
				t.Errorf("calls = %d attempts = %d, want %d", g.calls, attempts, tt.wantCalls)
			}
			var re *RetryError
			if errors.As(err, &re) != tt.wantRetry {
				t.Errorf("RetryError = %v, want %v", errors.As(err, &re), tt.wantRetry)
			}
			if len(*waits) != tt.wantCalls-1 && !errors.Is(err, fetch.ErrDisallowed) {
				t.Errorf("expected %d waits, got %v", tt.wantCalls-1, *waits)
			}
		})
	}
}

func TestDocumentURL(t *testing.T) {
	got := DocumentURL("https://www.ecfr.gov/api/", "2024-05-01", 7, "I")
	if got != "https://www.ecfr.gov/api/versioner/v1/full/2024-05-01/title-7.xml?chapter=I" {
		t.Errorf("unexpected URL %s", got)
	}
	if got := TitleURL("https://www.ecfr.gov/api", "2024-05-01", 12); got != "https://www.ecfr.gov/api/versioner/v1/full/2024-05-01/title-12.xml" {
		t.Errorf("unexpected URL %s", got)
	}
	if got := DocumentURL("http://x", "d", 1, "I A"); got != "http://x/versioner/v1/full/d/title-1.xml?chapter=I+A" {
		t.Errorf("chapter must be query-escaped, got %s", got)
	}
}

func TestRetryError(t *testing.T) {
	cause := &fetch.StatusError{Method: http.MethodGet, URL: "u", StatusCode: 503}
	err := error(&RetryError{Unit: "title 7 chapter I", Attempts: 4, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("RetryError must unwrap to its cause")
	}
	if want := "title 7 chapter I: giving up after " + strconv.Itoa(4) + " attempts"; err.Error()[:len(want)] != want {
		t.Errorf("unexpected message %q", err.Error())
	}
}
