package crawler_test

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/poem-crawler/internal/crawler"
	"github.com/JakeFAU/poem-crawler/internal/extract"
	"github.com/JakeFAU/poem-crawler/internal/progress"
	"github.com/JakeFAU/poem-crawler/internal/progresslog"
)

const origin = "https://www.gushiwen.cn"

func TestRunFreshStartProcessesEveryPage(t *testing.T) {
	t.Parallel()

	env := newEnv(t, twoPageSite())
	res, err := env.run(t)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Saved)
	assert.Equal(t, 0, res.Skipped)
	assert.True(t, res.ResumeMatched)
	assert.Equal(t, []string{"A", "B", "C"}, env.store.titles())
	assert.Equal(t, []string{"A", "B", "C"}, env.markers(t))
	assert.Equal(t, []string{"床前明月光", "疑是地上霜"}, env.store.poems["A"].Lines)
}

func TestRunResumesAfterLastMarker(t *testing.T) {
	t.Parallel()

	env := newEnv(t, onePageSite("A", "B", "C"))
	env.seedLog(t, "B")

	res, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, "B", res.ResumeFrom)
	assert.True(t, res.ResumeMatched)
	assert.Equal(t, []string{"C"}, env.store.titles())
	assert.Equal(t, []string{"B", "C"}, env.markers(t))
}

func TestRunResumeProcessesOnlyLaterEntries(t *testing.T) {
	t.Parallel()

	titles := []string{"一", "二", "三", "四", "五"}
	for k := range titles {
		env := newEnv(t, onePageSite(titles...))
		env.seedLog(t, titles[k])

		res, err := env.run(t)
		require.NoError(t, err)
		assert.Equal(t, titles[k+1:], nonNil(env.store.titles()), "resume after %s", titles[k])
		assert.Equal(t, len(titles)-k-1, res.Processed)
	}
}

func TestRunSecondRunSavesNothing(t *testing.T) {
	t.Parallel()

	env := newEnv(t, twoPageSite())
	_, err := env.run(t)
	require.NoError(t, err)

	env.store.reset()
	res, err := env.run(t)
	require.NoError(t, err)
	assert.Zero(t, res.Saved)
	assert.Zero(t, res.Processed)
	assert.Empty(t, env.store.titles())
	assert.Equal(t, []string{"A", "B", "C"}, env.markers(t))
}

func TestRunUnmatchedMarkerProcessesNothing(t *testing.T) {
	t.Parallel()

	env := newEnv(t, twoPageSite())
	env.seedLog(t, "Z")

	res, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Zero(t, res.Processed)
	assert.Zero(t, res.Saved)
	assert.Equal(t, 3, res.Skipped)
	assert.False(t, res.ResumeMatched)
	assert.Empty(t, env.store.titles())
}

func TestRunEmptyPoemIsSkippedWithoutMarker(t *testing.T) {
	t.Parallel()

	site := onePageSite("A", "B")
	site.pages[poemURL("A")] = `<html><body><div class="main3"><p>nothing here</p></div></body></html>`
	env := newEnv(t, site)

	res, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Empty)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, []string{"B"}, env.markers(t))
	assert.Contains(t, env.events.stages(), progress.StagePoemEmpty)
}

func TestRunFetchFailureAbortsAndKeepsMarkers(t *testing.T) {
	t.Parallel()

	site := twoPageSite()
	site.fail[poemURL("C")] = fmt.Errorf("i/o timeout")
	env := newEnv(t, site)

	res, err := env.run(t)
	require.Error(t, err)
	require.ErrorIs(t, err, crawler.ErrFetch)
	assert.Equal(t, 2, res.Saved)
	assert.Equal(t, []string{"A", "B"}, env.markers(t))

	stages := env.events.stages()
	assert.Equal(t, progress.StageRunError, stages[len(stages)-1])

	// The next run picks up from B and finishes the job.
	site.mu.Lock()
	delete(site.fail, poemURL("C"))
	site.mu.Unlock()
	res, err = env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, []string{"A", "B", "C"}, env.markers(t))
}

func TestRunDeadPoemLinkDoesNotBlockLaterEntries(t *testing.T) {
	t.Parallel()

	site := onePageSite("A", "B", "C")
	site.status[poemURL("B")] = http.StatusNotFound
	env := newEnv(t, site)

	res, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Saved)
	assert.Equal(t, 1, res.Empty)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, []string{"A", "C"}, env.store.titles())
	assert.Equal(t, []string{"A", "C"}, env.markers(t))

	empty := env.events.byStage(progress.StagePoemEmpty)
	require.Len(t, empty, 1)
	assert.Equal(t, "B", empty[0].Title)
	assert.Equal(t, "status 404", empty[0].Note)

	// Later runs resume after C instead of tripping over B again.
	env.store.reset()
	res, err = env.run(t)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, "C", res.ResumeFrom)
	assert.Equal(t, []string{"A", "C"}, env.markers(t))
}

func TestRunListingErrorStatusAborts(t *testing.T) {
	t.Parallel()

	site := twoPageSite()
	site.status[listingURL(2)] = http.StatusBadGateway
	env := newEnv(t, site)

	res, err := env.run(t)
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.ErrorContains(t, err, "unexpected status 502")
	assert.Equal(t, 2, res.Saved)
	assert.Equal(t, []string{"A", "B"}, env.markers(t))
}

func TestRunTransportErrorAborts(t *testing.T) {
	t.Parallel()

	site := onePageSite("A")
	site.fail[listingURL(1)] = fmt.Errorf("connection reset")
	env := newEnv(t, site)

	_, err := env.run(t)
	require.ErrorIs(t, err, crawler.ErrFetch)
	assert.Empty(t, env.markers(t))
}

func TestRunPageWithoutNextLinkEndsWalk(t *testing.T) {
	t.Parallel()

	site := twoPageSite()
	// Page 3 exists but page 2 never links to it.
	site.pages[listingURL(2)] = listingPage([]string{"C", "D"}, "")
	site.pages[listingURL(3)] = listingPage([]string{"E"}, "")
	for _, title := range []string{"D", "E"} {
		site.pages[poemURL(title)] = poemPage()
	}
	env := newEnv(t, site)

	res, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 4, res.Saved)
	assert.Equal(t, []string{"A", "B", "C", "D"}, env.markers(t))

	fetched := site.fetchedURLs()
	assert.Contains(t, fetched, poemURL("D"))
	assert.NotContains(t, fetched, listingURL(3))
	assert.NotContains(t, fetched, poemURL("E"))
}

func TestRunStopsWhenNextPageWasVisited(t *testing.T) {
	t.Parallel()

	site := twoPageSite()
	site.pages[listingURL(2)] = listingPage([]string{"C"}, "/shiwens/default.aspx?page=1")
	env := newEnv(t, site)

	res, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Saved)
}

func TestRunHonorsMaxPages(t *testing.T) {
	t.Parallel()

	env := newEnv(t, twoPageSite())
	env.cfg.MaxPages = 1
	res, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, []string{"A", "B"}, env.store.titles())
}

func TestRunSanitizesTitles(t *testing.T) {
	t.Parallel()

	env := newEnv(t, onePageSite("江城子/密州出猎"))
	_, err := env.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"江城子&密州出猎"}, env.store.titles())
	for _, marker := range env.markers(t) {
		assert.NotContains(t, marker, "/")
	}
}

func TestRunPausesAfterEveryFetch(t *testing.T) {
	t.Parallel()

	site := twoPageSite()
	env := newEnv(t, site)
	_, err := env.run(t)
	require.NoError(t, err)
	assert.Equal(t, len(site.fetchedURLs()), env.pauser.calls)
	assert.Equal(t, crawler.DefaultDelay, env.pauser.last)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	env := newEnv(t, onePageSite("A"))
	_, err := env.run(t)
	require.NoError(t, err)

	assert.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageFetchDone,
		progress.StageFetchDone,
		progress.StagePoemSaved,
		progress.StagePageDone,
		progress.StageRunDone,
	}, env.events.stages())

	saved := env.events.byStage(progress.StagePoemSaved)
	require.Len(t, saved, 1)
	assert.Equal(t, "A", saved[0].Title)
	assert.Len(t, saved[0].Hash, 64)
	assert.Equal(t, "mem://A", saved[0].URI)
	assert.Equal(t, env.ids.id, saved[0].RunID)
}

func TestRunSendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	site := onePageSite("A")
	env := newEnv(t, site)
	env.cfg.Headers = http.Header{"User-Agent": {"poem-test"}}
	_, err := env.run(t)
	require.NoError(t, err)
	for _, h := range site.headers {
		assert.Equal(t, "poem-test", h.Get("User-Agent"))
	}
}

func TestNewDriverValidates(t *testing.T) {
	t.Parallel()

	_, err := crawler.NewDriver(crawler.Config{}, crawler.Deps{})
	require.Error(t, err)

	_, err = crawler.NewDriver(crawler.Config{ListingURL: listingURL(1)}, crawler.Deps{})
	require.ErrorContains(t, err, "fetcher is required")
}

func TestRunUnreadableLogAborts(t *testing.T) {
	t.Parallel()

	env := newEnv(t, onePageSite("A"))
	env.log = failingLog{err: progresslog.ErrUnreadable}
	_, err := env.run(t)
	require.ErrorIs(t, err, progresslog.ErrUnreadable)
	assert.Empty(t, env.site.fetchedURLs())
}

// --- fixtures ---

type harness struct {
	cfg     crawler.Config
	site    *fakeSite
	store   *memStore
	logPath string
	log     crawler.ProgressLog
	pauser  *countingPauser
	events  *recorder
	ids     fixedIDs
}

func newEnv(t *testing.T, site *fakeSite) *harness {
	t.Helper()
	return &harness{
		cfg:     crawler.Config{ListingURL: listingURL(1), Delay: crawler.DefaultDelay},
		site:    site,
		store:   newMemStore(),
		logPath: filepath.Join(t.TempDir(), "log", "crawl_poems_log.txt"),
		pauser:  &countingPauser{},
		events:  &recorder{},
		ids:     fixedIDs{id: uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")},
	}
}

func (e *harness) run(t *testing.T) (crawler.Result, error) {
	t.Helper()
	log := e.log
	if log == nil {
		f, err := progresslog.Open(e.logPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = f.Close() })
		log = f
	}
	d, err := crawler.NewDriver(e.cfg, crawler.Deps{
		Fetcher:   e.site,
		Extractor: extract.Default(extract.DefaultPrimarySelector, extract.DefaultFallbackSelector),
		Store:     e.store,
		Log:       log,
		Events:    e.events,
		Pauser:    e.pauser,
		IDs:       e.ids,
	})
	require.NoError(t, err)
	return d.Run(context.Background())
}

func (e *harness) seedLog(t *testing.T, titles ...string) {
	t.Helper()
	f, err := progresslog.Open(e.logPath)
	require.NoError(t, err)
	for _, title := range titles {
		require.NoError(t, f.Append(title))
	}
	require.NoError(t, f.Close())
}

func (e *harness) markers(t *testing.T) []string {
	t.Helper()
	markers, err := progresslog.Markers(e.logPath)
	require.NoError(t, err)
	return nonNil(markers)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func listingURL(page int) string {
	return fmt.Sprintf("%s/shiwens/default.aspx?page=%d", origin, page)
}

// poemSlug keeps fixture hrefs ASCII so resolved URLs match the fake site keys.
func poemSlug(title string) string {
	return fmt.Sprintf("%x", title)
}

func poemURL(title string) string {
	return origin + "/shiwenv_" + poemSlug(title) + ".aspx"
}

func listingPage(titles []string, next string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="main3"><div class="left">`)
	for _, title := range titles {
		fmt.Fprintf(&b, `<div class="sons"><div class="cont"><p><a href="/shiwenv_%s.aspx"><b>%s</b></a></p><p class="source">苏轼</p></div></div>`,
			poemSlug(title), title)
	}
	if next != "" {
		fmt.Fprintf(&b, `<div class="pagesright"><a class="amore" href="%s">下一页</a></div>`, next)
	}
	b.WriteString(`</div></div></body></html>`)
	return b.String()
}

func poemPage() string {
	return `<html><body><div class="main3"><div class="left"><div class="sons"><div class="cont">
<div class="contson" id="contson1"><p>床前 明月光</p><p>疑是地上霜</p></div>
</div></div></div></div></body></html>`
}

func onePageSite(titles ...string) *fakeSite {
	site := newFakeSite()
	site.pages[listingURL(1)] = listingPage(titles, "")
	for _, title := range titles {
		site.pages[poemURL(title)] = poemPage()
	}
	return site
}

func twoPageSite() *fakeSite {
	site := newFakeSite()
	site.pages[listingURL(1)] = listingPage([]string{"A", "B"}, "/shiwens/default.aspx?page=2")
	site.pages[listingURL(2)] = listingPage([]string{"C"}, "")
	for _, title := range []string{"A", "B", "C"} {
		site.pages[poemURL(title)] = poemPage()
	}
	return site
}

type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]string
	status  map[string]int
	fail    map[string]error
	fetched []string
	headers []http.Header
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:  map[string]string{},
		status: map[string]int{},
		fail:   map[string]error{},
	}
}

func (s *fakeSite) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, req.URL)
	s.headers = append(s.headers, req.Headers)
	if err, ok := s.fail[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	if code, ok := s.status[req.URL]; ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: code}, nil
	}
	body, ok := s.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (s *fakeSite) fetchedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

type memStore struct {
	poems map[string]crawler.Poem
	order []string
}

func newMemStore() *memStore {
	return &memStore{poems: map[string]crawler.Poem{}}
}

func (m *memStore) SavePoem(_ context.Context, poem crawler.Poem) (string, error) {
	if _, ok := m.poems[poem.Title]; !ok {
		m.order = append(m.order, poem.Title)
	}
	m.poems[poem.Title] = poem
	return "mem://" + poem.Title, nil
}

func (m *memStore) titles() []string {
	return append([]string(nil), m.order...)
}

func (m *memStore) reset() {
	m.poems = map[string]crawler.Poem{}
	m.order = nil
}

type failingLog struct{ err error }

func (f failingLog) ReadLast() (string, bool, error) { return "", false, f.err }
func (f failingLog) Append(string) error             { return f.err }

type countingPauser struct {
	calls int
	last  time.Duration
}

func (p *countingPauser) Pause(d time.Duration) {
	p.calls++
	p.last = d
}

type recorder struct {
	events []progress.Event
}

func (r *recorder) Emit(_ context.Context, evt progress.Event) {
	r.events = append(r.events, evt)
}

func (r *recorder) stages() []progress.Stage {
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (r *recorder) byStage(stage progress.Stage) []progress.Event {
	var out []progress.Event
	for _, evt := range r.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

type fixedIDs struct{ id uuid.UUID }

func (f fixedIDs) NewRunID() (uuid.UUID, error) { return f.id, nil }
