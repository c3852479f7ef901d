package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"flacdl/internal/download"
	"flacdl/internal/models"
	"flacdl/internal/state"
)

type stubBoot struct {
	sess models.Session
	err  error
}

func (b stubBoot) Bootstrap(ctx context.Context) (models.Session, error) {
	return b.sess, b.err
}

type stubSearcher struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubSearcher) Search(ctx context.Context, sess models.Session, keywords string, page, pageSize int) (models.SearchPage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, keywords)
	s.mu.Unlock()
	if keywords == "fail" {
		return models.SearchPage{}, errors.New("upstream down")
	}
	p := models.SearchPage{Keywords: keywords, Page: page, PageSize: pageSize, Total: 25, TotalPages: 3}
	for i := range 2 {
		id := keywords + "-" + string(rune('0'+page)) + string(rune('a'+i))
		p.Tracks = append(p.Tracks, models.Track{ID: id, Name: id})
	}
	return p, nil
}

type stubBatch struct {
	mu      sync.Mutex
	running bool
	got     chan []models.Track
	dir     string
}

func (b *stubBatch) Start(ctx context.Context, sess models.Session, dir string, tracks []models.Track, done func(models.BatchResult)) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return download.ErrBatchInProgress
	}
	b.dir = dir
	b.mu.Unlock()
	go func() {
		b.got <- tracks
		done(models.BatchResult{ID: "b1", Succeeded: len(tracks), Total: len(tracks)})
	}()
	return nil
}

func (b *stubBatch) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

type nopHub struct {
	mu     sync.Mutex
	events []models.Event
}

func (h *nopHub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

type fixture struct {
	app      *state.App
	searcher *stubSearcher
	batch    *stubBatch
	hub      *nopHub
	router   chi.Router
}

func newFixture(t *testing.T, boot Bootstrapper) *fixture {
	t.Helper()
	f := &fixture{
		app:      state.New(),
		searcher: &stubSearcher{},
		batch:    &stubBatch{got: make(chan []models.Track, 1)},
		hub:      &nopHub{},
	}
	ctx := t.Context()
	r := chi.NewRouter()
	r.Get("/session", GetSessionHandler(f.app))
	r.Post("/session/connect", ConnectHandler(ctx, f.app, boot, f.hub))
	r.Get("/search", SearchHandler(f.app, f.searcher, f.hub, 10))
	r.Get("/search/next", StepHandler(f.app, f.searcher, f.hub, 1))
	r.Get("/search/prev", StepHandler(f.app, f.searcher, f.hub, -1))
	r.Get("/selection", GetSelectionHandler(f.app))
	r.Delete("/selection", ClearSelectionHandler(f.app))
	r.Put("/selection/page", TogglePageHandler(f.app))
	r.Put("/selection/{id}", SelectHandler(f.app))
	r.Delete("/selection/{id}", DeselectHandler(f.app))
	r.Post("/downloads", StartDownloadsHandler(ctx, f.app, f.batch, "/music"))
	r.Get("/downloads", GetDownloadsHandler(f.app, f.batch))
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: bad json %q", method, target, rec.Body.String())
	}
	return rec.Code, out
}

func (f *fixture) ready() {
	f.app.BeginConnect()
	f.app.SetSession(models.Session{SessionToken: "s", JWTToken: "j"})
}

func waitStatus(t *testing.T, app *state.App, want models.SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := app.Status(); st == want {
			return
		}
		if time.Now().After(deadline) {
			st, msg := app.Status()
			t.Fatalf("status = %s (%s), want %s", st, msg, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnect(t *testing.T) {
	f := newFixture(t, stubBoot{sess: models.Session{SessionToken: "s", JWTToken: "j"}})

	code, body := f.do(t, http.MethodPost, "/session/connect", "")
	if code != http.StatusAccepted || body["status"] != "initializing" {
		t.Fatalf("connect = %d %v", code, body)
	}
	waitStatus(t, f.app, models.SessionReady)

	code, body = f.do(t, http.MethodGet, "/session", "")
	if code != http.StatusOK || body["status"] != "ready" {
		t.Errorf("session = %d %v", code, body)
	}
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t, stubBoot{err: errors.New("challenge failed")})
	f.do(t, http.MethodPost, "/session/connect", "")
	waitStatus(t, f.app, models.SessionFailed)

	_, body := f.do(t, http.MethodGet, "/session", "")
	if body["error"] != "challenge failed" {
		t.Errorf("session error = %v", body["error"])
	}
}

func TestConnectWhileInitializing(t *testing.T) {
	f := newFixture(t, stubBoot{})
	f.app.BeginConnect()

	code, _ := f.do(t, http.MethodPost, "/session/connect", "")
	if code != http.StatusConflict {
		t.Errorf("connect while initializing = %d, want 409", code)
	}
}

func TestSearchRequiresSession(t *testing.T) {
	f := newFixture(t, stubBoot{})
	code, _ := f.do(t, http.MethodGet, "/search?q=love", "")
	if code != http.StatusConflict {
		t.Errorf("search before connect = %d, want 409", code)
	}
	if len(f.searcher.calls) != 0 {
		t.Error("searcher called without a session")
	}
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, stubBoot{})
	f.ready()

	tests := []struct {
		target string
		want   int
	}{
		{"/search", http.StatusBadRequest},
		{"/search?q=a&page=0", http.StatusBadRequest},
		{"/search?q=a&page=x", http.StatusBadRequest},
		{"/search?q=a&size=500", http.StatusBadRequest},
		{"/search?q=fail", http.StatusBadGateway},
		{"/search?q=a&page=2&size=5", http.StatusOK},
	}
	for _, tt := range tests {
		if code, body := f.do(t, http.MethodGet, tt.target, ""); code != tt.want {
			t.Errorf("GET %s = %d %v, want %d", tt.target, code, body, tt.want)
		}
	}
}

func TestSearchAndSelectionFlow(t *testing.T) {
	f := newFixture(t, stubBoot{})
	f.ready()

	code, body := f.do(t, http.MethodGet, "/search?q=k", "")
	if code != http.StatusOK || body["page"] != float64(1) || body["totalPages"] != float64(3) {
		t.Fatalf("search = %d %v", code, body)
	}

	if code, _ := f.do(t, http.MethodPut, "/selection/k-1a", ""); code != http.StatusOK {
		t.Errorf("select = %d", code)
	}
	if code, _ := f.do(t, http.MethodPut, "/selection/nope", ""); code != http.StatusNotFound {
		t.Errorf("select unknown = %d", code)
	}

	code, body = f.do(t, http.MethodGet, "/search/next", "")
	if code != http.StatusOK || body["page"] != float64(2) {
		t.Fatalf("next = %d %v", code, body)
	}
	if _, body := f.do(t, http.MethodPut, "/selection/page", ""); body["count"] != float64(3) {
		t.Errorf("toggle page count = %v, want 3", body["count"])
	}

	code, body = f.do(t, http.MethodGet, "/search/prev", "")
	if code != http.StatusOK || body["page"] != float64(1) {
		t.Fatalf("prev = %d %v", code, body)
	}
	if sel, _ := body["selected"].([]any); len(sel) != 1 || sel[0] != "k-1a" {
		t.Errorf("selected on page 1 = %v", body["selected"])
	}
	if code, _ := f.do(t, http.MethodGet, "/search/prev", ""); code != http.StatusBadRequest {
		t.Errorf("prev from first page = %d", code)
	}

	_, body = f.do(t, http.MethodGet, "/selection", "")
	if body["count"] != float64(3) {
		t.Errorf("selection count = %v", body["count"])
	}

	if code, _ := f.do(t, http.MethodDelete, "/selection/k-2b", ""); code != http.StatusOK {
		t.Errorf("deselect = %d", code)
	}
	if code, _ := f.do(t, http.MethodDelete, "/selection/k-2b", ""); code != http.StatusNotFound {
		t.Errorf("deselect twice = %d", code)
	}
	f.do(t, http.MethodDelete, "/selection", "")
	if _, body := f.do(t, http.MethodGet, "/selection", ""); body["count"] != float64(0) {
		t.Errorf("count after clear = %v", body["count"])
	}
}

func TestStartDownloads(t *testing.T) {
	f := newFixture(t, stubBoot{})

	if code, _ := f.do(t, http.MethodPost, "/downloads", ""); code != http.StatusConflict {
		t.Errorf("downloads before connect = %d", code)
	}

	f.ready()
	if code, _ := f.do(t, http.MethodPost, "/downloads", ""); code != http.StatusBadRequest {
		t.Errorf("downloads without selection = %d", code)
	}

	f.do(t, http.MethodGet, "/search?q=k", "")
	f.do(t, http.MethodPut, "/selection/page", "")

	code, body := f.do(t, http.MethodPost, "/downloads", `{"dir":"/tmp/out"}`)
	if code != http.StatusAccepted || body["tracks"] != float64(2) || body["dir"] != "/tmp/out" {
		t.Fatalf("downloads = %d %v", code, body)
	}

	select {
	case tracks := <-f.batch.got:
		if len(tracks) != 2 || tracks[0].ID != "k-1a" {
			t.Errorf("batch tracks = %+v", tracks)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch never ran")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := f.app.LastBatch(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("last batch never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, body = f.do(t, http.MethodGet, "/downloads", "")
	last, _ := body["last"].(map[string]any)
	if body["running"] != false || last["succeeded"] != float64(2) {
		t.Errorf("downloads status = %v", body)
	}
}

func TestStartDownloadsWhileRunning(t *testing.T) {
	f := newFixture(t, stubBoot{})
	f.ready()
	f.do(t, http.MethodGet, "/search?q=k", "")
	f.do(t, http.MethodPut, "/selection/k-1a", "")
	f.batch.running = true

	if code, _ := f.do(t, http.MethodPost, "/downloads", ""); code != http.StatusConflict {
		t.Errorf("downloads while running = %d, want 409", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/downloads", "{bad"); code != http.StatusBadRequest {
		t.Errorf("downloads with bad json = %d, want 400", code)
	}
}

type gateResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (r *gateResolver) ResolveDownloadURL(ctx context.Context, sess models.Session, track models.Track) (string, string, error) {
	r.entered <- struct{}{}
	<-r.release
	return "", "", errors.New("no url")
}

func TestStartDownloadsConcurrentPosts(t *testing.T) {
	app := state.New()
	app.BeginConnect()
	app.SetSession(models.Session{SessionToken: "s", JWTToken: "j"})
	app.SetPage(models.SearchPage{Page: 1, TotalPages: 1, Tracks: []models.Track{{ID: "a", Name: "A"}}})
	if err := app.Select("a"); err != nil {
		t.Fatal(err)
	}

	resolver := &gateResolver{entered: make(chan struct{}, 4), release: make(chan struct{})}
	batch := download.NewBatch(resolver, download.NewFetcher(http.DefaultClient, ""), nil)
	h := StartDownloadsHandler(t.Context(), app, batch, t.TempDir())

	post := func() int {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/downloads", nil))
		return rec.Code
	}

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- post()
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	if counts[http.StatusAccepted] != 1 || counts[http.StatusConflict] != 1 {
		t.Fatalf("status codes = %v, want one 202 and one 409", counts)
	}
	if !batch.Running() {
		t.Error("batch not running after 202")
	}

	<-resolver.entered
	close(resolver.release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if last, ok := app.LastBatch(); ok {
			if last.Total != 1 || last.Succeeded != 0 {
				t.Errorf("last batch = %+v", last)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("last batch never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if code := post(); code != http.StatusAccepted {
		t.Errorf("post after batch finished = %d, want 202", code)
	}
}
