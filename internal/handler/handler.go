package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"flacdl/internal/models"
	"flacdl/internal/state"
)

type Bootstrapper interface {
	Bootstrap(ctx context.Context) (models.Session, error)
}

type Searcher interface {
	Search(ctx context.Context, sess models.Session, keywords string, page, pageSize int) (models.SearchPage, error)
}

// BatchRunner claims its single slot inside Start, so a nil error means the
// batch is running.
type BatchRunner interface {
	Start(ctx context.Context, sess models.Session, dir string, tracks []models.Track, done func(models.BatchResult)) error
	Running() bool
}

type Notifier interface {
	Publish(models.Event)
}

const maxPageSize = 100

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StartConnect runs a bootstrap in the background. The worker is the only
// writer of the session while the state is Initializing.
func StartConnect(ctx context.Context, app *state.App, boot Bootstrapper, hub Notifier) error {
	if err := app.BeginConnect(); err != nil {
		return err
	}
	hub.Publish(models.Event{Type: models.EventSession, Status: models.SessionInitializing})

	go func() {
		sess, err := boot.Bootstrap(ctx)
		if err != nil {
			slog.Error("Session bootstrap failed", "error", err)
			app.Fail(err)
			hub.Publish(models.Event{Type: models.EventSession, Status: models.SessionFailed, Error: err.Error()})
			return
		}
		app.SetSession(sess)
		hub.Publish(models.Event{Type: models.EventSession, Status: models.SessionReady})
	}()
	return nil
}

// SessionEvent snapshots the session state for the periodic feed.
func SessionEvent(app *state.App) models.Event {
	status, lastErr := app.Status()
	return models.Event{Type: models.EventSession, Status: status, Error: lastErr}
}

func GetSessionHandler(app *state.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, lastErr := app.Status()
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status), "error": lastErr})
	}
}

func ConnectHandler(ctx context.Context, app *state.App, boot Bootstrapper, hub Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := StartConnect(ctx, app, boot, hub); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(models.SessionInitializing)})
	}
}

type searchResponse struct {
	models.SearchPage
	Selected []string `json:"selected"`
}

func pageResponse(app *state.App, page models.SearchPage) searchResponse {
	resp := searchResponse{SearchPage: page, Selected: []string{}}
	for _, t := range page.Tracks {
		if app.IsSelected(t.ID) {
			resp.Selected = append(resp.Selected, t.ID)
		}
	}
	return resp
}

func runSearch(w http.ResponseWriter, r *http.Request, app *state.App, searcher Searcher, hub Notifier, keywords string, page, size int) {
	sess, err := app.Session()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	result, err := searcher.Search(r.Context(), sess, keywords, page, size)
	if err != nil {
		slog.Error("Search failed", "keywords", keywords, "page", page, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	app.SetPage(result)
	hub.Publish(models.Event{Type: models.EventSearch, Name: keywords, Index: result.Page, Total: result.Total})
	writeJSON(w, http.StatusOK, pageResponse(app, result))
}

func SearchHandler(app *state.App, searcher Searcher, hub Notifier, defaultSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		keywords := q.Get("q")
		if keywords == "" {
			writeError(w, http.StatusBadRequest, "q is required")
			return
		}

		page := 1
		if v := q.Get("page"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "page must be a positive integer")
				return
			}
			page = n
		}
		size := defaultSize
		if v := q.Get("size"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxPageSize {
				writeError(w, http.StatusBadRequest, "size must be between 1 and 100")
				return
			}
			size = n
		}

		runSearch(w, r, app, searcher, hub, keywords, page, size)
	}
}

// StepHandler moves the pagination cursor by delta pages.
func StepHandler(app *state.App, searcher Searcher, hub Notifier, delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keywords, page, err := app.Step(delta)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		current, _ := app.Page()
		runSearch(w, r, app, searcher, hub, keywords, page, current.PageSize)
	}
}

func GetSelectionHandler(app *state.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracks := app.Selection()
		writeJSON(w, http.StatusOK, map[string]any{"count": len(tracks), "tracks": tracks})
	}
}

func SelectHandler(app *state.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := app.Select(id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "selected", "count": len(app.Selection())})
	}
}

func DeselectHandler(app *state.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if !app.Deselect(id) {
			writeError(w, http.StatusNotFound, "track not selected")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deselected", "count": len(app.Selection())})
	}
}

func TogglePageHandler(app *state.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := app.TogglePage()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "toggled", "count": n})
	}
}

func ClearSelectionHandler(app *state.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app.ClearSelection()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// StartDownloadsHandler launches a batch over the current selection. The
// batch outlives the request and is bound to ctx instead.
func StartDownloadsHandler(ctx context.Context, app *state.App, batch BatchRunner, defaultDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Dir string `json:"dir"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json")
				return
			}
		}
		dir := req.Dir
		if dir == "" {
			dir = defaultDir
		}

		sess, err := app.Session()
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		tracks := app.Selection()
		if len(tracks) == 0 {
			writeError(w, http.StatusBadRequest, "no tracks selected")
			return
		}
		if err := batch.Start(ctx, sess, dir, tracks, app.SetLastBatch); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "tracks": len(tracks), "dir": dir})
	}
}

func GetDownloadsHandler(app *state.App, batch BatchRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Running bool                `json:"running"`
			Last    *models.BatchResult `json:"last"`
		}{Running: batch.Running()}
		if last, ok := app.LastBatch(); ok {
			resp.Last = &last
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
