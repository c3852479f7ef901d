package state

import (
	"errors"
	"log/slog"
	"sync"

	"flacdl/internal/models"
)

var (
	ErrNotReady            = errors.New("session is not ready")
	ErrAlreadyInitializing = errors.New("session is already initializing")
	ErrNoPage              = errors.New("no search results loaded")
	ErrTrackNotOnPage      = errors.New("track is not on the current page")
	ErrPageOutOfRange      = errors.New("page out of range")
)

// App is the single owned application state: session lifecycle, the
// current result page and the selection that survives page changes.
type App struct {
	mu      sync.RWMutex
	status  models.SessionStatus
	session models.Session
	lastErr string

	page    models.SearchPage
	hasPage bool

	selected map[string]models.Track
	order    []string

	lastBatch *models.BatchResult
}

func New() *App {
	return &App{
		status:   models.SessionUninitialized,
		selected: make(map[string]models.Track),
	}
}

func (a *App) Status() (models.SessionStatus, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status, a.lastErr
}

// BeginConnect moves to Initializing and drops the previous tokens. Only
// one bootstrap may run at a time.
func (a *App) BeginConnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == models.SessionInitializing {
		return ErrAlreadyInitializing
	}
	a.status = models.SessionInitializing
	a.session = models.Session{}
	a.lastErr = ""
	return nil
}

func (a *App) SetSession(sess models.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = sess
	a.status = models.SessionReady
	a.lastErr = ""
	slog.Info("Session ready", "created_at", sess.CreatedAt)
}

func (a *App) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = models.Session{}
	a.status = models.SessionFailed
	if err != nil {
		a.lastErr = err.Error()
	}
}

// Session returns the tokens, or ErrNotReady outside the Ready state.
func (a *App) Session() (models.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.status != models.SessionReady || !a.session.Valid() {
		return models.Session{}, ErrNotReady
	}
	return a.session, nil
}

// SetPage replaces the current page. A new keyword does not clear the
// selection.
func (a *App) SetPage(page models.SearchPage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.page = page
	a.hasPage = true
}

func (a *App) Page() (models.SearchPage, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.page, a.hasPage
}

// Step resolves a page relative to the current one for next/prev
// navigation.
func (a *App) Step(delta int) (keywords string, page int, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.hasPage {
		return "", 0, ErrNoPage
	}
	target := a.page.Page + delta
	if target < 1 || target > a.page.TotalPages {
		return "", 0, ErrPageOutOfRange
	}
	return a.page.Keywords, target, nil
}

func (a *App) Select(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	track, ok := a.findOnPage(id)
	if !ok {
		return ErrTrackNotOnPage
	}
	a.add(track)
	return nil
}

func (a *App) Deselect(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remove(id)
}

// TogglePage selects every track on the current page, or deselects them
// all when they already are. It returns the new selection size.
func (a *App) TogglePage() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasPage {
		return 0, ErrNoPage
	}

	allSelected := len(a.page.Tracks) > 0
	for _, t := range a.page.Tracks {
		if _, ok := a.selected[t.ID]; !ok {
			allSelected = false
			break
		}
	}
	for _, t := range a.page.Tracks {
		if allSelected {
			a.remove(t.ID)
		} else {
			a.add(t)
		}
	}
	return len(a.order), nil
}

func (a *App) ClearSelection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selected = make(map[string]models.Track)
	a.order = nil
}

// Selection returns the selected tracks in the order they were picked.
func (a *App) Selection() []models.Track {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tracks := make([]models.Track, 0, len(a.order))
	for _, id := range a.order {
		tracks = append(tracks, a.selected[id])
	}
	return tracks
}

func (a *App) IsSelected(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.selected[id]
	return ok
}

func (a *App) SetLastBatch(result models.BatchResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastBatch = &result
}

func (a *App) LastBatch() (models.BatchResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastBatch == nil {
		return models.BatchResult{}, false
	}
	return *a.lastBatch, true
}

func (a *App) findOnPage(id string) (models.Track, bool) {
	if !a.hasPage {
		return models.Track{}, false
	}
	for _, t := range a.page.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Track{}, false
}

func (a *App) add(t models.Track) {
	if _, ok := a.selected[t.ID]; ok {
		return
	}
	a.selected[t.ID] = t
	a.order = append(a.order, t.ID)
}

func (a *App) remove(id string) bool {
	if _, ok := a.selected[id]; !ok {
		return false
	}
	delete(a.selected, id)
	for i, o := range a.order {
		if o == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return true
}
