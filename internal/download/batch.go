package download

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flacdl/internal/models"
	"flacdl/internal/progress"
)

var ErrBatchInProgress = errors.New("a batch download is already running")

type Resolver interface {
	ResolveDownloadURL(ctx context.Context, sess models.Session, track models.Track) (string, string, error)
}

// Notifier receives batch events. Publish must not block for long; the
// streaming loop calls it inline.
type Notifier interface {
	Publish(models.Event)
}

// Task is one entry of a running batch. Tracker is written by the batch
// goroutine only.
type Task struct {
	ID              string
	Index           int
	Track           models.Track
	DestinationPath string
	Tracker         *progress.Tracker
}

type Batch struct {
	resolver Resolver
	fetcher  *Fetcher
	notifier Notifier
	running  atomic.Bool
}

func NewBatch(resolver Resolver, fetcher *Fetcher, notifier Notifier) *Batch {
	return &Batch{resolver: resolver, fetcher: fetcher, notifier: notifier}
}

func (b *Batch) Running() bool { return b.running.Load() }

// Run downloads tracks into dir one at a time in the given order. A failing
// track is logged and skipped; only the counts are reported back.
func (b *Batch) Run(ctx context.Context, sess models.Session, dir string, tracks []models.Track) (models.BatchResult, error) {
	if !b.running.CompareAndSwap(false, true) {
		return models.BatchResult{}, ErrBatchInProgress
	}
	defer b.running.Store(false)
	return b.run(ctx, sess, dir, tracks), nil
}

// Start claims the batch slot before returning and runs the batch in the
// background. done, if set, receives the result after the slot is released.
func (b *Batch) Start(ctx context.Context, sess models.Session, dir string, tracks []models.Track, done func(models.BatchResult)) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrBatchInProgress
	}
	go func() {
		result := b.run(ctx, sess, dir, tracks)
		b.running.Store(false)
		if done != nil {
			done(result)
		}
	}()
	return nil
}

func (b *Batch) run(ctx context.Context, sess models.Session, dir string, tracks []models.Track) models.BatchResult {
	result := models.BatchResult{
		ID:        uuid.New().String(),
		Total:     len(tracks),
		Paths:     []string{},
		StartedAt: time.Now(),
	}
	slog.Info("Starting batch", "id", result.ID, "tracks", len(tracks), "dir", dir)
	b.publish(models.Event{Type: models.EventBatchStarted, BatchID: result.ID, Total: result.Total})

	for i, track := range tracks {
		task := &Task{ID: uuid.New().String(), Index: i + 1, Track: track}
		path, err := b.runTask(ctx, sess, dir, result, task)
		if err != nil {
			slog.Error("Track download failed", "id", track.ID, "name", track.Name, "error", err)
			b.publish(models.Event{
				Type: models.EventTaskFinished, BatchID: result.ID, TaskID: task.ID,
				Index: task.Index, Total: result.Total, Name: track.Name, Error: err.Error(),
			})
			continue
		}
		result.Succeeded++
		result.Paths = append(result.Paths, path)
		slog.Info("Track downloaded", "id", track.ID, "path", path)
		b.publish(models.Event{
			Type: models.EventTaskFinished, BatchID: result.ID, TaskID: task.ID,
			Index: task.Index, Total: result.Total, Name: track.Name, Path: path,
		})
	}

	result.FinishedAt = time.Now()
	slog.Info("Batch finished", "id", result.ID, "succeeded", result.Succeeded, "total", result.Total)
	b.publish(models.Event{Type: models.EventBatchFinished, BatchID: result.ID, Result: &result})
	return result
}

func (b *Batch) runTask(ctx context.Context, sess models.Session, dir string, result models.BatchResult, task *Task) (string, error) {
	track := task.Track
	slog.Info("Downloading", "index", task.Index, "id", track.ID, "name", track.Name, "artist", track.Artist)

	url, suggested, err := b.resolver.ResolveDownloadURL(ctx, sess, track)
	if err != nil {
		return "", err
	}

	filename := suggested
	if track.Name != "" {
		filename = TrackFilename(track)
	}
	filename = SanitizeFilename(filename)

	b.publish(models.Event{
		Type: models.EventTaskStarted, BatchID: result.ID, TaskID: task.ID,
		Index: task.Index, Total: result.Total, Name: filename,
	})

	lastPercent := -1
	onStart := func(total int64) {
		task.Tracker = progress.NewTracker(filename, total)
	}
	path, err := b.fetcher.Fetch(ctx, url, dir, filename, onStart, func(n int, total int64) {
		recomputed := task.Tracker.Update(n)
		pct := int(math.Floor(task.Tracker.Percent()))
		if recomputed || pct != lastPercent {
			lastPercent = pct
			b.publishProgress(result, task)
		}
	})
	if err != nil {
		return "", err
	}
	task.DestinationPath = path

	task.Tracker.Complete()
	b.publishProgress(result, task)
	slog.Debug("Transfer complete", "name", filename, "bytes", task.Tracker.Downloaded(), "progress", task.Tracker.Text(), "speed", task.Tracker.SpeedText())
	return path, nil
}

func (b *Batch) publishProgress(result models.BatchResult, task *Task) {
	state := task.Tracker.State()
	b.publish(models.Event{
		Type: models.EventProgress, BatchID: result.ID, TaskID: task.ID,
		Index: task.Index, Total: result.Total, Name: state.Name,
		Text: task.Tracker.Text(), Progress: &state,
	})
}

func (b *Batch) publish(ev models.Event) {
	if b.notifier != nil {
		b.notifier.Publish(ev)
	}
}
