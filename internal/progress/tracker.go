package progress

import (
	"fmt"
	"time"

	"flacdl/internal/models"
	"flacdl/internal/utils"
)

const (
	recomputeInterval = 2 * time.Second
	etaComputing      = "computing..."
)

// Tracker derives speed, ETA and percentage for one transfer. It is not
// safe for concurrent use; the streaming loop is its only writer.
type Tracker struct {
	name       string
	total      int64
	downloaded int64
	speed      float64
	eta        string
	percent    float64

	lastTime       time.Time
	lastDownloaded int64
	now            func() time.Time
}

func NewTracker(name string, total int64) *Tracker {
	return newTracker(name, total, time.Now)
}

func newTracker(name string, total int64, now func() time.Time) *Tracker {
	if total < 0 {
		total = 0
	}
	return &Tracker{
		name:     name,
		total:    total,
		eta:      etaComputing,
		lastTime: now(),
		now:      now,
	}
}

// Update records n received bytes. It reports whether speed and ETA were
// recomputed, which callers use to throttle progress events.
func (t *Tracker) Update(n int) bool {
	if n > 0 {
		t.downloaded += int64(n)
	}

	recomputed := false
	current := t.now()
	elapsed := current.Sub(t.lastTime).Seconds()
	if elapsed >= recomputeInterval.Seconds() {
		t.speed = float64(t.downloaded-t.lastDownloaded) / elapsed
		t.lastDownloaded = t.downloaded
		t.lastTime = current
		t.eta = t.etaLabel()
		recomputed = true
	}

	if t.total > 0 {
		t.percent = float64(t.downloaded) / float64(t.total) * 100
	} else {
		t.percent = 0
	}
	return recomputed
}

// Complete marks a finished transfer. With a known size the percentage is
// pinned to 100.
func (t *Tracker) Complete() {
	if t.total > 0 {
		t.percent = 100
	}
	t.eta = "0 s"
}

func (t *Tracker) etaLabel() string {
	if t.speed <= 0 || t.total <= 0 {
		return etaComputing
	}
	remaining := float64(t.total - t.downloaded)
	if remaining < 0 {
		remaining = 0
	}
	secs := remaining / t.speed
	switch {
	case secs > 3600:
		return fmt.Sprintf("%.1f h", secs/3600)
	case secs > 60:
		return fmt.Sprintf("%.1f min", secs/60)
	default:
		return fmt.Sprintf("%.0f s", secs)
	}
}

func (t *Tracker) State() models.ProgressState {
	return models.ProgressState{
		Name:             t.name,
		TotalBytes:       t.total,
		DownloadedBytes:  t.downloaded,
		SpeedBytesPerSec: t.speed,
		ETALabel:         t.eta,
		Percent:          t.percent,
	}
}

func (t *Tracker) Downloaded() int64 { return t.downloaded }

func (t *Tracker) Total() int64 { return t.total }

func (t *Tracker) Percent() float64 { return t.percent }

func (t *Tracker) SpeedText() string {
	return utils.FormatSpeed(t.speed)
}

func (t *Tracker) Text() string {
	if t.total > 0 {
		return fmt.Sprintf("%s / %s (%.1f%%)",
			utils.FormatSize(float64(t.downloaded)), utils.FormatSize(float64(t.total)), t.percent)
	}
	return fmt.Sprintf("%s (size unknown)", utils.FormatSize(float64(t.downloaded)))
}
