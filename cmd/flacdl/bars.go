package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"flacdl/internal/models"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
)

// barNotifier renders batch events as one terminal bar per track. The
// batch calls it from a single goroutine.
type barNotifier struct {
	out  io.Writer
	bar  *progressbar.ProgressBar
	text string
}

func newBarNotifier(out io.Writer) *barNotifier {
	return &barNotifier{out: out}
}

func (n *barNotifier) Publish(ev models.Event) {
	switch ev.Type {
	case models.EventBatchStarted:
		fmt.Fprintf(n.out, "Downloading %d tracks\n", ev.Total)
	case models.EventTaskStarted:
		n.closeBar()
		n.text = ""
	case models.EventProgress:
		if ev.Progress == nil {
			return
		}
		if n.bar == nil {
			n.bar = newBar(n.out, fmt.Sprintf("[%d/%d] %s", ev.Index, ev.Total, ev.Name), ev.Progress.TotalBytes)
		}
		n.bar.Set64(ev.Progress.DownloadedBytes)
		n.text = ev.Text
	case models.EventTaskFinished:
		if ev.Error != "" {
			n.abortBar()
			failColor.Fprintf(n.out, "[%d/%d] failed: %s: %s\n", ev.Index, ev.Total, ev.Name, ev.Error)
			return
		}
		n.closeBar()
		okColor.Fprintf(n.out, "[%d/%d] saved %s (%s)\n", ev.Index, ev.Total, ev.Path, n.text)
	case models.EventBatchFinished:
		n.closeBar()
		if ev.Result != nil {
			fmt.Fprintf(n.out, "Done: %d/%d succeeded\n", ev.Result.Succeeded, ev.Result.Total)
		}
	}
}

func (n *barNotifier) closeBar() {
	if n.bar == nil {
		return
	}
	n.bar.Finish()
	fmt.Fprintln(n.out)
	n.bar = nil
}

func (n *barNotifier) abortBar() {
	if n.bar == nil {
		return
	}
	n.bar.Exit()
	fmt.Fprintln(n.out)
	n.bar = nil
}

// newBar shows bytes against total, or a spinner when the size is
// unknown.
func newBar(out io.Writer, description string, total int64) *progressbar.ProgressBar {
	limit := total
	if limit <= 0 {
		limit = -1
	}
	return progressbar.NewOptions64(limit,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
