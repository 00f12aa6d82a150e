// Package progressui renders download progress on the terminal. Sequential
// downloads get a single schollz progress bar; parallel downloads use mpb,
// whose renderer tolerates updates from many goroutines. Both fall back to
// silence when stderr is not a terminal.
package progressui

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// Reporter receives transfer progress for one download.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
}

// New picks a reporter for the given worker count. A nil-safe noop reporter
// is returned when stderr is not a terminal or quiet is set.
func New(concurrency int, quiet bool) Reporter {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return noopReporter{}
	}
	if concurrency > 1 {
		return &multiReporter{}
	}
	return &barReporter{}
}

type noopReporter struct{}

func (noopReporter) Start(int64, string) {}
func (noopReporter) Update(int64)        {}
func (noopReporter) Finish()             {}

// barReporter wraps a single schollz progress bar.
type barReporter struct {
	bar *progressbar.ProgressBar
}

func (p *barReporter) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *barReporter) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

func (p *barReporter) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// multiReporter renders through mpb, which serializes updates internally so
// chunk workers can report without coordination.
type multiReporter struct {
	progress *mpb.Progress
	bar      *mpb.Bar
}

func (p *multiReporter) Start(total int64, description string) {
	p.progress = mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithRefreshRate(300*time.Millisecond),
		mpb.WithWidth(80),
	)
	p.bar = p.progress.New(total,
		mpb.BarStyle(),
		mpb.PrependDecorators(
			decor.Name(description+" "),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.AverageSpeed(decor.SizeB1024(0), " % .2f"),
		),
	)
}

func (p *multiReporter) Update(current int64) {
	if p.bar != nil {
		p.bar.SetCurrent(current)
	}
}

func (p *multiReporter) Finish() {
	if p.bar == nil {
		return
	}
	p.bar.SetTotal(-1, true)
	p.progress.Wait()
}
