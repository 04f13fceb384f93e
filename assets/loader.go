package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/lesson"
)

// ErrFetch marks a file that could not be fetched or written.
var ErrFetch = errors.New("fetch failed")

// Writer is the filesystem the loader writes into. *hostfunc.FS satisfies it.
type Writer interface {
	MkdirAll(path string) error
	WriteFile(path, content string) error
}

// Fetcher retrieves a URL. *hostfunc.HTTP satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) (hostfunc.HTTPResponse, error)
}

type Option func(*Loader)

// WithDir sets the directory files are written into. Defaults to /data.
func WithDir(dir string) Option {
	return func(l *Loader) { l.dir = dir }
}

// WithFetcher replaces the default fetcher, which allows exactly the hosts
// named by the files being loaded.
func WithFetcher(f Fetcher) Option {
	return func(l *Loader) { l.fetcher = f }
}

// WithClient sets the HTTP client used by the default fetcher.
func WithClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithMaxSize caps the number of body bytes kept per file.
func WithMaxSize(n int64) Option {
	return func(l *Loader) { l.maxSize = n }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// Loader downloads lesson data files before any block runs.
type Loader struct {
	fs      Writer
	fetcher Fetcher
	client  *http.Client
	dir     string
	maxSize int64
	log     zerolog.Logger
}

func New(fs Writer, opts ...Option) *Loader {
	l := &Loader{
		fs:      fs,
		dir:     "/" + lesson.DefaultDataDir,
		maxSize: hostfunc.DefaultMaxFileSize,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FileResult is the outcome for one file.
type FileResult struct {
	Filename string
	Path     string
	Size     int
	Err      error
}

// Report lists per-file outcomes in input order.
type Report struct {
	Files    []FileResult
	Duration time.Duration
}

// Failed returns the files that could not be loaded.
func (r Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// OK reports whether every file loaded.
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

// LoadAll fetches every file independently. A failure is logged and
// recorded; it never stops the remaining files.
func (l *Loader) LoadAll(ctx context.Context, files []lesson.RemoteFile) Report {
	start := time.Now()
	var report Report

	if len(files) == 0 {
		l.log.Info().Msg("no data files to load")
		return report
	}

	if err := l.fs.MkdirAll(l.dir); err != nil {
		l.log.Error().Err(err).Str("dir", l.dir).Msg("create data directory")
		for _, f := range files {
			report.Files = append(report.Files, FileResult{
				Filename: f.Filename,
				Err:      fmt.Errorf("%w: create %s: %w", ErrFetch, l.dir, err),
			})
		}
		report.Duration = time.Since(start)
		return report
	}

	fetcher := l.fetcher
	if fetcher == nil {
		urls := make([]string, 0, len(files))
		for _, f := range files {
			urls = append(urls, f.URL)
		}
		fetcher = hostfunc.NewHTTP(hostfunc.HTTPConfig{
			AllowedHosts: hostfunc.HostsOf(urls...),
			MaxBodySize:  l.maxSize,
			Client:       l.client,
		})
	}

	for _, f := range files {
		res := l.load(ctx, fetcher, f)
		if res.Err != nil {
			l.log.Warn().Err(res.Err).Str("file", f.Filename).Str("url", f.URL).Msg("data file not loaded")
		} else {
			l.log.Info().Str("file", f.Filename).Int("bytes", res.Size).Msg("data file loaded")
		}
		report.Files = append(report.Files, res)
	}

	report.Duration = time.Since(start)
	return report
}

func (l *Loader) load(ctx context.Context, fetcher Fetcher, f lesson.RemoteFile) FileResult {
	res := FileResult{Filename: f.Filename}

	if err := checkFilename(f.Filename); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrFetch, err)
		return res
	}

	resp, err := fetcher.Get(ctx, f.URL)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrFetch, f.URL, err)
		return res
	}
	if !resp.OK() {
		res.Err = fmt.Errorf("%w: %s: status %d", ErrFetch, f.URL, resp.Status)
		return res
	}

	body := resp.Body
	if resp.Truncated || (l.maxSize > 0 && int64(len(body)) > l.maxSize) {
		res.Err = fmt.Errorf("%w: %s: body exceeds %d bytes", ErrFetch, f.URL, l.maxSize)
		return res
	}

	res.Path = path.Join(l.dir, f.Filename)
	if err := l.fs.WriteFile(res.Path, body); err != nil {
		res.Err = fmt.Errorf("%w: write %s: %w", ErrFetch, res.Path, err)
		return res
	}
	res.Size = len(body)
	return res
}

func checkFilename(name string) error {
	switch {
	case name == "":
		return errors.New("empty filename")
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return fmt.Errorf("invalid filename: %q", name)
	}
	return nil
}
