package quiz

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/caffeineduck/lessonbox/hostfunc"
)

// Submission is one finished quiz attempt.
type Submission struct {
	Timestamp      time.Time
	Module         string
	Score          int
	TotalQuestions int
}

// Query encodes the submission as the endpoint's query parameters.
func (s Submission) Query() url.Values {
	return url.Values{
		"timestamp":      {s.Timestamp.UTC().Format(time.RFC3339)},
		"module":         {s.Module},
		"score":          {strconv.Itoa(s.Score)},
		"totalQuestions": {strconv.Itoa(s.TotalQuestions)},
	}
}

// Reporter delivers results. Delivery is best effort; callers never learn
// whether it failed.
type Reporter interface {
	Submit(ctx context.Context, s Submission)
}

// HTTPReporter posts results to a logging endpoint.
type HTTPReporter struct {
	endpoint string
	http     *hostfunc.HTTP
	log      zerolog.Logger
}

type ReporterOption func(*reporterConfig)

type reporterConfig struct {
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

func WithReporterClient(c *http.Client) ReporterOption {
	return func(cfg *reporterConfig) { cfg.client = c }
}

func WithReporterTimeout(d time.Duration) ReporterOption {
	return func(cfg *reporterConfig) { cfg.timeout = d }
}

func WithReporterLogger(l zerolog.Logger) ReporterOption {
	return func(cfg *reporterConfig) { cfg.log = l }
}

func NewHTTPReporter(endpoint string, opts ...ReporterOption) *HTTPReporter {
	cfg := reporterConfig{timeout: 10 * time.Second, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HTTPReporter{
		endpoint: endpoint,
		http: hostfunc.NewHTTP(hostfunc.HTTPConfig{
			AllowedHosts:   hostfunc.HostsOf(endpoint),
			RequestTimeout: cfg.timeout,
			Client:         cfg.client,
		}),
		log: cfg.log,
	}
}

// Submit sends a single POST with the results as query parameters. It
// never retries.
func (r *HTTPReporter) Submit(ctx context.Context, s Submission) {
	target, err := url.Parse(r.endpoint)
	if err != nil {
		r.log.Warn().Err(err).Str("endpoint", r.endpoint).Msg("quiz results not sent")
		return
	}
	q := target.Query()
	for k, v := range s.Query() {
		q[k] = v
	}
	target.RawQuery = q.Encode()

	log := r.log.With().Str("module", s.Module).Int("score", s.Score).Int("total", s.TotalQuestions).Logger()

	resp, err := r.http.Do(ctx, hostfunc.Request{
		Method:  http.MethodPost,
		URL:     target.String(),
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	})
	switch {
	case err != nil:
		// Cross-origin and transport failures are common even when the
		// endpoint recorded the row, so the attempt still counts.
		log.Info().Err(err).Msg("quiz results sent, response unavailable")
	case !resp.OK():
		log.Info().Int("status", resp.Status).Msg("quiz results sent, unexpected status")
	default:
		log.Info().Int("status", resp.Status).Msg("quiz results submitted")
	}
}

// LogReporter only logs results. It is used when no endpoint is configured.
type LogReporter struct {
	Log zerolog.Logger
}

func (r LogReporter) Submit(ctx context.Context, s Submission) {
	r.Log.Info().
		Str("module", s.Module).
		Int("score", s.Score).
		Int("total", s.TotalQuestions).
		Time("timestamp", s.Timestamp).
		Msg("quiz completed")
}
