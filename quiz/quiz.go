// Package quiz walks a learner through a lesson's multiple-choice
// questions, scores them and reports the result.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caffeineduck/lessonbox/lesson"
)

// SelectPrompt is shown when an answer is checked before one is chosen.
const SelectPrompt = "Please select an answer first!"

const (
	FeedbackPerfect = "Excellent! You have a comprehensive understanding of the material."
	FeedbackGood    = "Well done! You have a good grasp of the concepts."
	FeedbackReview  = "You might want to review the module materials again to strengthen your understanding."
)

var (
	ErrNoQuestions   = errors.New("quiz has no questions")
	ErrNoSelection   = errors.New("no answer selected")
	ErrNotChecked    = errors.New("answer not checked")
	ErrAlreadyChosen = errors.New("answer already checked")
	ErrFinished      = errors.New("quiz finished")
	ErrBadOption     = errors.New("no such option")
)

// Feedback returns the results message for a score.
func Feedback(score, total int) string {
	switch {
	case score == total:
		return FeedbackPerfect
	case float64(score)/float64(total)*100 >= 80:
		return FeedbackGood
	default:
		return FeedbackReview
	}
}

// Option configures a Quiz.
type Option func(*Quiz)

// WithReporter sets where finished attempts are submitted. The default logs
// them.
func WithReporter(r Reporter) Option {
	return func(q *Quiz) { q.reporter = r }
}

// WithStore records completed modules in s.
func WithStore(s Store) Option {
	return func(q *Quiz) { q.store = s }
}

// WithLogger sets the logger, which is also used by the default reporter.
func WithLogger(l zerolog.Logger) Option {
	return func(q *Quiz) { q.log = l }
}

// WithClock overrides the time source used for submissions.
func WithClock(now func() time.Time) Option {
	return func(q *Quiz) { q.now = now }
}

// Quiz is one learner's pass through the questions. It is safe for
// concurrent use.
type Quiz struct {
	questions []lesson.Question
	module    string
	reporter  Reporter
	store     Store
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	current   int
	selected  int
	checked   bool
	correct   bool
	score     int
	finished  bool
	submitted bool
	results   *Results
}

// New starts an attempt at q for the named module. It fails with
// ErrNoQuestions when q has no questions.
func New(q *lesson.Quiz, module string, opts ...Option) (*Quiz, error) {
	if q == nil || len(q.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	z := &Quiz{
		questions: q.Questions,
		module:    module,
		log:       zerolog.Nop(),
		now:       time.Now,
		selected:  -1,
	}
	for _, opt := range opts {
		opt(z)
	}
	if z.reporter == nil {
		z.reporter = LogReporter{Log: z.log}
	}
	return z, nil
}

// Results summarise a finished attempt.
type Results struct {
	Score    int    `json:"score"`
	Total    int    `json:"total"`
	Feedback string `json:"feedback"`
}

// Checked is the outcome of checking one answer.
type Checked struct {
	Correct       bool     `json:"correct"`
	Selected      int      `json:"selected"`
	CorrectOption int      `json:"correct_option"`
	Results       *Results `json:"results,omitempty"`
}

// State is a snapshot for rendering.
type State struct {
	Module       string   `json:"module"`
	Progress     string   `json:"progress"`
	Question     int      `json:"question"`
	Total        int      `json:"total"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	Selected     int      `json:"selected"`
	Checked      bool     `json:"checked"`
	Correct      bool     `json:"correct,omitempty"`
	Score        int      `json:"score"`
	Finished     bool     `json:"finished"`
	Results      *Results `json:"results,omitempty"`
	NextUnlocked bool     `json:"next_unlocked"`
}

func (z *Quiz) Module() string { return z.module }

// Select chooses an option of the current question, replacing any earlier
// choice.
func (z *Quiz) Select(option int) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.finished {
		return ErrFinished
	}
	if z.checked {
		return ErrAlreadyChosen
	}
	if option < 0 || option >= len(z.questions[z.current].Options) {
		return fmt.Errorf("%w: %d", ErrBadOption, option)
	}
	z.selected = option
	return nil
}

// Check scores the selected answer. Checking the last question finishes the
// quiz, submits the results once and records the completion.
func (z *Quiz) Check(ctx context.Context) (Checked, error) {
	z.mu.Lock()

	if z.finished {
		z.mu.Unlock()
		return Checked{}, ErrFinished
	}
	if z.checked {
		z.mu.Unlock()
		return Checked{}, ErrAlreadyChosen
	}
	if z.selected < 0 {
		z.mu.Unlock()
		return Checked{}, ErrNoSelection
	}

	q := z.questions[z.current]
	z.checked = true
	z.correct = q.Options[z.selected].Correct
	if z.correct {
		z.score++
	}

	res := Checked{Correct: z.correct, Selected: z.selected, CorrectOption: q.CorrectIndex()}
	var sub *Submission
	if z.current == len(z.questions)-1 {
		sub = z.finish()
		res.Results = z.results
	}
	z.mu.Unlock()

	if sub != nil {
		z.deliver(context.WithoutCancel(ctx), *sub)
	}
	return res, nil
}

// finish records the results and returns the submission to deliver, or nil
// when this attempt's results were already sent. Callers hold z.mu.
func (z *Quiz) finish() *Submission {
	total := len(z.questions)
	z.finished = true
	z.results = &Results{Score: z.score, Total: total, Feedback: Feedback(z.score, total)}

	if z.submitted {
		z.log.Debug().Msg("quiz results already submitted")
		return nil
	}
	z.submitted = true

	return &Submission{
		Timestamp:      z.now(),
		Module:         z.module,
		Score:          z.score,
		TotalQuestions: total,
	}
}

// deliver sends sub without holding z.mu, so a slow reporter never blocks
// State or Select.
func (z *Quiz) deliver(ctx context.Context, sub Submission) {
	// The reporter reports no failures: every attempt counts as delivered,
	// so the completion is recorded unconditionally.
	z.reporter.Submit(ctx, sub)

	if z.store != nil {
		if err := z.store.MarkCompleted(sub.Module, sub.Timestamp); err != nil {
			z.log.Warn().Err(err).Str("module", sub.Module).Msg("record quiz completion")
		}
	}
}

// Next moves to the following question.
func (z *Quiz) Next() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.finished {
		return ErrFinished
	}
	if !z.checked {
		return ErrNotChecked
	}
	z.current++
	z.selected = -1
	z.checked = false
	z.correct = false
	return nil
}

// Restart resets the attempt, including the submission guard.
func (z *Quiz) Restart() {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.current = 0
	z.selected = -1
	z.checked = false
	z.correct = false
	z.score = 0
	z.finished = false
	z.submitted = false
	z.results = nil
}

// Progress returns "Question N of M".
func (z *Quiz) Progress() string {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.progress()
}

func (z *Quiz) progress() string {
	return fmt.Sprintf("Question %d of %d", z.current+1, len(z.questions))
}

func (z *Quiz) State() State {
	z.mu.Lock()
	defer z.mu.Unlock()

	q := z.questions[z.current]
	options := make([]string, len(q.Options))
	for i, o := range q.Options {
		options[i] = o.Text
	}
	return State{
		Module:       z.module,
		Progress:     z.progress(),
		Question:     z.current + 1,
		Total:        len(z.questions),
		Prompt:       q.Prompt,
		Options:      options,
		Selected:     z.selected,
		Checked:      z.checked,
		Correct:      z.correct,
		Score:        z.score,
		Finished:     z.finished,
		Results:      z.results,
		NextUnlocked: z.finished,
	}
}
