package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/lessonbox/lesson"
	"github.com/caffeineduck/lessonbox/orchestrator"
	"github.com/caffeineduck/lessonbox/quiz"
	"github.com/caffeineduck/lessonbox/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve <lesson>",
	Short: "Serve a lesson over HTTP",
	Long: `Boot a lesson and serve its blocks and quiz over HTTP.

Endpoints:
  GET    /health               Health check
  GET    /lesson               Blocks, states and output regions
  POST   /blocks/{id}/run      Run an editable block, body {"code":"..."}
  GET    /quiz                 Quiz state
  POST   /quiz/select          Select an option, body {"option":0}
  POST   /quiz/check           Check the selected option
  POST   /quiz/next            Move to the next question
  POST   /quiz/restart         Start the quiz over`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")

	l, err := lesson.Load(args[0])
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, l)
	if err != nil {
		return err
	}
	defer rt.Close()

	display := orchestrator.NewMemoryDisplay()
	o, err := rt.newOrchestrator(l, display)
	if err != nil {
		return err
	}
	defer o.Close()

	// A failed boot is still served so /lesson can report it.
	if err := o.Boot(cmd.Context(), rt.start); err != nil {
		cfg.Log.Error().Err(err).Msg("boot lesson")
	}

	q, err := rt.newQuiz(l)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(o, q, cfg.Log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	cfg.Log.Info().Str("addr", addr).Str("lesson", l.Title).Msg("lessonbox server listening")
	return srv.ListenAndServe()
}

type runRequest struct {
	Code *string `json:"code,omitempty"`
}

type runResponse struct {
	Succeeded  bool   `json:"succeeded"`
	Output     string `json:"output"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type selectRequest struct {
	Option int `json:"option"`
}

type server struct {
	orch *orchestrator.Orchestrator
	quiz *quiz.Quiz
	log  zerolog.Logger
}

// newServer routes the lesson API. q may be nil when the lesson has no quiz.
func newServer(o *orchestrator.Orchestrator, q *quiz.Quiz, log zerolog.Logger) http.Handler {
	s := &server{orch: o, quiz: q, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /lesson", s.handleLesson)
	mux.HandleFunc("POST /blocks/{id}/run", s.handleRun)
	mux.HandleFunc("GET /quiz", s.withQuiz(s.handleQuizState))
	mux.HandleFunc("POST /quiz/select", s.withQuiz(s.handleQuizSelect))
	mux.HandleFunc("POST /quiz/check", s.withQuiz(s.handleQuizCheck))
	mux.HandleFunc("POST /quiz/next", s.withQuiz(s.handleQuizNext))
	mux.HandleFunc("POST /quiz/restart", s.withQuiz(s.handleQuizRestart))
	return mux
}

func (s *server) handleLesson(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	var res session.Result
	var err error
	if req.Code != nil {
		res, err = s.orch.Run(r.Context(), id, *req.Code)
	} else {
		res, err = s.orch.Trigger(r.Context(), id)
	}
	if err != nil {
		http.Error(w, err.Error(), runStatus(err))
		return
	}

	resp := runResponse{
		Succeeded:  res.Succeeded,
		Output:     res.Output,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func runStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownBlock):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrEmptyInput), errors.Is(err, orchestrator.ErrNotEditable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) withQuiz(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.quiz == nil {
			http.Error(w, "lesson has no quiz", http.StatusNotFound)
			return
		}
		h(w, r)
	}
}

func (s *server) handleQuizState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.quiz.State())
}

func (s *server) handleQuizSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.quiz.Select(req.Option); err != nil {
		http.Error(w, err.Error(), quizStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, s.quiz.State())
}

func (s *server) handleQuizCheck(w http.ResponseWriter, r *http.Request) {
	checked, err := s.quiz.Check(r.Context())
	if err != nil {
		http.Error(w, err.Error(), quizStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, checked)
}

func (s *server) handleQuizNext(w http.ResponseWriter, r *http.Request) {
	if err := s.quiz.Next(); err != nil {
		http.Error(w, err.Error(), quizStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, s.quiz.State())
}

func (s *server) handleQuizRestart(w http.ResponseWriter, r *http.Request) {
	s.quiz.Restart()
	writeJSON(w, http.StatusOK, s.quiz.State())
}

func quizStatus(err error) int {
	if errors.Is(err, quiz.ErrBadOption) {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
