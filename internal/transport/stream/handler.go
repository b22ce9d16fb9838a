package stream

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/core/llm"
	"github.com/ieltslab/feedback-engine/internal/platform/config"
	"github.com/ieltslab/feedback-engine/internal/platform/observability"
	"github.com/ieltslab/feedback-engine/internal/process/feedback"
	db "github.com/ieltslab/feedback-engine/internal/storage"
)

// Rate limiting constants.
const (
	rateLimitRequests = 10
	rateLimitBurst    = 20
)

// HTTP constants.
const (
	headerContentType = "Content-Type"
	contentTypeSSE    = "text/event-stream"
	contentTypeJSON   = "application/json"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// FeedProcessor runs one feed against one subject. Satisfied by
// *feedback.Orchestrator.
type FeedProcessor interface {
	ProcessFeed(ctx context.Context, req feedback.ProcessRequest, emit feedback.Emitter) error
}

// Compile-time assertion that *feedback.Orchestrator implements FeedProcessor.
var _ FeedProcessor = (*feedback.Orchestrator)(nil)

// Server is the streaming HTTP API.
type Server struct {
	cfg       *config.Config
	processor FeedProcessor
	client    llm.Client
	database  *db.DB
	logger    *zerolog.Logger

	// IP-based rate limiting
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
}

func NewServer(cfg *config.Config, processor FeedProcessor, client llm.Client, database *db.DB, logger *zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		processor: processor,
		client:    client,
		database:  database,
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/feeds/{feedID}/process", s.withAuth(s.handleProcessFeed))
	mux.HandleFunc("GET /v1/feeds/{feedID}", s.withAuth(s.handleGetFeed))
	mux.HandleFunc("GET /v1/speeches/{speechID}", s.withAuth(s.handleGetSpeech))
	mux.HandleFunc("GET /v1/records", s.withAuth(s.handleListRecords))
	mux.HandleFunc("POST /v1/records/{recordID}/prefer", s.withAuth(s.handlePreferRecord))
	mux.HandleFunc("POST /v1/tts", s.withAuth(s.handleSpeech))
	mux.HandleFunc("POST /v1/phonemize", s.withAuth(s.handlePhonemize))

	return mux
}

// Start serves the API until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		//nolint:errcheck,contextcheck // shutdown in signal handler is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.cfg.HTTPPort).Msg("Streaming API server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(getClientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)

			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}

		next(w, r)
	}
}

// processFeedRequest is the body of POST /v1/feeds/{feedID}/process.
type processFeedRequest struct {
	SubjectRef    string `json:"subject_ref"`
	Language      string `json:"language"`
	FeedbackStyle string `json:"feedback_style"`
	GuideScore    string `json:"guide_score"`
	GuideFeedback string `json:"guide_feedback"`
	Refetch       string `json:"refetch"`
	UserID        string `json:"user_id"`
}

func (s *Server) handleProcessFeed(w http.ResponseWriter, r *http.Request) {
	var body processFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if body.SubjectRef == "" {
		http.Error(w, "subject_ref is required", http.StatusBadRequest)

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)

		return
	}

	w.Header().Set(headerContentType, contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observability.StreamClients.Inc()
	defer observability.StreamClients.Dec()

	emitter := NewSSEEmitter(w, flusher)

	req := feedback.ProcessRequest{
		FeedID:        r.PathValue("feedID"),
		SubjectRef:    body.SubjectRef,
		Language:      body.Language,
		FeedbackStyle: body.FeedbackStyle,
		GuideScore:    body.GuideScore,
		GuideFeedback: body.GuideFeedback,
		Refetch:       body.Refetch,
		UserID:        body.UserID,
	}

	// The request context doubles as the cancellation signal: a disconnected
	// client aborts in-flight provider calls and stops further steps.
	err := s.processor.ProcessFeed(r.Context(), req, emitter)
	if err != nil {
		s.logger.Error().Err(err).Str("feed_id", req.FeedID).Msg("feed processing failed")
	}

	// One trailing sentinel closes the feed-level unit of work.
	//nolint:errcheck // the stream is ending either way
	_ = emitter.Emit(r.Context(), domain.DoneEvent(""))
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.database.GetFeed(r.Context(), r.PathValue("feedID"))
	if err != nil {
		if errors.Is(err, db.ErrFeedNotFound) {
			http.Error(w, "feed not found", http.StatusNotFound)

			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set(headerContentType, contentTypeJSON)

	if err := json.NewEncoder(w).Encode(feed); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode feed")
	}
}

func (s *Server) handleGetSpeech(w http.ResponseWriter, r *http.Request) {
	speech, err := s.database.GetSpeech(r.Context(), r.PathValue("speechID"))
	if err != nil {
		if errors.Is(err, db.ErrSubjectNotFound) {
			http.Error(w, "speech not found", http.StatusNotFound)

			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set(headerContentType, contentTypeJSON)

	if err := json.NewEncoder(w).Encode(speech); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode speech")
	}
}

const maxRecordListLimit = 100

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	subjectRef := r.URL.Query().Get("subject_ref")
	criteria := r.URL.Query().Get("feedback_criteria")

	if subjectRef == "" || criteria == "" {
		http.Error(w, "subject_ref and feedback_criteria are required", http.StatusBadRequest)

		return
	}

	q := db.RecordQuery{
		OrderDesc:     true,
		Limit:         maxRecordListLimit,
		Source:        r.URL.Query().Get("source"),
		OnlyPreferred: r.URL.Query().Get("preferred") == "true",
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxRecordListLimit {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		q.Limit = limit
	}

	records, err := s.database.ListFeedbackRecords(r.Context(), subjectRef, criteria, q)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set(headerContentType, contentTypeJSON)

	if err := json.NewEncoder(w).Encode(map[string]any{"records": records}); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode records")
	}
}

// preferRecordRequest is the body of POST /v1/records/{recordID}/prefer.
type preferRecordRequest struct {
	SubjectRef       string `json:"subject_ref"`
	FeedbackCriteria string `json:"feedback_criteria"`
}

func (s *Server) handlePreferRecord(w http.ResponseWriter, r *http.Request) {
	var body preferRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if body.SubjectRef == "" || body.FeedbackCriteria == "" {
		http.Error(w, "subject_ref and feedback_criteria are required", http.StatusBadRequest)

		return
	}

	if err := s.database.SetPreferredRecord(r.Context(), body.SubjectRef, body.FeedbackCriteria, r.PathValue("recordID")); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// speechRequest is the body of POST /v1/tts.
type speechRequest struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Input    string  `json:"input"`
	Voice    string  `json:"voice"`
	Format   string  `json:"format"`
	Speed    float64 `json:"speed"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var body speechRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if body.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)

		return
	}

	audio, err := s.client.Speech(r.Context(), llm.SpeechSpec{
		Provider: body.Provider,
		Model:    body.Model,
		Input:    body.Input,
		Voice:    body.Voice,
		Format:   body.Format,
		Speed:    body.Speed,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("speech synthesis failed")
		http.Error(w, "speech synthesis failed", http.StatusBadGateway)

		return
	}

	w.Header().Set(headerContentType, "audio/mpeg")
	_, _ = w.Write(audio)
}

// phonemizeRequest is the body of POST /v1/phonemize.
type phonemizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (s *Server) handlePhonemize(w http.ResponseWriter, r *http.Request) {
	var body phonemizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if body.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)

		return
	}

	result, err := s.client.Phonemize(r.Context(), body.Text, body.Language)
	if err != nil {
		s.logger.Error().Err(err).Msg("phonemization failed")
		http.Error(w, "phonemization failed", http.StatusBadGateway)

		return
	}

	w.Header().Set(headerContentType, contentTypeJSON)

	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode phonemes")
	}
}

func (s *Server) allow(ip string) bool {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	limiter, ok := s.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rateLimitRequests), rateLimitBurst)
		s.limiters[ip] = limiter
	}

	return limiter.Allow()
}

func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}

		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
