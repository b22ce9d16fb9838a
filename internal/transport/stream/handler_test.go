package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/core/llm"
	"github.com/ieltslab/feedback-engine/internal/platform/config"
	"github.com/ieltslab/feedback-engine/internal/process/feedback"
)

const testToken = "test-token"

// fakeProcessor scripts ProcessFeed and records what it was called with.
type fakeProcessor struct {
	err     error
	lastReq feedback.ProcessRequest
}

func (f *fakeProcessor) ProcessFeed(ctx context.Context, req feedback.ProcessRequest, emit feedback.Emitter) error {
	f.lastReq = req

	if f.err != nil {
		//nolint:errcheck // mirroring the orchestrator's best-effort error event
		_ = emit.Emit(ctx, domain.ErrorEvent(domain.EventFeedError, map[string]string{"message": f.err.Error()}))

		return f.err
	}

	if err := emit.Emit(ctx, domain.DataEvent(domain.EventFeedStart, map[string]string{"feed_id": req.FeedID})); err != nil {
		return err
	}

	return emit.Emit(ctx, domain.DataEvent(domain.EventFeedComplete, map[string]string{"feed_id": req.FeedID}))
}

// fakeSpeechClient implements llm.Client for the synthesis endpoint.
type fakeSpeechClient struct {
	audio []byte
	err   error
}

func (f *fakeSpeechClient) Complete(context.Context, domain.CallSpec) (*llm.Response, error) {
	return nil, llm.ErrUnknownProvider
}

func (f *fakeSpeechClient) CompleteStream(context.Context, domain.CallSpec, llm.StreamHandler) (*llm.Response, error) {
	return nil, llm.ErrUnknownProvider
}

func (f *fakeSpeechClient) CompleteParallel(context.Context, domain.CallSpec) ([]llm.Response, error) {
	return nil, llm.ErrUnknownProvider
}

func (f *fakeSpeechClient) Transcribe(context.Context, llm.TranscribeSpec) (*llm.Transcription, error) {
	return nil, llm.ErrUnknownProvider
}

func (f *fakeSpeechClient) TranscribeBatch(context.Context, []llm.TranscribeSpec) ([]llm.Transcription, error) {
	return nil, llm.ErrUnknownProvider
}

func (f *fakeSpeechClient) Phonemize(_ context.Context, text, _ string) (*llm.PhonemeResult, error) {
	return &llm.PhonemeResult{Phonemes: "/" + text + "/"}, nil
}

func (f *fakeSpeechClient) Speech(context.Context, llm.SpeechSpec) ([]byte, error) {
	return f.audio, f.err
}

func newTestServer(processor FeedProcessor, client llm.Client) *Server {
	cfg := &config.Config{APIToken: testToken}
	logger := zerolog.Nop()

	return NewServer(cfg, processor, client, nil, &logger)
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testToken)

	return req
}

func TestHandleProcessFeed_StreamsEvents(t *testing.T) {
	processor := &fakeProcessor{}
	server := newTestServer(processor, &fakeSpeechClient{})

	body := strings.NewReader(`{"subject_ref":"subj-1","language":"en","refetch":"scoring"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/feeds/feed-1/process", body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeSSE, rec.Header().Get(headerContentType))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	assert.Equal(t, "feed-1", processor.lastReq.FeedID)
	assert.Equal(t, "subj-1", processor.lastReq.SubjectRef)
	assert.Equal(t, "scoring", processor.lastReq.Refetch)

	out := rec.Body.String()
	assert.Contains(t, out, "event: feed_start\n")
	assert.Contains(t, out, "event: feed_complete\n")
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"), "stream must end with the done sentinel, got %q", out)
}

func TestHandleProcessFeed_FailureStillSendsSentinel(t *testing.T) {
	processor := &fakeProcessor{err: assert.AnError}
	server := newTestServer(processor, &fakeSpeechClient{})

	body := strings.NewReader(`{"subject_ref":"subj-1"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/feeds/feed-1/process", body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, "event: feed_error\n")
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestHandleProcessFeed_RequiresSubjectRef(t *testing.T) {
	server := newTestServer(&fakeProcessor{}, &fakeSpeechClient{})

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/feeds/feed-1/process", strings.NewReader(`{}`)))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth_RejectsMissingAndWrongTokens(t *testing.T) {
	server := newTestServer(&fakeProcessor{}, &fakeSpeechClient{})
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/feeds/feed-1/process", strings.NewReader(`{"subject_ref":"s"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/feeds/feed-1/process", strings.NewReader(`{"subject_ref":"s"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSpeech(t *testing.T) {
	client := &fakeSpeechClient{audio: []byte("mp3-bytes")}
	server := newTestServer(&fakeProcessor{}, client)

	body := strings.NewReader(`{"provider":"open-ai","model":"tts-1","input":"hello","voice":"alloy"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/tts", body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get(headerContentType))
	assert.Equal(t, "mp3-bytes", rec.Body.String())
}

func TestHandleSpeech_RequiresInput(t *testing.T) {
	server := newTestServer(&fakeProcessor{}, &fakeSpeechClient{})

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/tts", strings.NewReader(`{"voice":"alloy"}`)))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePhonemize(t *testing.T) {
	server := newTestServer(&fakeProcessor{}, &fakeSpeechClient{})

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/phonemize", strings.NewReader(`{"text":"word","language":"en"}`)))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"phonemes":"/word/","tokens":null}`, rec.Body.String())
}

func TestHandleListRecords_RequiresSubjectAndCriteria(t *testing.T) {
	server := newTestServer(&fakeProcessor{}, &fakeSpeechClient{})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/records?subject_ref=s-1", nil))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePreferRecord_RequiresScope(t *testing.T) {
	server := newTestServer(&fakeProcessor{}, &fakeSpeechClient{})

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/records/rec-1/prefer", strings.NewReader(`{"subject_ref":"s-1"}`)))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}
