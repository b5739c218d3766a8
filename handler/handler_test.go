package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"voice-agent/internal/domain"
)

type stubOrchestrator struct {
	outcome  domain.TurnOutcome
	seenTurn domain.CallTurn
	calls    int
}

func (s *stubOrchestrator) HandleTurn(_ context.Context, turn domain.CallTurn) domain.TurnOutcome {
	s.calls++
	s.seenTurn = turn
	return s.outcome
}

type stubAudio struct {
	blobs map[string][]byte
}

func (s *stubAudio) Get(ref string) ([]byte, bool) {
	data, ok := s.blobs[ref]
	return data, ok
}

func newTestRouter(t *testing.T, orch *stubOrchestrator, audio *stubAudio) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if audio == nil {
		audio = &stubAudio{blobs: map[string][]byte{}}
	}
	h, err := NewHandler(orch, audio, nil)
	require.NoError(t, err)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func postForm(r *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubAudio{}, nil)
	require.Error(t, err)
	_, err = NewHandler(&stubOrchestrator{}, nil, nil)
	require.Error(t, err)
}

func TestCallStart_FirstCall_AsksForName(t *testing.T) {
	orch := &stubOrchestrator{outcome: domain.TurnOutcome{
		SpokenText: "Hallo, hier ist Klaudi von HOMQ. Wie darf ich dich nennen?",
		NextAction: domain.AwaitRecording,
		AudioRef:   "https://bot.example.com/audio/blob-1",
	}}
	r := newTestRouter(t, orch, nil)

	w := postForm(r, PathVoice, url.Values{"From": {"+491701234567"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/xml")

	require.Equal(t, 1, orch.calls)
	require.True(t, orch.seenTurn.IsFirstTurn)
	require.Equal(t, "+491701234567", orch.seenTurn.CallerPhone)
	require.Empty(t, orch.seenTurn.UtteranceRef)

	body := w.Body.String()
	require.Contains(t, body, "<Play>https://bot.example.com/audio/blob-1</Play>")
	require.Contains(t, body, "<Record")
	require.Contains(t, body, `action="/voice/turn"`)
}

func TestTurn_PassesRecordingURLThrough(t *testing.T) {
	orch := &stubOrchestrator{outcome: domain.TurnOutcome{
		SpokenText: "Ich habe einen dringenden Schaden erkannt.",
		NextAction: domain.AwaitRecording,
		AudioRef:   "https://bot.example.com/audio/blob-2",
	}}
	r := newTestRouter(t, orch, nil)

	w := postForm(r, PathVoiceTurn, url.Values{
		"From":         {"+491701234567"},
		"RecordingUrl": {"https://api.twilio.com/recordings/RE1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, orch.seenTurn.IsFirstTurn)
	require.Equal(t, "https://api.twilio.com/recordings/RE1", orch.seenTurn.UtteranceRef)
	require.Contains(t, w.Body.String(), "<Play>https://bot.example.com/audio/blob-2</Play>")
}

func TestTurn_SynthesisFailure_FallsBackToSay(t *testing.T) {
	orch := &stubOrchestrator{outcome: domain.TurnOutcome{
		SpokenText: "Es tut mir leid.",
		NextAction: domain.AwaitRecording,
	}}
	r := newTestRouter(t, orch, nil)

	w := postForm(r, PathVoiceTurn, url.Values{"From": {"+491701234567"}})
	body := w.Body.String()
	require.Contains(t, body, "Es tut mir leid.")
	require.Contains(t, body, "<Say")
	require.NotContains(t, body, "<Play>")
}

func TestTurn_EndCall_RendersHangup(t *testing.T) {
	orch := &stubOrchestrator{outcome: domain.TurnOutcome{
		SpokenText: "Auf Wiederhören.",
		NextAction: domain.EndCall,
	}}
	r := newTestRouter(t, orch, nil)

	w := postForm(r, PathVoiceTurn, url.Values{"From": {"+491701234567"}})
	body := w.Body.String()
	require.Contains(t, body, "<Hangup")
	require.NotContains(t, body, "<Record")
}

func TestStatus_Returns200(t *testing.T) {
	r := newTestRouter(t, &stubOrchestrator{}, nil)

	w := postForm(r, PathVoiceStatus, url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"completed"},
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAudio_ServesBlob(t *testing.T) {
	audio := &stubAudio{blobs: map[string][]byte{"blob-1": []byte("ID3mp3")}}
	r := newTestRouter(t, &stubOrchestrator{}, audio)

	req := httptest.NewRequest(http.MethodGet, "/audio/blob-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	require.Equal(t, "ID3mp3", w.Body.String())
}

func TestHealth_ReportsStatusAndUptime(t *testing.T) {
	r := newTestRouter(t, &stubOrchestrator{}, nil)

	req := httptest.NewRequest(http.MethodGet, PathHealth, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/json")
	require.Contains(t, w.Body.String(), `"status":"ok"`)
	require.Contains(t, w.Body.String(), `"uptime"`)
}

func TestAudio_UnknownRef_Returns404(t *testing.T) {
	r := newTestRouter(t, &stubOrchestrator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/audio/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
