// Package handler exposes the Twilio webhook endpoints and the audio
// blob route.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-agent/internal/domain"
	"voice-agent/internal/markup"
)

const (
	// PathVoice receives the call-start webhook.
	PathVoice = "/voice"
	// PathVoiceTurn receives every follow-up recording.
	PathVoiceTurn = "/voice/turn"
	// PathVoiceStatus receives call status callbacks.
	PathVoiceStatus = "/voice/status"
	// PathHealth answers liveness checks.
	PathHealth = "/healthz"
)

const contentTypeXML = "text/xml"

// TurnOrchestrator is the core the handler delegates each webhook to.
type TurnOrchestrator interface {
	HandleTurn(ctx context.Context, turn domain.CallTurn) domain.TurnOutcome
}

// AudioGetter serves the synthesized blobs referenced by rendered TwiML.
type AudioGetter interface {
	Get(ref string) ([]byte, bool)
}

// Handler answers Twilio webhooks. Every voice response is 200 text/xml:
// a failed turn still gets the fallback document, never a bare error
// status, because Twilio treats non-TwiML responses as a dead call.
type Handler struct {
	turns     TurnOrchestrator
	audio     AudioGetter
	endpoints markup.Endpoints
	logger    *slog.Logger
	started   time.Time
}

func NewHandler(turns TurnOrchestrator, audio AudioGetter, logger *slog.Logger) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("handler: turn orchestrator must not be nil")
	}
	if audio == nil {
		return nil, errors.New("handler: audio store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		turns:     turns,
		audio:     audio,
		endpoints: markup.Endpoints{TurnPath: PathVoiceTurn, StartPath: PathVoice},
		logger:    logger,
		started:   time.Now(),
	}, nil
}

// RegisterRoutes wires the webhook and audio routes onto the engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST(PathVoice, h.CallStart)
	r.POST(PathVoiceTurn, h.Turn)
	r.POST(PathVoiceStatus, h.Status)
	r.GET("/audio/:id", h.Audio)
	r.GET(PathHealth, h.Health)
}

// CallStart handles the greeting turn.
func (h *Handler) CallStart(c *gin.Context) {
	h.respond(c, domain.CallTurn{
		CallerPhone: c.PostForm("From"),
		IsFirstTurn: true,
	})
}

// Turn handles every follow-up turn. A missing RecordingUrl flows through
// as an empty utterance reference, which the orchestrator answers with a
// repeat request.
func (h *Handler) Turn(c *gin.Context) {
	h.respond(c, domain.CallTurn{
		CallerPhone:  c.PostForm("From"),
		UtteranceRef: c.PostForm("RecordingUrl"),
	})
}

// Status acknowledges call status callbacks.
func (h *Handler) Status(c *gin.Context) {
	h.logger.Info("call status",
		"callSid", c.PostForm("CallSid"),
		"status", c.PostForm("CallStatus"))
	c.Status(http.StatusOK)
}

// Health reports liveness and uptime.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Seconds(),
	})
}

// Audio serves a synthesized blob.
func (h *Handler) Audio(c *gin.Context) {
	data, ok := h.audio.Get(c.Param("id"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", data)
}

func (h *Handler) respond(c *gin.Context, turn domain.CallTurn) {
	outcome := h.turns.HandleTurn(c.Request.Context(), turn)

	doc, err := markup.Render(outcome, h.endpoints)
	if err != nil {
		h.logger.Error("twiml render failed", "err", err)
		doc = markup.Fallback(h.endpoints)
	}
	c.Header("Content-Type", contentTypeXML)
	c.String(http.StatusOK, doc)
}
