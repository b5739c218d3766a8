// Package speech turns reply text into a playable audio URL by combining
// the TTS vendor with the in-memory audio store.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Voice parameters from the production call flow.
const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "nova"
	defaultSpeed = 0.92
)

// SpeechClient is the vendor TTS capability.
type SpeechClient interface {
	Speak(ctx context.Context, model, voice, text string, speed float64) ([]byte, error)
}

// BlobStore retains audio long enough for the telephony provider to fetch it.
type BlobStore interface {
	Put(data []byte) string
}

// Synthesizer implements the text-to-speech capability consumed by the
// turn orchestrator, returning /audio/{id} URLs.
type Synthesizer struct {
	client        SpeechClient
	store         BlobStore
	publicBaseURL string
	model         string
	voice         string
	speed         float64
}

func New(client SpeechClient, store BlobStore, publicBaseURL string) (*Synthesizer, error) {
	if client == nil {
		return nil, errors.New("speech: client must not be nil")
	}
	if store == nil {
		return nil, errors.New("speech: blob store must not be nil")
	}
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL == "" {
		return nil, errors.New("speech: public base URL must not be empty")
	}
	return &Synthesizer{
		client:        client,
		store:         store,
		publicBaseURL: publicBaseURL,
		model:         defaultModel,
		voice:         defaultVoice,
		speed:         defaultSpeed,
	}, nil
}

// Synthesize renders text to speech and returns the URL Twilio plays it
// from.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	audio, err := s.client.Speak(ctx, s.model, s.voice, text, s.speed)
	if err != nil {
		return "", fmt.Errorf("speech: synthesize: %w", err)
	}
	ref := s.store.Put(audio)
	return s.publicBaseURL + "/audio/" + ref, nil
}
