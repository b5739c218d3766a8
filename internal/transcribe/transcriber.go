// Package transcribe adapts the vendor STT client to the utterance
// references Twilio hands us.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultModel = "gpt-4o-mini-transcribe"

// TranscriptionClient is the vendor STT capability.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, model, audioURL string) (string, error)
}

// Service implements the speech-to-text capability consumed by the turn
// orchestrator.
type Service struct {
	client TranscriptionClient
	model  string
}

func New(client TranscriptionClient) (*Service, error) {
	if client == nil {
		return nil, errors.New("transcribe: client must not be nil")
	}
	return &Service{client: client, model: defaultModel}, nil
}

// Transcribe resolves the recording behind utteranceRef into text. Twilio
// RecordingUrl values carry no extension; the .wav suffix selects the
// uncompressed rendition.
func (s *Service) Transcribe(ctx context.Context, utteranceRef string) (string, error) {
	utteranceRef = strings.TrimSpace(utteranceRef)
	if utteranceRef == "" {
		return "", errors.New("transcribe: utterance reference must not be empty")
	}
	if !strings.HasSuffix(utteranceRef, ".wav") && !strings.HasSuffix(utteranceRef, ".mp3") {
		utteranceRef += ".wav"
	}

	text, err := s.client.Transcribe(ctx, s.model, utteranceRef)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}
