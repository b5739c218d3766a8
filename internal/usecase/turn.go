package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"voice-agent/internal/domain"
)

// defaultNameRuneMax is the short-utterance threshold for treating a
// transcript as the caller stating their name. Heuristic, tunable via
// NewTurnService; anything at or below the bound counts as a name.
const defaultNameRuneMax = 28

// Fixed caller-facing sentences. The bot speaks German.
const (
	GreetingKnownFmt  = "Hallo %s, hier ist Klaudi von HOMQ. Wie kann ich dir helfen?"
	GreetingAnonymous = "Hallo, hier ist Klaudi von HOMQ. Wie darf ich dich nennen?"
	RepeatRequest     = "Entschuldigung, ich habe dich nicht verstanden. Kannst du das bitte wiederholen?"
	Apology           = "Es tut mir leid, da ist gerade etwas schiefgelaufen. Kannst du das bitte noch einmal sagen?"
)

// Transcriber resolves an opaque utterance reference into text.
type Transcriber interface {
	Transcribe(ctx context.Context, utteranceRef string) (string, error)
}

// CallerDirectory maps phone identifiers to persisted caller records.
// LookupOrCreate must be atomic per phone number; that guarantee lives in
// the backing implementation, not here.
type CallerDirectory interface {
	LookupOrCreate(ctx context.Context, phone string) (domain.CallerRecord, error)
	SetName(ctx context.Context, id, name string) error
}

// Replier produces the assistant's answer to a transcript. A nil caller
// means the directory was unreachable and the caller is anonymous.
type Replier interface {
	Reply(ctx context.Context, caller *domain.CallerRecord, transcript string) (string, error)
}

// Synthesizer converts text into a playable audio reference.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// TurnService owns the per-call conversation loop. Every collaborator is
// independently fallible; no single failure aborts a turn.
type TurnService struct {
	stt         Transcriber
	directory   CallerDirectory
	assistant   Replier
	tts         Synthesizer
	nameRuneMax int
	logger      *slog.Logger
}

func NewTurnService(stt Transcriber, directory CallerDirectory, assistant Replier, tts Synthesizer, nameRuneMax int, logger *slog.Logger) (*TurnService, error) {
	if stt == nil {
		return nil, errors.New("usecase: transcriber must not be nil")
	}
	if directory == nil {
		return nil, errors.New("usecase: caller directory must not be nil")
	}
	if assistant == nil {
		return nil, errors.New("usecase: replier must not be nil")
	}
	if tts == nil {
		return nil, errors.New("usecase: synthesizer must not be nil")
	}
	if nameRuneMax <= 0 {
		nameRuneMax = defaultNameRuneMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnService{
		stt:         stt,
		directory:   directory,
		assistant:   assistant,
		tts:         tts,
		nameRuneMax: nameRuneMax,
		logger:      logger,
	}, nil
}

// HandleTurn runs one webhook-triggered exchange and always returns an
// outcome: a telephony session that gets no response at all is worse than
// one that gets an apology, so even a panic inside a collaborator is
// converted into the generic apology path.
func (s *TurnService) HandleTurn(ctx context.Context, turn domain.CallTurn) (out domain.TurnOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn panicked", "phone", turn.CallerPhone, "panic", r)
			out = domain.TurnOutcome{SpokenText: Apology, NextAction: domain.AwaitRecording}
		}
	}()
	out = s.handleTurn(ctx, turn)
	return out
}

func (s *TurnService) handleTurn(ctx context.Context, turn domain.CallTurn) domain.TurnOutcome {
	var caller *domain.CallerRecord
	rec, err := s.directory.LookupOrCreate(ctx, turn.CallerPhone)
	if err != nil {
		// Unreachable directory degrades to an anonymous caller.
		s.logger.Warn("caller lookup failed", "phone", turn.CallerPhone, "err", err)
	} else {
		caller = &rec
	}

	out := domain.TurnOutcome{NextAction: domain.AwaitRecording}
	speak := true
	if turn.IsFirstTurn {
		out.SpokenText = greeting(caller)
	} else {
		out.SpokenText, speak = s.respond(ctx, caller, turn)
	}

	// The repeat request is delivered as a plain Say verb; no synthesis.
	if !speak {
		return out
	}

	audioRef, err := s.tts.Synthesize(ctx, out.SpokenText)
	if err != nil {
		// Markup layer falls back to a plain Say verb.
		s.logger.Warn("speech synthesis failed", "err", err)
	} else {
		out.AudioRef = audioRef
	}
	return out
}

// respond handles a follow-up turn: transcribe, maybe learn the caller's
// name, then ask the assistant. The second return reports whether the text
// should be synthesized; an unusable transcript short-circuits before the
// assistant and speech collaborators are touched.
func (s *TurnService) respond(ctx context.Context, caller *domain.CallerRecord, turn domain.CallTurn) (string, bool) {
	transcript, err := s.stt.Transcribe(ctx, turn.UtteranceRef)
	transcript = strings.TrimSpace(transcript)
	if err != nil || transcript == "" {
		if err != nil {
			s.logger.Warn("transcription failed", "ref", turn.UtteranceRef, "err", err)
		}
		return RepeatRequest, false
	}

	if s.looksLikeName(caller, transcript) {
		if err := s.directory.SetName(ctx, caller.ID, transcript); err != nil {
			// Best effort only; the caller never hears about this.
			s.logger.Warn("name update failed", "caller", caller.ID, "err", err)
		} else {
			caller.DisplayName = transcript
		}
	}

	answer, err := s.assistant.Reply(ctx, caller, transcript)
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			s.logger.Warn("assistant reply failed", "err", err)
		}
		return Apology, true
	}
	return answer, true
}

// looksLikeName reports whether the transcript should be recorded as the
// caller's name: the caller is known, has no name yet, and the utterance
// is short enough to plausibly be one.
func (s *TurnService) looksLikeName(caller *domain.CallerRecord, transcript string) bool {
	if caller == nil || caller.DisplayName != "" {
		return false
	}
	return utf8.RuneCountInString(transcript) <= s.nameRuneMax
}

func greeting(caller *domain.CallerRecord) string {
	if caller != nil && caller.DisplayName != "" {
		return fmt.Sprintf(GreetingKnownFmt, caller.DisplayName)
	}
	return GreetingAnonymous
}
