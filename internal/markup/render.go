// Package markup renders turn outcomes into the TwiML documents Twilio
// executes to drive the call flow.
package markup

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"

	"voice-agent/internal/domain"
)

// Recording parameters from the production call flow: no beep, silence
// trimmed, utterances capped at 15 seconds.
const (
	recordMaxLength = "15"
	recordTrim      = "trim-silence"
	sayLanguage     = "de-DE"
	sayVoice        = "Polly.Vicki"
)

// Endpoints names the webhook paths the rendered document points at.
type Endpoints struct {
	// TurnPath receives the caller's next recording.
	TurnPath string
	// StartPath restarts the conversation loop; used by the canned
	// fallback document.
	StartPath string
}

// Render converts a TurnOutcome into a TwiML document: play the
// synthesized audio (or say the text when synthesis failed), then either
// record the caller's next utterance or hang up. Pure function of its
// inputs.
func Render(out domain.TurnOutcome, ep Endpoints) (string, error) {
	verbs := make([]twiml.Element, 0, 2)

	if out.AudioRef != "" {
		verbs = append(verbs, &twiml.VoicePlay{Url: out.AudioRef})
	} else {
		verbs = append(verbs, &twiml.VoiceSay{
			Message:  out.SpokenText,
			Voice:    sayVoice,
			Language: sayLanguage,
		})
	}

	switch out.NextAction {
	case domain.EndCall:
		verbs = append(verbs, &twiml.VoiceHangup{})
	default:
		verbs = append(verbs, &twiml.VoiceRecord{
			Action:    ep.TurnPath,
			PlayBeep:  "false",
			Trim:      recordTrim,
			MaxLength: recordMaxLength,
		})
	}

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("markup: render twiml: %w", err)
	}
	return doc, nil
}

// Fallback is the last-resort document returned when a turn could not be
// handled or rendered at all: apologize and route the call back to the
// start endpoint. Built from a fixed template so it cannot itself fail.
func Fallback(ep Endpoints) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Say voice=%q language=%q>Es ist ein Fehler aufgetreten. Einen Moment bitte.</Say><Redirect method="POST">%s</Redirect></Response>`,
		sayVoice, sayLanguage, ep.StartPath)
}
