// Package assistant produces the bot's spoken answers. Urgent-damage
// detection lives here rather than in the turn orchestrator: it is
// inference policy, not call mechanics.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"voice-agent/internal/domain"
)

// systemPrompt is the persona the bot answers with.
const systemPrompt = `Du bist Klaudi, die ruhige, freundliche, extrem intelligente Voice-Assistentin von HOMQ.

SPRACHSTIL:
- Maximal 2-3 kurze Sätze pro Antwort.
- Keine technischen Details.
- Telefon-optimiert.

AUFGABEN:
1. Anliegen erkennen.
2. Rückfragen stellen, wenn unklar.
3. Schäden erkennen (Wasser, Heizung, Strom, Notfall).
4. Daten niemals erfinden. Keine falschen Aussagen.

OUTPUT:
- Nur Klartext. Keine Formatierung.`

// urgentSuffix is appended to the answer when the caller reports damage.
const urgentSuffix = " Ich habe dein Anliegen als dringenden Schaden erkannt und leite sofort alles ein."

const ticketPriorityUrgent = "dringend"

// urgentPattern matches caller utterances that describe damage needing
// immediate handling.
var urgentPattern = regexp.MustCompile(`(?i)wasser|rohr|leck|heizung|brand|strom`)

// LLMClient is the chat-completion capability the assistant runs on.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// TicketFiler files an issue on behalf of a caller. Optional; a nil filer
// disables automatic tickets.
type TicketFiler interface {
	FileTicket(ctx context.Context, phone, summary, priority string) error
}

// Service answers caller transcripts.
type Service struct {
	llm     LLMClient
	tickets TicketFiler
	model   string
	logger  *slog.Logger
}

func New(llm LLMClient, tickets TicketFiler, model string, logger *slog.Logger) (*Service, error) {
	if llm == nil {
		return nil, errors.New("assistant: llm client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("assistant: model must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{llm: llm, tickets: tickets, model: model, logger: logger}, nil
}

// Reply asks the model for an answer to the transcript. A nil caller means
// the directory was unreachable; the prompt then omits personalization.
func (s *Service) Reply(ctx context.Context, caller *domain.CallerRecord, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", errors.New("assistant: transcript must not be empty")
	}

	answer, err := s.llm.Chat(ctx, s.model, buildMessages(caller, transcript))
	if err != nil {
		return "", fmt.Errorf("assistant: chat: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errors.New("assistant: empty answer from model")
	}

	if urgentPattern.MatchString(transcript) {
		answer += urgentSuffix
		s.fileUrgentTicket(ctx, caller, transcript)
	}
	return answer, nil
}

// fileUrgentTicket is a best-effort side effect; failures are logged and
// never change the spoken answer.
func (s *Service) fileUrgentTicket(ctx context.Context, caller *domain.CallerRecord, transcript string) {
	if s.tickets == nil {
		return
	}
	phone := ""
	if caller != nil {
		phone = caller.PhoneNumber
	}
	if err := s.tickets.FileTicket(ctx, phone, transcript, ticketPriorityUrgent); err != nil {
		s.logger.Warn("ticket creation failed", "phone", phone, "err", err)
	}
}

func buildMessages(caller *domain.CallerRecord, transcript string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: systemPrompt},
	}
	if caller != nil && caller.DisplayName != "" {
		messages = append(messages, domain.ChatMessage{
			Role:    "system",
			Content: fmt.Sprintf("Der Anrufer heißt %s. Sprich ihn bei Bedarf mit Namen an.", caller.DisplayName),
		})
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: transcript})
}
