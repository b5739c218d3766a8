package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"voice-agent/handler"
	"voice-agent/internal/assistant"
	"voice-agent/internal/audiostore"
	"voice-agent/internal/integrations/base44"
	"voice-agent/internal/integrations/openai"
	"voice-agent/internal/integrations/paramstore"
	"voice-agent/internal/repository"
	"voice-agent/internal/speech"
	"voice-agent/internal/transcribe"
	"voice-agent/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.Default()

	// Local development only; the deployed environment injects real vars.
	_ = godotenv.Load()

	// ---- Configuration (read only here) ----
	port := envStr("PORT", "10000")
	publicBaseURL := mustEnv("PUBLIC_BASE_URL")
	paramPrefix := mustEnv("PARAM_PREFIX")
	directoryBackend := envStr("DIRECTORY_BACKEND", "base44")
	chatModel := envStr("OPENAI_CHAT_MODEL", "gpt-4o-mini")
	nameRuneMax := envInt("NAME_RUNE_MAX", 28)
	audioCacheMax := envInt("AUDIO_CACHE_MAX", 256)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	var base44Client *base44.Client
	if url := os.Getenv("BASE44_URL"); url != "" {
		base44Client, err = base44.NewClient(url, ssmClient, paramPrefix)
		if err != nil {
			slog.Error("failed to create Base44 client", "err", err)
			os.Exit(1)
		}
	}

	// ---- Caller directory ----
	var directory usecase.CallerDirectory
	switch directoryBackend {
	case "dynamodb":
		table := mustEnv("CALLERS_TABLE")
		directory, err = repository.New(awsdynamodb.NewFromConfig(cfg), table)
		if err != nil {
			slog.Error("failed to create caller directory", "err", err)
			os.Exit(1)
		}
	case "base44":
		if base44Client == nil {
			slog.Error("directory backend is base44 but BASE44_URL is not set")
			os.Exit(1)
		}
		directory = base44Client
	default:
		slog.Error("unknown directory backend", "backend", directoryBackend)
		os.Exit(1)
	}

	// ---- Capabilities ----
	stt, err := transcribe.New(openaiClient)
	if err != nil {
		slog.Error("failed to create transcriber", "err", err)
		os.Exit(1)
	}

	var tickets assistant.TicketFiler
	if base44Client != nil {
		tickets = base44Client
	}
	replier, err := assistant.New(openaiClient, tickets, chatModel, logger)
	if err != nil {
		slog.Error("failed to create assistant", "err", err)
		os.Exit(1)
	}

	audio := audiostore.New(audioCacheMax)
	tts, err := speech.New(openaiClient, audio, publicBaseURL)
	if err != nil {
		slog.Error("failed to create synthesizer", "err", err)
		os.Exit(1)
	}

	// ---- Orchestrator + transport ----
	turns, err := usecase.NewTurnService(stt, directory, replier, tts, nameRuneMax, logger)
	if err != nil {
		slog.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(turns, audio, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	h.RegisterRoutes(router)

	logger.Info("voice agent listening", "port", port, "directory", directoryBackend)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
