package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	"github.com/stupiduntilnot/tgrelay/internal/config"
	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	"github.com/stupiduntilnot/tgrelay/internal/conversation"
	"github.com/stupiduntilnot/tgrelay/internal/db"
	"github.com/stupiduntilnot/tgrelay/internal/dummy"
	"github.com/stupiduntilnot/tgrelay/internal/logger"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/openai"
	"github.com/stupiduntilnot/tgrelay/internal/relay"
	"github.com/stupiduntilnot/tgrelay/internal/telegram"
)

const relayLongDesc string = `Relay Telegram messages to an OpenAI-compatible LLM endpoint.

Each chat keeps its own conversation history in memory. Every request carries
the system prompt, the last two exchanges of the chat and the new message.

Configuration is read from the .env file and the environment:
  TELEGRAM_BOT_TOKEN  bot token from @BotFather
  YA_API_KEY          API key for the LLM endpoint
  YA_FOLDER_ID        folder that owns the model

Examples:
  relay
  relay --env-file /etc/relay/.env --prompt prompts/support.txt --debug`

const relayShortDesc string = "Telegram to LLM relay bot"

type relayCommander struct {
	envFile    string
	promptFile string
	debug      bool
}

func newRootCmd() *cobra.Command {
	cmder := &relayCommander{}

	cmd := &cobra.Command{
		Use:          "relay",
		Short:        relayShortDesc,
		Long:         relayLongDesc,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.envFile, "env-file", "e", config.DefaultEnvFile, "Path to the .env file (empty reads the environment only)")
	cmd.Flags().StringVarP(&cmder.promptFile, "prompt", "p", "", "Path to the system prompt file (overrides RELAY_PROMPT_FILE)")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newEventsCmd())

	return cmd
}

func (c *relayCommander) run(ctx context.Context) error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return err
	}
	if c.promptFile != "" {
		cfg.PromptFile = c.promptFile
	}
	systemPrompt, err := config.LoadSystemPrompt(cfg.PromptFile)
	if err != nil {
		return err
	}

	log := logger.NewLogger(c.debug || cfg.Debug)
	defer log.Sync()

	var journal conversation.Journal
	var processEventID *int64
	offset := int64(0)
	if cfg.JournalPath != "" {
		database, err := openJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer database.Close()
		journal = &db.Journal{DB: database}

		id, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
			"role":      "relay",
			"pid":       os.Getpid(),
			"provider":  cfg.ModelProvider,
			"commander": cfg.Commander,
			"model":     cfg.ModelURI(),
		})
		if err != nil {
			log.Warn("failed to log process.started", zap.Error(err))
		} else {
			processEventID = &id
			defer db.LogEvent(database, processEventID, db.EventProcessStopped, nil)
		}
		if offset, err = db.DeriveOffset(database); err != nil {
			log.Warn("failed to derive polling offset", zap.Error(err))
		}
	}

	commander, err := newCommander(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	provider := newModelProvider(&cfg, log)

	store := ctxpkg.NewStore()
	service := conversation.NewService(provider, store, conversation.Config{
		SystemPrompt: systemPrompt,
		Model:        cfg.ModelURI(),
	}, log, conversation.WithJournal(journal))

	bot := relay.New(commander, service, journal, log, relay.Options{
		PollTimeout:    cfg.Timeout,
		Sleep:          time.Duration(cfg.SleepSeconds) * time.Second,
		Offset:         offset,
		ProcessEventID: processEventID,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("relay running",
		zap.String("model", cfg.ModelURI()),
		zap.String("provider", cfg.ModelProvider),
		zap.String("commander", cfg.Commander),
		zap.String("prompt", cfg.PromptFile),
		zap.Int64("offset", offset),
	)
	err = bot.Run(ctx)
	log.Info("relay stopped", zap.Int("sessions", store.Sessions()))
	return err
}

func openJournal(path string) (*sql.DB, error) {
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to init journal schema: %w", err)
	}
	return database, nil
}

func newCommander(cfg *config.RelayConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

// newModelProvider never fails: a client that cannot be built is logged and
// replaced by one that reports the construction error on every request.
func newModelProvider(cfg *config.RelayConfig, log *zap.Logger) modelpkg.Provider {
	var (
		provider modelpkg.Provider
		err      error
	)
	switch cfg.ModelProvider {
	case "openai":
		provider, err = newOpenAI(cfg)
	case "dummy":
		provider, err = dummy.NewProvider(cfg.ModelURI(), cfg.DummyProviderScript)
	default:
		err = fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
	if err != nil {
		log.Error("model client authorization failed: check account settings and API key scope", zap.Error(err))
		return modelpkg.Unavailable{Err: err}
	}
	return provider
}

func newOpenAI(cfg *config.RelayConfig) (modelpkg.Provider, error) {
	c, err := openai.NewClient(cfg.LLMAPIKey, cfg.LLMBaseURL, time.Duration(cfg.LLMTimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	return c, nil
}
