package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"archive-bot/models"
	"archive-bot/platform"
	"archive-bot/utils"

	"github.com/bwmarrin/discordgo"
)

// Bot encapsulates the bot's state.
type Bot struct {
	Session   *discordgo.Session
	cfg       *models.ArchiveConfig
	scheduler *Scheduler
}

// NewSession creates a Discord session for the bot token. REST calls work without
// opening the gateway.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("no bot token provided")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions
	return dg, nil
}

// NewBot creates and initializes a new Bot instance.
func NewBot(cfg *models.ArchiveConfig) (*Bot, error) {
	dg, err := NewSession(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	return &Bot{Session: dg, cfg: cfg}, nil
}

// Start opens the gateway, routes warnings to the admin channel and starts the
// scheduled jobs.
func (b *Bot) Start() error {
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	utils.InitLogger(b.Session)

	source := platform.NewDiscordSource(b.Session, b.cfg.Archive.FetchReactions)
	b.scheduler = NewScheduler(b.cfg, Jobs{
		Archive: func(ctx context.Context) error {
			_, err := ArchiveAll(ctx, b.cfg, source, "")
			return err
		},
		Audit: func(ctx context.Context) error {
			report, err := AuditAll(ctx, b.cfg, "")
			if err == nil && !report.Passed() {
				utils.Warn("audit", "scheduled", report.String())
			}
			return err
		},
	})
	if err := b.scheduler.Start(); err != nil {
		b.Session.Close()
		return err
	}

	log.Println("Bot is now running. Press CTRL-C to exit.")
	return nil
}

// Stop gracefully closes the bot's session.
func (b *Bot) Stop() {
	if b.scheduler != nil {
		b.scheduler.Stop()
	}
	utils.ResetLogger()
	if b.Session != nil {
		b.Session.Close()
	}
	log.Println("Bot stopped gracefully.")
}

// Run starts the bot and blocks until SIGINT or SIGTERM.
func Run(cfg *models.ArchiveConfig) error {
	bot, err := NewBot(cfg)
	if err != nil {
		return fmt.Errorf("error initializing bot: %w", err)
	}
	if err := bot.Start(); err != nil {
		return fmt.Errorf("error starting bot: %w", err)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	bot.Stop()
	return nil
}
