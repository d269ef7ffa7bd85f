package config

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"archive-bot/models"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration into the global viper instance from several sources:
// 1. .env (environment variables)
// 2. config.yaml (base configuration)
// 3. config/archive_channels.json (channel targets, merged into the base)
// Environment variables override file settings of the same name.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found, skipping.")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to parse config.yaml: %w", err)
		}
		log.Printf("config.yaml not found, using environment variables and defaults.")
	}

	viper.SetConfigName("archive_channels")
	viper.SetConfigType("json")
	viper.AddConfigPath("./config")

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to merge config/archive_channels.json: %w", err)
		}
		log.Printf("config/archive_channels.json not found, skipping merge.")
	}
	return nil
}

// Load runs LoadConfig and decodes the result.
func Load() (*models.ArchiveConfig, error) {
	if err := LoadConfig(); err != nil {
		return nil, err
	}
	return Decode(viper.GetViper())
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", "Output")
	v.SetDefault("archive.page_size", 100)
	v.SetDefault("archive.page_delay", "1s")
	v.SetDefault("archive.retry_backoff", "5s")
	v.SetDefault("archive.max_retries", 3)
	v.SetDefault("archive.fetch_reactions", true)
	v.SetDefault("archive.lease_ttl", "30m")
	v.SetDefault("archive.schedule", "@hourly")
	v.SetDefault("audit.schedule", "@daily")
	v.SetDefault("audit.monotonic_tolerance_ms", 5000)
	v.SetDefault("audit.content_max_length", 4000)
	v.SetDefault("audit.mirror_dsn", "")
	v.SetDefault("backfill.spot_check_size", 5)
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("bot_token", "")
	// The token is conventionally provided as BOT_TOKEN.
	_ = v.BindEnv("bot_token", "BOT_TOKEN")
}

// Decode applies defaults to v and unmarshals it into an ArchiveConfig.
func Decode(v *viper.Viper) (*models.ArchiveConfig, error) {
	SetDefaults(v)

	var cfg models.ArchiveConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output_dir must not be empty")
	}
	return &cfg, nil
}

// Channels flattens the configured archive targets, ordered by guild then channel.
func Channels(cfg *models.ArchiveConfig) []models.ChannelRef {
	var refs []models.ChannelRef
	for guildID, guild := range cfg.Channels {
		for _, channelID := range guild.Channels {
			refs = append(refs, models.ChannelRef{GuildID: guildID, ID: channelID})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].GuildID != refs[j].GuildID {
			return refs[i].GuildID < refs[j].GuildID
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}

// ChannelsForGuild returns the configured targets of one guild.
func ChannelsForGuild(cfg *models.ArchiveConfig, guildID string) []models.ChannelRef {
	var refs []models.ChannelRef
	for _, ref := range Channels(cfg) {
		if ref.GuildID == guildID {
			refs = append(refs, ref)
		}
	}
	return refs
}
