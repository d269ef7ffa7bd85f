package utils

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/viper"
)

const (
	ColorWarn  = 0xffff00 // Yellow
	ColorError = 0xff0000 // Red
)

// EmbedSender is the part of a discordgo session the logger needs.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var (
	mu        sync.RWMutex
	sender    EmbedSender
	channelID string
)

// InitLogger routes WARN and ERROR lines to the admin channel as embeds.
// INFO lines only go to the process log to stay under the channel rate limit.
func InitLogger(s EmbedSender) {
	mu.Lock()
	defer mu.Unlock()
	sender = s
	channelID = viper.GetString("bot.adminChannelId")
	if channelID == "" {
		slog.Warn("bot.adminChannelId is not set, logging to channel is disabled")
	}
}

// ResetLogger detaches the admin channel.
func ResetLogger() {
	mu.Lock()
	defer mu.Unlock()
	sender = nil
	channelID = ""
}

// Log writes a structured line and mirrors it to the admin channel when configured.
func Log(level, module, operation, details string) {
	attrs := []any{"module", module, "operation", operation, "details", details}
	switch level {
	case "WARN":
		slog.Warn(operation, attrs...)
	case "ERROR":
		slog.Error(operation, attrs...)
	default:
		slog.Info(operation, attrs...)
	}

	mu.RLock()
	s, target := sender, channelID
	mu.RUnlock()
	if s == nil || target == "" || level == "INFO" {
		return
	}

	color := ColorWarn
	if level == "ERROR" {
		color = ColorError
	}

	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Log Level: %s", level),
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Module",
				Value:  module,
				Inline: true,
			},
			{
				Name:   "Operation",
				Value:  operation,
				Inline: true,
			},
			{
				Name:  "Details",
				Value: truncate(details, 1024),
			},
		},
	}

	if _, err := s.ChannelMessageSendEmbed(target, embed); err != nil {
		slog.Error("failed to send log embed", "error", err)
	}
}

// Info logs an informational message.
func Info(module, operation, details string) {
	Log("INFO", module, operation, details)
}

// Warn logs a warning message.
func Warn(module, operation, details string) {
	Log("WARN", module, operation, details)
}

// Error logs an error message.
func Error(module, operation, details string) {
	Log("ERROR", module, operation, details)
}

// embed field values are capped by the platform
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
