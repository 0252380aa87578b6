package ports

import "log/slog"

// CallLogs hands out the per-bot protocol call log.
type CallLogs interface {
	// Logger returns the logger writing to the bot's call log.
	Logger(botID string) *slog.Logger

	// Archive moves the current call log aside so a restarted bot starts a fresh file.
	Archive(botID string) error
}
