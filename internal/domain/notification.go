package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is an admin alert emitted when a bot exhausts its error budget.
type Notification struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	BotName   string    `json:"bot_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEscalation builds the notification for a threshold crossing.
func NewEscalation(bot BotIdentity, errorCount int, lastErr error, now time.Time) Notification {
	msg := fmt.Sprintf("Bot %s has %d consecutive errors.", bot.ID, errorCount)
	if lastErr != nil {
		msg += " Last error: " + lastErr.Error()
	}
	return Notification{
		ID:        uuid.New().String(),
		BotID:     bot.ID,
		BotName:   bot.Name,
		Message:   msg,
		Timestamp: now,
	}
}
