package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// Console prints fleet state as tables and escalations as single lines.
// It implements ports.EscalationSink.
type Console struct {
	out io.Writer
}

// NewConsole crea un Console que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un Console para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Notify prints one escalation line.
func (c *Console) Notify(_ context.Context, n domain.Notification) error {
	_, err := fmt.Fprintf(c.out, "[%s] ESCALATION %s (%s): %s\n",
		n.Timestamp.Local().Format("15:04:05"), n.BotID, n.BotName, n.Message)
	return err
}

// PrintBots prints the bot list.
func (c *Console) PrintBots(bots []domain.BotRecord) {
	if len(bots) == 0 {
		fmt.Fprintln(c.out, "No bots registered")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Name", "Account", "App", "Proxy", "State", "Errors", "Last cycle", "Created")
	for _, b := range bots {
		table.Append(
			b.Identity.ID,
			compactName(b.Identity.Name, 24),
			b.Identity.AccountName,
			strconv.Itoa(b.Identity.GameAppID),
			compactName(b.Identity.ProxyRef, 28),
			botState(b.Status),
			strconv.Itoa(b.Status.ErrorCount),
			formatWhen(b.Status.LastCycleAt),
			formatWhen(b.Identity.CreatedAt),
		)
	}
	table.Render()

	var active, paused int
	for _, b := range bots {
		if b.Status.Active {
			active++
		} else {
			paused++
		}
	}
	fmt.Fprintf(c.out, "%d bots: %d active, %d paused\n", len(bots), active, paused)
}

// PrintNotifications prints admin notifications in the order given.
func (c *Console) PrintNotifications(ns []domain.Notification) {
	if len(ns) == 0 {
		fmt.Fprintln(c.out, "No notifications")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Bot", "Name", "Message")
	for _, n := range ns {
		table.Append(
			formatWhen(n.Timestamp),
			n.BotID,
			n.BotName,
			compactName(n.Message, 80),
		)
	}
	table.Render()
}

// PrintInventory prints the cached inventory of one bot.
func (c *Console) PrintInventory(botID string, inv *domain.Inventory) {
	if inv == nil {
		fmt.Fprintf(c.out, "%s: inventory not loaded yet\n", botID)
		return
	}

	fmt.Fprintf(c.out, "%s: %d items (app %d, captured %s)\n",
		botID, len(inv.Items), inv.AppID, formatWhen(inv.CapturedAt))
	if len(inv.Items) == 0 {
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "App", "Name", "Market name")
	for _, it := range inv.Items {
		table.Append(it.AssetID, strconv.Itoa(it.AppID), it.Name, compactName(it.MarketHashName, 40))
	}
	table.Render()
}

func botState(s domain.BotStatus) string {
	switch {
	case s.Escalated:
		return "ESCALATED"
	case s.Active:
		return "active"
	default:
		return "paused"
	}
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// compactName trunca s a max runas.
func compactName(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
