package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/utils"
)

const (
	telegramLastLogCount = 10
	telegramPromptLen    = 40
)

const telegramHelp = "🤖 *Admin bot*\n" +
	"/lastlog - last 10 requests\n" +
	"/block <ip> - block an IP\n" +
	"/unblock <ip> - unblock an IP\n" +
	"/reset - delete all logs and usage"

// telegramUpdate is the subset of a Telegram webhook update we read.
type telegramUpdate struct {
	Message *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// handleTelegram runs admin commands sent to the bot. It always answers 200
// so Telegram does not redeliver the update.
func (d *Dependencies) handleTelegram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var update telegramUpdate
	if err := utils.DecodeJSON(r, &update); err != nil || update.Message == nil {
		writeOK(w)
		return
	}

	ctx := r.Context()
	chatID := update.Message.Chat.ID
	text := strings.TrimSpace(update.Message.Text)

	var reply string
	if d.Config.Telegram.AdminChatID == 0 || chatID != d.Config.Telegram.AdminChatID {
		d.logger.Warn("Telegram command from unauthorized chat", "chat_id", chatID)
		reply = "⛔ You are not authorized to use this bot."
	} else {
		reply = d.runTelegramCommand(ctx, text)
	}

	if err := d.Notifier.SendMessage(ctx, chatID, reply); err != nil {
		d.logger.Debug("Telegram reply failed", "chat_id", chatID, "error", err)
	}
	writeOK(w)
}

func (d *Dependencies) runTelegramCommand(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "Unknown command."
	}
	// Commands in groups arrive as /cmd@botname.
	cmd, _, _ := strings.Cut(fields[0], "@")
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/start", "/help":
		return telegramHelp

	case "/lastlog":
		entries, err := d.Activity.Recent(ctx, telegramLastLogCount)
		if err != nil {
			return "Failed to read logs: " + err.Error()
		}
		if len(entries) == 0 {
			return "No logs yet."
		}
		var b strings.Builder
		b.WriteString("📝 *Last requests*\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "• %s | %s...\n", e.IP, models.Excerpt(e.Prompt, telegramPromptLen))
		}
		return b.String()

	case "/block", "/unblock":
		if arg == "" {
			return "Usage: " + cmd + " <ip>"
		}
		var (
			ip  string
			err error
		)
		if cmd == "/block" {
			ip, err = d.Blocklist.Block(ctx, arg)
		} else {
			ip, err = d.Blocklist.Unblock(ctx, arg)
		}
		if err != nil {
			return models.PublicMessage(err)
		}
		d.logger.Info("Blocklist updated", "ip", ip, "blocked", cmd == "/block", "via", "telegram")
		if cmd == "/block" {
			return "🚫 Blocked " + ip
		}
		return "✅ Unblocked " + ip

	case "/reset":
		res, err := d.Gateway.Reset(ctx)
		if err != nil {
			return "Reset failed: " + models.PublicMessage(err)
		}
		return fmt.Sprintf("🧹 Reset done: %d logs, %d usage records deleted.", res.DeletedLogs, res.DeletedUsage)

	default:
		return "Unknown command."
	}
}

func writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
