// Package telegram lets users trigger workflows and check on runs from
// a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/forgeline/forgeline/internal/agents"
	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/workflow"
)

// Runner executes workflow requests. The orchestrator satisfies it.
type Runner interface {
	Execute(ctx context.Context, req workflow.Request, progress workflow.ProgressFunc) workflow.Result
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	runner  Runner
	store   *store.Store
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, runner Runner, s *store.Store) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:    bot,
		runner: runner,
		store:  s,
		cfg:    cfg,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	// Check allow list
	if len(b.cfg.AllowFrom) > 0 {
		allowed := false
		for _, id := range b.cfg.AllowFrom {
			if id == userID {
				allowed = true
				break
			}
		}
		if !allowed {
			slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
			return
		}
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch {
	case strings.HasPrefix(text, "/generate"):
		desc := strings.TrimSpace(strings.TrimPrefix(text, "/generate"))
		if desc == "" {
			_ = b.SendMessage(ctx, chatID, "Usage: /generate <project description>")
			return
		}
		_ = b.sendChatAction(ctx, chatID, "typing")
		go b.runWorkflow(chatID, desc)
	case text == "/status":
		b.sendStatus(ctx, chatID)
	case text == "/runs":
		b.sendRecentRuns(ctx, chatID)
	default:
		_ = b.SendMessage(ctx, chatID, "Commands:\n/generate <description>\n/runs\n/status")
	}
}

// runWorkflow executes a free-text workflow and streams stage progress
// into the chat.
func (b *Bot) runWorkflow(chatID int64, desc string) {
	ctx := context.Background()

	progress := func(message, phase string) {
		if err := b.SendMessage(ctx, chatID, message); err != nil {
			slog.Error("failed to send telegram progress", "chat", chatID, "error", err)
		}
	}

	res := b.runner.Execute(ctx, workflow.Request{
		Kind:  agents.KindFreeText,
		Input: desc,
	}, progress)

	var summary string
	if res.Success {
		summary = fmt.Sprintf("**Workflow %s completed.**\nProject: %s\nStages completed: %d",
			res.State.WorkflowID, res.ProjectPath, len(res.State.AgentsCompleted))
		if res.ReadyForNextStep {
			summary += "\nValidation passed, ready for deployment."
		}
	} else {
		summary = fmt.Sprintf("**Workflow %s failed.**\n%s", res.State.WorkflowID, res.Error)
	}
	if err := b.SendMessage(ctx, chatID, toTelegramMarkdown(summary)); err != nil {
		slog.Error("failed to send telegram summary", "chat", chatID, "error", err)
	}
}

func (b *Bot) sendStatus(ctx context.Context, chatID int64) {
	runs, err := b.store.ListWorkflowRuns()
	if err != nil {
		_ = b.SendMessage(ctx, chatID, "Could not read run history.")
		return
	}

	running, completed, failed := 0, 0, 0
	for _, run := range runs {
		switch run.Status {
		case "running":
			running++
		case "completed":
			completed++
		case "failed":
			failed++
		}
	}

	msg := fmt.Sprintf("**Status**\nRuns: %d total, %d running, %d completed, %d failed",
		len(runs), running, completed, failed)
	_ = b.SendMessage(ctx, chatID, toTelegramMarkdown(msg))
}

func (b *Bot) sendRecentRuns(ctx context.Context, chatID int64) {
	runs, err := b.store.ListWorkflowRuns()
	if err != nil {
		_ = b.SendMessage(ctx, chatID, "Could not read run history.")
		return
	}
	if len(runs) == 0 {
		_ = b.SendMessage(ctx, chatID, "No workflow runs yet.")
		return
	}

	const maxRuns = 10
	if len(runs) > maxRuns {
		runs = runs[:maxRuns]
	}

	var sb strings.Builder
	sb.WriteString("Recent runs:\n")
	for _, run := range runs {
		name := run.ProjectName
		if name == "" {
			name = run.ID
		}
		fmt.Fprintf(&sb, "%s (%s) %s\n", name, run.Status, run.StartedAt.Local().Format("Jan 2 15:04"))
	}
	_ = b.SendMessage(ctx, chatID, sb.String())
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(text, 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}
