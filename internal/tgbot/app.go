package tgbot

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ctf-bot/internal/access"
	"ctf-bot/internal/config"
	"ctf-bot/internal/ctf"
	"ctf-bot/internal/models"
	"ctf-bot/internal/server"
	"ctf-bot/internal/store"
	"ctf-bot/internal/tasks"
)

// updatesSource is the polling side of *tgbotapi.BotAPI.
type updatesSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// outbox queues outbound calls; *Sender implements it.
type outbox interface {
	Enqueue(ctx context.Context, chatID int64, msg tgbotapi.Chattable) error
	Text(ctx context.Context, chatID int64, text string) error
}

type App struct {
	cfg  config.Config
	svc  *ctf.Service
	out  outbox
	sess sessions
	log  *slog.Logger
}

func New(cfg config.Config, svc *ctf.Service, st store.Store, out outbox, log *slog.Logger) *App {
	return &App{cfg: cfg, svc: svc, out: out, sess: sessions{st: st}, log: log}
}

// NewBotAPI connects to Telegram with the configured token.
func NewBotAPI(cfg config.Config) (*tgbotapi.BotAPI, error) {
	b, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	b.Debug = false
	return b, nil
}

func (a *App) Run(ctx context.Context, src updatesSource) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := src.GetUpdatesChan(u)
	defer src.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, upd)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		if err := a.handleMessage(ctx, upd.Message); err != nil {
			a.log.Error("handle msg", "err", err)
		}
	} else if upd.CallbackQuery != nil {
		if err := a.handleCallback(ctx, upd.CallbackQuery); err != nil {
			a.log.Error("handle cb", "err", err)
		}
	}
}

func (a *App) reply(ctx context.Context, chatID int64, replies []string) error {
	for _, msg := range pack(replies, maxMessageLen) {
		if err := a.out.Text(ctx, chatID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) remember(ctx context.Context, u *tgbotapi.User) {
	err := a.svc.RememberUser(ctx, models.User{ID: u.ID, FirstName: u.FirstName, Username: u.UserName})
	if err != nil {
		a.log.Warn("remember user", "user", u.ID, "err", err)
	}
}

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.From == nil || m.From.IsBot || m.Text == "" {
		return nil
	}
	tgID := m.From.ID
	txt := strings.TrimSpace(m.Text)
	a.remember(ctx, m.From)

	flow, arg, err := a.sess.get(ctx, tgID)
	if err != nil {
		return a.reply(ctx, m.Chat.ID, []string{a.errText(tgID, err)})
	}
	var replies []string
	switch {
	case strings.HasPrefix(txt, "/"):
		// a command ends any unfinished flow, /cancel included
		if flow != "" {
			if err := a.sess.reset(ctx, tgID); err != nil {
				return a.reply(ctx, m.Chat.ID, []string{a.errText(tgID, err)})
			}
		}
		replies = a.handleCommand(ctx, m.Chat.ID, tgID, txt)
	case flow != "":
		replies = a.handleFlowInput(ctx, tgID, txt, flow, arg)
	default:
		replies = a.submitFlag(ctx, tgID, txt)
	}
	return a.reply(ctx, m.Chat.ID, replies)
}

func (a *App) submitFlag(ctx context.Context, tgID int64, flag string) []string {
	res, err := a.svc.SubmitFlag(ctx, tgID, flag)
	if err != nil {
		return []string{a.errText(tgID, err)}
	}
	switch res.Outcome {
	case models.Correct:
		return []string{formatSolved(res)}
	case models.AlreadySolved:
		return []string{alreadySolved}
	case models.TaskDeleted:
		return []string{taskGoneText}
	default:
		return []string{notAFlagText}
	}
}

func (a *App) handleFlowInput(ctx context.Context, tgID int64, txt, flow, arg string) []string {
	switch flow {
	case flowCreate, flowEdit:
		spec, err := tasks.ParseText(txt, a.svc.DefaultPoints())
		if err != nil {
			// the flow stays open for a corrected form
			return []string{a.errText(tgID, err), retryFormText}
		}
		if err := a.sess.reset(ctx, tgID); err != nil {
			return []string{a.errText(tgID, err)}
		}
		if flow == flowCreate {
			id, err := a.svc.CreateTask(ctx, tgID, spec)
			if err != nil {
				return []string{a.errText(tgID, err)}
			}
			return []string{formatCreated(id)}
		}
		if err := a.svc.EditTask(ctx, tgID, arg, models.PatchFromSpec(spec)); err != nil {
			return []string{a.errText(tgID, err)}
		}
		return []string{formatModified(arg)}
	case flowContact, flowMessage:
		if txt != "." {
			if err := a.sess.appendDraft(ctx, tgID, txt); err != nil {
				return []string{a.errText(tgID, err)}
			}
			return nil
		}
		draft, err := a.sess.takeDraft(ctx, tgID)
		if err != nil {
			return []string{a.errText(tgID, err)}
		}
		if draft == "" {
			return []string{emptyDraftText}
		}
		if flow == flowContact {
			if err := a.svc.Contact(ctx, tgID, arg, draft); err != nil {
				return []string{a.errText(tgID, err)}
			}
			return []string{messageSentText}
		}
		n, err := a.svc.Broadcast(ctx, tgID, formatBroadcast(draft))
		if err != nil {
			return []string{a.errText(tgID, err)}
		}
		return []string{formatBroadcastDone(n)}
	default:
		_ = a.sess.reset(ctx, tgID)
		return []string{resetText}
	}
}

// ---------- Commands ----------

func (a *App) handleCommand(ctx context.Context, chatID, tgID int64, txt string) []string {
	cmd, _, _ := strings.Cut(strings.Fields(txt)[0], "@")
	if cmd == "/contact" || strings.HasPrefix(cmd, "/contact_") {
		topic := strings.TrimPrefix(strings.TrimPrefix(cmd, "/contact"), "_")
		if err := a.sess.set(ctx, tgID, flowContact, topic); err != nil {
			return []string{a.errText(tgID, err)}
		}
		return []string{contactText}
	}

	switch cmd {
	case "/start", "/help":
		return []string{helpText}
	case "/rules":
		return []string{rulesText}
	case "/cancel":
		return []string{cancelledText}
	case "/tasks":
		return a.showTasks(ctx, tgID)
	case "/score":
		view, err := a.svc.Score(ctx, tgID)
		if err != nil {
			return []string{a.errText(tgID, err)}
		}
		return []string{formatScore(view)}
	}

	if !a.svc.IsAdmin(tgID) {
		switch cmd {
		case "/board", "/create", "/edit", "/delete", "/message", "/export":
			return []string{deniedText}
		}
		return []string{unknownText}
	}
	switch cmd {
	case "/board":
		return a.showBoard(ctx, tgID)
	case "/create":
		return a.startFlow(ctx, tgID, flowCreate, createTaskText)
	case "/message":
		return a.startFlow(ctx, tgID, flowMessage, messageText)
	case "/edit":
		return a.showTaskPicker(ctx, chatID, tgID, "a:edit:")
	case "/delete":
		return a.showTaskPicker(ctx, chatID, tgID, "a:delete:")
	case "/export":
		if link := server.ExportLink(a.cfg); link != "" {
			return []string{html.EscapeString(link)}
		}
		return []string{exportOffText}
	}
	return []string{unknownText}
}

func (a *App) startFlow(ctx context.Context, tgID int64, flow, prompt string) []string {
	if err := a.sess.reset(ctx, tgID); err != nil {
		return []string{a.errText(tgID, err)}
	}
	if err := a.sess.set(ctx, tgID, flow, ""); err != nil {
		return []string{a.errText(tgID, err)}
	}
	return []string{prompt}
}

// showTasks lists what the user has not solved yet.
func (a *App) showTasks(ctx context.Context, tgID int64) []string {
	list, err := a.svc.ListTasks(ctx, tgID)
	if err != nil {
		return []string{a.errText(tgID, err)}
	}
	if len(list) == 0 {
		return []string{noTasksText}
	}
	var out []string
	for _, t := range list {
		if !t.Solved {
			out = append(out, formatTaskUser(t))
		}
	}
	if len(out) == 0 {
		return []string{allSolvedText}
	}
	return out
}

func (a *App) showBoard(ctx context.Context, tgID int64) []string {
	board, err := a.svc.Board(ctx, tgID, time.Time{})
	if err != nil {
		return []string{a.errText(tgID, err)}
	}
	if len(board) == 0 {
		return []string{emptyBoardText}
	}
	lines := make([]string, 0, len(board))
	for _, s := range board {
		lines = append(lines, formatBoardLine(s, a.svc.UserName(ctx, s.UserID)))
	}
	return []string{strings.Join(lines, "\n")}
}

func (a *App) showTaskPicker(ctx context.Context, chatID, tgID int64, prefix string) []string {
	list, err := a.svc.AdminListTasks(ctx, tgID)
	if err != nil {
		return []string{a.errText(tgID, err)}
	}
	if len(list) == 0 {
		return []string{noTasksText}
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for _, t := range list {
		label := t.Name
		if t.Hidden {
			label += " (hidden)"
		}
		if t.State == models.StateDraft {
			label += " (draft)"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, prefix+t.ID)))
	}
	msg := htmlMessage(chatID, chooseText)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if err := a.out.Enqueue(ctx, chatID, msg); err != nil {
		return []string{a.errText(tgID, err)}
	}
	return nil
}

// ---------- Callback handling ----------

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	tgID := q.From.ID
	data := q.Data

	// ack
	if err := a.out.Enqueue(ctx, tgID, tgbotapi.NewCallback(q.ID, "")); err != nil {
		return err
	}
	if !strings.HasPrefix(data, "a:") {
		return nil
	}
	chatID := tgID
	if q.Message != nil {
		chatID = q.Message.Chat.ID
		// the picker is single use
		if err := a.out.Enqueue(ctx, chatID, tgbotapi.NewDeleteMessage(chatID, q.Message.MessageID)); err != nil {
			return err
		}
	}
	if !a.svc.IsAdmin(tgID) {
		return a.reply(ctx, chatID, []string{deniedText})
	}
	return a.reply(ctx, chatID, a.handleAdminCallback(ctx, tgID, data))
}

func (a *App) handleAdminCallback(ctx context.Context, tgID int64, data string) []string {
	action, id, _ := strings.Cut(strings.TrimPrefix(data, "a:"), ":")
	task, err := a.svc.GetTask(ctx, tgID, id)
	if err != nil {
		return []string{a.errText(tgID, err)}
	}
	switch action {
	case "edit":
		if err := a.sess.reset(ctx, tgID); err != nil {
			return []string{a.errText(tgID, err)}
		}
		if err := a.sess.set(ctx, tgID, flowEdit, id); err != nil {
			return []string{a.errText(tgID, err)}
		}
		return []string{createTaskText, formatTaskAdmin(tasks.FormatText(task))}
	case "delete":
		if err := a.svc.DeleteTask(ctx, tgID, id); err != nil {
			return []string{a.errText(tgID, err)}
		}
		return []string{formatDeleted(task.Name)}
	}
	return []string{unknownText}
}

// errText turns any error into the message the user sees.
func (a *App) errText(tgID int64, err error) string {
	switch {
	case errors.Is(err, models.ErrWindowClosed):
		if a.svc.Window(tgID) == access.Ended {
			return endedText
		}
		var start time.Time
		if a.cfg.EventStart > 0 {
			start = time.Unix(a.cfg.EventStart, 0)
		}
		return formatNotStarted(start)
	case errors.Is(err, models.ErrPermissionDenied):
		return deniedText
	case errors.Is(err, models.ErrNotFound):
		return notFoundText
	case errors.Is(err, models.ErrValidation):
		return formatError(err)
	case errors.Is(err, models.ErrStorageUnavailable), errors.Is(err, store.ErrUnavailable):
		a.log.Error("storage unavailable", "user", tgID, "err", err)
		return unavailableText
	default:
		a.log.Error("request failed", "user", tgID, "err", err)
		return formatError(err)
	}
}
