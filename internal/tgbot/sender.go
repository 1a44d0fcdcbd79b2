package tgbot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"ctf-bot/internal/notify"
)

const (
	sendAttempts   = 3
	sendQueueSize  = 1024
	baseRetryDelay = time.Second
)

// requester is the part of *tgbotapi.BotAPI the sender needs.
type requester interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type outgoing struct {
	chatID int64
	msg    tgbotapi.Chattable
}

// Sender owns every outbound Bot API call. Messages wait in per-chat queues;
// a chat is served only while both its own limiter and the global one have a
// token, so a slow chat never holds back the others and broadcasts and solve
// notifications stay inside Telegram's flood limits.
type Sender struct {
	api    requester
	queue  chan outgoing
	global *rate.Limiter
	log    *slog.Logger

	perChat rate.Limit
	// owned by the Run goroutine
	chats map[int64]*chatQueue

	retryDelay time.Duration
}

// chatQueue keeps one chat's messages in order; at most one is in flight.
type chatQueue struct {
	limiter *rate.Limiter
	pending []outgoing
	busy    bool
}

func NewSender(api requester, perSecond, perChat float64, log *slog.Logger) *Sender {
	return &Sender{
		api:        api,
		queue:      make(chan outgoing, sendQueueSize),
		global:     rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond))),
		log:        log,
		perChat:    rate.Limit(perChat),
		chats:      map[int64]*chatQueue{},
		retryDelay: baseRetryDelay,
	}
}

// Enqueue waits for room in the queue or for ctx to end.
func (s *Sender) Enqueue(ctx context.Context, chatID int64, msg tgbotapi.Chattable) error {
	select {
	case s.queue <- outgoing{chatID: chatID, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Text queues an HTML message.
func (s *Sender) Text(ctx context.Context, chatID int64, text string) error {
	return s.Enqueue(ctx, chatID, htmlMessage(chatID, text))
}

func htmlMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return msg
}

// Broadcast queues text for every user.
func (s *Sender) Broadcast(ctx context.Context, users []int64, text string) error {
	for _, id := range users {
		if err := s.Text(ctx, id, text); err != nil {
			return err
		}
	}
	return nil
}

// Run serves the queue until ctx ends and waits for in-flight deliveries.
func (s *Sender) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	done := make(chan int64)
	wake := time.NewTimer(time.Hour)
	defer wake.Stop()
	waiting := 0

	for {
		started, next := s.dispatch(ctx, &wg, done)
		waiting -= started

		wake.Stop()
		var wakeC <-chan time.Time
		if next > 0 {
			wake.Reset(next)
			wakeC = wake.C
		}
		in := s.queue
		if waiting >= sendQueueSize {
			in = nil
		}

		select {
		case <-ctx.Done():
			return
		case out := <-in:
			c := s.chats[out.chatID]
			if c == nil {
				c = &chatQueue{limiter: rate.NewLimiter(s.perChat, 1)}
				s.chats[out.chatID] = c
			}
			c.pending = append(c.pending, out)
			waiting++
		case id := <-done:
			s.chats[id].busy = false
		case <-wakeC:
		}
	}
}

// dispatch starts a delivery for every idle chat that may send now. It
// returns how many started and how long until a held back chat may go
// (zero when none is held back).
func (s *Sender) dispatch(ctx context.Context, wg *sync.WaitGroup, done chan<- int64) (int, time.Duration) {
	now := time.Now()
	started := 0
	var next time.Duration
	later := func(d time.Duration) {
		if next == 0 || d < next {
			next = d
		}
	}
	for id, c := range s.chats {
		if c.busy {
			continue
		}
		if len(c.pending) == 0 {
			if c.limiter.TokensAt(now) >= 1 {
				delete(s.chats, id)
			}
			continue
		}
		chat := c.limiter.ReserveN(now, 1)
		if d := chat.DelayFrom(now); d > 0 {
			chat.CancelAt(now)
			later(d)
			continue
		}
		global := s.global.ReserveN(now, 1)
		if d := global.DelayFrom(now); d > 0 {
			global.CancelAt(now)
			chat.CancelAt(now)
			later(d)
			break
		}

		out := c.pending[0]
		c.pending = c.pending[1:]
		c.busy = true
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.deliver(ctx, out)
			select {
			case done <- out.chatID:
			case <-ctx.Done():
			}
		}()
	}
	return started, next
}

func (s *Sender) deliver(ctx context.Context, out outgoing) {
	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if _, err = s.api.Request(out.msg); err == nil {
			return
		}
		if attempt == sendAttempts {
			break
		}
		delay := s.retryDelay * time.Duration(attempt)
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			if apiErr.Code == 403 || apiErr.Code == 400 {
				// blocked by the user or a bad request: retrying will not help
				break
			}
			if apiErr.RetryAfter > 0 {
				delay = time.Duration(apiErr.RetryAfter) * time.Second
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	s.log.Warn("sender: message dropped", "chat", out.chatID, "err", err)
}

// NotifySink forwards notifier events to the operator chats.
func (s *Sender) NotifySink(chats []int64, names Names) notify.Sink {
	return notify.SinkFunc(func(ctx context.Context, e notify.Event) error {
		if len(chats) == 0 {
			return nil
		}
		user := e.UserName
		if user == "" {
			user = names.UserName(ctx, e.UserID)
		}
		text := formatEvent(e, user)
		for _, chat := range chats {
			if err := s.Text(ctx, chat, text); err != nil {
				return err
			}
		}
		return nil
	})
}

// Names resolves chat users to display names.
type Names interface {
	UserName(ctx context.Context, id int64) string
}
