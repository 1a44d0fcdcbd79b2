package tgbot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ctf-bot/internal/notify"
)

type flakyAPI struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	sent     []tgbotapi.MessageConfig
	done     chan struct{}
}

func (f *flakyAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	if f.done != nil {
		f.done <- struct{}{}
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestSender(api requester) *Sender {
	s := NewSender(api, 1000, 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.retryDelay = time.Millisecond
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSender_RetriesTransientFailures(t *testing.T) {
	api := &flakyAPI{failures: 2, err: errors.New("timeout"), done: make(chan struct{}, 1)}
	s := newTestSender(api)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := s.Text(ctx, 42, "<b>hi</b>"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, api.done)
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.calls != 3 || len(api.sent) != 1 {
		t.Fatalf("expected 3 attempts and one delivery, got %d/%d", api.calls, len(api.sent))
	}
	if m := api.sent[0]; m.ChatID != 42 || m.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestSender_GivesUpOnBadRequest(t *testing.T) {
	api := &flakyAPI{failures: 1, err: &tgbotapi.Error{Code: 400, Message: "chat not found"}}
	s := newTestSender(api)
	s.deliver(context.Background(), outgoing{chatID: 1, msg: htmlMessage(1, "x")})
	if api.calls != 1 {
		t.Fatalf("bad requests are not retried, got %d calls", api.calls)
	}
}

func TestSender_DropsAfterMaxAttempts(t *testing.T) {
	api := &flakyAPI{failures: 10, err: errors.New("down")}
	s := newTestSender(api)
	s.deliver(context.Background(), outgoing{chatID: 1, msg: htmlMessage(1, "x")})
	if api.calls != sendAttempts {
		t.Fatalf("expected %d attempts, got %d", sendAttempts, api.calls)
	}
}

type staticNames map[int64]string

func (n staticNames) UserName(_ context.Context, id int64) string { return n[id] }

func TestSender_NotifySinkAndBroadcast(t *testing.T) {
	api := &flakyAPI{done: make(chan struct{}, 8)}
	s := newTestSender(api)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	sink := s.NotifySink([]int64{-100, -200}, staticNames{7: "@al"})
	if err := sink.Deliver(ctx, notify.Event{Kind: notify.Solved, UserID: 7, TaskName: "Warmup", Points: 2}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := s.Broadcast(ctx, []int64{1, 2, 3}, "news"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for i := 0; i < 5; i++ {
		waitFor(t, api.done)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(api.sent))
	}
	if api.sent[0].ChatID != -100 || !strings.Contains(api.sent[0].Text, "@al") || !strings.Contains(api.sent[0].Text, "2 балла") {
		t.Fatalf("unexpected notification %+v", api.sent[0])
	}
	if api.sent[4].ChatID != 3 || api.sent[4].Text != "news" {
		t.Fatalf("unexpected broadcast message %+v", api.sent[4])
	}
}

func TestSender_PerChatLimit(t *testing.T) {
	api := &flakyAPI{done: make(chan struct{}, 8)}
	s := NewSender(api, 1000, 20, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_ = s.Text(ctx, 9, "x")
	}
	for i := 0; i < 3; i++ {
		waitFor(t, api.done)
	}
	// 20 per second with a burst of one: the third message waits ~100ms
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("per-chat limit not applied, took %v", elapsed)
	}
}

// timedAPI records when each chat got its messages and can fail one chat.
type timedAPI struct {
	mu       sync.Mutex
	failChat int64
	failErr  error
	order    []int64
	done     chan int64
}

func (f *timedAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m, _ := c.(tgbotapi.MessageConfig)
	f.mu.Lock()
	if f.failChat != 0 && m.ChatID == f.failChat {
		f.mu.Unlock()
		return nil, f.failErr
	}
	f.order = append(f.order, m.ChatID)
	f.mu.Unlock()
	f.done <- m.ChatID
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestSender_BusyChatDoesNotDelayOthers(t *testing.T) {
	api := &timedAPI{done: make(chan int64, 8)}
	s := NewSender(api, 30, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_ = s.Text(ctx, 100, "packed reply")
	}
	_ = s.Text(ctx, 200, "hello")

	got := map[int64]bool{}
	for len(got) < 2 {
		select {
		case id := <-api.done:
			got[id] = true
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("chat 200 waited behind chat 100: delivered %v after %v", got, time.Since(start))
		}
	}
	if !got[100] || !got[200] {
		t.Fatalf("expected one message to each chat first, got %v", got)
	}

	// the rest of chat 100 still goes out one per second
	select {
	case <-api.done:
		if elapsed := time.Since(start); elapsed < 800*time.Millisecond {
			t.Fatalf("per-chat limit not applied, second message after %v", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second message to chat 100 never sent")
	}
}

func TestSender_RetryAfterStaysWithItsChat(t *testing.T) {
	api := &timedAPI{
		failChat: 100,
		failErr:  &tgbotapi.Error{Code: 429, Message: "flood", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}},
		done:     make(chan int64, 8),
	}
	s := NewSender(api, 30, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_ = s.Text(ctx, 100, "throttled")
	time.Sleep(20 * time.Millisecond)
	_ = s.Text(ctx, 200, "hello")

	select {
	case id := <-api.done:
		if id != 200 {
			t.Fatalf("unexpected delivery to %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("retry wait of chat 100 blocked chat 200")
	}
}
