// Package telegram posts review sync summaries to a chat and answers a
// handful of operator commands.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/models"
)

// Message is an incoming chat message.
type Message struct {
	ID        int64
	ChatID    int64
	Text      string
	Timestamp time.Time
}

// BotAPI is the slice of the Telegram API the bot uses.
type BotAPI interface {
	SendMessage(chatID int64, text string) error
	GetUpdates() ([]Message, error)
}

// RateLimiter is a token bucket measured in messages per minute.
type RateLimiter struct {
	rate       int
	bucketSize int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(messagesPerMinute int) *RateLimiter {
	return &RateLimiter{
		rate:       messagesPerMinute,
		bucketSize: messagesPerMinute,
		tokens:     float64(messagesPerMinute),
		lastUpdate: time.Now(),
	}
}

// Allow checks if a message can be sent
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastUpdate).Minutes()
	rl.lastUpdate = now

	rl.tokens += float64(rl.rate) * elapsed
	if rl.tokens > float64(rl.bucketSize) {
		rl.tokens = float64(rl.bucketSize)
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// DedupLimiter drops identical messages sent within window.
type DedupLimiter struct {
	sent   map[string]time.Time
	window time.Duration
	mu     sync.Mutex
}

// NewDedupLimiter creates a new deduplication limiter
func NewDedupLimiter(window time.Duration) *DedupLimiter {
	return &DedupLimiter{
		sent:   make(map[string]time.Time),
		window: window,
	}
}

// CanSend reports whether key was not seen inside the window, and marks it.
func (dl *DedupLimiter) CanSend(key string) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	now := time.Now()
	if sentAt, exists := dl.sent[key]; exists && now.Sub(sentAt) < dl.window {
		return false
	}
	dl.sent[key] = now
	return true
}

// Cleanup removes old entries from the dedup limiter
func (dl *DedupLimiter) Cleanup() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	now := time.Now()
	for key, sentAt := range dl.sent {
		if now.Sub(sentAt) > dl.window {
			delete(dl.sent, key)
		}
	}
}

// StatusView is what /status shows.
type StatusView struct {
	Connected        bool
	Account          string
	SelectedLocation string
	LastSync         *models.SyncRun
	CooldownUntil    time.Time
	Running          bool
}

// BotOptions contains optional configuration for the bot
type BotOptions struct {
	RateLimiter  *RateLimiter
	DedupLimiter *DedupLimiter
	BotAPI       BotAPI
	Logger       *logging.Logger
}

// Bot relays sync results to one chat and accepts commands from it.
type Bot struct {
	chatID      int64
	enabled     bool
	rateLimiter *RateLimiter
	dedup       *DedupLimiter
	api         BotAPI
	logger      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	msgChan chan Message

	onGetStatus func(ctx context.Context, withAccount bool) (*StatusView, error)
	onSync      func(ctx context.Context) (*models.SyncRun, error)
	connectURL  func() string
}

// NewBot creates a bot for chatID. A bot without an API or chat is inert.
func NewBot(chatID int64, enabled bool, opts *BotOptions) *Bot {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bot{
		chatID:  chatID,
		enabled: enabled,
		ctx:     ctx,
		cancel:  cancel,
		msgChan: make(chan Message, 100),
	}

	if opts != nil {
		b.rateLimiter = opts.RateLimiter
		b.dedup = opts.DedupLimiter
		b.api = opts.BotAPI
		b.logger = opts.Logger
	}
	if b.rateLimiter == nil {
		b.rateLimiter = NewRateLimiter(30)
	}
	if b.dedup == nil {
		b.dedup = NewDedupLimiter(5 * time.Minute)
	}
	if b.logger == nil {
		b.logger = logging.Discard()
	}

	return b
}

// SetStatusCallback sets the handler for /status. withAccount is true for
// "/status account", the only form that may call Google.
func (b *Bot) SetStatusCallback(cb func(ctx context.Context, withAccount bool) (*StatusView, error)) {
	b.onGetStatus = cb
}

// SetSyncCallback sets the handler for /sync.
func (b *Bot) SetSyncCallback(cb func(ctx context.Context) (*models.SyncRun, error)) {
	b.onSync = cb
}

// SetConnectURLCallback sets the handler for /connect.
func (b *Bot) SetConnectURLCallback(cb func() string) {
	b.connectURL = cb
}

// Start launches the polling and dispatch loops.
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}
	if b.api == nil {
		return fmt.Errorf("telegram api client is required")
	}
	if b.chatID == 0 {
		return fmt.Errorf("telegram chat id is required")
	}

	b.wg.Add(3)
	go b.processMessages()
	go b.pollUpdates()
	go b.dedupCleanup()

	return nil
}

// Stop gracefully stops the bot
func (b *Bot) Stop() error {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for bot to stop")
	}
}

func (b *Bot) processMessages() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-b.msgChan:
			if !ok {
				return
			}
			b.handleMessage(msg)
		}
	}
}

func (b *Bot) pollUpdates() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		updates, err := b.api.GetUpdates()
		if err != nil {
			b.logger.Debug("telegram poll failed", "error", err.Error())
			b.pause(2 * time.Second)
			continue
		}
		if len(updates) == 0 {
			b.pause(250 * time.Millisecond)
			continue
		}

		for _, msg := range updates {
			select {
			case <-b.ctx.Done():
				return
			case b.msgChan <- msg:
			default:
				// buffer full, drop
			}
		}
	}
}

func (b *Bot) pause(d time.Duration) {
	select {
	case <-b.ctx.Done():
	case <-time.After(d):
	}
}

func (b *Bot) dedupCleanup() {
	defer b.wg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.dedup.Cleanup()
		}
	}
}

// NotifySync posts a run summary. Repeated identical failures are sent
// once per dedup window.
func (b *Bot) NotifySync(ctx context.Context, run *models.SyncRun, err error) {
	if !b.enabled || b.api == nil || b.chatID == 0 {
		return
	}
	if err != nil && !b.dedup.CanSend("sync-error:"+err.Error()) {
		return
	}
	if sendErr := b.send(b.chatID, formatSyncResult(run, err)); sendErr != nil {
		b.logger.WarnWithContext(ctx, "telegram notification failed", "error", sendErr.Error())
	}
}

// SendMessage sends text to the configured chat.
func (b *Bot) SendMessage(text string) error {
	if !b.enabled || b.api == nil {
		return nil
	}
	return b.send(b.chatID, text)
}

func (b *Bot) send(chatID int64, text string) error {
	if !b.rateLimiter.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return b.api.SendMessage(chatID, text)
}

// IsEnabled returns whether the bot is enabled
func (b *Bot) IsEnabled() bool {
	return b.enabled
}

// GetChatID returns the configured chat ID
func (b *Bot) GetChatID() int64 {
	return b.chatID
}
