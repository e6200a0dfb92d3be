// Package pipeline turns one inbound chat message into at most one reply.
//
// A message moves through rate checking, history lookup, generation (or a
// canned fallback), paced delivery and best-effort persistence. Every
// invocation ends in a Result; errors never escape as panics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ashureev/replybot/internal/conversation"
	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/generator"
	"github.com/ashureev/replybot/internal/ratelimit"
	"github.com/ashureev/replybot/internal/reply"
	"github.com/ashureev/replybot/internal/store"
	"github.com/ashureev/replybot/internal/transport"
	"github.com/ashureev/replybot/internal/typing"
)

const (
	DefaultGenerateTimeout = 10 * time.Second
	DefaultPersistTimeout  = 5 * time.Second

	// contextExchanges bounds the history handed to the generator.
	contextExchanges = 3
	// transcriptLimit bounds the durable history lookup.
	transcriptLimit = 5
)

// Outcome discriminates how an invocation ended.
type Outcome int

const (
	OutcomeReplied Outcome = iota + 1
	OutcomeDropped
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeDropped:
		return "dropped"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports what Handle did with a message.
type Result struct {
	Outcome  Outcome
	Reply    string
	Fallback bool
	Language reply.Language
	Err      error
}

// Deps are the collaborators a Pipeline drives. All are required.
type Deps struct {
	Limiter   *ratelimit.Limiter
	History   *conversation.Context
	Generator generator.Generator
	Fallbacks *reply.FallbackSet
	Typing    *typing.Simulator
	Repo      store.Repository
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTimeouts bounds generation and persistence. Zero keeps the default.
func WithTimeouts(generate, persist time.Duration) Option {
	return func(p *Pipeline) {
		if generate > 0 {
			p.generateTimeout = generate
		}
		if persist > 0 {
			p.persistTimeout = persist
		}
	}
}

// WithMaxChars sets the reply length cap in runes.
func WithMaxChars(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxChars = n
		}
	}
}

// Pipeline is safe for concurrent use by many sessions. Shared state lives in
// the limiter and the conversation context, both keyed by sender.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	generateTimeout time.Duration
	persistTimeout  time.Duration
	maxChars        int
}

// New creates a Pipeline.
func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps:            deps,
		logger:          slog.Default(),
		now:             time.Now,
		generateTimeout: DefaultGenerateTimeout,
		persistTimeout:  DefaultPersistTimeout,
		maxChars:        reply.DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs msg through the pipeline and replies through out. It blocks
// until the reply is sent or the invocation is abandoned, so callers that
// handle one sender's messages serially keep replies in order.
func (p *Pipeline) Handle(ctx context.Context, sessionID string, out transport.Outbound, msg domain.Message) (res Result) {
	logger := p.logger.With("session_id", sessionID, "sender_id", msg.SenderID, "message_id", msg.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panic recovered", "panic", r, "stack", string(debug.Stack()))
			res = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("pipeline panic: %v", r)}
		}
	}()

	if !msg.IsDirectText() || strings.TrimSpace(msg.Body) == "" {
		logger.Debug("Skipping message", "kind", msg.Kind, "group", msg.Group, "from_me", msg.FromMe)
		return Result{Outcome: OutcomeSkipped}
	}

	received := p.now()
	if !p.deps.Limiter.Admit(msg.SenderID, received) {
		logger.Info("Rate limit exceeded, dropping message")
		return Result{Outcome: OutcomeDropped}
	}

	lang := reply.Detect(msg.Body)
	res = Result{Language: lang}

	prior := p.transcriptSize(ctx, msg.SenderID, logger)
	req := generator.Request{
		UserText:      msg.Body,
		SenderName:    msg.DisplayName,
		Exchanges:     p.deps.History.Recent(msg.SenderID, contextExchanges),
		Language:      lang,
		PriorMessages: prior,
	}

	text, err := p.generate(ctx, req)
	if err != nil {
		logger.Warn("Generation failed, using fallback", "error", err, "language", lang)
		text = reply.Truncate(p.deps.Fallbacks.Pick(lang), p.maxChars)
		res.Fallback = true
	}
	res.Reply = text

	if err := p.deps.Typing.Simulate(ctx, out, msg.ChatID); err != nil {
		logger.Info("Reply abandoned during typing", "error", err)
		p.persist(ctx, sessionID, msg, nil, logger)
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	if err := out.Send(ctx, msg.ChatID, text); err != nil {
		if !errors.Is(err, domain.ErrSend) {
			err = fmt.Errorf("%w: %v", domain.ErrSend, err)
		}
		logger.Warn("Failed to send reply", "error", err)
		p.persist(ctx, sessionID, msg, nil, logger)
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	sent := domain.Message{
		ID:          "reply:" + msg.ID,
		SenderID:    msg.SenderID,
		DisplayName: msg.DisplayName,
		Body:        text,
		Kind:        domain.KindText,
		Timestamp:   p.now(),
		ChatID:      msg.ChatID,
		Direction:   domain.DirectionOutbound,
		Generated:   !res.Fallback,
	}
	p.persist(ctx, sessionID, msg, &sent, logger)

	if !res.Fallback {
		p.deps.History.Record(msg.SenderID, msg.Body, text, sent.Timestamp)
	}

	logger.Info("Reply sent", "fallback", res.Fallback, "language", lang, "reply_len", len([]rune(text)))
	res.Outcome = OutcomeReplied
	return res
}

func (p *Pipeline) generate(ctx context.Context, req generator.Request) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, p.generateTimeout)
	defer cancel()

	raw, err := p.deps.Generator.Generate(genCtx, req)
	if err != nil {
		return "", err
	}
	text, err := reply.Sanitize(raw, p.maxChars)
	if err != nil {
		return "", fmt.Errorf("post-process reply: %w", err)
	}
	return text, nil
}

func (p *Pipeline) transcriptSize(ctx context.Context, senderID string, logger *slog.Logger) int {
	readCtx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()

	msgs, err := p.deps.Repo.RecentMessages(readCtx, senderID, transcriptLimit)
	if err != nil {
		logger.Warn("Failed to read transcript", "error", err)
		return 0
	}
	return len(msgs)
}

// persist stores the inbound message, the reply when one was sent, and the
// day counters. It outlives a cancelled session context so a sent reply is
// still recorded.
func (p *Pipeline) persist(ctx context.Context, sessionID string, in domain.Message, sent *domain.Message, logger *slog.Logger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()

	in.Direction = domain.DirectionInbound
	if err := p.deps.Repo.SaveMessage(writeCtx, sessionID, in); err != nil {
		logger.Error("Failed to persist inbound message", "error", err)
	}

	replies := 0
	if sent != nil {
		replies = 1
		if err := p.deps.Repo.SaveMessage(writeCtx, sessionID, *sent); err != nil {
			logger.Error("Failed to persist reply", "error", err)
		}
	}

	if err := p.deps.Repo.RecordStat(writeCtx, sessionID, p.now(), 1, replies); err != nil {
		logger.Error("Failed to record stats", "error", err)
	}
}
