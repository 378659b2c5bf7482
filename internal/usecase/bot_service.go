// Package usecase implements the inbound event processor: the per-user
// BOT/HUMAN state machine, the sensitive-content interception, the
// operator command grammar and the timeout sweeper. All storage goes
// through the repository interfaces and all outbound traffic through the
// gateway interface, so the whole package is testable with mocks.
package usecase

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/gateway"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/menu"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/sensitive"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/validator"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

// Result is the verdict of Handle for one inbound event. OK is false only
// for validation failures; duplicates and gateway failures still count as
// processed. A non-nil error from Handle means a storage fault and the
// event should be redelivered.
type Result struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Handled   string `json:"handled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config carries the processor's tunables
type Config struct {
	// CSNumber is the human operator identity; messages from it are
	// interpreted as commands, never fed to the state machine.
	CSNumber string
	// AutoTimeout is how long a HUMAN user may stay idle before reverting
	// to BOT.
	AutoTimeout time.Duration
	// RateLimitMinInterval is the minimum spacing between processed
	// messages per identity; zero disables the limiter.
	RateLimitMinInterval time.Duration
}

// Operator command grammar: #close <identity> or #boton <identity>,
// case-insensitive. Both commands force the target back to BOT mode.
var csCommandRe = regexp.MustCompile(`(?i)^#(close|boton)\s+(.+)$`)

// BotService is the single entry point for inbound traffic
type BotService struct {
	users     storage.UserRepo
	messages  storage.MessageRepo
	processed storage.ProcessedEventRepo
	gateway   gateway.Gateway
	cfg       Config

	// lastSeen holds the per-identity rate-limit clock (identity -> unix
	// ms). Process-local and non-durable: it resets on restart, which
	// briefly re-opens the window. Advanced only when a message passes.
	lastSeen sync.Map

	// nowFn is the millisecond clock, swappable in tests
	nowFn func() int64
}

// NewBotService wires the processor to its collaborators
func NewBotService(users storage.UserRepo, messages storage.MessageRepo, processed storage.ProcessedEventRepo, gw gateway.Gateway, cfg Config) *BotService {
	return &BotService{
		users:     users,
		messages:  messages,
		processed: processed,
		gateway:   gw,
		cfg:       cfg,
		nowFn:     utils.NowUnixMs,
	}
}

// Handle processes one inbound gateway event through the full sequence:
// validate, dedup, operator branch, rate limit, upsert, inline timeout,
// sensitive interception, HUMAN pass-through, BOT menu dispatch.
// Gateway failures are recorded in the ledger and swallowed; only storage
// faults surface as errors so the consumer can redeliver.
func (s *BotService) Handle(ctx context.Context, payload *model.InboundEventPayload) (Result, error) {
	start := time.Now()
	defer func() {
		observer.ObserveEventProcessingDuration(time.Since(start))
	}()
	log := logger.FromContext(ctx)

	if err := validator.Validate(payload); err != nil {
		log.Warn("Rejected inbound event payload", zap.Error(err))
		observer.IncEventsFailed("validation")
		return Result{OK: false, Error: "invalid_payload"}, nil
	}

	from := utils.NormalizeWaNumber(payload.From)
	if len(from) < 3 {
		log.Warn("Rejected inbound event, sender does not normalize to an identity",
			zap.String("from", payload.From))
		observer.IncEventsFailed("validation")
		return Result{OK: false, Error: "invalid_from"}, nil
	}

	// Exactly-once gate. Must run before any other mutation so a
	// redelivered event can never double-apply side effects.
	inserted, err := s.processed.TryMarkProcessed(ctx, payload.MessageID)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency gate for event %s: %w", payload.MessageID, err)
	}
	if !inserted {
		log.Info("Suppressed duplicate inbound event", zap.String("message_id", payload.MessageID))
		observer.IncDuplicateEvents()
		return Result{OK: true, Duplicate: true, Handled: "duplicate"}, nil
	}

	now := s.nowFn()
	eventTs := normalizeTimestamp(float64(payload.Timestamp), now)
	text := strings.TrimSpace(payload.Text)
	lower := strings.ToLower(text)

	if cs := utils.NormalizeWaNumber(s.cfg.CSNumber); cs != "" && from == cs {
		res, err := s.handleOperatorMessage(ctx, from, payload.MessageID, text, eventTs, now)
		if err != nil {
			return Result{}, err
		}
		observer.IncEventsProcessed(res.Handled)
		return res, nil
	}

	limited := !s.rateLimitPass(from, now)

	prev, err := s.users.FindUserByNumber(ctx, from)
	if err != nil && !apperrors.IsNotFoundError(err) {
		return Result{}, fmt.Errorf("load user %s: %w", from, err)
	}

	user, err := s.users.UpsertUser(ctx, from, now)
	if err != nil {
		return Result{}, fmt.Errorf("upsert user %s: %w", from, err)
	}

	var inboundMeta *model.MessageMeta
	if limited {
		m := model.Meta(model.MetaRateLimited)
		inboundMeta = &m
	}
	if err := s.ledgerInbound(ctx, user, payload.MessageID, from, text, eventTs, inboundMeta); err != nil {
		return Result{}, err
	}
	if limited {
		log.Info("Rate limited inbound message", zap.String("from", from))
		observer.IncRateLimited()
		observer.IncEventsProcessed("rate_limited")
		return Result{OK: true, Handled: "rate_limited"}, nil
	}

	// Inline auto-timeout: a stale HUMAN user flips back to BOT on their
	// next message, using the interaction time from before this upsert.
	if prev != nil && prev.InHumanMode() &&
		now-prev.LastInteractionAt > s.cfg.AutoTimeout.Milliseconds() {
		user, err = s.users.SetUserMode(ctx, from, model.ModeBot)
		if err != nil {
			return Result{}, fmt.Errorf("auto-timeout revert for %s: %w", from, err)
		}
		log.Info("Auto-timeout reverted user to BOT", zap.String("wa_number", from),
			zap.Int64("idle_ms", now-prev.LastInteractionAt))
	}

	// Sensitive content wins over both modes: always warn the user first.
	if det := sensitive.Detect(text); det != nil {
		res, err := s.handleSensitive(ctx, user, text, det)
		if err != nil {
			return Result{}, err
		}
		observer.IncEventsProcessed(res.Handled)
		return res, nil
	}

	if user.InHumanMode() {
		if err := s.forwardAndLog(ctx, user, text, model.Meta(model.MetaHumanForward)); err != nil {
			return Result{}, err
		}
		observer.IncEventsProcessed("human_forward")
		return Result{OK: true, Handled: "human_forward"}, nil
	}

	resolution := menu.Resolve(user, text, lower)
	if err := s.applyResolution(ctx, user, resolution); err != nil {
		return Result{}, err
	}
	observer.IncEventsProcessed(resolution.Handled)
	return Result{OK: true, Handled: resolution.Handled}, nil
}

// handleOperatorMessage applies the #close/#boton grammar. Operator chat
// that is not a command is archived and otherwise ignored.
func (s *BotService) handleOperatorMessage(ctx context.Context, opIdentity, messageID, text string, eventTs, now int64) (Result, error) {
	log := logger.FromContext(ctx)

	match := csCommandRe.FindStringSubmatch(text)
	if match == nil {
		op, err := s.users.UpsertUser(ctx, opIdentity, now)
		if err != nil {
			return Result{}, fmt.Errorf("upsert operator %s: %w", opIdentity, err)
		}
		meta := model.Meta(model.MetaCSNonCommand)
		if err := s.ledgerInbound(ctx, op, messageID, opIdentity, text, eventTs, &meta); err != nil {
			return Result{}, err
		}
		return Result{OK: true, Handled: "cs_ignored"}, nil
	}

	cmd := strings.ToLower(match[1])
	target := utils.NormalizeWaNumber(match[2])
	if len(target) < 3 {
		s.safeSendToCS(ctx, "Format salah kak. Contoh: *#close 62811xxxx* atau *#boton 62811xxxx*")
		return Result{OK: true, Handled: "cs_command_invalid"}, nil
	}

	// The target may never have talked to the bot; upserting first
	// pre-provisions the row so the mode flip always lands.
	if _, err := s.users.UpsertUser(ctx, target, now); err != nil {
		return Result{}, fmt.Errorf("upsert command target %s: %w", target, err)
	}
	if _, err := s.users.SetUserMode(ctx, target, model.ModeBot); err != nil {
		return Result{}, fmt.Errorf("set mode BOT on %s: %w", target, err)
	}
	log.Info("Operator command applied", zap.String("cmd", cmd), zap.String("target", target))
	s.safeSendToCS(ctx, fmt.Sprintf("Oke, user %s dibalikin ke mode BOT ✅", target))

	op, err := s.users.UpsertUser(ctx, opIdentity, now)
	if err != nil {
		return Result{}, fmt.Errorf("upsert operator %s: %w", opIdentity, err)
	}
	meta := model.MessageMeta{Kind: model.MetaCSCommand, Command: cmd, Target: target}
	if err := s.ledgerInbound(ctx, op, messageID, opIdentity, text, eventTs, &meta); err != nil {
		return Result{}, err
	}
	return Result{OK: true, Handled: "cs_command"}, nil
}

// handleSensitive warns the user, then forwards masked text (HUMAN) or
// re-sends the menu with a cleared step (BOT).
func (s *BotService) handleSensitive(ctx context.Context, user *model.User, text string, det *sensitive.Detection) (Result, error) {
	warnMeta := model.MessageMeta{Kind: model.MetaSensitiveWarning, Sensitive: string(det.Kind)}
	if err := s.sendAndLog(ctx, user, sensitive.WarningText(), warnMeta); err != nil {
		return Result{}, err
	}

	if user.InHumanMode() {
		maskedMeta := model.MessageMeta{Kind: model.MetaSensitiveMasked, Sensitive: string(det.Kind)}
		if err := s.forwardAndLog(ctx, user, sensitive.Mask(text), maskedMeta); err != nil {
			return Result{}, err
		}
		return Result{OK: true, Handled: "human_forward_sensitive"}, nil
	}

	if _, err := s.users.SetUserSelectedMenu(ctx, user.WaNumber, nil); err != nil {
		return Result{}, fmt.Errorf("clear menu for %s: %w", user.WaNumber, err)
	}
	if err := s.sendAndLog(ctx, user, menu.MainMenuText(), model.Meta(model.MetaMenuAfterSensitive)); err != nil {
		return Result{}, err
	}
	return Result{OK: true, Handled: "bot_sensitive"}, nil
}

// applyResolution executes the resolver's actions in order
func (s *BotService) applyResolution(ctx context.Context, user *model.User, res menu.Resolution) error {
	for _, action := range res.Actions {
		switch a := action.(type) {
		case menu.Reply:
			if err := s.sendAndLog(ctx, user, a.Text, a.Meta); err != nil {
				return err
			}
		case menu.SetMode:
			updated, err := s.users.SetUserMode(ctx, user.WaNumber, a.Mode)
			if err != nil {
				return fmt.Errorf("set mode %s on %s: %w", a.Mode, user.WaNumber, err)
			}
			*user = *updated
		case menu.SetMenu:
			updated, err := s.users.SetUserSelectedMenu(ctx, user.WaNumber, a.Menu)
			if err != nil {
				return fmt.Errorf("set menu on %s: %w", user.WaNumber, err)
			}
			*user = *updated
		case menu.ForwardSystem:
			if err := s.forwardAndLog(ctx, user, a.Text, a.Meta); err != nil {
				return err
			}
		}
	}
	return nil
}

// rateLimitPass reports whether the message may proceed and advances the
// clock only when it does.
func (s *BotService) rateLimitPass(identity string, now int64) bool {
	if s.cfg.RateLimitMinInterval <= 0 {
		return true
	}
	if v, ok := s.lastSeen.Load(identity); ok {
		if last := v.(int64); now-last < s.cfg.RateLimitMinInterval.Milliseconds() {
			return false
		}
	}
	s.lastSeen.Store(identity, now)
	return true
}

// ledgerInbound appends the user's inbound message to the ledger
func (s *BotService) ledgerInbound(ctx context.Context, user *model.User, messageID, from, text string, eventTs int64, meta *model.MessageMeta) error {
	msg := model.Message{
		UserID:     user.ID,
		Direction:  model.DirectionIn,
		MessageID:  model.StrPtr(messageID),
		FromNumber: model.StrPtr(from),
		Text:       text,
		Timestamp:  eventTs,
	}
	if meta != nil {
		msg.Meta = meta.JSON()
	}
	if err := s.messages.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("ledger inbound message %s: %w", messageID, err)
	}
	return nil
}

// sendAndLog sends a bot reply to the user and appends the attempt to the
// ledger. The gateway result lands in status/error; it never becomes an
// error for the caller.
func (s *BotService) sendAndLog(ctx context.Context, user *model.User, text string, meta model.MessageMeta) error {
	res := s.gateway.SendMessage(ctx, user.WaNumber, text)
	observer.IncGatewaySend("send", res.OK)
	return s.ledgerOutbound(ctx, user, model.DirectionOut, user.WaNumber, text, meta, res)
}

// forwardAndLog relays the user's message to the operator channel
func (s *BotService) forwardAndLog(ctx context.Context, user *model.User, text string, meta model.MessageMeta) error {
	cs := utils.NormalizeWaNumber(s.cfg.CSNumber)
	res := s.gateway.ForwardToHuman(ctx, cs, user.WaNumber, text)
	observer.IncGatewaySend("forward", res.OK)
	return s.ledgerOutbound(ctx, user, model.DirectionForward, cs, text, meta, res)
}

func (s *BotService) ledgerOutbound(ctx context.Context, user *model.User, direction, to, text string, meta model.MessageMeta, res gateway.SendResult) error {
	status := model.StatusSent
	if !res.OK {
		status = model.StatusFailed
	}
	msg := model.Message{
		UserID:     user.ID,
		Direction:  direction,
		FromNumber: model.StrPtr(user.WaNumber),
		ToNumber:   model.StrPtr(to),
		Text:       text,
		Timestamp:  s.nowFn(),
		Status:     model.StrPtr(status),
		Error:      model.StrPtr(res.Err),
		Meta:       meta.JSON(),
	}
	if direction == model.DirectionOut {
		msg.FromNumber = nil
	}
	if err := s.messages.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("ledger %s message to %s: %w", direction, to, err)
	}
	return nil
}

// safeSendToCS notifies the operator without touching the ledger; used
// for command acknowledgements that are operator chrome, not conversation
// history.
func (s *BotService) safeSendToCS(ctx context.Context, text string) {
	cs := utils.NormalizeWaNumber(s.cfg.CSNumber)
	if cs == "" {
		return
	}
	res := s.gateway.SendMessage(ctx, cs, text)
	observer.IncGatewaySend("send", res.OK)
	if !res.OK {
		logger.FromContext(ctx).Warn("Operator notification failed", zap.String("error", res.Err))
	}
}

// normalizeTimestamp interprets values below 10^12 as seconds and scales
// them to milliseconds; non-finite or non-positive values fall back to
// the current time.
func normalizeTimestamp(v float64, nowMs int64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return nowMs
	}
	if v < 1e12 {
		return int64(v * 1000)
	}
	return int64(v)
}
