package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

// Admin operations consumed by the dashboard. Thin pass-throughs over the
// repositories plus the optional user-notification side effects; none of
// them run the inbound state machine.

const (
	adminNotifyBotText   = "Oke kak, botnya aku aktif lagi ya 😊\nKetik 0/menu buat lihat menu."
	adminNotifyHumanText = "Siap kak, aku sambungkan ke CS ya. Setelah ini kakak bisa chat seperti biasa 😊"
)

// ListUsers pages known users ordered by most recent interaction
func (s *BotService) ListUsers(ctx context.Context, limit, offset int) ([]model.User, int64, error) {
	return s.users.ListUsers(ctx, limit, offset)
}

// ListMessages pages a user's ledger newest-first
func (s *BotService) ListMessages(ctx context.Context, waNumber string, limit, offset int) ([]model.Message, error) {
	identity := utils.NormalizeWaNumber(waNumber)
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", apperrors.ErrBadRequest)
	}
	return s.messages.ListMessagesByUser(ctx, identity, limit, offset)
}

// AdminSetMode force-sets a user's mode. With notify, the user receives a
// canned message; switching to HUMAN additionally sends a takeover notice
// to the operator channel.
func (s *BotService) AdminSetMode(ctx context.Context, waNumber, mode string, notify bool) (*model.User, error) {
	identity := utils.NormalizeWaNumber(waNumber)
	if len(identity) < 3 {
		return nil, fmt.Errorf("%w: invalid identity %q", apperrors.ErrBadRequest, waNumber)
	}
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if mode != model.ModeBot && mode != model.ModeHuman {
		return nil, fmt.Errorf("%w: invalid mode %q", apperrors.ErrBadRequest, mode)
	}

	// Pre-provision like the operator commands do, so the flip works for
	// users the bot has never seen.
	if _, err := s.users.UpsertUser(ctx, identity, s.nowFn()); err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", identity, err)
	}
	user, err := s.users.SetUserMode(ctx, identity, mode)
	if err != nil {
		return nil, fmt.Errorf("set mode %s on %s: %w", mode, identity, err)
	}
	logger.FromContext(ctx).Info("Admin set user mode",
		zap.String("wa_number", identity), zap.String("mode", mode), zap.Bool("notify", notify))

	if notify {
		if mode == model.ModeHuman {
			if err := s.sendAndLog(ctx, user, adminNotifyHumanText, model.Meta(model.MetaAdminNotifyHuman)); err != nil {
				return nil, err
			}
			notice := "(SYSTEM) Admin takeover: user masuk mode HUMAN."
			if err := s.forwardAndLog(ctx, user, notice, model.Meta(model.MetaAdminTakeover)); err != nil {
				return nil, err
			}
		} else {
			if err := s.sendAndLog(ctx, user, adminNotifyBotText, model.Meta(model.MetaAdminNotifyBot)); err != nil {
				return nil, err
			}
		}
	}
	return user, nil
}

// AdminSendMessage sends an arbitrary manual message as the bot and
// ledgers the attempt.
func (s *BotService) AdminSendMessage(ctx context.Context, waNumber, text string) (*model.User, error) {
	identity := utils.NormalizeWaNumber(waNumber)
	if len(identity) < 3 {
		return nil, fmt.Errorf("%w: invalid identity %q", apperrors.ErrBadRequest, waNumber)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", apperrors.ErrBadRequest)
	}
	user, err := s.users.UpsertUser(ctx, identity, s.nowFn())
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", identity, err)
	}
	if err := s.sendAndLog(ctx, user, text, model.Meta(model.MetaAdminManual)); err != nil {
		return nil, err
	}
	return user, nil
}
