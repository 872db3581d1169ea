package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/internal/metrics"
)

// Platform is the slice of the merchant API the handlers use.
// *pdd.Client satisfies it.
type Platform interface {
	SendText(ctx context.Context, toUID, content string) error
	AssignCsList(ctx context.Context) ([]pdd.CsSeat, error)
	MoveConversation(ctx context.Context, buyerUID, csUID string) error
}

// Replier produces the AI answer for one normalized query.
// *agent.CozeBot satisfies it.
type Replier interface {
	Reply(ctx context.Context, userKey, fromUID, query string) string
}

// Handler is one element of the chain. The first handler whose Accepts
// returns true owns the event; later handlers never see it.
type Handler interface {
	Accepts(ev *pdd.Event) bool
	Handle(ctx context.Context, ev *pdd.Event) error
}

// Chain dispatches an event to the first accepting handler. Handler
// failures are logged by the dispatcher worker, never fatal.
type Chain []Handler

// Dispatch runs the owning handler. Returns false when no handler
// accepted the event.
func (c Chain) Dispatch(ctx context.Context, logger *slog.Logger, ev *pdd.Event) bool {
	for _, h := range c {
		if !h.Accepts(ev) {
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			metrics.HandlerFailures.Inc()
			logger.Error("handler failed", "kind", ev.Kind.String(), "from_uid", ev.FromUID, "error", err)
		}
		return true
	}
	return false
}

// DefaultTransferKeywords trigger the hand-off to a human seat.
var DefaultTransferKeywords = []string{
	"人工客服", "转人工", "人工", "客服", "投诉", "举报",
	"不满意", "解决不了", "要求赔偿",
}

// BusinessHoursHandler owns every event outside the configured window
// and answers with a leave-a-message text.
type BusinessHoursHandler struct {
	logger   *slog.Logger
	platform Platform
	start    string
	end      string
	startSec int
	endSec   int
	now      func() time.Time
}

// NewBusinessHoursHandler parses the HH:MM window. Boundaries are
// inclusive.
func NewBusinessHoursHandler(logger *slog.Logger, platform Platform, start, end string) (*BusinessHoursHandler, error) {
	startSec, err := clockSeconds(start)
	if err != nil {
		return nil, errors.Wrap(err, "business start")
	}
	endSec, err := clockSeconds(end)
	if err != nil {
		return nil, errors.Wrap(err, "business end")
	}
	return &BusinessHoursHandler{
		logger:   logger,
		platform: platform,
		start:    start,
		end:      end,
		startSec: startSec,
		endSec:   endSec,
		now:      time.Now,
	}, nil
}

func clockSeconds(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

func (h *BusinessHoursHandler) Accepts(ev *pdd.Event) bool {
	now := h.now()
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	return nowSec < h.startSec || nowSec > h.endSec
}

func (h *BusinessHoursHandler) Handle(ctx context.Context, ev *pdd.Event) error {
	reply := fmt.Sprintf(
		"您好！当前时间是 %s，我们的营业时间是 %s-%s。现在是非营业时间，您可以先留言，我们会在营业时间内尽快回复您。",
		h.now().Format("15:04:05"), h.start, h.end)
	if err := h.platform.SendText(ctx, ev.FromUID, reply); err != nil {
		return errors.Wrap(err, "send off-hours reply")
	}
	h.logger.Info("off-hours auto reply sent", "from_uid", ev.FromUID)
	return nil
}

// TransferToHumanHandler hands keyword-matching text to another seat.
type TransferToHumanHandler struct {
	logger   *slog.Logger
	platform Platform
	selfUID  string
	keywords []string
}

// NewTransferToHumanHandler builds the handler. An empty keyword slice
// falls back to DefaultTransferKeywords.
func NewTransferToHumanHandler(logger *slog.Logger, platform Platform, selfUID string, keywords []string) *TransferToHumanHandler {
	if len(keywords) == 0 {
		keywords = DefaultTransferKeywords
	}
	return &TransferToHumanHandler{
		logger:   logger,
		platform: platform,
		selfUID:  selfUID,
		keywords: keywords,
	}
}

func (h *TransferToHumanHandler) Accepts(ev *pdd.Event) bool {
	if ev.Kind != pdd.KindText {
		return false
	}
	content := strings.ToLower(ev.Content)
	for _, keyword := range h.keywords {
		if strings.Contains(content, keyword) {
			return true
		}
	}
	return false
}

func (h *TransferToHumanHandler) Handle(ctx context.Context, ev *pdd.Event) error {
	seats, err := h.platform.AssignCsList(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch cs list")
	}

	for _, seat := range seats {
		if seat.UID == h.selfUID {
			continue
		}
		if err := h.platform.MoveConversation(ctx, ev.FromUID, seat.UID); err != nil {
			return errors.Wrapf(err, "move conversation to %s", seat.UID)
		}
		h.logger.Info("conversation transferred", "from_uid", ev.FromUID, "cs_uid", seat.UID, "cs_name", seat.Username)
		return nil
	}

	h.logger.Warn("no other seat available for transfer", "from_uid", ev.FromUID)
	return h.platform.SendText(ctx, ev.FromUID, "抱歉，当前没有其他客服在线，请您稍后再试。")
}

// aiReplyKinds are the buyer event kinds the AI handler answers.
var aiReplyKinds = map[pdd.Kind]bool{
	pdd.KindText:         true,
	pdd.KindImage:        true,
	pdd.KindVideo:        true,
	pdd.KindEmotion:      true,
	pdd.KindGoodsInquiry: true,
	pdd.KindGoodsSpec:    true,
	pdd.KindOrderInfo:    true,
}

// Normalizer flattens an event into the agent's query format.
// agent.Normalize satisfies it.
type Normalizer func(ev *pdd.Event) string

// AIReplyHandler asks the agent for an answer and sends it back.
type AIReplyHandler struct {
	logger    *slog.Logger
	platform  Platform
	bot       Replier
	normalize Normalizer
	shopID    string
}

// NewAIReplyHandler builds the terminal handler of the default chain.
func NewAIReplyHandler(logger *slog.Logger, platform Platform, bot Replier, normalize Normalizer, shopID string) *AIReplyHandler {
	return &AIReplyHandler{
		logger:    logger,
		platform:  platform,
		bot:       bot,
		normalize: normalize,
		shopID:    shopID,
	}
}

func (h *AIReplyHandler) Accepts(ev *pdd.Event) bool {
	return aiReplyKinds[ev.Kind]
}

func (h *AIReplyHandler) Handle(ctx context.Context, ev *pdd.Event) error {
	query := h.normalize(ev)
	userKey := h.shopID + ":" + ev.FromUID
	h.logger.Info("buyer message", "nickname", ev.Nickname, "kind", ev.Kind.String(), "from_uid", ev.FromUID)

	reply := h.bot.Reply(ctx, userKey, ev.FromUID, query)
	if err := h.platform.SendText(ctx, ev.FromUID, reply); err != nil {
		return errors.Wrap(err, "send ai reply")
	}
	metrics.RepliesSent.Inc()
	h.logger.Info("ai reply sent", "from_uid", ev.FromUID)
	return nil
}
