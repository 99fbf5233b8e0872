package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-notify-relay/internal/engine"
	"tg-notify-relay/internal/mailbox"
)

// Poller 长轮询 getUpdates：确认按钮回调交给升级引擎，
// 斜杠命令解析后写入命令邮箱。
type Poller struct {
	client  *Client
	engine  *engine.Engine
	box     *mailbox.Mailbox
	logger  zerolog.Logger
	timeout int
	offset  int64
}

// NewPoller 构造事件轮询器。
func NewPoller(client *Client, eng *engine.Engine, box *mailbox.Mailbox, pollTimeout time.Duration, logger zerolog.Logger) *Poller {
	timeout := int(pollTimeout.Seconds())
	if timeout <= 0 {
		timeout = 30
	}
	return &Poller{
		client:  client,
		engine:  eng,
		box:     box,
		logger:  logger.With().Str("component", "telegram_poller").Logger(),
		timeout: timeout,
	}
}

// Run blocks, polling for updates until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Msg("Telegram 轮询启动")
	p.drainBacklog(ctx)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := p.client.GetUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error().Err(err).Msg("getUpdates failed; backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= p.offset {
				p.offset = update.UpdateID + 1
			}
			p.handleUpdate(ctx, update)
		}
	}
}

// drainBacklog 启动时跳过积压事件：offset=-1 只取最新一条，
// 把游标推到它之后。重启后不重放历史命令和按钮回调。
func (p *Poller) drainBacklog(ctx context.Context) {
	updates, err := p.client.GetUpdates(ctx, -1, 0)
	if err != nil {
		p.logger.Error().Err(err).Msg("drain backlog failed; starting from current offset")
		return
	}
	for _, update := range updates {
		if update.UpdateID >= p.offset {
			p.offset = update.UpdateID + 1
		}
	}
	if len(updates) > 0 {
		p.logger.Info().Int64("offset", p.offset).Msg("丢弃启动前积压事件")
	}
}

func (p *Poller) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		p.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		p.handleMessage(ctx, update.Message)
	}
}

func (p *Poller) handleCallback(ctx context.Context, query *CallbackQuery) {
	if err := p.client.AnswerCallbackQuery(ctx, query.ID); err != nil {
		p.logger.Debug().Err(err).Msg("answer callback failed")
	}

	alertID, ok := strings.CutPrefix(query.Data, AckCallbackPrefix)
	if !ok {
		return
	}

	if !p.engine.Acknowledge(ctx, alertID) {
		// 迟到或重复的确认：电话要么已取消要么已拨出，静默吸收。
		p.reply(ctx, "⚠️ 该告警已过期或已处理")
		return
	}

	if query.Message != nil {
		if err := p.client.RemoveReplyMarkup(ctx, query.Message.Chat.ID, query.Message.MessageID); err != nil {
			p.logger.Debug().Err(err).Msg("remove reply markup failed")
		}
	}
	p.reply(ctx, "✅ <b>已确认收到，取消电话告警</b>")
}

func (p *Poller) handleMessage(ctx context.Context, msg *Message) {
	if !p.fromConfiguredChat(msg) {
		return
	}

	target, action, args, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}

	seq, err := p.box.Append(ctx, target, action, args)
	if err != nil {
		if errors.Is(err, mailbox.ErrFull) {
			p.reply(ctx, "⚠️ 命令队列已满，请稍后重试")
		} else {
			p.logger.Error().Err(err).Msg("append command failed")
		}
		return
	}
	p.reply(ctx, fmt.Sprintf("✅ 命令 #%d 已入队: <code>%s %s</code>", seq, target, action))
}

func (p *Poller) fromConfiguredChat(msg *Message) bool {
	want := p.client.ChatID()
	if want == "" {
		return true
	}
	return strconv.FormatInt(msg.Chat.ID, 10) == want
}

func (p *Poller) reply(ctx context.Context, text string) {
	if err := p.client.Deliver(ctx, text, ""); err != nil {
		p.logger.Debug().Err(err).Msg("reply delivery failed")
	}
}

// ParseCommand 解析 "/target action [args...]" 形式的命令文本。
// "/all" 为广播目标。不带 action 的消息（如 /start）不视为命令。
func ParseCommand(text string) (target, action string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", nil, false
	}

	fields := strings.Fields(text[1:])
	if len(fields) < 2 {
		return "", "", nil, false
	}

	target = fields[0]
	// 群聊里命令可能带 @botname 后缀。
	if at := strings.IndexByte(target, '@'); at >= 0 {
		target = target[:at]
	}
	if target == "" {
		return "", "", nil, false
	}

	return target, fields[1], fields[2:], true
}

var _ engine.Messenger = (*Client)(nil)
