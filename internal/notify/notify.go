package notify

import (
	"fmt"
	"strings"
	"time"
)

// Priority 表示通知的紧急程度。
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority 归一化优先级字符串，未知值按 normal 处理。
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityCritical:
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// 频道 emoji 映射，与消息渲染配套。
var channelEmoji = map[string]string{
	"gold":   "🥇",
	"wallet": "👛",
	"price":  "💰",
	"system": "⚙️",
	"alert":  "🚨",
	"trade":  "📈",
	"info":   "ℹ️",
}

const defaultEmoji = "📢"

// Notification 封装一次通知的展示内容。
type Notification struct {
	Channel  string
	Title    string
	Message  string
	Priority Priority
}

// Render 渲染 Telegram HTML 消息体。window 仅对 critical 生效，
// 用于在消息尾部提示电话升级的等待时长。
func Render(n Notification, now time.Time, window time.Duration) string {
	emoji, ok := channelEmoji[n.Channel]
	if !ok {
		emoji = defaultEmoji
	}

	var mark string
	switch n.Priority {
	case PriorityHigh:
		mark = "🔴 "
	case PriorityCritical:
		mark = "🚨🚨🚨 CRITICAL 🚨🚨🚨\n"
	}

	builder := strings.Builder{}
	builder.WriteString(mark)
	builder.WriteString(fmt.Sprintf("%s <b>%s</b>\n\n", emoji, n.Title))
	builder.WriteString(n.Message)
	builder.WriteString(fmt.Sprintf("\n\n<code>[%s] %s</code>", n.Channel, now.Format("15:04:05")))

	if n.Priority == PriorityCritical {
		minutes := int(window.Minutes())
		builder.WriteString(fmt.Sprintf("\n\n⏰ <b>%d 分钟内未确认将自动拨打电话</b>", minutes))
	}

	return builder.String()
}

// RenderVoice 渲染电话播报文本。
func RenderVoice(title, message string) string {
	return fmt.Sprintf("%s: %s", title, message)
}
