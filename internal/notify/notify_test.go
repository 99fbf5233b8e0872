package notify

import (
	"strings"
	"testing"
	"time"
)

func TestParsePriority(t *testing.T) {
	if got := ParsePriority(" CRITICAL "); got != PriorityCritical {
		t.Fatalf("critical 解析错误: %s", got)
	}
	if got := ParsePriority("high"); got != PriorityHigh {
		t.Fatalf("high 解析错误: %s", got)
	}
	if got := ParsePriority("whatever"); got != PriorityNormal {
		t.Fatalf("未知优先级应回落到 normal: %s", got)
	}
}

func TestRenderNormal(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	text := Render(Notification{Channel: "price", Title: "BTC", Message: "moved", Priority: PriorityNormal}, now, 5*time.Minute)

	if !strings.Contains(text, "💰 <b>BTC</b>") {
		t.Fatalf("缺少频道 emoji 与标题: %q", text)
	}
	if !strings.Contains(text, "<code>[price] 09:30:00</code>") {
		t.Fatalf("缺少频道时间戳行: %q", text)
	}
	if strings.Contains(text, "CRITICAL") || strings.Contains(text, "⏰") {
		t.Fatalf("normal 不应包含 critical 标记: %q", text)
	}
}

func TestRenderHighMark(t *testing.T) {
	text := Render(Notification{Channel: "trade", Title: "t", Message: "m", Priority: PriorityHigh}, time.Now(), 0)
	if !strings.HasPrefix(text, "🔴 ") {
		t.Fatalf("high 应带红点前缀: %q", text)
	}
}

func TestRenderCriticalFooter(t *testing.T) {
	text := Render(Notification{Channel: "alert", Title: "t", Message: "m", Priority: PriorityCritical}, time.Now(), 5*time.Minute)
	if !strings.HasPrefix(text, "🚨🚨🚨 CRITICAL 🚨🚨🚨\n") {
		t.Fatalf("critical 应带横幅: %q", text)
	}
	if !strings.Contains(text, "5 分钟内未确认将自动拨打电话") {
		t.Fatalf("critical 应提示电话升级时限: %q", text)
	}
}

func TestRenderUnknownChannelFallsBack(t *testing.T) {
	text := Render(Notification{Channel: "mystery", Title: "t", Message: "m", Priority: PriorityNormal}, time.Now(), 0)
	if !strings.Contains(text, "📢") {
		t.Fatalf("未知频道应使用默认 emoji: %q", text)
	}
}
