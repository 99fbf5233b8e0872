package twilio

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-notify-relay/internal/engine"
)

const callsPathFormat = "/2010-04-01/Accounts/%s/Calls.json"

// Options 配置 Twilio 语音通道。
type Options struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	Language   string
	BaseURL    string
	Timeout    time.Duration
}

// Caller 通过 Twilio Calls API 拨打语音电话。
type Caller struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewCaller 构造 Twilio 拨号器。
func NewCaller(opts Options, logger zerolog.Logger) *Caller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	if opts.Language == "" {
		opts.Language = "zh-CN"
	}

	return &Caller{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "twilio").Logger(),
	}
}

// Call 向配置的号码拨打电话并播报 message。
func (c *Caller) Call(ctx context.Context, message string) error {
	if c.opts.AccountSID == "" || c.opts.AuthToken == "" || c.opts.From == "" || c.opts.To == "" {
		return fmt.Errorf("twilio 未正确配置")
	}

	form := url.Values{}
	form.Set("To", c.opts.To)
	form.Set("From", c.opts.From)
	form.Set("Twiml", renderTwiML(message, c.opts.Language))

	endpoint := c.baseURL + fmt.Sprintf(callsPathFormat, c.opts.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.opts.AccountSID, c.opts.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twilio 响应码异常: %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	c.logger.Info().Str("to", c.opts.To).Msg("📞 电话已拨出")
	return nil
}

// renderTwiML 生成语音指令：播报两遍并提示处理。
func renderTwiML(message, language string) string {
	escaped := xmlEscape(message)
	builder := strings.Builder{}
	builder.WriteString("<Response>")
	builder.WriteString(fmt.Sprintf(`<Say language="%s">注意，紧急告警：%s</Say>`, language, escaped))
	builder.WriteString(`<Pause length="2"/>`)
	builder.WriteString(fmt.Sprintf(`<Say language="%s">重复一遍：%s</Say>`, language, escaped))
	builder.WriteString(`<Pause length="1"/>`)
	builder.WriteString(fmt.Sprintf(`<Say language="%s">请立即处理</Say>`, language))
	builder.WriteString("</Response>")
	return builder.String()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

var _ engine.Caller = (*Caller)(nil)
