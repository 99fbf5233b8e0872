package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AckCallbackPrefix 是确认按钮回调数据的前缀，后接 alert ID。
const AckCallbackPrefix = "ack_"

// Update 是 getUpdates 返回的单条事件。
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message 是聊天消息的子集。
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
}

// Chat 标识消息所属会话。
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery 是按钮点击事件。
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
}

// Client 通过 Telegram Bot API 推送消息并拉取事件。
type Client struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewClient 构造 Telegram 客户端。
func NewClient(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Client{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram").Logger(),
	}
}

// ChatID 返回配置的目标会话。
func (c *Client) ChatID() string {
	return c.chatID
}

// Deliver 调用 sendMessage 推送 HTML 文本。confirmID 非空时附带确认按钮，
// 回调数据为 "ack_<confirmID>"。
func (c *Client) Deliver(ctx context.Context, text, confirmID string) error {
	payload := map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if confirmID != "" {
		payload["reply_markup"] = map[string]any{
			"inline_keyboard": [][]map[string]string{{
				{"text": "✅ 已收到，取消电话", "callback_data": AckCallbackPrefix + confirmID},
			}},
		}
	}

	if err := c.call(ctx, "sendMessage", payload, nil); err != nil {
		return err
	}

	c.logger.Info().Bool("with_confirm", confirmID != "").Msg("消息已发送 (Telegram)")
	return nil
}

// AnswerCallbackQuery 响应按钮点击，停止客户端的加载动画。
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, nil)
}

// RemoveReplyMarkup 移除指定消息上的按钮。
func (c *Client) RemoveReplyMarkup(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "editMessageReplyMarkup", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// GetUpdates 长轮询拉取事件。timeout 为服务端挂起秒数。
// HTTP 超时按挂起时长加宽限单独计算，否则常规请求超时会在服务端
// 正常挂起期间就把空闲轮询掐断。
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message", "callback_query"},
	}

	pollClient := &http.Client{Timeout: time.Duration(timeout)*time.Second + 10*time.Second}

	var updates []Update
	if err := c.callWith(ctx, pollClient, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	return c.callWith(ctx, c.client, method, payload, result)
}

func (c *Client) callWith(ctx context.Context, httpClient *http.Client, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s 响应码异常: %d (%s)", method, resp.StatusCode, apiResp.Description)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram %s 返回 ok=false: %s", method, apiResp.Description)
	}

	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("decode telegram result: %w", err)
		}
	}
	return nil
}
