package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg-notify-relay/internal/mailbox"
)

// NotifyOptions hold parameters for the notify client command.
type NotifyOptions struct {
	Server   string
	Channel  string
	Title    string
	Message  string
	Priority string
}

// ListenOptions hold parameters for the command listener loop.
type ListenOptions struct {
	Server   string
	Target   string
	Interval time.Duration
}

// serverURL 解析目标服务地址：优先 --server，否则按本机监听端口推导。
func (a *App) serverURL(override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	addr := a.Config.Server.ListenAddr
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func (a *App) clientRequest(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Config.Server.APIKey != "" {
		req.Header.Set("X-API-Key", a.Config.Server.APIKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	return client.Do(req)
}

// SendNotify 作为客户端向运行中的服务提交一条通知。
func (a *App) SendNotify(ctx context.Context, opts NotifyOptions) error {
	url := a.serverURL(opts.Server) + "/notify"
	resp, err := a.clientRequest(ctx, http.MethodPost, url, map[string]string{
		"channel":  opts.Channel,
		"title":    opts.Title,
		"message":  opts.Message,
		"priority": opts.Priority,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	a.Logger.Info().Str("title", opts.Title).Str("priority", opts.Priority).Msg("通知已提交")
	return nil
}

// SendCall 作为客户端请求立即拨打电话。
func (a *App) SendCall(ctx context.Context, serverOverride, message string) error {
	url := a.serverURL(serverOverride) + "/call"
	resp, err := a.clientRequest(ctx, http.MethodPost, url, map[string]string{"message": message})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("call rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	a.Logger.Info().Msg("电话请求已提交")
	return nil
}

// Listen 以给定 target 轮询命令邮箱并打印新命令，直到 ctx 取消。
// 游标由客户端持有：每轮携带已见最大序号。
func (a *App) Listen(ctx context.Context, opts ListenOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	base := a.serverURL(opts.Server)

	a.Logger.Info().Str("target", opts.Target).Str("server", base).Msg("命令监听启动")

	var cursor int64
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		commands, err := a.pollOnce(ctx, base, opts.Target, cursor)
		if err != nil {
			a.Logger.Error().Err(err).Msg("poll failed")
		}
		for _, cmd := range commands {
			if cmd.Seq > cursor {
				cursor = cmd.Seq
			}
			fmt.Printf("#%d %s %s %s\n", cmd.Seq, cmd.Target, cmd.Action, strings.Join(cmd.Args, " "))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) pollOnce(ctx context.Context, base, target string, after int64) ([]mailbox.Command, error) {
	url := fmt.Sprintf("%s/commands?target=%s&after=%d", base, target, after)
	resp, err := a.clientRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll rejected (%d)", resp.StatusCode)
	}

	var payload struct {
		Commands []mailbox.Command `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return payload.Commands, nil
}
