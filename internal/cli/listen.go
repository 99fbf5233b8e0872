package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"tg-notify-relay/internal/app"
)

var (
	listenServer   string
	listenTarget   string
	listenInterval time.Duration
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "轮询命令邮箱并打印新命令",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenTarget == "" {
			return errors.New("--target 必须提供")
		}

		err := getApp().Listen(cmd.Context(), app.ListenOptions{
			Server:   listenServer,
			Target:   listenTarget,
			Interval: listenInterval,
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenServer, "server", "", "服务地址，默认取本机配置端口")
	listenCmd.Flags().StringVar(&listenTarget, "target", "", "脚本标识，如 gold、monitor")
	listenCmd.Flags().DurationVar(&listenInterval, "interval", 5*time.Second, "轮询间隔")
}
