package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"tg-notify-relay/internal/app"
)

var (
	notifyServer   string
	notifyChannel  string
	notifyTitle    string
	notifyMessage  string
	notifyPriority string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "向运行中的服务提交一条通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		if notifyTitle == "" {
			return errors.New("--title 必须提供")
		}

		return getApp().SendNotify(cmd.Context(), app.NotifyOptions{
			Server:   notifyServer,
			Channel:  notifyChannel,
			Title:    notifyTitle,
			Message:  notifyMessage,
			Priority: notifyPriority,
		})
	},
}

func init() {
	notifyCmd.Flags().StringVar(&notifyServer, "server", "", "服务地址，默认取本机配置端口")
	notifyCmd.Flags().StringVar(&notifyChannel, "channel", "info", "频道 (gold, wallet, price, system, alert, trade, info)")
	notifyCmd.Flags().StringVar(&notifyTitle, "title", "", "通知标题")
	notifyCmd.Flags().StringVar(&notifyMessage, "message", "", "通知内容")
	notifyCmd.Flags().StringVar(&notifyPriority, "priority", "normal", "优先级 (normal / high / critical)")
}
