package cli

import (
	"github.com/spf13/cobra"
)

var (
	callServer  string
	callMessage string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "立即拨打电话（跳过确认流程）",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SendCall(cmd.Context(), callServer, callMessage)
	},
}

func init() {
	callCmd.Flags().StringVar(&callServer, "server", "", "服务地址，默认取本机配置端口")
	callCmd.Flags().StringVar(&callMessage, "message", "", "电话中播报的内容")
}
