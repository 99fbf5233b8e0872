package cli

import (
	"github.com/spf13/cobra"

	"tg-notify-relay/internal/app"
)

var alertsLimit int

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "查看最近的告警审计记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowAlerts(cmd.Context(), app.ShowAlertsOptions{Limit: alertsLimit})
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "最多显示条数")
}
