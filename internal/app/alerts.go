package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// ShowAlertsOptions tunes the audit listing.
type ShowAlertsOptions struct {
	Limit int
}

// ShowAlerts prints the most recent audited alerts.
func (a *App) ShowAlerts(ctx context.Context, opts ShowAlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tChannel\tPriority\tOutcome\tTitle")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Channel,
			alert.Priority,
			alert.Outcome,
			alert.Title,
		)
	}

	writer.Flush()
	return nil
}
