package commands

import (
	"context"
	"fmt"
	"log/slog"
	"steamcommunity/cmd/confirmd/globals"
	"steamcommunity/internal/components/chrono"
	"steamcommunity/internal/confirmations"
	"steamcommunity/internal/history"
	"steamcommunity/internal/totp"
	libtelemetry "steamcommunity/lib/telemetry"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Watches for new confirmations until interrupted, accepting them when auto_accept is set.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		value := globals.Get(cmd.Context())
		if value.Secret == nil {
			return errNoSecret
		}
		interval, err := loadedConfig.Interval()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		offset, err := value.Offsets.Offset(ctx)
		if err != nil {
			return fmt.Errorf("query steam time: %w", err)
		}

		events := confirmations.NewChannelObserver(64, value.Tel)
		observers := confirmations.Observers{events}
		if loadedConfig.History.Enabled() {
			store, closeStore, err := openHistory(ctx, loadedConfig.History, value)
			if err != nil {
				return err
			}
			defer closeStore()
			observers = append(observers, store)

			retention, err := loadedConfig.Retention()
			if err != nil {
				return err
			}
			if retention > 0 {
				cron := chrono.NewStandardCron(value.Tel, time.Local)
				defer cron.Stop()
				err = schedulePrune(ctx, cron, store, retention)
				if err != nil {
					return err
				}
			}
		}

		poller := confirmations.NewPoller(confirmations.PollerOptions{
			Backend:     value.Confirmations,
			KeyProvider: totp.NewProvider(value.Secret, time.Now, offset),
			Observer:    observers,
			Clock:       chrono.NewOffsetTime(time.Duration(offset) * time.Second),
			Tel:         value.Tel,
		})

		var pollSecret []byte
		if loadedConfig.AutoAccept {
			pollSecret = value.Secret
		}

		libtelemetry.InstrumentPerfStats(ctx, time.Minute)

		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			slog.Info("polling confirmations", "interval", interval, "auto_accept", loadedConfig.AutoAccept)
			poller.Start(interval, pollSecret)
			<-ctx.Done()
			poller.Stop()

			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return poller.Wait(waitCtx)
		})
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-value.Expired:
					return fmt.Errorf("session expired, refresh the cookies: %w", err)
				case event := <-events.Events():
					logEvent(ctx, poller, event)
				}
			}
		})
		return group.Wait()
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func logEvent(ctx context.Context, poller *confirmations.Poller, event confirmations.Event) {
	conf := event.Confirmation
	switch event.Kind {
	case confirmations.EventDebug:
		slog.DebugContext(ctx, event.Message)
	case confirmations.EventConfirmationAccepted:
		slog.InfoContext(ctx, "accepted confirmation",
			"id", conf.ID,
			"type", conf.Type.String(),
			"creator", conf.CreatorID,
			"title", conf.Title,
		)
	case confirmations.EventNewConfirmation:
		err := poller.ResolveOfferID(ctx, &conf)
		if err != nil {
			slog.WarnContext(ctx, "failed to resolve trade offer", "id", conf.ID, "err", err)
		}
		slog.InfoContext(ctx, "new confirmation",
			"id", conf.ID,
			"type", conf.Type.String(),
			"creator", conf.CreatorID,
			"offer", conf.OfferID,
			"title", conf.Title,
			"sending", conf.Sending,
			"receiving", conf.Receiving,
		)
	}
}

func schedulePrune(ctx context.Context, cron chrono.CronAPI, store history.Store, retention time.Duration) error {
	return cron.Cron("@hourly", func() {
		err := store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			slog.WarnContext(ctx, "failed to prune history", "err", err)
		}
	})
}

func openHistory(ctx context.Context, config history.Config, value *globals.Value) (history.Store, func(), error) {
	database, err := config.OpenDB()
	if err != nil {
		return history.Store{}, nil, fmt.Errorf("open history: %w", err)
	}
	store := history.NewStore(database, value.Tel)
	err = store.Migrate(ctx)
	if err != nil {
		database.Close()
		return history.Store{}, nil, fmt.Errorf("migrate history: %w", err)
	}
	return store, func() { database.Close() }, nil
}
