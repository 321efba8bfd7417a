package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/md-rashed-zaman/delayrelay/libs/config"
	"github.com/md-rashed-zaman/delayrelay/libs/runtime"
	relayconfig "github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/config"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/dispatch"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/event"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/ingest"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/storage"
	"github.com/spf13/cobra"
)

func pendingCmd(configPath *string) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List records held in storage",
		Long: "List records held in storage with their status. Embedded stores are locked by a running relay, " +
			"so stop it first or point --config at a copy.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := relayconfig.Load(*configPath)
			if err != nil {
				return err
			}
			logger := runtime.NewLogger("relay-service", config.String("LOG_LEVEL", "warn"))
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			store, err := storage.Open(ctx, cfg.Storage, logger)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			codec := event.NewCodec(cfg.TimestampField, cfg.TimestampLayout, logger)
			return listPending(ctx, cmd.OutOrStdout(), store, codec, time.Now(), cfg.ExpiryAge, dispatch.Status(status), limit)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show records with this status (pending, due, undecodable, invalid)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop listing after this many records (0 lists all)")
	return cmd
}

func listPending(ctx context.Context, w io.Writer, store storage.Storage, dec dispatch.Decoder, now time.Time, expiryAge time.Duration, only dispatch.Status, limit int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTATUS\tTIMESTAMP\tAGE\tKEY")

	listed := 0
	sum, err := dispatch.Inspect(ctx, store, dec, now, expiryAge, func(e dispatch.Entry) error {
		if only != "" && e.Status != only {
			return nil
		}
		if limit > 0 && listed >= limit {
			return nil
		}
		listed++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			seqLabel(e.StorageKey), e.Status, tsLabel(e), ageLabel(e), keyLabel(e))
		return nil
	})
	if err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\ntotal=%d pending=%d due=%d undecodable=%d invalid=%d\n",
		sum.Total, sum.Pending, sum.Due, sum.Undecodable, sum.Invalid)
	return err
}

func seqLabel(key []byte) string {
	if v, ok := ingest.ParseSequenceKey(key); ok {
		return fmt.Sprintf("%d", v)
	}
	return hex.EncodeToString(key)
}

func tsLabel(e dispatch.Entry) string {
	if e.Timestamp.IsZero() {
		return "-"
	}
	return e.Timestamp.UTC().Format(time.RFC3339Nano)
}

func ageLabel(e dispatch.Entry) string {
	if e.Timestamp.IsZero() {
		return "-"
	}
	return e.Age.Truncate(time.Millisecond).String()
}

func keyLabel(e dispatch.Entry) string {
	if e.Status == dispatch.StatusUndecodable {
		return "-"
	}
	if e.Envelope.Key == nil {
		return "<null>"
	}
	return hex.EncodeToString(e.Envelope.Key)
}
