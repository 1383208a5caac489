package status

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LeventeLantos/sms-mailing/internal/metrics"
	"github.com/LeventeLantos/sms-mailing/internal/model"
	"github.com/LeventeLantos/sms-mailing/internal/repo"
)

const DefaultInterval = time.Second

// EmitFunc delivers one frame to a subscriber. An error ends the loop.
type EmitFunc func(context.Context, model.StatusFrame) error

// Aggregator turns stored recipient statuses into per-mailing snapshots.
type Aggregator struct {
	store    repo.MailingStore
	interval time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewAggregator(store repo.MailingStore, interval time.Duration, m *metrics.Metrics, log *slog.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{store: store, interval: interval, metrics: m, log: log}
}

// Snapshot reads every mailing and counts its recipients by status. Mailings
// without recipients are left out.
func (a *Aggregator) Snapshot(ctx context.Context) ([]model.Snapshot, error) {
	ids, err := a.store.ListMailingIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Snapshot{}, nil
	}

	mailings, err := a.store.GetMailings(ctx, ids...)
	if err != nil {
		return nil, err
	}

	out := make([]model.Snapshot, 0, len(mailings))
	for _, m := range mailings {
		snap, ok := m.Snapshot()
		if !ok {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Run emits a frame right away and then once per interval. A failed read is
// logged and that tick skipped. Run returns when ctx is done or emit fails.
func (a *Aggregator) Run(ctx context.Context, emit EmitFunc) error {
	if emit == nil {
		return errors.New("emit must not be nil")
	}

	a.metrics.SubscriberConnected()
	defer a.metrics.SubscriberDisconnected()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := a.tick(ctx, emit); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Aggregator) tick(ctx context.Context, emit EmitFunc) error {
	snaps, err := a.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.metrics.IncStatusTick("read_error")
		a.log.WarnContext(ctx, "status snapshot failed", "error", err)
		return nil
	}

	if err := emit(ctx, model.NewStatusFrame(snaps)); err != nil {
		a.metrics.IncStatusTick("emit_error")
		return err
	}
	a.metrics.IncStatusTick("ok")
	return nil
}
