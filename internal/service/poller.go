package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/LeventeLantos/sms-mailing/internal/gateway"
	"github.com/LeventeLantos/sms-mailing/internal/metrics"
	"github.com/LeventeLantos/sms-mailing/internal/model"
	"github.com/LeventeLantos/sms-mailing/internal/repo"
)

type PollResult struct {
	Checked   int `json:"checked"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

func (r *PollResult) add(o PollResult) {
	r.Checked += o.Checked
	r.Delivered += o.Delivered
	r.Failed += o.Failed
}

// DeliveryPoller asks the gateway for the state of pending recipients and
// records terminal outcomes in the store.
type DeliveryPoller struct {
	gw      Gateway
	store   repo.MailingStore
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewDeliveryPoller limits status calls to ratePerSecond; zero or less means
// unlimited.
func NewDeliveryPoller(gw Gateway, store repo.MailingStore, ratePerSecond float64) *DeliveryPoller {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &DeliveryPoller{
		gw:      gw,
		store:   store,
		limiter: rate.NewLimiter(limit, 1),
		log:     slog.Default(),
	}
}

func (p *DeliveryPoller) WithMetrics(m *metrics.Metrics) *DeliveryPoller {
	p.metrics = m
	return p
}

func (p *DeliveryPoller) WithLogger(l *slog.Logger) *DeliveryPoller {
	p.log = l
	return p
}

// Tick runs one poll pass; it fits scheduler.TickFunc.
func (p *DeliveryPoller) Tick(ctx context.Context) error {
	res, err := p.PollOnce(ctx)
	if res.Checked > 0 {
		p.log.InfoContext(ctx, "delivery poll completed",
			"checked", res.Checked, "delivered", res.Delivered, "failed", res.Failed)
	}
	return err
}

// PollOnce checks every pending recipient of every mailing.
func (p *DeliveryPoller) PollOnce(ctx context.Context) (PollResult, error) {
	ids, err := p.store.ListMailingIDs(ctx)
	if err != nil {
		return PollResult{}, fmt.Errorf("list mailings: %w", err)
	}
	if len(ids) == 0 {
		return PollResult{}, nil
	}

	mailings, err := p.store.GetMailings(ctx, ids...)
	if err != nil {
		return PollResult{}, fmt.Errorf("get mailings: %w", err)
	}

	var total PollResult
	var errs []error
	for _, m := range mailings {
		res, err := p.poll(ctx, m)
		total.add(res)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// PollMailing checks the pending recipients of one mailing.
func (p *DeliveryPoller) PollMailing(ctx context.Context, id string) (PollResult, error) {
	mailings, err := p.store.GetMailings(ctx, id)
	if err != nil {
		return PollResult{}, fmt.Errorf("get mailing %s: %w", id, err)
	}
	if len(mailings) == 0 {
		return PollResult{}, fmt.Errorf("mailing %s: %w", id, repo.ErrUnknownMailing)
	}
	return p.poll(ctx, mailings[0])
}

// Watch polls each announced mailing as soon as its id arrives. It returns
// when ctx is done or ids is closed.
func (p *DeliveryPoller) Watch(ctx context.Context, ids <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-ids:
			if !ok {
				return
			}
			if _, err := p.PollMailing(ctx, id); err != nil && ctx.Err() == nil {
				p.log.WarnContext(ctx, "initial delivery poll failed", "mailing_id", id, "error", err)
			}
		}
	}
}

// ApplyCode records a gateway status code for one recipient. Codes that map
// to pending leave the store untouched.
func (p *DeliveryPoller) ApplyCode(ctx context.Context, id, phone string, code int) (model.RecipientStatus, error) {
	status := gateway.MapStatusCode(code)
	if !status.Terminal() {
		return status, nil
	}
	if err := p.store.UpdateRecipientStatus(ctx, id, phone, status); err != nil {
		p.metrics.IncRecipientUpdate(string(status), updateOutcome(err))
		return status, err
	}
	p.metrics.IncRecipientUpdate(string(status), "applied")
	return status, nil
}

func (p *DeliveryPoller) poll(ctx context.Context, m model.Mailing) (PollResult, error) {
	var res PollResult

	for _, phone := range m.Phones() {
		if m.Recipients[phone] != model.Pending {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return res, err
		}

		st, err := p.gw.Status(ctx, m.ID, phone)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			p.log.WarnContext(ctx, "status check failed", "mailing_id", m.ID, "phone", phone, "error", err)
			continue
		}
		res.Checked++

		status, err := p.ApplyCode(ctx, m.ID, phone, st.Code)
		p.metrics.IncPollerCheck(string(status))
		if err != nil {
			if isDroppable(err) {
				p.log.WarnContext(ctx, "status update dropped", "mailing_id", m.ID, "phone", phone, "error", err)
				continue
			}
			return res, fmt.Errorf("update %s of mailing %s: %w", phone, m.ID, err)
		}

		switch status {
		case model.Delivered:
			res.Delivered++
		case model.Failed:
			res.Failed++
		}
	}
	return res, nil
}

func isDroppable(err error) bool {
	return errors.Is(err, repo.ErrUnknownMailing) ||
		errors.Is(err, repo.ErrUnknownRecipient) ||
		errors.Is(err, repo.ErrInvalidTransition)
}

func updateOutcome(err error) string {
	switch {
	case errors.Is(err, repo.ErrUnknownMailing):
		return "unknown_mailing"
	case errors.Is(err, repo.ErrUnknownRecipient):
		return "unknown_recipient"
	case errors.Is(err, repo.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}
