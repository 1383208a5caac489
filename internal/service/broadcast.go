package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/LeventeLantos/sms-mailing/internal/gateway"
	"github.com/LeventeLantos/sms-mailing/internal/metrics"
	"github.com/LeventeLantos/sms-mailing/internal/repo"
)

// Gateway is the part of the SMS gateway client used by the services.
type Gateway interface {
	Send(ctx context.Context, phones []string, text string, opts gateway.SendOptions) (string, gateway.Response, error)
	Status(ctx context.Context, id, phone string) (gateway.StatusResult, error)
}

type Publisher interface {
	PublishMailingCreated(id string)
}

// ValidationError lists the rejected input fields with a reason each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

type SubmitResult struct {
	MailingID string
	Gateway   gateway.Response
}

// Coordinator submits a mailing to the gateway and records it in the store.
type Coordinator struct {
	gw      Gateway
	store   repo.MailingStore
	opts    gateway.SendOptions
	events  Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewCoordinator(gw Gateway, store repo.MailingStore, opts gateway.SendOptions) *Coordinator {
	return &Coordinator{
		gw:    gw,
		store: store,
		opts:  opts,
		log:   slog.Default(),
	}
}

func (c *Coordinator) WithEvents(p Publisher) *Coordinator {
	c.events = p
	return c
}

func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

func (c *Coordinator) WithLogger(l *slog.Logger) *Coordinator {
	c.log = l
	return c
}

// Submit validates the input, sends it through the gateway and stores the
// mailing under the id the gateway assigned. Nothing is stored when the
// gateway call fails. There are no retries.
func (c *Coordinator) Submit(ctx context.Context, text string, phones []string) (SubmitResult, error) {
	phones = NormalizePhones(phones)

	fields := map[string]string{}
	if text == "" {
		fields["text"] = "must not be empty"
	}
	if len(phones) == 0 {
		fields["phones"] = "at least one phone is required"
	}
	if len(fields) > 0 {
		c.metrics.IncSubmissionError("validation")
		return SubmitResult{}, &ValidationError{Fields: fields}
	}

	id, resp, err := c.gw.Send(ctx, phones, text, c.opts)
	if err != nil {
		c.metrics.IncSubmissionError("gateway")
		c.log.WarnContext(ctx, "gateway rejected mailing", "error", err, "recipients", len(phones))
		return SubmitResult{}, err
	}

	if err := c.store.Create(ctx, id, phones, text); err != nil {
		reason := "store"
		if errors.Is(err, repo.ErrDuplicateMailing) {
			reason = "duplicate"
		}
		c.metrics.IncSubmissionError(reason)
		c.log.ErrorContext(ctx, "failed to store mailing", "mailing_id", id, "error", err)
		return SubmitResult{}, fmt.Errorf("store mailing %s: %w", id, err)
	}

	c.metrics.IncMailingsCreated()
	c.log.InfoContext(ctx, "mailing created", "mailing_id", id, "recipients", len(phones))

	if c.events != nil {
		c.events.PublishMailingCreated(id)
	}
	return SubmitResult{MailingID: id, Gateway: resp}, nil
}

// NormalizePhones trims phones, drops blanks and removes duplicates while
// keeping the first occurrence order.
func NormalizePhones(phones []string) []string {
	seen := make(map[string]struct{}, len(phones))
	out := make([]string, 0, len(phones))
	for _, p := range phones {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
