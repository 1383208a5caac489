package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeventeLantos/sms-mailing/internal/gateway"
	"github.com/LeventeLantos/sms-mailing/internal/model"
	"github.com/LeventeLantos/sms-mailing/internal/repo"
	"github.com/LeventeLantos/sms-mailing/internal/scheduler"
	"github.com/LeventeLantos/sms-mailing/internal/service"
	"github.com/LeventeLantos/sms-mailing/internal/status"
)

const defaultMaxBodyBytes = 1 << 20

type Submitter interface {
	Submit(ctx context.Context, text string, phones []string) (service.SubmitResult, error)
}

type StatusSource interface {
	Snapshot(ctx context.Context) ([]model.Snapshot, error)
	Run(ctx context.Context, emit status.EmitFunc) error
}

type StatusApplier interface {
	ApplyCode(ctx context.Context, id, phone string, code int) (model.RecipientStatus, error)
}

type Options struct {
	Submitter Submitter
	Status    StatusSource
	Callbacks StatusApplier
	Poller    *scheduler.Scheduler
	// DefaultPhones are used when a submission names no phones.
	DefaultPhones []string
	Metrics       http.Handler
	Logger        *slog.Logger
	// Context bounds work that outlives a request: the poller loop and
	// websocket subscriptions.
	Context      context.Context
	MaxBodyBytes int64
}

type Handler struct {
	submitter     Submitter
	status        StatusSource
	callbacks     StatusApplier
	poller        *scheduler.Scheduler
	defaultPhones []string
	metrics       http.Handler
	log           *slog.Logger
	ctx           context.Context
	maxBody       int64
}

func NewHandler(o Options) *Handler {
	h := &Handler{
		submitter:     o.Submitter,
		status:        o.Status,
		callbacks:     o.Callbacks,
		poller:        o.Poller,
		defaultPhones: o.DefaultPhones,
		metrics:       o.Metrics,
		log:           o.Logger,
		ctx:           o.Context,
		maxBody:       o.MaxBodyBytes,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.ctx == nil {
		h.ctx = context.Background()
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBodyBytes
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type submitRequest struct {
	Text   string          `json:"text"`
	Phones json.RawMessage `json:"phones"`
}

// Submit accepts a form or JSON body with text and optional phones.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	text, phones, err := h.readSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if phones == nil {
		phones = h.defaultPhones
	}

	res, err := h.submitter.Submit(r.Context(), text, phones)
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": res.Gateway})
}

func (h *Handler) readSubmission(r *http.Request) (string, []string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, errors.New("invalid json body")
		}
		phones, err := decodePhones(req.Phones)
		return req.Text, phones, err
	}

	if err := r.ParseForm(); err != nil {
		return "", nil, errors.New("invalid form body")
	}
	var phones []string
	for _, v := range r.PostForm["phones"] {
		phones = append(phones, model.ParsePhones(v)...)
	}
	return r.PostForm.Get("text"), phones, nil
}

// decodePhones accepts a JSON list or a separated string. Absent, null and
// empty values yield nil so the default list applies.
func decodePhones(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, p := range list {
			out = append(out, model.ParsePhones(p)...)
		}
		return out, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New("phones must be a list or a string")
	}
	if phones := model.ParsePhones(s); len(phones) > 0 {
		return phones, nil
	}
	return nil, nil
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errorMessage": verr.Error(),
			"fields":       verr.Fields,
		})
		return
	}

	if ge, ok := gateway.AsError(err); ok {
		if ge.Kind == gateway.KindTransport {
			h.log.ErrorContext(r.Context(), "gateway unreachable", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if errors.Is(err, repo.ErrDuplicateMailing) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.ErrorContext(r.Context(), "submission failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) ListMailings(w http.ResponseWriter, r *http.Request) {
	items, err := h.status.Snapshot(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// DeliveryCallback records a status pushed by the gateway.
func (h *Handler) DeliveryCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	id := strings.TrimSpace(r.Form.Get("id"))
	phone := strings.TrimSpace(r.Form.Get("phone"))
	if id == "" || phone == "" {
		writeError(w, http.StatusBadRequest, "id and phone are required")
		return
	}
	code, err := strconv.Atoi(strings.TrimSpace(r.Form.Get("status")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "status must be an integer")
		return
	}

	st, err := h.callbacks.ApplyCode(r.Context(), id, phone, code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": st})
	case errors.Is(err, repo.ErrUnknownMailing), errors.Is(err, repo.ErrUnknownRecipient):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repo.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.ErrorContext(r.Context(), "delivery callback failed", "mailing_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) PollerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.poller.Status())
}

func (h *Handler) PollerStart(w http.ResponseWriter, r *http.Request) {
	h.poller.Start(h.ctx)
	writeJSON(w, http.StatusOK, h.poller.Status())
}

func (h *Handler) PollerStop(w http.ResponseWriter, r *http.Request) {
	h.poller.Stop()
	writeJSON(w, http.StatusOK, h.poller.Status())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"errorMessage": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
