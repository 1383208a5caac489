package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

type SendOptions struct {
	// LifetimeHours is the validity period passed as the valid parameter.
	LifetimeHours int
	// OnlyShowCost asks the gateway to price the mailing without sending it.
	OnlyShowCost bool
}

// SendPayload builds the payload of the send method.
func SendPayload(phones []string, text string, opts SendOptions) url.Values {
	v := url.Values{}
	v.Set("phones", strings.Join(phones, ","))
	v.Set("mes", text)
	if opts.LifetimeHours > 0 {
		v.Set("valid", strconv.Itoa(opts.LifetimeHours))
	}
	if opts.OnlyShowCost {
		v.Set("cost", "1")
	}
	return v
}

// Send submits text to phones with a POST send call and returns the mailing
// id assigned by the gateway.
func (c *Client) Send(ctx context.Context, phones []string, text string, opts SendOptions) (string, Response, error) {
	resp, err := c.Call(ctx, Request{
		HTTPMethod: http.MethodPost,
		APIMethod:  "send",
		Payload:    SendPayload(phones, text, opts),
	})
	if err != nil {
		return "", nil, err
	}

	id, ok := resp.ID()
	if !ok {
		return "", resp, &Error{
			Kind:       KindDecode,
			APIMethod:  "send",
			StatusCode: http.StatusOK,
			Body:       fmt.Sprint(map[string]any(resp)),
			Err:        errors.New("missing id in response"),
		}
	}
	return id, resp, nil
}

type StatusResult struct {
	Code          int
	LastDate      string
	LastTimestamp int64
}

// RecipientStatus maps the gateway delivery code onto a recipient status.
func (r StatusResult) RecipientStatus() model.RecipientStatus {
	return MapStatusCode(r.Code)
}

// Status queries the delivery state of one recipient of a mailing.
func (c *Client) Status(ctx context.Context, id, phone string) (StatusResult, error) {
	payload := url.Values{}
	payload.Set("id", id)
	payload.Set("phone", phone)

	resp, err := c.Call(ctx, Request{
		HTTPMethod: http.MethodGet,
		APIMethod:  "status",
		Payload:    payload,
	})
	if err != nil {
		return StatusResult{}, err
	}

	code, ok := resp.Int("status")
	if !ok {
		return StatusResult{}, &Error{
			Kind:       KindDecode,
			APIMethod:  "status",
			StatusCode: http.StatusOK,
			Body:       fmt.Sprint(map[string]any(resp)),
			Err:        errors.New("missing status in response"),
		}
	}

	res := StatusResult{Code: code}
	res.LastDate, _ = resp["last_date"].(string)
	if ts, ok := resp.Int("last_timestamp"); ok {
		res.LastTimestamp = int64(ts)
	}
	return res, nil
}

// MapStatusCode maps SMSC message status codes. Codes not listed here are
// still in flight.
func MapStatusCode(code int) model.RecipientStatus {
	switch code {
	case 1, 2, 4:
		return model.Delivered
	case 3, 20, 22, 23, 24, 25:
		return model.Failed
	default:
		return model.Pending
	}
}
