package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/sms-mailing/internal/metrics"
)

const DefaultBaseURL = "https://smsc.ru"

type Credentials struct {
	Login    string
	Password string
}

type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration
	// Format is the fmt parameter sent when the payload does not set one.
	// 3 asks the gateway for JSON.
	Format int
}

// Client issues requests to the SMSC HTTP API. It holds no per-request state
// and is safe for concurrent use.
type Client struct {
	baseURL string
	creds   Credentials
	format  string
	client  *http.Client
	metrics *metrics.Metrics
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(cfg Config, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	format := cfg.Format
	if format == 0 {
		format = 3
	}

	c := &Client{
		baseURL: baseURL,
		creds:   Credentials{Login: cfg.Login, Password: cfg.Password},
		format:  strconv.Itoa(format),
		client: &http.Client{
			Timeout: timeout,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is a single gateway call. A nil Credentials uses the client's
// configured login and password.
type Request struct {
	HTTPMethod  string
	APIMethod   string
	Credentials *Credentials
	Payload     url.Values
}

// Response is the decoded JSON body of a successful call.
type Response map[string]any

// ID returns the mailing identifier assigned by the send method.
func (r Response) ID() (string, bool) {
	switch v := r["id"].(type) {
	case json.Number:
		return v.String(), true
	case string:
		return v, v != ""
	}
	return "", false
}

func (r Response) Int(key string) (int, bool) {
	switch v := r[key].(type) {
	case json.Number:
		i, err := strconv.Atoi(v.String())
		return i, err == nil
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	}
	return 0, false
}

// Call merges credentials into the payload, sends it to
// <base>/sys/<APIMethod>.php and decodes the JSON answer. It fails with
// *Error on transport problems, a non-200 status, an undecodable body or a
// body carrying error_code. It never retries.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	method := strings.ToUpper(req.HTTPMethod)
	if method == "" {
		method = http.MethodGet
	}
	if req.APIMethod == "" {
		return nil, errors.New("api method is required")
	}

	params := c.params(req)
	endpoint := c.baseURL + "/sys/" + url.PathEscape(req.APIMethod) + ".php"

	var body io.Reader
	switch method {
	case http.MethodGet:
		endpoint += "?" + params.Encode()
	case http.MethodPost:
		body = strings.NewReader(params.Encode())
	default:
		return nil, fmt.Errorf("unsupported http method %q", req.HTTPMethod)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.log.DebugContext(ctx, "smsc request", "api_method", req.APIMethod, "http_method", method)
	start := time.Now()

	out, err := c.do(httpReq, req.APIMethod)
	if err != nil {
		outcome := "error"
		if ge, ok := AsError(err); ok {
			outcome = string(ge.Kind)
		}
		c.metrics.ObserveGatewayRequest(req.APIMethod, outcome, time.Since(start))
		return nil, err
	}

	c.metrics.ObserveGatewayRequest(req.APIMethod, "ok", time.Since(start))
	c.log.DebugContext(ctx, "smsc request completed", "api_method", req.APIMethod, "result", out)
	return out, nil
}

func (c *Client) params(req Request) url.Values {
	params := make(url.Values, len(req.Payload)+4)
	for k, v := range req.Payload {
		params[k] = append([]string(nil), v...)
	}

	creds := c.creds
	if req.Credentials != nil {
		if req.Credentials.Login != "" {
			creds.Login = req.Credentials.Login
		}
		if req.Credentials.Password != "" {
			creds.Password = req.Credentials.Password
		}
	}
	params.Set("login", creds.Login)
	params.Set("psw", creds.Password)

	if params.Get("fmt") == "" {
		params.Set("fmt", c.format)
	}
	if params.Get("charset") == "" {
		params.Set("charset", "utf-8")
	}
	return params
}

func (c *Client) do(httpReq *http.Request, apiMethod string) (Response, error) {
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, APIMethod: apiMethod, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, APIMethod: apiMethod, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:       KindHTTPStatus,
			APIMethod:  apiMethod,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out Response
	if err := dec.Decode(&out); err != nil {
		return nil, &Error{
			Kind:       KindDecode,
			APIMethod:  apiMethod,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Err:        fmt.Errorf("failed to decode json: %w", err),
		}
	}

	if _, ok := out["error_code"]; ok {
		code, _ := out.Int("error_code")
		msg, _ := out["error"].(string)
		return nil, &Error{
			Kind:       KindAPI,
			APIMethod:  apiMethod,
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    msg,
			Body:       string(raw),
		}
	}

	return out, nil
}
