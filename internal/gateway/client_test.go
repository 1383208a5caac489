package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

type capturedRequest struct {
	Method      string
	Path        string
	ContentType string
	Query       url.Values
	Form        url.Values
}

func newGatewayServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.Method = r.Method
			captured.Path = r.URL.Path
			captured.ContentType = r.Header.Get("Content-Type")
			captured.Query = r.URL.Query()
			b, _ := ioReadAll(r)
			captured.Form, _ = url.ParseQuery(string(b))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, Login: "user", Password: "secret", Timeout: time.Second})
}

func TestClient_Call_GetSendsQuery(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := newGatewayServer(t, http.StatusOK, `{"balance":"12.50"}`, &got)
	c := newTestClient(srv.URL)

	resp, err := c.Call(context.Background(), Request{
		HTTPMethod: "get",
		APIMethod:  "balance",
		Payload:    url.Values{"cur": {"1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "12.50", resp["balance"])

	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/sys/balance.php", got.Path)
	assert.Equal(t, "user", got.Query.Get("login"))
	assert.Equal(t, "secret", got.Query.Get("psw"))
	assert.Equal(t, "1", got.Query.Get("cur"))
	assert.Equal(t, "3", got.Query.Get("fmt"))
	assert.Equal(t, "utf-8", got.Query.Get("charset"))
}

func TestClient_Call_PostSendsForm(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := newGatewayServer(t, http.StatusOK, `{"id":302,"cnt":2}`, &got)
	c := newTestClient(srv.URL)

	resp, err := c.Call(context.Background(), Request{
		HTTPMethod: http.MethodPost,
		APIMethod:  "send",
		Payload:    SendPayload([]string{"+1000", "+2000"}, "Hello", SendOptions{LifetimeHours: 1}),
	})
	require.NoError(t, err)

	id, ok := resp.ID()
	require.True(t, ok)
	assert.Equal(t, "302", id)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", got.ContentType)
	assert.Empty(t, got.Query)
	assert.Equal(t, "+1000,+2000", got.Form.Get("phones"))
	assert.Equal(t, "Hello", got.Form.Get("mes"))
	assert.Equal(t, "1", got.Form.Get("valid"))
	assert.Empty(t, got.Form.Get("cost"))
	assert.Equal(t, "user", got.Form.Get("login"))
}

func TestClient_Call_CredentialsOverride(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := newGatewayServer(t, http.StatusOK, `{}`, &got)
	c := newTestClient(srv.URL)

	_, err := c.Call(context.Background(), Request{
		APIMethod:   "balance",
		Credentials: &Credentials{Login: "other", Password: "pw"},
		Payload:     url.Values{"login": {"ignored"}, "fmt": {"0"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "other", got.Query.Get("login"))
	assert.Equal(t, "pw", got.Query.Get("psw"))
	assert.Equal(t, "0", got.Query.Get("fmt"))
}

func TestClient_Call_APIErrorCode(t *testing.T) {
	t.Parallel()

	srv := newGatewayServer(t, http.StatusOK, `{"error":"duplicate request","error_code":9}`, nil)
	c := newTestClient(srv.URL)

	_, err := c.Call(context.Background(), Request{HTTPMethod: http.MethodPost, APIMethod: "send"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))

	ge, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindAPI, ge.Kind)
	assert.Equal(t, 9, ge.Code)
	assert.Equal(t, "duplicate request", ge.Message)
	assert.Contains(t, err.Error(), `body="{\"error\":\"duplicate request\",\"error_code\":9}"`)
}

func TestClient_Call_Non200_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := newGatewayServer(t, http.StatusBadGateway, "upstream down", nil)
	c := newTestClient(srv.URL)

	_, err := c.Call(context.Background(), Request{APIMethod: "status"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	ge, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ge.Kind != KindHTTPStatus || ge.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected error: %+v", ge)
	}
	if !strings.Contains(err.Error(), `body="upstream down"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestClient_Call_InvalidJSON_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := newGatewayServer(t, http.StatusOK, "THIS IS NOT JSON", nil)
	c := newTestClient(srv.URL)

	_, err := c.Call(context.Background(), Request{APIMethod: "status"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "failed to decode json") {
		t.Fatalf("expected decode error, got: %v", err)
	}
	if !strings.Contains(msg, `body="THIS IS NOT JSON"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestClient_Call_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, Request{APIMethod: "status"})
	require.Error(t, err)

	ge, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, ge.Kind)
	assert.True(t, ge.Timeout())
}

func TestClient_Call_UnsupportedMethod(t *testing.T) {
	t.Parallel()

	c := newTestClient("http://127.0.0.1:0")
	_, err := c.Call(context.Background(), Request{HTTPMethod: http.MethodDelete, APIMethod: "send"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrGateway))
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := newGatewayServer(t, http.StatusOK, `{"id":"77","cnt":1}`, &got)
	c := newTestClient(srv.URL)

	id, _, err := c.Send(context.Background(), []string{"+1000"}, "Hi", SendOptions{OnlyShowCost: true})
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Equal(t, "1", got.Form.Get("cost"))
}

func TestClient_Send_MissingID(t *testing.T) {
	t.Parallel()

	srv := newGatewayServer(t, http.StatusOK, `{"cnt":1}`, nil)
	c := newTestClient(srv.URL)

	_, _, err := c.Send(context.Background(), []string{"+1000"}, "Hi", SendOptions{})
	require.Error(t, err)

	ge, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, ge.Kind)
	assert.Contains(t, err.Error(), "missing id")
}

func TestClient_Status(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := newGatewayServer(t, http.StatusOK, `{"status":1,"last_date":"28.12.2023 19:53:01","last_timestamp":1703782381}`, &got)
	c := newTestClient(srv.URL)

	res, err := c.Status(context.Background(), "302", "+1000")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Code)
	assert.Equal(t, int64(1703782381), res.LastTimestamp)
	assert.Equal(t, model.Delivered, res.RecipientStatus())
	assert.Equal(t, "302", got.Query.Get("id"))
	assert.Equal(t, "+1000", got.Query.Get("phone"))
}

func TestMapStatusCode(t *testing.T) {
	cases := map[int]model.RecipientStatus{
		-3: model.Pending,
		-1: model.Pending,
		0:  model.Pending,
		1:  model.Delivered,
		2:  model.Delivered,
		3:  model.Failed,
		4:  model.Delivered,
		20: model.Failed,
		22: model.Failed,
		25: model.Failed,
	}
	for code, want := range cases {
		assert.Equal(t, want, MapStatusCode(code), "code %d", code)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
