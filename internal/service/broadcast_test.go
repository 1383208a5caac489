package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/sms-mailing/internal/events"
	"github.com/LeventeLantos/sms-mailing/internal/gateway"
	"github.com/LeventeLantos/sms-mailing/internal/mocks"
	"github.com/LeventeLantos/sms-mailing/internal/model"
	"github.com/LeventeLantos/sms-mailing/internal/repo"
	"github.com/LeventeLantos/sms-mailing/internal/service"
)

type recordingPublisher struct {
	ids []string
}

func (p *recordingPublisher) PublishMailingCreated(id string) {
	p.ids = append(p.ids, id)
}

func newRedisStore(t *testing.T) *repo.RedisMailingStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return repo.NewRedisMailingStore(rdb)
}

func newGateway(t *testing.T, status int, body string) *gateway.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return gateway.NewClient(gateway.Config{BaseURL: srv.URL, Login: "u", Password: "p", Timeout: time.Second})
}

func TestCoordinator_SubmitStoresPendingMailing(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	pub := &recordingPublisher{}
	c := service.NewCoordinator(newGateway(t, http.StatusOK, `{"id":302,"cnt":2}`), store, gateway.SendOptions{LifetimeHours: 1}).
		WithEvents(pub)

	ctx := context.Background()
	res, err := c.Submit(ctx, "Hello", []string{"+1000", "+2000"})
	require.NoError(t, err)
	assert.Equal(t, "302", res.MailingID)
	cnt, _ := res.Gateway.Int("cnt")
	assert.Equal(t, 2, cnt)
	assert.Equal(t, []string{"302"}, pub.ids)

	ms, err := store.GetMailings(ctx, "302")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, map[string]model.RecipientStatus{
		"+1000": model.Pending,
		"+2000": model.Pending,
	}, ms[0].Recipients)

	require.NoError(t, store.UpdateRecipientStatus(ctx, "302", "+1000", model.Delivered))
	ms, err = store.GetMailings(ctx, "302")
	require.NoError(t, err)
	snap, ok := ms[0].Snapshot()
	require.True(t, ok)
	assert.Equal(t, 2, snap.TotalCount)
	assert.Equal(t, 1, snap.DeliveredCount)
	assert.Equal(t, 0, snap.FailedCount)
}

func TestCoordinator_GatewayErrorStoresNothing(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	pub := &recordingPublisher{}
	c := service.NewCoordinator(newGateway(t, http.StatusOK, `{"error_code": 9}`), store, gateway.SendOptions{}).
		WithEvents(pub)

	_, err := c.Submit(context.Background(), "Hello", []string{"+1000"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrGateway)

	ids, err := store.ListMailingIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, pub.ids)
}

func TestCoordinator_Validation(t *testing.T) {
	t.Parallel()

	gw := &mocks.Gateway{}
	store := &mocks.MailingStore{}
	c := service.NewCoordinator(gw, store, gateway.SendOptions{})

	tests := []struct {
		name   string
		text   string
		phones []string
		fields []string
	}{
		{name: "empty text", text: "", phones: []string{"+1"}, fields: []string{"text"}},
		{name: "no phones", text: "hi", phones: nil, fields: []string{"phones"}},
		{name: "blank phones", text: "hi", phones: []string{" ", ""}, fields: []string{"phones"}},
		{name: "both", text: "", phones: nil, fields: []string{"text", "phones"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tt.text, tt.phones)

			var verr *service.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Len(t, verr.Fields, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}

	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_DeduplicatesPhones(t *testing.T) {
	t.Parallel()

	gw := &mocks.Gateway{}
	store := &mocks.MailingStore{}
	opts := gateway.SendOptions{LifetimeHours: 2, OnlyShowCost: true}

	gw.On("Send", mock.Anything, []string{"+1", "+2"}, "hi", opts).Return("5", gateway.Response{}, nil)
	store.On("Create", mock.Anything, "5", []string{"+1", "+2"}, "hi").Return(nil)

	c := service.NewCoordinator(gw, store, opts)
	_, err := c.Submit(context.Background(), "hi", []string{"+1", " +2 ", "+1", ""})
	require.NoError(t, err)

	gw.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCoordinator_DuplicateMailingPropagates(t *testing.T) {
	t.Parallel()

	gw := &mocks.Gateway{}
	store := &mocks.MailingStore{}
	pub := &recordingPublisher{}

	gw.On("Send", mock.Anything, []string{"+1"}, "hi", gateway.SendOptions{}).Return("5", gateway.Response{}, nil)
	store.On("Create", mock.Anything, "5", []string{"+1"}, "hi").Return(repo.ErrDuplicateMailing)

	c := service.NewCoordinator(gw, store, gateway.SendOptions{}).WithEvents(pub)
	_, err := c.Submit(context.Background(), "hi", []string{"+1"})
	assert.ErrorIs(t, err, repo.ErrDuplicateMailing)
	assert.Empty(t, pub.ids)
}

func TestCoordinator_WhitespaceTextIsAccepted(t *testing.T) {
	t.Parallel()

	gw := &mocks.Gateway{}
	store := &mocks.MailingStore{}

	gw.On("Send", mock.Anything, []string{"+1000"}, " ", gateway.SendOptions{}).Return("7", gateway.Response{}, nil)
	store.On("Create", mock.Anything, "7", []string{"+1000"}, " ").Return(nil)

	c := service.NewCoordinator(gw, store, gateway.SendOptions{})
	res, err := c.Submit(context.Background(), " ", []string{"+1000"})
	require.NoError(t, err)
	assert.Equal(t, "7", res.MailingID)
	gw.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCoordinator_SubmitNotBlockedByIdleWatcher(t *testing.T) {
	t.Parallel()

	var n atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"id":%d,"cnt":1}`, n.Add(1))
	}))
	t.Cleanup(srv.Close)
	gw := gateway.NewClient(gateway.Config{BaseURL: srv.URL, Login: "u", Password: "p", Timeout: time.Second})

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	// subscribed but never drained, like a watcher stuck on a slow poll
	_ = bus.SubscribeMailingCreated(context.Background())

	store := newRedisStore(t)
	c := service.NewCoordinator(gw, store, gateway.SendOptions{}).WithEvents(bus)

	for i := 0; i < 80; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		done := make(chan error, 1)
		go func() {
			_, err := c.Submit(ctx, "Hello", []string{"+1000"})
			done <- err
		}()
		select {
		case err := <-done:
			require.NoError(t, err, "submit %d", i)
		case <-ctx.Done():
			cancel()
			t.Fatalf("submit %d blocked after the mailing was stored", i)
		}
		cancel()
	}

	ids, err := store.ListMailingIDs(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 80)
}

func TestNormalizePhones(t *testing.T) {
	assert.Equal(t, []string{"+3", "+1"}, service.NormalizePhones([]string{" +3", "+1", "", "+3 "}))
	assert.Empty(t, service.NormalizePhones(nil))
}
