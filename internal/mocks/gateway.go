package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/LeventeLantos/sms-mailing/internal/gateway"
)

type Gateway struct {
	mock.Mock
}

func (g *Gateway) Send(ctx context.Context, phones []string, text string, opts gateway.SendOptions) (string, gateway.Response, error) {
	args := g.Called(ctx, phones, text, opts)
	resp, _ := args.Get(1).(gateway.Response)
	return args.String(0), resp, args.Error(2)
}

func (g *Gateway) Status(ctx context.Context, id, phone string) (gateway.StatusResult, error) {
	args := g.Called(ctx, id, phone)
	return args.Get(0).(gateway.StatusResult), args.Error(1)
}
