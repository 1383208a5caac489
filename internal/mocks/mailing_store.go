package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

type MailingStore struct {
	mock.Mock
}

func (m *MailingStore) Create(ctx context.Context, id string, phones []string, text string) error {
	args := m.Called(ctx, id, phones, text)
	return args.Error(0)
}

func (m *MailingStore) UpdateRecipientStatus(ctx context.Context, id, phone string, status model.RecipientStatus) error {
	args := m.Called(ctx, id, phone, status)
	return args.Error(0)
}

func (m *MailingStore) ListMailingIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MailingStore) GetMailings(ctx context.Context, ids ...string) ([]model.Mailing, error) {
	args := m.Called(ctx, ids)
	ms, _ := args.Get(0).([]model.Mailing)
	return ms, args.Error(1)
}
