package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"devmatch-client/internal/api"
	"devmatch-client/internal/models"
)

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) ListPeers(ctx context.Context, page, limit int) (api.RosterPage, error) {
	args := m.Called(ctx, page, limit)
	var roster api.RosterPage
	if val := args.Get(0); val != nil {
		roster = val.(api.RosterPage)
	}
	return roster, args.Error(1)
}

func (m *MessageServiceMock) GetMessages(ctx context.Context, peerID string) ([]models.Message, error) {
	args := m.Called(ctx, peerID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageServiceMock) SendMessage(ctx context.Context, peerID, text, image string) (models.Message, error) {
	args := m.Called(ctx, peerID, text, image)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type AuthServiceMock struct {
	mock.Mock
}

func (m *AuthServiceMock) Login(ctx context.Context, email, password string) (models.User, string, error) {
	args := m.Called(ctx, email, password)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.String(1), args.Error(2)
}

func (m *AuthServiceMock) Signup(ctx context.Context, name, email, password, role string) (models.User, string, error) {
	args := m.Called(ctx, name, email, password, role)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.String(1), args.Error(2)
}

func (m *AuthServiceMock) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *AuthServiceMock) UpdateProfile(ctx context.Context, image string) (models.User, error) {
	args := m.Called(ctx, image)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}
