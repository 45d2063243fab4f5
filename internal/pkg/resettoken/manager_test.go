package resettoken

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"userbackend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore 以内存模拟用户表的重置字段。
type memStore struct {
	mu    sync.Mutex
	users map[string]*model.User
	err   error
}

func newMemStore(users ...*model.User) *memStore {
	s := &memStore{users: map[string]*model.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) SaveResetToken(ctx context.Context, userID string, token string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.ResetPasswordToken = &token
	u.ResetPasswordExpires = &expires
	return nil
}

func (s *memStore) ConsumeResetToken(ctx context.Context, token string, digest string, now time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, u := range s.users {
		if u.ResetPasswordToken == nil || *u.ResetPasswordToken != token {
			continue
		}
		if !u.ResetPasswordExpires.After(now) {
			return nil, model.ErrUserNotFound
		}
		u.Password = digest
		u.ResetPasswordToken = nil
		u.ResetPasswordExpires = nil
		cp := *u
		return &cp, nil
	}
	return nil, model.ErrUserNotFound
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestManager_IssueStoresTokenWithExpiry(t *testing.T) {
	user := &model.User{ID: "u-1", Password: "old"}
	store := newMemStore(user)
	m := NewManager(store, 0)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = fixedClock(now)

	tok, err := m.Issue(context.Background(), user)
	require.NoError(t, err)

	assert.Len(t, tok, 2*tokenBytes)
	require.True(t, user.HasResetToken())
	assert.Equal(t, tok, *user.ResetPasswordToken)
	assert.Equal(t, now.Add(time.Hour), *user.ResetPasswordExpires)
}

func TestManager_IssueIsRandom(t *testing.T) {
	user := &model.User{ID: "u-1"}
	m := NewManager(newMemStore(user), time.Hour)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := m.Issue(context.Background(), user)
		require.NoError(t, err)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestManager_ConsumeOnce(t *testing.T) {
	user := &model.User{ID: "u-1", Password: "old"}
	store := newMemStore(user)
	m := NewManager(store, time.Hour)
	ctx := context.Background()

	tok, err := m.Issue(ctx, user)
	require.NoError(t, err)

	got, err := m.Consume(ctx, tok, "new-digest")
	require.NoError(t, err)
	assert.Equal(t, "new-digest", got.Password)
	assert.False(t, got.HasResetToken())

	_, err = m.Consume(ctx, tok, "another")
	assert.ErrorIs(t, err, ErrTokenInvalidOrExpired)
	assert.Equal(t, "new-digest", store.users["u-1"].Password)
}

func TestManager_ConsumeExpired(t *testing.T) {
	user := &model.User{ID: "u-1", Password: "old"}
	store := newMemStore(user)
	m := NewManager(store, time.Hour)
	issuedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = fixedClock(issuedAt)

	tok, err := m.Issue(context.Background(), user)
	require.NoError(t, err)

	// 恰好到期也视为无效
	m.now = fixedClock(issuedAt.Add(time.Hour))
	_, err = m.Consume(context.Background(), tok, "new")
	assert.ErrorIs(t, err, ErrTokenInvalidOrExpired)
	assert.Equal(t, "old", store.users["u-1"].Password)
}

func TestManager_ConsumeUnknownToken(t *testing.T) {
	m := NewManager(newMemStore(&model.User{ID: "u-1"}), time.Hour)

	_, err := m.Consume(context.Background(), "deadbeef", "new")
	assert.ErrorIs(t, err, ErrTokenInvalidOrExpired)

	_, err = m.Consume(context.Background(), "", "new")
	assert.ErrorIs(t, err, ErrTokenInvalidOrExpired)
}

func TestManager_StoreErrorsAreNotMaskedAsInvalid(t *testing.T) {
	boom := errors.New("db down")
	store := newMemStore(&model.User{ID: "u-1"})
	store.err = boom
	m := NewManager(store, time.Hour)

	_, err := m.Issue(context.Background(), &model.User{ID: "u-1"})
	assert.ErrorIs(t, err, boom)

	_, err = m.Consume(context.Background(), "abc", "new")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTokenInvalidOrExpired)
}
