package resettoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"userbackend/internal/model"
)

const (
	// DefaultTTL 是重置令牌的默认有效期。
	DefaultTTL = time.Hour
	// tokenBytes 对应 160 位随机数。
	tokenBytes = 20
)

// ErrTokenInvalidOrExpired 不区分“不存在”和“已过期”，避免泄露信息。
var ErrTokenInvalidOrExpired = errors.New("password reset token is invalid or has expired")

// Store 是重置令牌所需的持久化能力。
type Store interface {
	// SaveResetToken 在用户记录上写入令牌与过期时间。
	SaveResetToken(ctx context.Context, userID string, token string, expires time.Time) error
	// ConsumeResetToken 原子地查找未过期令牌、替换密码摘要并清除令牌字段。
	// 找不到匹配记录时返回 model.ErrUserNotFound。
	ConsumeResetToken(ctx context.Context, token string, digest string, now time.Time) (*model.User, error)
}

// Manager 负责签发和消费一次性重置令牌。
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager 创建 Manager，ttl <= 0 时使用 DefaultTTL。
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Issue 生成令牌并保存到用户记录，返回令牌供邮件投递。
func (m *Manager) Issue(ctx context.Context, user *model.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("issue reset token: missing user")
	}
	tok, err := generate()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	expires := m.now().Add(m.ttl)
	if err := m.store.SaveResetToken(ctx, user.ID, tok, expires); err != nil {
		return "", fmt.Errorf("save reset token: %w", err)
	}
	user.ResetPasswordToken = &tok
	user.ResetPasswordExpires = &expires
	return tok, nil
}

// Consume 校验令牌并用新的密码摘要替换旧摘要。
func (m *Manager) Consume(ctx context.Context, token string, newDigest string) (*model.User, error) {
	if token == "" {
		return nil, ErrTokenInvalidOrExpired
	}
	user, err := m.store.ConsumeResetToken(ctx, token, newDigest, m.now())
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, ErrTokenInvalidOrExpired
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return user, nil
}

func generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
