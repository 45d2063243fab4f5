package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinLength 是允许的最短密码长度。
	MinLength = 6
	// MaxLength 是 bcrypt 可处理的最长输入（字节）。
	MaxLength = 72
)

var (
	ErrTooShort = errors.New("password too short")
	ErrTooLong  = errors.New("password too long")
)

// Hasher 对密码进行加盐单向哈希。
type Hasher struct {
	cost int
}

// NewHasher 创建 Hasher，cost 非法时退回 bcrypt.DefaultCost。
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash 生成密码摘要，每次调用使用新的盐。
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", ErrTooShort
	}
	if len(plain) > MaxLength {
		return "", ErrTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify 校验明文与摘要是否匹配。超过 MaxLength 字节的输入一律不匹配，
// bcrypt 只比较前 72 字节。
func (h *Hasher) Verify(plain, digest string) bool {
	if len(plain) > MaxLength {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
