package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 表示签名不匹配、载荷格式错误或令牌已过期。
var ErrInvalidToken = errors.New("invalid token")

// Claims 是身份令牌携带的断言。
type Claims struct {
	UserID string
	Email  string
}

type customClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Issuer 使用进程级密钥签发并校验 HS256 身份令牌。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer 创建 Issuer。ttl <= 0 时签发的令牌不带过期时间。
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue 为给定身份签发令牌。
func (i *Issuer) Issue(c Claims) (string, error) {
	if c.UserID == "" {
		return "", fmt.Errorf("issue token: empty user id")
	}
	now := i.now()
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  c.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email: c.Email,
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌并返回其中的断言。
func (i *Issuer) Verify(tokenStr string) (Claims, error) {
	claims := &customClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{UserID: claims.Subject, Email: claims.Email}, nil
}
