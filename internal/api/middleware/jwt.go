package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"userbackend/internal/account"
	"userbackend/internal/api/response"
	"userbackend/internal/model"
	"userbackend/internal/pkg/metrics"
	"userbackend/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// TokenVerifier 校验身份令牌。
type TokenVerifier interface {
	Verify(tokenStr string) (token.Claims, error)
}

// IdentityResolver 把令牌声明解析为当前身份。
// 用户不存在时应返回 model.ErrUserNotFound。
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, claims token.Claims) (model.Identity, error)
}

// Gate 提供认证与授权中间件。
type Gate struct {
	verifier TokenVerifier
	resolver IdentityResolver
	logger   *slog.Logger
}

func NewGate(verifier TokenVerifier, resolver IdentityResolver, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier: verifier,
		resolver: resolver,
		logger:   logger,
	}
}

// Authenticate 校验 Bearer 令牌并把身份写入上下文。
func (g *Gate) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			g.reject(c, "authenticate", "missing_header", http.StatusUnauthorized, account.MsgUnauthenticated)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			g.reject(c, "authenticate", "malformed_header", http.StatusUnauthorized, account.MsgUnauthenticated)
			return
		}

		claims, err := g.verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			g.reject(c, "authenticate", "invalid_token", http.StatusUnauthorized, account.MsgUnauthenticated)
			return
		}

		identity, err := g.resolver.ResolveIdentity(c.Request.Context(), claims)
		if err != nil {
			if errors.Is(err, model.ErrUserNotFound) {
				g.reject(c, "authenticate", "unknown_user", http.StatusUnauthorized, account.MsgUnauthenticated)
				return
			}
			g.logger.Error("resolve identity failed",
				slog.String("user_id", claims.UserID),
				slog.String("error", err.Error()))
			g.reject(c, "authenticate", "internal", http.StatusInternalServerError, account.MsgInternal)
			return
		}
		if !identity.IsActive {
			g.reject(c, "authenticate", "inactive", http.StatusUnauthorized, account.MsgUnauthenticated)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// Authorize 返回认证加角色校验的处理链，角色校验总是排在认证之后。
func (g *Gate) Authorize(role model.Role) gin.HandlersChain {
	return gin.HandlersChain{g.Authenticate(), g.requireRole(role)}
}

func (g *Gate) requireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			g.reject(c, "authorize", "unauthenticated", http.StatusUnauthorized, account.MsgUnauthenticated)
			return
		}
		if identity.Role != role {
			g.reject(c, "authorize", "role", http.StatusForbidden, "Forbidden")
			return
		}
		c.Next()
	}
}

// IdentityFrom 读取 Authenticate 写入的身份。
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	identity, ok := v.(model.Identity)
	return identity, ok
}

func (g *Gate) reject(c *gin.Context, gate, reason string, status int, message string) {
	metrics.GateRejectionsTotal.WithLabelValues(gate, reason).Inc()
	response.Fail(c, status, message, nil)
}
