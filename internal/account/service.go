package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"userbackend/internal/model"
	"userbackend/internal/pkg/identitycache"
	"userbackend/internal/pkg/metrics"
	"userbackend/internal/pkg/notify"
	"userbackend/internal/pkg/password"
	"userbackend/internal/pkg/resettoken"
	"userbackend/internal/pkg/token"
)

// UserStore 是账户服务依赖的用户持久化能力。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, name *string, profile *string) error
	SetRole(ctx context.Context, id string, role model.Role) error
	SetActive(ctx context.Context, id string, active bool) error
}

// Result 是成功操作返回给调用方的内容。
type Result struct {
	Message string
	Token   string
}

// Deps 汇总 Service 的协作者。Cache 可为 nil。
type Deps struct {
	Store         UserStore
	Hasher        *password.Hasher
	Tokens        *token.Issuer
	Resets        *resettoken.Manager
	Mailer        notify.Notifier
	Cache         *identitycache.Cache
	ResetLinkBase string
	Logger        *slog.Logger
}

// Service 实现注册、登录、资料维护和密码找回。
type Service struct {
	store         UserStore
	hasher        *password.Hasher
	tokens        *token.Issuer
	resets        *resettoken.Manager
	mailer        notify.Notifier
	cache         *identitycache.Cache
	resetLinkBase string
	logger        *slog.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         d.Store,
		hasher:        d.Hasher,
		tokens:        d.Tokens,
		resets:        d.Resets,
		mailer:        d.Mailer,
		cache:         d.Cache,
		resetLinkBase: d.ResetLinkBase,
		logger:        logger,
	}
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	metrics.AccountOperationsTotal.WithLabelValues(op, result).Inc()
}

// Register 创建普通成员账号并签发身份令牌。
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *Result, err error) {
	defer func() { observe("register", err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	digest, err := s.hash(in.Password, "password")
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Name:     in.Name,
		Email:    in.Email,
		Password: digest,
		Profile:  in.Profile,
		Role:     model.RoleMember,
		IsActive: true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return nil, newError(KindConflict, MsgEmailTaken, err)
		}
		return nil, internalError(fmt.Errorf("create user: %w", err))
	}

	tok, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return &Result{Message: "Welcome, " + user.Name, Token: tok}, nil
}

// Login 校验凭据。未知邮箱与错误密码返回相同的错误。
func (s *Service) Login(ctx context.Context, in LoginInput) (res *Result, err error) {
	defer func() { observe("login", err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	user, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, newError(KindInvalidCredentials, MsgInvalidCredentials, nil)
		}
		return nil, internalError(fmt.Errorf("find user: %w", err))
	}
	if !s.hasher.Verify(in.Password, user.Password) {
		return nil, newError(KindInvalidCredentials, MsgInvalidCredentials, nil)
	}
	if !user.IsActive {
		return nil, newError(KindForbidden, MsgAccountDeactivated, nil)
	}

	tok, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	return &Result{Message: "Welcome, " + user.Name, Token: tok}, nil
}

// UpdateProfile 局部更新调用方自己的名称和主页。
func (s *Service) UpdateProfile(ctx context.Context, caller model.Identity, in UpdateProfileInput) (res *Result, err error) {
	defer func() { observe("update_profile", err) }()

	if caller.UserID == "" {
		return nil, newError(KindUnauthorized, MsgUnauthenticated, nil)
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Name == nil && in.Profile == nil {
		return nil, newError(KindValidation, MsgNothingToUpdate, nil)
	}
	if err := s.store.UpdateProfile(ctx, caller.UserID, in.Name, in.Profile); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, newError(KindNotFound, MsgUserNotFound, err)
		}
		return nil, internalError(fmt.Errorf("update profile: %w", err))
	}
	return &Result{Message: MsgProfileUpdated}, nil
}

// UpdateRole 修改目标用户的角色，仅管理员可用。
func (s *Service) UpdateRole(ctx context.Context, caller model.Identity, in UpdateRoleInput) (res *Result, err error) {
	defer func() { observe("update_role", err) }()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.store.SetRole(ctx, in.UserID, in.Role); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, newError(KindNotFound, MsgUserNotFound, err)
		}
		return nil, internalError(fmt.Errorf("set role: %w", err))
	}
	s.evict(ctx, in.UserID)
	s.logger.Info("user role updated",
		slog.String("user_id", in.UserID),
		slog.String("role", in.Role.String()),
		slog.String("by", caller.UserID))
	return &Result{Message: MsgRoleUpdated}, nil
}

// UpdateStatus 启用或停用目标用户，仅管理员可用。
func (s *Service) UpdateStatus(ctx context.Context, caller model.Identity, in UpdateStatusInput) (res *Result, err error) {
	defer func() { observe("update_status", err) }()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	active := *in.IsActive
	if err := s.store.SetActive(ctx, in.UserID, active); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, newError(KindNotFound, MsgUserNotFound, err)
		}
		return nil, internalError(fmt.Errorf("set active: %w", err))
	}
	s.evict(ctx, in.UserID)

	state := "deactivated"
	if active {
		state = "activated"
	}
	s.logger.Info("user status updated",
		slog.String("user_id", in.UserID),
		slog.String("state", state),
		slog.String("by", caller.UserID))
	return &Result{Message: fmt.Sprintf("User %s successfully", state)}, nil
}

// ForgotPassword 签发重置令牌并把重置链接发到用户邮箱。
func (s *Service) ForgotPassword(ctx context.Context, in ForgotPasswordInput) (res *Result, err error) {
	defer func() { observe("forgot_password", err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	user, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, newError(KindNotFound, MsgUserNotFound, err)
		}
		return nil, internalError(fmt.Errorf("find user: %w", err))
	}

	tok, err := s.resets.Issue(ctx, user)
	if err != nil {
		return nil, internalError(err)
	}
	metrics.ResetTokensIssuedTotal.Inc()

	if err := s.mailer.SendPasswordReset(ctx, user.Email, s.resetLink(tok)); err != nil {
		s.logger.Error("send reset email failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()))
		return nil, newError(KindInternal, MsgEmailSendFailed, err)
	}
	return &Result{Message: MsgResetLinkSent}, nil
}

// ResetPassword 消费重置令牌并设置新密码。令牌只能使用一次。
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (res *Result, err error) {
	defer func() { observe("reset_password", err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	digest, err := s.hash(in.NewPassword, "newPassword")
	if err != nil {
		return nil, err
	}
	user, err := s.resets.Consume(ctx, in.Token, digest)
	if err != nil {
		if errors.Is(err, resettoken.ErrTokenInvalidOrExpired) {
			metrics.ResetTokensConsumedTotal.WithLabelValues("invalid").Inc()
			return nil, newError(KindTokenInvalidOrExpired, MsgResetTokenInvalid, err)
		}
		return nil, internalError(err)
	}
	metrics.ResetTokensConsumedTotal.WithLabelValues("ok").Inc()
	s.logger.Info("password reset", slog.String("user_id", user.ID))
	return &Result{Message: MsgPasswordReset}, nil
}

// ResolveIdentity 根据已验证的令牌声明加载当前身份，优先读缓存。
// 用户不存在时返回 model.ErrUserNotFound。
func (s *Service) ResolveIdentity(ctx context.Context, claims token.Claims) (model.Identity, error) {
	id, ok, err := s.cache.Get(ctx, claims.UserID)
	switch {
	case err != nil:
		metrics.IdentityCacheTotal.WithLabelValues("error").Inc()
		s.logger.Warn("identity cache get failed",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()))
	case ok:
		metrics.IdentityCacheTotal.WithLabelValues("hit").Inc()
		return id, nil
	default:
		metrics.IdentityCacheTotal.WithLabelValues("miss").Inc()
	}

	user, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.Identity{}, err
		}
		return model.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	identity := user.Identity()
	if err := s.cache.Set(ctx, identity); err != nil {
		s.logger.Warn("identity cache set failed",
			slog.String("user_id", identity.UserID),
			slog.String("error", err.Error()))
	}
	return identity, nil
}

func (s *Service) hash(plain, field string) (string, error) {
	digest, err := s.hasher.Hash(plain)
	switch {
	case errors.Is(err, password.ErrTooShort):
		return "", ValidationError(field, "min")
	case errors.Is(err, password.ErrTooLong):
		return "", ValidationError(field, "max")
	case err != nil:
		return "", internalError(fmt.Errorf("hash password: %w", err))
	}
	return digest, nil
}

func (s *Service) issueToken(user *model.User) (string, error) {
	tok, err := s.tokens.Issue(token.Claims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return "", internalError(fmt.Errorf("issue token: %w", err))
	}
	return tok, nil
}

func (s *Service) evict(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("identity cache evict failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) resetLink(tok string) string {
	u, err := url.Parse(s.resetLinkBase)
	if err != nil {
		return s.resetLinkBase + "?token=" + url.QueryEscape(tok)
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String()
}

func requireAdmin(caller model.Identity) error {
	if caller.UserID == "" {
		return newError(KindUnauthorized, MsgUnauthenticated, nil)
	}
	if caller.Role != model.RoleAdmin {
		return newError(KindForbidden, "Forbidden", nil)
	}
	return nil
}
