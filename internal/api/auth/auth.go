package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"userbackend/internal/account"
	"userbackend/internal/api/middleware"
	"userbackend/internal/api/response"
	"userbackend/internal/model"

	"github.com/gin-gonic/gin"
)

// AccountService 是 Handler 依赖的账户操作。
type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) (*account.Result, error)
	Login(ctx context.Context, in account.LoginInput) (*account.Result, error)
	UpdateProfile(ctx context.Context, caller model.Identity, in account.UpdateProfileInput) (*account.Result, error)
	UpdateRole(ctx context.Context, caller model.Identity, in account.UpdateRoleInput) (*account.Result, error)
	UpdateStatus(ctx context.Context, caller model.Identity, in account.UpdateStatusInput) (*account.Result, error)
	ForgotPassword(ctx context.Context, in account.ForgotPasswordInput) (*account.Result, error)
	ResetPassword(ctx context.Context, in account.ResetPasswordInput) (*account.Result, error)
}

// 注册、登录与资料更新沿用 411 表示输入不合法（包括重复邮箱），其余接口使用 400。
const (
	statusInvalidInputLegacy = http.StatusLengthRequired
	statusInvalidInput       = http.StatusBadRequest
)

// Handler 提供用户账户相关接口。
type Handler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(svc AccountService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// Register 创建新用户并返回身份令牌。
func (h *Handler) Register(c *gin.Context) {
	var req account.RegisterInput
	if !h.bind(c, &req, statusInvalidInputLegacy) {
		return
	}
	res, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, statusInvalidInputLegacy)
		return
	}
	response.OK(c, http.StatusCreated, res.Message, res.Token)
}

// Login 校验凭据并返回身份令牌。
func (h *Handler) Login(c *gin.Context) {
	var req account.LoginInput
	if !h.bind(c, &req, statusInvalidInputLegacy) {
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, statusInvalidInputLegacy)
		return
	}
	response.OK(c, http.StatusOK, res.Message, res.Token)
}

// UpdateProfile 更新当前用户的资料。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req account.UpdateProfileInput
	if !h.bind(c, &req, statusInvalidInputLegacy) {
		return
	}
	caller, _ := middleware.IdentityFrom(c)
	res, err := h.svc.UpdateProfile(c.Request.Context(), caller, req)
	if err != nil {
		h.fail(c, err, statusInvalidInputLegacy)
		return
	}
	response.OK(c, http.StatusOK, res.Message, "")
}

func (h *Handler) UpdateRole(c *gin.Context) {
	var req account.UpdateRoleInput
	if !h.bind(c, &req, statusInvalidInput) {
		return
	}
	caller, _ := middleware.IdentityFrom(c)
	res, err := h.svc.UpdateRole(c.Request.Context(), caller, req)
	if err != nil {
		h.fail(c, err, statusInvalidInput)
		return
	}
	response.OK(c, http.StatusOK, res.Message, "")
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req account.UpdateStatusInput
	if !h.bind(c, &req, statusInvalidInput) {
		return
	}
	caller, _ := middleware.IdentityFrom(c)
	res, err := h.svc.UpdateStatus(c.Request.Context(), caller, req)
	if err != nil {
		h.fail(c, err, statusInvalidInput)
		return
	}
	response.OK(c, http.StatusOK, res.Message, "")
}

// ForgotPassword 发送重置密码链接。
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req account.ForgotPasswordInput
	if !h.bind(c, &req, statusInvalidInput) {
		return
	}
	res, err := h.svc.ForgotPassword(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, statusInvalidInput)
		return
	}
	response.OK(c, http.StatusOK, res.Message, "")
}

// ResetPassword 使用重置令牌设置新密码。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req account.ResetPasswordInput
	if !h.bind(c, &req, statusInvalidInput) {
		return
	}
	res, err := h.svc.ResetPassword(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, statusInvalidInput)
		return
	}
	response.OK(c, http.StatusOK, res.Message, "")
}

func (h *Handler) bind(c *gin.Context, req any, invalidStatus int) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Debug("decode request body failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
		h.fail(c, bindError(err), invalidStatus)
		return false
	}
	return true
}

// bindError 把请求体解码失败转换为带字段信息的校验错误。
func bindError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return account.ValidationError(field, "type")
	case errors.Is(err, io.EOF):
		return account.ValidationError("body", "required")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return account.ValidationError("body", "json")
	default:
		return account.ValidationError("body", "invalid")
	}
}

func (h *Handler) fail(c *gin.Context, err error, invalidStatus int) {
	msg := account.MsgInternal
	var fields []account.FieldError
	var e *account.Error
	if errors.As(err, &e) {
		msg = e.Message
		fields = e.Fields
	}

	status := statusFor(account.KindOf(err), invalidStatus)
	if status >= http.StatusInternalServerError {
		h.logger.Error("account operation failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
	}
	response.Fail(c, status, msg, fields)
}

func statusFor(kind account.Kind, invalidStatus int) int {
	switch kind {
	case account.KindValidation, account.KindConflict:
		return invalidStatus
	case account.KindInvalidCredentials, account.KindTokenInvalidOrExpired:
		return http.StatusBadRequest
	case account.KindNotFound:
		return http.StatusNotFound
	case account.KindUnauthorized:
		return http.StatusUnauthorized
	case account.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// RegisterRoutes 挂载用户接口，角色校验只能出现在认证之后。
func RegisterRoutes(rg *gin.RouterGroup, h *Handler, gate *middleware.Gate) {
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)
	rg.PUT("/update", gate.Authenticate(), h.UpdateProfile)
	rg.PUT("/role", append(gate.Authorize(model.RoleAdmin), h.UpdateRole)...)
	rg.PUT("/status", append(gate.Authorize(model.RoleAdmin), h.UpdateStatus)...)
	rg.POST("/forgotPassword", h.ForgotPassword)
	rg.POST("/resetPassword", h.ResetPassword)
}
