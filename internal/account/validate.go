package account

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"userbackend/internal/model"

	"github.com/go-playground/validator/v10"
)

// RegisterInput 注册请求。
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=191"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
	Profile  string `json:"profile" validate:"omitempty,url,max=2048"`
}

// LoginInput 登录请求。
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

// UpdateProfileInput 部分更新，nil 字段保持不变。
type UpdateProfileInput struct {
	Name    *string `json:"name" validate:"omitnil,min=1,max=100"`
	Profile *string `json:"profile" validate:"omitnil,url,max=2048"`
}

type UpdateRoleInput struct {
	UserID string     `json:"userId" validate:"required,uuid"`
	Role   model.Role `json:"role" validate:"required,role"`
}

// UpdateStatusInput 中 IsActive 使用指针，以区分“未提供”和显式 false。
type UpdateStatusInput struct {
	UserID   string `json:"userId" validate:"required,uuid"`
	IsActive *bool  `json:"isActive" validate:"required"`
}

type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordInput struct {
	Token       string `json:"token" validate:"required,max=128"`
	NewPassword string `json:"newPassword" validate:"required,min=6,maxbytes=72"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误中使用 JSON 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// bcrypt 的输入上限按字节计算
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, err := model.ParseRole(fl.Field().String())
		return err == nil
	})
	return v
}

// validateInput 在访问存储之前校验请求结构。
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return internalError(err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Constraint: fe.Tag()})
	}
	return &Error{Kind: KindValidation, Message: MsgInvalidInput, Fields: fields}
}

// ValidationError 构造单字段校验错误，供传输层报告无法解析的请求体。
func ValidationError(field, constraint string) error {
	e := &Error{Kind: KindValidation, Message: MsgInvalidInput}
	if field != "" {
		e.Fields = []FieldError{{Field: field, Constraint: constraint}}
	}
	return e
}
