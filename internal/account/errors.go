package account

import (
	"errors"
	"fmt"
)

// Kind 是账户操作失败的分类。
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindConflict
	KindInvalidCredentials
	KindTokenInvalidOrExpired
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindTokenInvalidOrExpired:
		return "token_invalid_or_expired"
	default:
		return "internal"
	}
}

// FieldError 描述单个字段违反的约束。
type FieldError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
}

// Error 是账户服务对外返回的错误。Message 可直接展示给调用方，
// Err 仅用于日志。
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 返回错误的分类，非 *Error 一律视为内部错误。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func internalError(cause error) *Error {
	return newError(KindInternal, MsgInternal, cause)
}

// 面向客户端的提示文案。
const (
	MsgInvalidInput       = "Please enter correct inputs"
	MsgEmailTaken         = "Email already taken, please try with another Email"
	MsgInvalidCredentials = "Invalid email or password"
	MsgAccountDeactivated = "Account is deactivated"
	MsgUserNotFound       = "User not found"
	MsgResetTokenInvalid  = "Password reset token is invalid or has expired"
	MsgEmailSendFailed    = "Error sending email"
	MsgInternal           = "Internal Server Error"
	MsgProfileUpdated     = "Profile Updated Successfully"
	MsgRoleUpdated        = "User role updated successfully"
	MsgResetLinkSent      = "Password reset link sent to email"
	MsgPasswordReset      = "Password has been reset successfully"
	MsgNothingToUpdate    = "Provide at least one of name or profile"
	MsgUnauthenticated    = "Unauthorized"
)
