package response

import (
	"userbackend/internal/account"

	"github.com/gin-gonic/gin"
)

// Body 是所有接口共用的响应结构。
type Body struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Token   string               `json:"token,omitempty"`
	Errors  []account.FieldError `json:"errors,omitempty"`
}

// OK 写入成功响应，token 为空时省略。
func OK(c *gin.Context, status int, message string, token string) {
	c.JSON(status, Body{Success: true, Message: message, Token: token})
}

// Fail 写入失败响应并终止后续处理器。
func Fail(c *gin.Context, status int, message string, fields []account.FieldError) {
	c.AbortWithStatusJSON(status, Body{Success: false, Message: message, Errors: fields})
}
