package notify

import (
	"context"
)

// Notifier 定义出站邮件接口。
type Notifier interface {
	// SendPasswordReset 发送重置密码链接。
	//
	// 参数:
	//   ctx: 上下文
	//   toEmail: 接收邮箱
	//   link: 包含重置令牌的链接
	SendPasswordReset(ctx context.Context, toEmail string, link string) error
}
