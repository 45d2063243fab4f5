package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 表示系统用户。
type User struct {
	ID                   string     `gorm:"type:char(36);primaryKey"`               // 用户 ID (UUID)
	Name                 string     `gorm:"type:varchar(100);not null"`             // 显示名称
	Email                string     `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（唯一，按原样保存）
	Password             string     `gorm:"not null"`                               // bcrypt 哈希
	Profile              string     `gorm:"type:varchar(2048)"`                     // 个人主页 URL（可选）
	Role                 Role       `gorm:"type:varchar(16);default:member"`        // 角色: member / admin
	IsActive             bool       `gorm:"default:true"`                           // 账号是否启用
	ResetPasswordToken   *string    `gorm:"type:varchar(64);uniqueIndex"`           // 重置密码令牌
	ResetPasswordExpires *time.Time // 重置令牌过期时间
	CreatedAt            time.Time  // 创建时间
	UpdatedAt            time.Time  // 更新时间
}

// BeforeCreate 在插入前分配 UUID。
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	return nil
}

// Identity 返回用户当前的身份快照。
func (u *User) Identity() Identity {
	return Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		IsActive: u.IsActive,
	}
}

// HasResetToken 报告用户是否持有未清除的重置令牌。
func (u *User) HasResetToken() bool {
	return u.ResetPasswordToken != nil && u.ResetPasswordExpires != nil
}

// Identity 是经过认证的请求方。
type Identity struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}
