package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"userbackend/internal/model"

	"gorm.io/gorm"
)

// UserStore 基于 gorm 的用户持久化实现。
type UserStore struct {
	db *gorm.DB
}

// NewUserStore 创建 UserStore。
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser 在同一事务内检查邮箱唯一性并创建用户。
// 并发注册同一邮箱时由唯一索引兜底。
func (s *UserStore) CreateUser(ctx context.Context, user *model.User) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return fmt.Errorf("count email: %w", err)
		}
		if count > 0 {
			return model.ErrEmailTaken
		}
		return tx.Create(user).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.ErrEmailTaken
	}
	return err
}

// FindByEmail 按邮箱精确查找用户，区分大小写。
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByID 按 ID 查找用户。
func (s *UserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// UpdateProfile 只更新提供的字段。
func (s *UserStore) UpdateProfile(ctx context.Context, id string, name *string, profile *string) error {
	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if profile != nil {
		updates["profile"] = *profile
	}
	return s.updateExisting(ctx, id, updates)
}

// SetRole 修改用户角色。
func (s *UserStore) SetRole(ctx context.Context, id string, role model.Role) error {
	return s.updateExisting(ctx, id, map[string]interface{}{"role": role})
}

// SetActive 修改用户启用状态，false 同样会写入。
func (s *UserStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateExisting(ctx, id, map[string]interface{}{"is_active": active})
}

// SetPassword 直接替换密码摘要（管理员初始化时使用）。
func (s *UserStore) SetPassword(ctx context.Context, id string, digest string) error {
	return s.updateExisting(ctx, id, map[string]interface{}{"password": digest})
}

// SaveResetToken 写入重置令牌与过期时间。
func (s *UserStore) SaveResetToken(ctx context.Context, userID string, token string, expires time.Time) error {
	return s.updateExisting(ctx, userID, map[string]interface{}{
		"reset_password_token":   token,
		"reset_password_expires": expires.UTC(),
	})
}

// ConsumeResetToken 查找未过期的令牌，替换密码并清除令牌字段。
//
// 更新语句以令牌值为条件，并发消费同一令牌时只有一个事务会影响到行，
// 其余返回 model.ErrUserNotFound。
func (s *UserStore) ConsumeResetToken(ctx context.Context, token string, digest string, now time.Time) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reset_password_token = ? AND reset_password_expires > ?", token, now.UTC()).
			First(&user).Error; err != nil {
			return translate(err)
		}
		res := tx.Model(&model.User{}).
			Where("id = ? AND reset_password_token = ?", user.ID, token).
			Updates(map[string]interface{}{
				"password":               digest,
				"reset_password_token":   nil,
				"reset_password_expires": nil,
			})
		if res.Error != nil {
			return fmt.Errorf("clear reset token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	user.Password = digest
	user.ResetPasswordToken = nil
	user.ResetPasswordExpires = nil
	return &user, nil
}

// updateExisting 先确认记录存在再更新；MySQL 在值未变化时 RowsAffected 为 0，
// 因此不能用它判断记录是否存在。
func (s *UserStore) updateExisting(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.Select("id").Where("id = ?", id).First(&user).Error; err != nil {
			return translate(err)
		}
		if err := tx.Model(&model.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrUserNotFound
	}
	return err
}
