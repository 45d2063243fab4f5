package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"userbackend/internal/model"
)

// SeedAdmin 确保配置中的管理员账号存在、处于启用状态且拥有 admin 角色。
// 未配置管理员邮箱时直接返回。已存在账号的密码不会被覆盖。
func (s *Server) SeedAdmin(ctx context.Context) error {
	email := s.cfg.Security.AdminEmail
	if email == "" {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, model.ErrUserNotFound) {
		return fmt.Errorf("find admin: %w", err)
	}
	if errors.Is(err, model.ErrUserNotFound) {
		digest, hashErr := s.hasher.Hash(s.cfg.Security.AdminPassword)
		if hashErr != nil {
			return fmt.Errorf("hash admin password: %w", hashErr)
		}
		user = &model.User{
			Name:     "Administrator",
			Email:    email,
			Password: digest,
			Role:     model.RoleAdmin,
			IsActive: true,
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		s.logger.Info("admin account created", slog.String("user_id", user.ID))
		return nil
	}

	if user.Role != model.RoleAdmin {
		if err := s.users.SetRole(ctx, user.ID, model.RoleAdmin); err != nil {
			return fmt.Errorf("promote admin: %w", err)
		}
	}
	if !user.IsActive {
		if err := s.users.SetActive(ctx, user.ID, true); err != nil {
			return fmt.Errorf("activate admin: %w", err)
		}
	}
	if err := s.cache.Delete(ctx, user.ID); err != nil {
		s.logger.Warn("identity cache evict failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	return nil
}
