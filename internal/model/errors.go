package model

import "errors"

var (
	// ErrUserNotFound 表示用户不存在。
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken 表示邮箱已被注册。
	ErrEmailTaken = errors.New("email already taken")
)
