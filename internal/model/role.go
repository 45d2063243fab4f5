package model

import "fmt"

// Role 是用户角色的封闭枚举。
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid 报告角色是否为已知取值。
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ParseRole 将字符串解析为角色。
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
