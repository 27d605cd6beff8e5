package model

// User 登录用户，不单独持久化，登录时由角色集合中的文档合成
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// 管理员为占位账户，不对应任何集合文档
const (
	AdminUserID   = "admin"
	AdminUserName = "Administrator"
)
