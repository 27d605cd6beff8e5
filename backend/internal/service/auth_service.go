package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/repository"
	pkgerrors "qr-attendance/backend/pkg/errors"
	"qr-attendance/backend/pkg/jwt"
)

var (
	ErrInvalidCredentials = errors.New("管理员密码错误")
	ErrInvalidRole        = errors.New("未知的登录角色")
)

// TokenBlacklist 登出时吊销 token；Redis 不可用时为 nil
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

// AuthService 认证业务接口
type AuthService interface {
	// Login 按角色在对应集合中查找邮箱并签发会话 token
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error)
	// Logout 总是成功；可用时将 token 加入黑名单
	Logout(ctx context.Context, claims *jwt.Claims)
}

type authService struct {
	cfg       *config.Config
	repo      *repository.Repository
	jwtMgr    *jwt.Manager
	blacklist TokenBlacklist
	logger    *zap.Logger
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	blacklist TokenBlacklist,
	logger *zap.Logger,
) AuthService {
	return &authService{
		cfg:       cfg,
		repo:      repo,
		jwtMgr:    jwtMgr,
		blacklist: blacklist,
		logger:    logger,
	}
}

func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	email := normalizeEmail(req.Email)

	// 1. 按角色确定用户
	var (
		user model.User
		err  error
	)
	switch req.Role {
	case model.RoleAdmin:
		user, err = s.adminUser(email, req.Password)
	case model.RoleProfessor:
		user, err = s.professorUser(ctx, email)
	case model.RoleStudent:
		user, err = s.studentUser(ctx, email)
	default:
		err = ErrInvalidRole
	}
	if err != nil {
		return nil, err
	}

	// 2. 签发 token
	token, expiresAt, err := s.jwtMgr.GenerateAccessToken(user.ID, user.Role, user.Name, user.Email)
	if err != nil {
		s.logger.Error("生成 AccessToken 失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrLoginFailed, err)
	}

	s.logger.Info("用户登录", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return &dto.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
		User:        user,
	}, nil
}

func (s *authService) Logout(ctx context.Context, claims *jwt.Claims) {
	if s.blacklist == nil || claims == nil || claims.ID == "" {
		return
	}
	ttl := claims.RemainingTTL()
	if ttl <= 0 {
		return
	}
	if err := s.blacklist.BlacklistToken(ctx, claims.ID, ttl); err != nil {
		// 登出不因吊销失败而失败，token 到期后自然失效
		s.logger.Warn("token 加入黑名单失败", zap.String("user_id", claims.UserID), zap.Error(err))
	}
}

// ── 按角色查找用户 ──

// adminUser 管理员为占位账户；配置了密码哈希时校验密码
func (s *authService) adminUser(email, password string) (model.User, error) {
	if hash := s.cfg.Auth.AdminPasswordHash; hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return model.User{}, ErrInvalidCredentials
		}
	}
	return model.User{
		ID:    model.AdminUserID,
		Name:  model.AdminUserName,
		Email: email,
		Role:  model.RoleAdmin,
	}, nil
}

func (s *authService) professorUser(ctx context.Context, email string) (model.User, error) {
	hits, err := s.repo.Professor.ListByEmail(ctx, email)
	if err != nil {
		s.logger.Error("按邮箱查询教师失败", zap.Error(err))
		return model.User{}, fmt.Errorf("%w: %v", pkgerrors.ErrLoginFailed, err)
	}
	if err := s.singleHit(len(hits), model.RoleProfessor, email); err != nil {
		return model.User{}, err
	}
	p := hits[0]
	return model.User{ID: p.ID, Name: p.Name, Email: p.Email, Role: model.RoleProfessor}, nil
}

func (s *authService) studentUser(ctx context.Context, email string) (model.User, error) {
	hits, err := s.repo.Student.ListByEmail(ctx, email)
	if err != nil {
		s.logger.Error("按邮箱查询学生失败", zap.Error(err))
		return model.User{}, fmt.Errorf("%w: %v", pkgerrors.ErrLoginFailed, err)
	}
	if err := s.singleHit(len(hits), model.RoleStudent, email); err != nil {
		return model.User{}, err
	}
	st := hits[0]
	return model.User{ID: st.ID, Name: st.Name, Email: st.Email, Role: model.RoleStudent}, nil
}

// singleHit 邮箱须恰好命中一条文档；多条视为数据异常，拒绝登录
func (s *authService) singleHit(n int, role, email string) error {
	switch {
	case n == 0:
		return pkgerrors.ErrUserNotFound
	case n > 1:
		s.logger.Error("邮箱对应多个账户", zap.String("role", role), zap.String("email", email), zap.Int("count", n))
		return pkgerrors.ErrLoginFailed
	}
	return nil
}
