package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/apperr"
	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const tokenTTL = 24 * time.Hour

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type RegisterUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"required"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt string    `json:"created_at"`
}

type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	Register(ctx context.Context, req RegisterUserRequest, actorID string) (*UserResponse, error)
	GetUser(ctx context.Context, id string) (*UserResponse, error)
}

type authService struct {
	users repository.UserRepository
	logs  repository.AuditLogRepository
}

func NewAuthService(users repository.UserRepository, logs repository.AuditLogRepository) AuthService {
	return &authService{users: users, logs: logs}
}

func validRole(role string) bool {
	return role == model.RoleAdmin || role == model.RoleAccountant || role == model.RoleAuditor
}

func mapUserResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}

func (s *authService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Unauthorizedf("invalid email or password")
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorizedf("invalid email or password")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"exp":  time.Now().Add(tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(middleware.GetJWTSecret())
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{Token: tokenString}, nil
}

// Register creates a new platform user. Admin-only, enforced at the route.
func (s *authService) Register(ctx context.Context, req RegisterUserRequest, actorID string) (*UserResponse, error) {
	if !validRole(req.Role) {
		return nil, apperr.Validation("role must be admin, accountant, or auditor")
	}

	if _, err := s.users.FindByUsername(ctx, req.Username); err == nil {
		return nil, apperr.Conflictf("username %s already exists", req.Username)
	}
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, apperr.Conflictf("email %s already exists", req.Email)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashed),
		Role:     req.Role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflictf("username or email already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	entry := &model.AuditLog{
		UserID:     parseOptionalUserID(actorID),
		Action:     model.ActionRegisterUser,
		EntityID:   user.ID.String(),
		EntityName: user.Username,
	}
	if logErr := s.logs.Log(ctx, entry); logErr != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", logErr)
	}

	return mapUserResponse(user), nil
}

func (s *authService) GetUser(ctx context.Context, id string) (*UserResponse, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.Validation("user id must be a valid UUID")
	}
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("user %s not found", id)
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return mapUserResponse(user), nil
}
