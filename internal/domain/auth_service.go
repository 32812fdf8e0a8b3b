package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/voicejournal/internal/models"
	"github.com/Vovarama1992/voicejournal/internal/ports"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type authService struct {
	pool   *pgxpool.Pool
	secret string
}

func NewAuthService(pool *pgxpool.Pool, secret string) ports.AuthService {
	return &authService{
		pool:   pool,
		secret: secret,
	}
}

func (s *authService) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM app_user WHERE email = $1`, email,
	).Scan(&existing)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         "user",
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO app_user (id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Role).Scan(&u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM app_user
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("select user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.signToken(&u)
	if err != nil {
		return "", nil, err
	}

	return token, &u, nil
}

func (s *authService) ValidateToken(ctx context.Context, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidCredentials
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredentials
	}
	userID, ok := claims["userId"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidCredentials
	}

	return userID, nil
}

func (s *authService) signToken(u *models.User) (string, error) {
	claims := jwt.MapClaims{
		"userId": u.ID,
		"email":  u.Email,
		"role":   u.Role,
		"iat":    time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
}
