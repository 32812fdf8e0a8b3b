package ports

import (
	"context"

	"github.com/Vovarama1992/voicejournal/internal/models"
)

type AuthService interface {
	Register(ctx context.Context, email, name, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	ValidateToken(ctx context.Context, token string) (string, error)
}
