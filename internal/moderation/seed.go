package moderation

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-community/heron/internal/domain"
)

//go:embed seed.json
var seedData []byte

// SeedUsers returns the demo roster.
func SeedUsers() ([]*domain.User, error) {
	var users []*domain.User
	if err := json.Unmarshal(seedData, &users); err != nil {
		return nil, fmt.Errorf("failed to decode seed data: %w", err)
	}
	return users, nil
}

// Seed ingests the demo roster into an empty store. Scores are derived by
// the formula. It returns the number of users stored.
func (s *Service) Seed(ctx context.Context) (int, error) {
	existing, err := s.repo.ListUsers(ctx, domain.UserFilter{Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("failed to check store: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	users, err := SeedUsers()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, u := range users {
		if _, err := s.IngestUser(ctx, u); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return n, fmt.Errorf("failed to seed user %d: %w", u.ID, err)
		}
		n++
	}
	slog.Info("demo roster loaded", "users", n)
	return n, nil
}
