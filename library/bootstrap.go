package library

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultAccount is a staff or demo account guaranteed to exist after Bootstrap.
type DefaultAccount struct {
	Username string
	Password string
	Role     Role
}

var DefaultAccounts = []DefaultAccount{
	{"admin", "admin123", RoleAdmin},
	{"librarian1", "lib123", RoleLibrarian},
	{"student1", "student123", RoleStudent},
}

// Bootstrap runs once at process start. It creates any missing default
// account and, when seedBooks is set, the demo catalog. Running it again
// changes nothing.
func Bootstrap(ctx context.Context, accounts *AccountService, manager *LibraryManager, seedBooks bool, log zerolog.Logger) error {
	for _, a := range DefaultAccounts {
		existing, err := accounts.FindUser(ctx, a.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if _, err := accounts.CreateUser(ctx, a.Username, a.Password, a.Role); err != nil {
			return fmt.Errorf("bootstrap account %s: %w", a.Username, err)
		}
		log.Info().Str("user", a.Username).Str("role", string(a.Role)).Msg("created default account")
	}

	if !seedBooks {
		return nil
	}
	seeded, err := manager.SeedDemoData(ctx)
	if err != nil {
		return err
	}
	if seeded {
		log.Info().Int("books", len(DemoCatalog)).Msg("seeded demo catalog")
	}
	return nil
}
