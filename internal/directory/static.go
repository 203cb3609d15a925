package directory

import (
	"context"
	"fmt"

	"github.com/opsmenu/opsmenu/internal/model"
)

// Static resolves identities from a fixed map. Used when no directory
// service is configured (offline mode, only public scripts runnable) and
// as a stand-in in tests simulating denial and unavailability.
type Static struct {
	Users map[string]model.UserIdentity
}

func (s Static) Resolve(_ context.Context, username string) (model.UserIdentity, error) {
	identity, ok := s.Users[username]
	if !ok {
		return model.UserIdentity{}, fmt.Errorf("%q: %w", username, model.ErrUserNotFound)
	}
	return identity, nil
}

// Anonymous resolves every username to an identity with no groups, so
// permission checks pass for public scripts only.
type Anonymous struct{}

func (Anonymous) Resolve(_ context.Context, username string) (model.UserIdentity, error) {
	return model.UserIdentity{Username: username}, nil
}
