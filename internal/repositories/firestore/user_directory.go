package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/oakmart/api/internal/platform/firestore"
)

const usersCollection = "users"

// UserDirectory answers customer existence checks against the users collection.
type UserDirectory struct {
	users *pfirestore.BaseRepository[userDocument]
}

func NewUserDirectory(provider *pfirestore.Provider) (*UserDirectory, error) {
	if provider == nil {
		return nil, errors.New("user directory requires firestore provider")
	}
	return &UserDirectory{
		users: pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil),
	}, nil
}

func (d *UserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	if d == nil || d.users == nil {
		return false, errors.New("user directory not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}

	doc, err := d.users.Get(ctx, userID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return false, nil
		}
		return false, pfirestore.WrapError("users.exists", err)
	}
	return !doc.Data.Disabled, nil
}

type userDocument struct {
	Email    string `firestore:"email"`
	Disabled bool   `firestore:"disabled"`
}
