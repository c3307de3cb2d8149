// Package people manages person records and keeps the person-to-user
// binding consistent when email addresses change.
package people

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
	"github.com/kausaltech/kausal-watch-sub001/internal/util"
)

var ErrEmailInUse = errors.New("email already belongs to another person")

type dataStore interface {
	GetPerson(ctx context.Context, personID string) (store.Person, error)
	GetPersonByEmail(ctx context.Context, email string) (store.Person, error)
	InsertPerson(ctx context.Context, person store.Person) error
	UpdatePerson(ctx context.Context, person store.Person) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	InsertUser(ctx context.Context, user store.User) error
	UpdateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store dataStore
}

func NewService(s dataStore) *Service {
	return &Service{store: s}
}

// Create adds a person and binds them to the user account matching the
// email, creating one when none exists.
func (s *Service) Create(ctx context.Context, person store.Person) (store.Person, error) {
	person.Email = strings.ToLower(strings.TrimSpace(person.Email))

	if _, err := s.store.GetPersonByEmail(ctx, person.Email); err == nil {
		return store.Person{}, ErrEmailInUse
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Person{}, fmt.Errorf("check email: %w", err)
	}

	user, err := s.bindUser(ctx, person.Email)
	if err != nil {
		return store.Person{}, err
	}

	if person.ID == "" {
		person.ID = util.NewID("person")
	}
	person.UserID = &user.ID
	person.CreatedAt = time.Now()
	person.UpdatedAt = person.CreatedAt
	if err := s.store.InsertPerson(ctx, person); err != nil {
		return store.Person{}, fmt.Errorf("insert person: %w", err)
	}
	return person, nil
}

// ChangeEmail moves a person to a new address and rebinds the user link.
// Two persons must never share an email, and a deactivated user picked
// up by the rebind is reactivated with its password invalidated.
func (s *Service) ChangeEmail(ctx context.Context, personID, newEmail string) (store.Person, error) {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))

	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return store.Person{}, fmt.Errorf("get person: %w", err)
	}
	if person.Email == newEmail {
		return person, nil
	}

	if other, err := s.store.GetPersonByEmail(ctx, newEmail); err == nil && other.ID != person.ID {
		return store.Person{}, ErrEmailInUse
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Person{}, fmt.Errorf("check email: %w", err)
	}

	user, err := s.bindUser(ctx, newEmail)
	if err != nil {
		return store.Person{}, err
	}

	person.Email = newEmail
	person.UserID = &user.ID
	person.UpdatedAt = time.Now()
	if err := s.store.UpdatePerson(ctx, person); err != nil {
		return store.Person{}, fmt.Errorf("update person: %w", err)
	}
	return person, nil
}

// bindUser resolves the user account for an email address: an existing
// active user is reused as-is, a deactivated one comes back to life
// without a usable password, and a missing one is created.
func (s *Service) bindUser(ctx context.Context, email string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		user = store.User{
			ID:        util.NewID("user"),
			UUID:      util.NewUUID(),
			Email:     email,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.store.InsertUser(ctx, user); err != nil {
			return store.User{}, fmt.Errorf("insert user: %w", err)
		}
		return user, nil
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get user: %w", err)
	}

	if !user.IsActive() {
		user.DeactivatedAt = nil
		user.DeactivatedBy = ""
		// The previous owner's password must not open the revived
		// account.
		user.PasswordHash = ""
		user.UpdatedAt = time.Now()
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return store.User{}, fmt.Errorf("reactivate user: %w", err)
		}
	}
	return user, nil
}

// Deactivate soft-deletes a user account.
func (s *Service) Deactivate(ctx context.Context, user store.User, by string) error {
	if !user.IsActive() {
		return nil
	}
	now := time.Now()
	user.DeactivatedAt = &now
	user.DeactivatedBy = by
	user.UpdatedAt = now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}
