package people

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

type fakeStore struct {
	getPersonFn        func(context.Context, string) (store.Person, error)
	getPersonByEmailFn func(context.Context, string) (store.Person, error)
	insertPersonFn     func(context.Context, store.Person) error
	updatePersonFn     func(context.Context, store.Person) error
	getUserByEmailFn   func(context.Context, string) (store.User, error)
	insertUserFn       func(context.Context, store.User) error
	updateUserFn       func(context.Context, store.User) error
}

func (f *fakeStore) GetPerson(ctx context.Context, id string) (store.Person, error) {
	if f.getPersonFn != nil {
		return f.getPersonFn(ctx, id)
	}
	return store.Person{}, store.ErrNotFound
}

func (f *fakeStore) GetPersonByEmail(ctx context.Context, email string) (store.Person, error) {
	if f.getPersonByEmailFn != nil {
		return f.getPersonByEmailFn(ctx, email)
	}
	return store.Person{}, store.ErrNotFound
}

func (f *fakeStore) InsertPerson(ctx context.Context, p store.Person) error {
	if f.insertPersonFn != nil {
		return f.insertPersonFn(ctx, p)
	}
	return nil
}

func (f *fakeStore) UpdatePerson(ctx context.Context, p store.Person) error {
	if f.updatePersonFn != nil {
		return f.updatePersonFn(ctx, p)
	}
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) InsertUser(ctx context.Context, u store.User) error {
	if f.insertUserFn != nil {
		return f.insertUserFn(ctx, u)
	}
	return nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, u store.User) error {
	if f.updateUserFn != nil {
		return f.updateUserFn(ctx, u)
	}
	return nil
}

func TestCreateBindsExistingUser(t *testing.T) {
	ctx := context.Background()
	existing := store.User{ID: "user_1", Email: "maija@example.com", PasswordHash: "hash"}
	var inserted store.Person
	fs := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			if email == "maija@example.com" {
				return existing, nil
			}
			return store.User{}, store.ErrNotFound
		},
		insertPersonFn: func(ctx context.Context, p store.Person) error {
			inserted = p
			return nil
		},
	}
	svc := NewService(fs)

	person, err := svc.Create(ctx, store.Person{FirstName: "Maija", Email: "Maija@Example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if person.Email != "maija@example.com" {
		t.Errorf("email not normalized: %q", person.Email)
	}
	if inserted.UserID == nil || *inserted.UserID != "user_1" {
		t.Errorf("person not bound to existing user: %+v", inserted.UserID)
	}
}

func TestCreateMakesUserWhenMissing(t *testing.T) {
	ctx := context.Background()
	var createdUser *store.User
	fs := &fakeStore{
		insertUserFn: func(ctx context.Context, u store.User) error {
			createdUser = &u
			return nil
		},
	}
	svc := NewService(fs)

	person, err := svc.Create(ctx, store.Person{FirstName: "Pekka", Email: "pekka@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if createdUser == nil {
		t.Fatal("no user created")
	}
	if createdUser.Email != "pekka@example.com" || createdUser.HasUsablePassword() {
		t.Errorf("user = %+v", createdUser)
	}
	if person.UserID == nil || *person.UserID != createdUser.ID {
		t.Errorf("person not bound to new user")
	}
}

func TestCreateRejectsDuplicatePersonEmail(t *testing.T) {
	fs := &fakeStore{
		getPersonByEmailFn: func(ctx context.Context, email string) (store.Person, error) {
			return store.Person{ID: "person_9", Email: email}, nil
		},
	}
	svc := NewService(fs)

	_, err := svc.Create(context.Background(), store.Person{Email: "maija@example.com"})
	if !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestChangeEmailReactivatesDeactivatedUser(t *testing.T) {
	ctx := context.Background()
	deactivatedAt := time.Now().AddDate(0, -1, 0)
	oldUserID := "user_old"
	person := store.Person{ID: "person_1", Email: "old@example.com", UserID: &oldUserID}
	dormant := store.User{
		ID:            "user_2",
		Email:         "new@example.com",
		PasswordHash:  "stale-hash",
		DeactivatedAt: &deactivatedAt,
		DeactivatedBy: "admin",
	}
	var updatedUser *store.User
	var updatedPerson *store.Person
	fs := &fakeStore{
		getPersonFn: func(ctx context.Context, id string) (store.Person, error) {
			return person, nil
		},
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			if email == "new@example.com" {
				return dormant, nil
			}
			return store.User{}, store.ErrNotFound
		},
		updateUserFn: func(ctx context.Context, u store.User) error {
			updatedUser = &u
			return nil
		},
		updatePersonFn: func(ctx context.Context, p store.Person) error {
			updatedPerson = &p
			return nil
		},
	}
	svc := NewService(fs)

	got, err := svc.ChangeEmail(ctx, "person_1", "New@Example.com")
	if err != nil {
		t.Fatalf("change email: %v", err)
	}
	if updatedUser == nil {
		t.Fatal("dormant user was not updated")
	}
	if updatedUser.DeactivatedAt != nil || updatedUser.DeactivatedBy != "" {
		t.Errorf("user not reactivated: %+v", updatedUser)
	}
	if updatedUser.HasUsablePassword() {
		t.Error("reactivated user kept its old password")
	}
	if updatedPerson == nil || updatedPerson.Email != "new@example.com" {
		t.Errorf("person = %+v", updatedPerson)
	}
	if got.UserID == nil || *got.UserID != "user_2" {
		t.Errorf("person not rebound: %v", got.UserID)
	}
}

func TestChangeEmailRejectsTakenAddress(t *testing.T) {
	fs := &fakeStore{
		getPersonFn: func(ctx context.Context, id string) (store.Person, error) {
			return store.Person{ID: "person_1", Email: "old@example.com"}, nil
		},
		getPersonByEmailFn: func(ctx context.Context, email string) (store.Person, error) {
			return store.Person{ID: "person_2", Email: email}, nil
		},
	}
	svc := NewService(fs)

	_, err := svc.ChangeEmail(context.Background(), "person_1", "taken@example.com")
	if !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestChangeEmailNoopOnSameAddress(t *testing.T) {
	updates := 0
	fs := &fakeStore{
		getPersonFn: func(ctx context.Context, id string) (store.Person, error) {
			return store.Person{ID: "person_1", Email: "same@example.com"}, nil
		},
		updatePersonFn: func(ctx context.Context, p store.Person) error {
			updates++
			return nil
		},
	}
	svc := NewService(fs)

	if _, err := svc.ChangeEmail(context.Background(), "person_1", "Same@Example.com"); err != nil {
		t.Fatalf("change email: %v", err)
	}
	if updates != 0 {
		t.Fatalf("same-address change wrote %d updates", updates)
	}
}
