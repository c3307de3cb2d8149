package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

type fakeUserStore struct {
	getUserByEmailFn   func(context.Context, string) (store.User, error)
	getPersonByEmailFn func(context.Context, string) (store.Person, error)
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeUserStore) GetPersonByEmail(ctx context.Context, email string) (store.Person, error) {
	if f.getPersonByEmailFn != nil {
		return f.getPersonByEmailFn(ctx, email)
	}
	return store.Person{}, store.ErrNotFound
}

func userWithPassword(t *testing.T, password string) store.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return store.User{ID: "user_1", Email: "maija@example.com", PasswordHash: hash}
}

func checkCode(t *testing.T, err error, code string) {
	t.Helper()
	var ce *CheckError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CheckError, got %v", err)
	}
	if ce.Code != code {
		t.Fatalf("code = %q, want %q", ce.Code, code)
	}
}

func TestCheckLoginMethod(t *testing.T) {
	ctx := context.Background()
	user := userWithPassword(t, "hunter2hunter2")
	userStore := &fakeUserStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			if email == "maija@example.com" {
				return user, nil
			}
			return store.User{}, store.ErrNotFound
		},
		getPersonByEmailFn: func(ctx context.Context, email string) (store.Person, error) {
			return store.Person{ID: "person_1", Email: email}, nil
		},
	}
	svc := NewService(userStore, nil)

	method, err := svc.CheckLoginMethod(ctx, "Maija@Example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if method != MethodPassword {
		t.Errorf("method = %q", method)
	}

	_, err = svc.CheckLoginMethod(ctx, "not an address")
	checkCode(t, err, CodeInvalidEmail)

	_, err = svc.CheckLoginMethod(ctx, "nobody@example.com")
	checkCode(t, err, CodeNoUser)
}

func TestCheckLoginMethodRequiresPerson(t *testing.T) {
	ctx := context.Background()
	user := userWithPassword(t, "hunter2hunter2")
	userStore := &fakeUserStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return user, nil
		},
	}
	svc := NewService(userStore, nil)

	_, err := svc.CheckLoginMethod(ctx, "maija@example.com")
	checkCode(t, err, CodeNoAdminAccess)

	// A superuser gets in without a person record.
	user.IsSuperuser = true
	userStore.getUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
		return user, nil
	}
	if _, err := svc.CheckLoginMethod(ctx, "maija@example.com"); err != nil {
		t.Fatalf("superuser check: %v", err)
	}
}

func TestCheckLoginMethodNoPassword(t *testing.T) {
	ctx := context.Background()
	userStore := &fakeUserStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "user_1", Email: email}, nil
		},
		getPersonByEmailFn: func(ctx context.Context, email string) (store.Person, error) {
			return store.Person{ID: "person_1"}, nil
		},
	}
	svc := NewService(userStore, nil)

	_, err := svc.CheckLoginMethod(ctx, "maija@example.com")
	checkCode(t, err, CodeNoPassword)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	user := userWithPassword(t, "hunter2hunter2")
	userStore := &fakeUserStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return user, nil
		},
	}
	svc := NewService(userStore, nil)

	got, err := svc.Login(ctx, "maija@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != "user_1" {
		t.Errorf("user = %+v", got)
	}

	if _, err := svc.Login(ctx, "maija@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRejectsDeactivatedUser(t *testing.T) {
	ctx := context.Background()
	user := userWithPassword(t, "hunter2hunter2")
	deactivatedAt := time.Now()
	user.DeactivatedAt = &deactivatedAt
	svc := NewService(&fakeUserStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return user, nil
		},
	}, nil)

	if _, err := svc.Login(ctx, "maija@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRedisThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	throttle := NewRedisThrottle(client, 3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := throttle.Allow(ctx, "check-login:maija@example.com")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("call %d throttled early", i+1)
		}
	}
	ok, err := throttle.Allow(ctx, "check-login:maija@example.com")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("fourth call should be throttled")
	}

	// Other keys are unaffected.
	ok, _ = throttle.Allow(ctx, "check-login:pekka@example.com")
	if !ok {
		t.Fatal("different key should not be throttled")
	}

	// The window resets after expiry.
	mr.FastForward(time.Minute + time.Second)
	ok, _ = throttle.Allow(ctx, "check-login:maija@example.com")
	if !ok {
		t.Fatal("throttle should reset after the window")
	}
}

func TestCheckLoginMethodThrottled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	user := userWithPassword(t, "hunter2hunter2")
	svc := NewService(&fakeUserStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return user, nil
		},
		getPersonByEmailFn: func(ctx context.Context, email string) (store.Person, error) {
			return store.Person{ID: "person_1"}, nil
		},
	}, NewRedisThrottle(client, 60, time.Minute))

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		if _, err := svc.CheckLoginMethod(ctx, "maija@example.com"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	_, err := svc.CheckLoginMethod(ctx, "maija@example.com")
	checkCode(t, err, CodeThrottled)
}
