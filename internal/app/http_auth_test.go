package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/authpw"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

func TestLoginIssuesUsableToken(t *testing.T) {
	fs := superuserStore()
	login := &fakeLogin{loginFn: func(ctx context.Context, email, password string) (store.User, error) {
		if email != "root@example.com" || password != "hunter22" {
			return store.User{}, authpw.ErrInvalidCredentials
		}
		return store.User{ID: "user_1", Email: "root@example.com", IsSuperuser: true, PasswordHash: "x"}, nil
	}}
	svc := NewService(fs, &fakePeople{}, login, &fakeReports{}, &fakeSearch{}, &fakeVersions{}, testSecret)
	server := NewHTTPServer(svc, "*")

	body := `{"email":"root@example.com","password":"hunter22"}`
	rr, payload := doRequest(server, httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the response")
	}

	// The issued token must open an authenticated endpoint.
	req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr, _ = doRequest(server, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected token to authenticate, got %d", rr.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	login := &fakeLogin{loginFn: func(ctx context.Context, email, password string) (store.User, error) {
		return store.User{}, authpw.ErrInvalidCredentials
	}}
	svc := NewService(superuserStore(), &fakePeople{}, login, &fakeReports{}, &fakeSearch{}, &fakeVersions{}, testSecret)
	server := NewHTTPServer(svc, "*")

	body := `{"email":"root@example.com","password":"wrong"}`
	rr, payload := doRequest(server, httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if payload["code"] != "invalid_credentials" {
		t.Errorf("expected code=invalid_credentials, got %v", payload["code"])
	}
	if payload["detail"] == nil {
		t.Error("expected a detail message")
	}
}

func TestCheckLoginMethod(t *testing.T) {
	server := newTestServer(superuserStore())

	body := `{"email":"root@example.com"}`
	rr, payload := doRequest(server, httptest.NewRequest(http.MethodPost, "/v1/check_login_method", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["method"] != "password" {
		t.Errorf("expected method=password, got %v", payload["method"])
	}
}

func TestCheckLoginMethodErrorBody(t *testing.T) {
	login := &fakeLogin{checkFn: func(ctx context.Context, email string) (string, error) {
		return "", &authpw.CheckError{Code: authpw.CodeNoUser, Detail: "No user found with this email address"}
	}}
	svc := NewService(superuserStore(), &fakePeople{}, login, &fakeReports{}, &fakeSearch{}, &fakeVersions{}, testSecret)
	server := NewHTTPServer(svc, "*")

	body := `{"email":"nobody@example.com"}`
	rr, payload := doRequest(server, httptest.NewRequest(http.MethodPost, "/v1/check_login_method", strings.NewReader(body)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if payload["code"] != "no_user" {
		t.Errorf("expected code=no_user, got %v", payload["code"])
	}
	if payload["detail"] != "No user found with this email address" {
		t.Errorf("unexpected detail: %v", payload["detail"])
	}
}

func TestCheckLoginMethodThrottled(t *testing.T) {
	login := &fakeLogin{checkFn: func(ctx context.Context, email string) (string, error) {
		return "", &authpw.CheckError{Code: authpw.CodeThrottled, Detail: "Too many requests"}
	}}
	svc := NewService(superuserStore(), &fakePeople{}, login, &fakeReports{}, &fakeSearch{}, &fakeVersions{}, testSecret)
	server := NewHTTPServer(svc, "*")

	body := `{"email":"root@example.com"}`
	rr, payload := doRequest(server, httptest.NewRequest(http.MethodPost, "/v1/check_login_method", strings.NewReader(body)))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if payload["code"] != "throttled" {
		t.Errorf("expected code=throttled, got %v", payload["code"])
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	server := newTestServer(superuserStore())

	for _, path := range []string{"/v1/plans", "/v1/actions?plan=plan_1", "/v1/search?q=x"} {
		rr, payload := doRequest(server, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got %d", path, rr.Code)
		}
		if payload["code"] != "unauthorized" {
			t.Errorf("%s: expected code=unauthorized, got %v", path, payload["code"])
		}
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	server := newTestServer(superuserStore())

	req := authedRequest(t, http.MethodGet, "/v1/plans", "")
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr, _ := doRequest(server, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestDeactivatedUserCannotUseToken(t *testing.T) {
	fs := superuserStore()
	base := fs.getUserFn
	fs.getUserFn = func(ctx context.Context, userID string) (store.User, error) {
		user, err := base(ctx, userID)
		if err != nil {
			return store.User{}, err
		}
		now := time.Now()
		user.DeactivatedAt = &now
		return user, nil
	}
	server := newTestServer(fs)

	rr, _ := doRequest(server, authedRequest(t, http.MethodGet, "/v1/plans", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for deactivated user, got %d", rr.Code)
	}
}
