package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

type fakeUserRepo struct {
	created CreateUserParams
	users   map[string]User
	err     error
}

func (f *fakeUserRepo) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	if f.err != nil {
		return User{}, f.err
	}
	f.created = params
	return User{
		ID:           "u-1",
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
	}, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (User, error) {
	u, ok := f.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, _ string) (User, error) {
	return User{}, ErrUserNotFound
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := NewService(&fakeUserRepo{}, "secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "a@example.com",
		Password: "short",
		FullName: "A",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRegister_DefaultsToBuyerRole(t *testing.T) {
	repo := &fakeUserRepo{}
	svc := NewService(repo, "secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "a@example.com",
		Password: "longenough",
		FullName: "A",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleBuyer {
		t.Errorf("expected buyer role, got %s", user.Role)
	}
	if repo.created.PasswordHash == "longenough" {
		t.Errorf("password stored unhashed")
	}
}

func TestRegister_RejectsUnknownRole(t *testing.T) {
	svc := NewService(&fakeUserRepo{}, "secret")

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "a@example.com",
		Password: "longenough",
		FullName: "A",
		Role:     "superuser",
	}); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestLogin_And_VerifyToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("longenough"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo := &fakeUserRepo{users: map[string]User{
		"s@example.com": {ID: "u-9", Email: "s@example.com", PasswordHash: string(hash), Role: RoleSeller},
	}}
	svc := NewService(repo, "secret")

	result, err := svc.Login(context.Background(), LoginRequest{Email: "s@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected token")
	}

	userID, role, err := svc.VerifyToken(result.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if userID != "u-9" || role != RoleSeller {
		t.Errorf("unexpected claims: %s %s", userID, role)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("rightpass"), bcrypt.MinCost)
	repo := &fakeUserRepo{users: map[string]User{
		"s@example.com": {ID: "u-9", Email: "s@example.com", PasswordHash: string(hash)},
	}}
	svc := NewService(repo, "secret")

	_, err := svc.Login(context.Background(), LoginRequest{Email: "s@example.com", Password: "wrongpass"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc := NewService(&fakeUserRepo{users: map[string]User{}}, "secret")

	_, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "whatever1"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	issuer := NewService(&fakeUserRepo{}, "secret-a")
	verifier := NewService(&fakeUserRepo{}, "secret-b")

	token, err := issuer.generateToken("u-1", RoleBuyer)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, _, err := verifier.VerifyToken(token); err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
}
