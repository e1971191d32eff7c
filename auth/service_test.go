package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"seedmarket/policy"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeRecruits{}, policy.Default(), "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Member",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleMember {
		t.Fatalf("register: expected default role %s got %s", RoleMember, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	tokenUserID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, tokenUserID)
	}
	if tokenRole != RoleMember {
		t.Fatalf("verify token: expected role %s got %s", RoleMember, tokenRole)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeRecruits{}, policy.Default(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Member",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "root@example.com",
		Password: "strongpassword",
		FullName: "Root",
		Role:     RoleAdmin,
	}); err == nil {
		t.Fatal("expected self-registered admin to be rejected")
	}
}

func TestService_LoginWrongPassword(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeRecruits{}, policy.Default(), "test-secret")

	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{
		Email:    "bob@example.com",
		Password: "correcthorse",
		FullName: "Bob Seller",
		Role:     RoleSeller,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "correcthorse"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestService_IsQualifiedVoter(t *testing.T) {
	repo := newFakeRepository()
	recruits := &fakeRecruits{counts: map[string]int{}}
	rules := policy.Default()
	svc := NewService(repo, recruits, rules, "test-secret")

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterRequest{
		Email:    "carol@example.com",
		Password: "supersafe",
		FullName: "Carol Ambassador",
		Role:     RoleAmbassador,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// No recruits, no whitelist: not qualified.
	ok, err := svc.IsQualifiedVoter(ctx, user.ID)
	if err != nil || ok {
		t.Fatalf("expected unqualified, got ok=%v err=%v", ok, err)
	}

	// Enough recruits in good standing qualifies.
	recruits.counts[user.ID] = rules.MinRecruitsToVote
	recruits.standing = true
	ok, err = svc.IsQualifiedVoter(ctx, user.ID)
	if err != nil || !ok {
		t.Fatalf("expected qualified via recruits, got ok=%v err=%v", ok, err)
	}

	// Suspension trumps everything.
	repo.setSuspended(user.ID, true)
	ok, err = svc.IsQualifiedVoter(ctx, user.ID)
	if err != nil || ok {
		t.Fatalf("expected suspended user unqualified, got ok=%v err=%v", ok, err)
	}
	repo.setSuspended(user.ID, false)

	// Whitelist qualifies regardless of recruits.
	recruits.counts[user.ID] = 0
	if err := svc.GrantVoterSeat(ctx, RoleAdmin, user.ID); err != nil {
		t.Fatalf("grant seat: %v", err)
	}
	ok, err = svc.IsQualifiedVoter(ctx, user.ID)
	if err != nil || !ok {
		t.Fatalf("expected qualified via whitelist, got ok=%v err=%v", ok, err)
	}

	// Unknown users are simply unqualified, not an error.
	ok, err = svc.IsQualifiedVoter(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected unknown user unqualified, got ok=%v err=%v", ok, err)
	}
}

func TestService_GrantVoterSeatRequiresAdmin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeRecruits{}, policy.Default(), "test-secret")

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterRequest{
		Email:    "dave@example.com",
		Password: "supersafe",
		FullName: "Dave Member",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.GrantVoterSeat(ctx, RoleMember, user.ID); err == nil {
		t.Fatal("expected non-admin grant to fail")
	}
}

type fakeRepository struct {
	byID      map[string]User
	byEmail   map[string]User
	whitelist map[string]bool
	next      int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byID:      map[string]User{},
		byEmail:   map[string]User{},
		whitelist: map[string]bool{},
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.byEmail[params.Email]; exists {
		return User{}, ErrDuplicateEmail
	}
	f.next++
	user := User{
		ID:           fmt.Sprintf("user-%d", f.next),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.byID[user.ID] = user
	f.byEmail[user.Email] = user
	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) IsWhitelisted(ctx context.Context, userID string) (bool, error) {
	return f.whitelist[userID], nil
}

func (f *fakeRepository) AddToWhitelist(ctx context.Context, userID string) error {
	f.whitelist[userID] = true
	return nil
}

func (f *fakeRepository) setSuspended(userID string, suspended bool) {
	user := f.byID[userID]
	user.Suspended = suspended
	f.byID[userID] = user
	f.byEmail[user.Email] = user
}

type fakeRecruits struct {
	counts   map[string]int
	standing bool
}

func (f *fakeRecruits) ActiveRecruitCount(ctx context.Context, ownerIdentity string) (int, bool, error) {
	if f.counts == nil {
		return 0, false, nil
	}
	return f.counts[ownerIdentity], f.standing, nil
}
