package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bizadmin/apiserver/internal/auth"
	"github.com/bizadmin/apiserver/internal/notify"
	"github.com/bizadmin/apiserver/internal/store"
	"github.com/bizadmin/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	// MinPasswordLength is the shortest raw password accepted.
	MinPasswordLength = 6
	// MaxPasswordLength is the bcrypt input limit, in bytes.
	MaxPasswordLength = 72
	// MaxNameLength is the longest display name accepted, in characters.
	MaxNameLength = 50

	RegistrationPassword = "password"
	RegistrationInvite   = "invite"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Notifier delivers account emails. Implementations live in package notify.
type Notifier interface {
	Welcome(ctx context.Context, n notify.Welcome) error
	PasswordChanged(ctx context.Context, n notify.PasswordChanged) error
}

// AuthOptions tunes the session lifecycle.
type AuthOptions struct {
	TokenTTL         time.Duration
	RefreshTTL       time.Duration
	RegistrationMode string
	LoginURL         string
}

// AuthService implements registration, login and session verification.
type AuthService struct {
	users    UserRepository
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenManager
	notifier Notifier
	log      logrus.FieldLogger
	opts     AuthOptions

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService wires the service. notifier may be nil when no mail relay
// is configured; invite registration then cannot be used.
func NewAuthService(
	users UserRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenManager,
	notifier Notifier,
	log logrus.FieldLogger,
	opts AuthOptions,
) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = time.Hour
	}
	if opts.RegistrationMode == "" {
		opts.RegistrationMode = RegistrationPassword
	}
	return &AuthService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		log:      log,
		opts:     opts,
	}
}

// TokenTTL is the lifetime of tokens minted at login.
func (s *AuthService) TokenTTL() time.Duration { return s.opts.TokenTTL }

// RefreshTTL is the lifetime of tokens minted by Refresh.
func (s *AuthService) RefreshTTL() time.Duration { return s.opts.RefreshTTL }

// RegistrationMode reports which registration flow is active.
func (s *AuthService) RegistrationMode() string { return s.opts.RegistrationMode }

type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
	Role            types.Role
}

type RegisterResult struct {
	User types.User
	// EmailSent is set only for invite registrations.
	EmailSent *bool
}

// Session is the outcome of a successful login or refresh.
type Session struct {
	Token string
	User  types.User
}

// Register creates an account. actor is the authenticated caller, or nil for
// anonymous sign-up; only admins may assign a role other than "user".
func (s *AuthService) Register(ctx context.Context, in RegisterInput, actor *types.User) (RegisterResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	if in.Role == "" {
		in.Role = types.RoleUser
	}

	var p problems
	validateProfile(&p, in.Name, in.Email)
	if !in.Role.Valid() {
		p.add("Role must be one of: user, admin")
	} else if in.Role != types.RoleUser && (actor == nil || !actor.IsAdmin()) {
		p.add("Role can only be assigned by an administrator")
	}

	invite := s.opts.RegistrationMode == RegistrationInvite
	if invite {
		if in.Password != "" || in.ConfirmPassword != "" {
			p.add("Password must not be supplied; it is generated and sent by email")
		}
	} else {
		validateNewPassword(&p, in.Password, in.ConfirmPassword)
	}
	if err := p.err(); err != nil {
		return RegisterResult{}, err
	}

	// Early exit only; the unique constraint decides concurrent races.
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return RegisterResult{}, ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return RegisterResult{}, fmt.Errorf("check existing user: %w", err)
	}

	password := in.Password
	if invite {
		if s.notifier == nil {
			return RegisterResult{}, errors.New("invite registration requires a notifier")
		}
		password = generatePassword()
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return RegisterResult{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return RegisterResult{}, ErrConflict
		}
		return RegisterResult{}, fmt.Errorf("create user: %w", err)
	}

	result := RegisterResult{User: user}
	if invite {
		sent := true
		err := s.notifier.Welcome(ctx, notify.Welcome{
			Name:     user.Name,
			Email:    user.Email,
			Password: password,
			LoginURL: s.opts.LoginURL,
		})
		if err != nil {
			sent = false
			s.log.WithError(err).WithField("user_id", user.ID).Error("welcome email not delivered; account created without credentials delivery")
		}
		result.EmailSent = &sent
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user registered")
	return result, nil
}

// Login checks credentials and mints a token with the login lifetime.
// Unknown emails and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, &ValidationError{Problems: []string{"Email and password are required"}}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Compare(password, s.timingHash())
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("get user: %w", err)
	}

	if !s.hasher.Compare(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user, s.opts.TokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, User: user}, nil
}

// Authenticate verifies a session token and reloads its user, so sessions of
// deleted users stop working even though tokens cannot be revoked.
func (s *AuthService) Authenticate(ctx context.Context, token string) (types.User, error) {
	if strings.TrimSpace(token) == "" {
		return types.User{}, auth.ErrNoToken
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return types.User{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return types.User{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrSessionUserGone
		}
		return types.User{}, fmt.Errorf("load session user: %w", err)
	}
	return user, nil
}

// Refresh re-verifies the current token and mints a shorter-lived one.
func (s *AuthService) Refresh(ctx context.Context, token string) (Session, error) {
	user, err := s.Authenticate(ctx, token)
	if err != nil {
		return Session{}, err
	}

	fresh, err := s.tokens.Issue(user, s.opts.RefreshTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: fresh, User: user}, nil
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// ChangePassword replaces the password of the given user after checking the
// current one. The hash is rewritten only here.
func (s *AuthService) ChangePassword(ctx context.Context, userID int, in ChangePasswordInput) error {
	var p problems
	if in.CurrentPassword == "" {
		p.add("Current password is required")
	}
	validateNewPassword(&p, in.NewPassword, in.ConfirmPassword)
	if in.CurrentPassword != "" && in.CurrentPassword == in.NewPassword {
		p.add("New password must differ from the current password")
	}
	if err := p.err(); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionUserGone
		}
		return fmt.Errorf("get user: %w", err)
	}
	if !s.hasher.Compare(in.CurrentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hashed, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionUserGone
		}
		return fmt.Errorf("update password: %w", err)
	}

	if s.notifier != nil {
		err := s.notifier.PasswordChanged(ctx, notify.PasswordChanged{
			Name:      user.Name,
			Email:     user.Email,
			ChangedAt: time.Now().UTC(),
		})
		if err != nil {
			s.log.WithError(err).WithField("user_id", user.ID).Warn("password change notice not delivered")
		}
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateProfile(p *problems, name, email string) {
	if name == "" {
		p.add("Name is required")
	} else if utf8.RuneCountInString(name) > MaxNameLength {
		p.add(fmt.Sprintf("Name must be less than %d characters", MaxNameLength))
	}
	if email == "" {
		p.add("Email is required")
	} else if !emailPattern.MatchString(email) {
		p.add("Please enter a valid email address")
	}
}

func validateNewPassword(p *problems, password, confirm string) {
	if password == "" {
		p.add("Password is required")
		return
	}
	if confirm == "" {
		p.add("Confirm password is required")
	}
	if len(password) < MinPasswordLength {
		p.add(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	} else if len(password) > MaxPasswordLength {
		p.add(fmt.Sprintf("Password must be at most %d characters long", MaxPasswordLength))
	}
	if confirm != "" && password != confirm {
		p.add("Passwords do not match")
	}
}

// timingHash is compared against when the email is unknown so both login
// failure paths spend the same bcrypt work.
func (s *AuthService) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(generatePassword())
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func generatePassword() string {
	return rand.Text()
}
