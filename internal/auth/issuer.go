package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"spendly.app/internal/obs"
)

// RegisterInput is the payload of a new account.
type RegisterInput struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=6,max=72"`
	Name     string `validate:"required,max=100"`
}

type loginInput struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

// Register creates the account and issues its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput, device DeviceInfo) (Session, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return Session{}, err
	}
	if len(in.Password) > MaxPasswordBytes {
		return Session{}, passwordTooLong()
	}

	hash, err := HashPassword(in.Password, s.cfg.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return Session{}, passwordTooLong()
	}
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	user := &User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return Session{}, newError(KindEmailExists, "", err)
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	sess, err := s.Issue(ctx, user, device)
	if err != nil {
		return Session{}, err
	}
	obs.SessionIssued("register")
	return sess, nil
}

// Login checks the credentials and issues a session. Unknown email and wrong
// password are indistinguishable to the caller, in outcome and in cost.
func (s *Service) Login(ctx context.Context, email, password string, device DeviceInfo) (Session, error) {
	email = normalizeEmail(email)
	if err := s.check(loginInput{Email: email, Password: password}); err != nil {
		return Session{}, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = s.compare(s.unknownHash, []byte(password))
			obs.Warn("auth.login.fail", map[string]any{"reason": "unknown_email", "ip": device.IPAddress})
			return Session{}, newError(KindInvalidCredentials, "", nil)
		}
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if err := s.compare([]byte(user.PasswordHash), []byte(password)); err != nil {
		obs.Warn("auth.login.fail", map[string]any{"reason": "bad_password", "subject": user.ID, "ip": device.IPAddress})
		return Session{}, newError(KindInvalidCredentials, "", nil)
	}

	sess, err := s.Issue(ctx, user, device)
	if err != nil {
		return Session{}, err
	}
	obs.SessionIssued("login")
	return sess, nil
}

// Issue mints a session for an already validated user, records the refresh
// credential and stamps the last-login time. Only signing failures are returned.
func (s *Service) Issue(ctx context.Context, user *User, device DeviceInfo) (Session, error) {
	sess, _, err := s.mintSession(ctx, user.ID, device)
	if err != nil {
		return Session{}, err
	}

	at := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, at); err != nil {
		obs.Error("auth.session.last_login.fail", err, map[string]any{"subject": user.ID})
	} else {
		user.LastLoginAt = &at
	}
	sess.User = user.Profile()
	return sess, nil
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return ValidationError(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func passwordTooLong() error {
	return ValidationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
