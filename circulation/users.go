package circulation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// USER REGISTRY
// =============================================================================

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

// Registry registers, validates and authenticates users. There are no
// sessions here; Authenticate only checks credentials and account state.
type Registry struct {
	*deps
}

// NewUser is a registration request. Validated is only honored for
// bootstrap tooling; self-registered users start unvalidated.
//
// Librarian and admin accounts need either Validated or CreatedBy naming an
// active, validated admin. An account created by an admin starts validated
// by that admin.
type NewUser struct {
	Username  string
	Password  string
	Role      Role
	FullName  string
	Email     *string
	Validated bool
	CreatedBy *int64
}

// Register creates an active user with a bcrypt password hash.
func (r *Registry) Register(ctx context.Context, in NewUser) (*User, error) {
	const op = "register user"
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	switch {
	case in.Username == "":
		return nil, ruleErr(op, KindInvalidArgument, "username is required")
	case len(in.Password) < MinPasswordLength:
		return nil, ruleErr(op, KindInvalidArgument, "password must have at least %d characters", MinPasswordLength)
	case !in.Role.Valid():
		return nil, ruleErr(op, KindInvalidArgument, "unknown role %q", in.Role)
	case !in.Role.IsBorrower() && !in.Validated && in.CreatedBy == nil:
		return nil, ruleErr(op, KindInvalidOperator, "%s accounts must be created by a validated admin", in.Role)
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if email == "" {
			in.Email = nil
		} else {
			in.Email = &email
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ruleErr(op, KindInvalidArgument, "password: %v", err)
	}
	now := r.now().Unix()
	u := &User{
		Username:     in.Username,
		PasswordHash: string(hash),
		Role:         in.Role,
		FullName:     in.FullName,
		Email:        in.Email,
		Active:       true,
		Validated:    in.Validated,
		CreatedAt:    now,
	}
	if in.Validated {
		u.ValidatedAt = &now
	}

	err = r.run(ctx, op, func(tx Tx) error {
		if in.CreatedBy != nil {
			creator, err := tx.LockUser(ctx, *in.CreatedBy)
			if err != nil {
				return err
			}
			if creator == nil || creator.Role != RoleAdmin || !creator.CanOperate() {
				return ruleErr(op, KindInvalidOperator, "user %d cannot create accounts", *in.CreatedBy)
			}
			u.Validated = true
			u.ValidatedBy = &creator.ID
			u.ValidatedAt = &now
		}
		taken, err := tx.UsernameTaken(ctx, u.Username)
		if err != nil {
			return err
		}
		if taken {
			return ruleErr(op, KindDuplicate, "username %q already registered", u.Username)
		}
		u.ID, err = tx.InsertUser(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("user registered",
		slog.Int64("user_id", u.ID),
		slog.String("username", u.Username),
		slog.String("role", string(u.Role)))
	return u, nil
}

// Validate marks a user as validated. Admins may validate anyone; validated
// librarians may validate students and teachers.
func (r *Registry) Validate(ctx context.Context, userID, validatorID int64) (*User, error) {
	const op = "validate user"
	if userID == validatorID {
		return nil, ruleErr(op, KindInvalidOperator, "users cannot validate themselves")
	}
	now := r.now().Unix()

	var validated *User
	err := r.run(ctx, op, func(tx Tx) error {
		validator, err := tx.LockUser(ctx, validatorID)
		if err != nil {
			return err
		}
		if validator == nil || !validator.CanOperate() {
			return ruleErr(op, KindInvalidOperator, "user %d cannot validate accounts", validatorID)
		}
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ruleErr(op, KindUserNotFound, "user %d", userID)
		}
		if validator.Role != RoleAdmin && !u.Role.IsBorrower() {
			return ruleErr(op, KindInvalidOperator, "librarians can only validate students and teachers")
		}
		u.Validated = true
		u.ValidatedBy = &validator.ID
		u.ValidatedAt = &now
		if err := tx.UpdateUserStatus(ctx, u); err != nil {
			return err
		}
		validated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("user validated", slog.Int64("user_id", userID), slog.Int64("validated_by", validatorID))
	return validated, nil
}

// SetActive activates or deactivates an account.
func (r *Registry) SetActive(ctx context.Context, userID int64, active bool) (*User, error) {
	const op = "set user active"
	var updated *User
	err := r.run(ctx, op, func(tx Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ruleErr(op, KindUserNotFound, "user %d", userID)
		}
		u.Active = active
		if err := tx.UpdateUserStatus(ctx, u); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Authenticate checks a username and password. Unknown users, wrong
// passwords and accounts that are inactive or not yet validated all fail
// with InvalidCredentials.
func (r *Registry) Authenticate(ctx context.Context, username, password string) (*User, error) {
	const op = "authenticate"
	u, err := r.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, infraErr(op, err)
	}
	if u == nil {
		return nil, ruleErr(op, KindInvalidCredentials, "")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ruleErr(op, KindInvalidCredentials, "")
		}
		return nil, infraErr(op, err)
	}
	if !u.CanAuthenticate() {
		return nil, ruleErr(op, KindInvalidCredentials, "account is inactive or pending validation")
	}
	return u, nil
}

// Get returns a user by ID.
func (r *Registry) Get(ctx context.Context, id int64) (*User, error) {
	u, err := r.store.GetUser(ctx, id)
	if err != nil {
		return nil, infraErr("get user", err)
	}
	if u == nil {
		return nil, ruleErr("get user", KindUserNotFound, "user %d", id)
	}
	return u, nil
}

func (r *Registry) List(ctx context.Context, f UserFilter) ([]User, error) {
	out, err := r.store.ListUsers(ctx, f)
	return out, infraErr("list users", err)
}
