package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"warden.dev/internal/obs"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Registration carries the fields needed to create an account.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Directory manages user accounts and their role assignments.
type Directory struct {
	store       Store
	hasher      Hasher
	audit       AuditRecorder
	cache       SessionCache
	defaultRole string
	now         func() time.Time
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory) error

// WithDefaultRole sets the role granted on registration.
func WithDefaultRole(name string) DirectoryOption {
	return func(d *Directory) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("auth: default role must not be empty")
		}
		d.defaultRole = name
		return nil
	}
}

// WithDirectoryHasher replaces the bcrypt hasher.
func WithDirectoryHasher(h Hasher) DirectoryOption {
	return func(d *Directory) error {
		if h == nil {
			return errors.New("auth: hasher must not be nil")
		}
		d.hasher = h
		return nil
	}
}

// WithDirectoryAudit routes audit events to rec.
func WithDirectoryAudit(rec AuditRecorder) DirectoryOption {
	return func(d *Directory) error {
		if rec != nil {
			d.audit = rec
		}
		return nil
	}
}

// WithDirectoryCache lets suspension evict cached sessions.
func WithDirectoryCache(c SessionCache) DirectoryOption {
	return func(d *Directory) error {
		d.cache = c
		return nil
	}
}

// NewDirectory constructs a Directory.
func NewDirectory(store Store, opts ...DirectoryOption) (*Directory, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	d := &Directory{
		store:       store,
		hasher:      BcryptHasher{},
		audit:       storeRecorder{store: store.Audit()},
		defaultRole: RoleNameUser,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register creates an ACTIVE user holding the default role.
func (d *Directory) Register(ctx context.Context, reg Registration, client ClientInfo) (view UserView, err error) {
	ctx, span := startSpan(ctx, "register")
	defer func() { endSpan(span, err) }()

	reg.Username = strings.TrimSpace(norm.NFKC.String(reg.Username))
	reg.Email = NormalizeEmail(reg.Email)
	reg.FirstName = normalizeText(reg.FirstName)
	reg.LastName = normalizeText(reg.LastName)

	if err := validateUsername(reg.Username); err != nil {
		return UserView{}, err
	}
	if err := validateEmail(reg.Email); err != nil {
		return UserView{}, err
	}
	if err := requireText("first name", reg.FirstName, maxNameLength); err != nil {
		return UserView{}, err
	}
	if err := requireText("last name", reg.LastName, maxNameLength); err != nil {
		return UserView{}, err
	}
	if err := ValidatePassword(reg.Password); err != nil {
		return UserView{}, err
	}

	users := d.store.Users()
	taken, err := users.ExistsByEmail(ctx, reg.Email)
	if err != nil {
		return UserView{}, err
	}
	if taken {
		return UserView{}, duplicatef("email %s is already registered", reg.Email)
	}
	taken, err = users.ExistsByUsername(ctx, reg.Username)
	if err != nil {
		return UserView{}, err
	}
	if taken {
		return UserView{}, duplicatef("username %s is already taken", reg.Username)
	}

	hash, err := d.hasher.Hash(reg.Password)
	if err != nil {
		return UserView{}, fmt.Errorf("hash password: %w", err)
	}

	var user User
	err = d.store.InTx(ctx, func(tx Store) error {
		role, err := tx.Roles().GetByName(ctx, d.defaultRole)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: default role %s is missing", ErrNotFound, d.defaultRole)
		}
		if err != nil {
			return err
		}
		user, err = tx.Users().Create(ctx, User{
			Username:     reg.Username,
			Email:        reg.Email,
			PasswordHash: hash,
			FirstName:    reg.FirstName,
			LastName:     reg.LastName,
			Status:       StatusActive,
		})
		if err != nil {
			return err
		}
		_, err = tx.Roles().Assign(ctx, RoleAssignment{UserID: user.ID, RoleID: role.ID, AssignedAt: d.now().UTC()})
		return err
	})
	if err != nil {
		return UserView{}, err
	}
	recordAudit(ctx, d.audit, event(user.ID, ActionUserRegistration, ResourceUser, AuditSuccess, client, "User registered successfully"))
	return newUserView(user, []string{d.defaultRole}), nil
}

// GetUser returns the user with its roles.
func (d *Directory) GetUser(ctx context.Context, id int64) (UserView, error) {
	user, err := d.user(ctx, d.store, id)
	if err != nil {
		return UserView{}, err
	}
	return d.view(ctx, user)
}

// GetUserByEmail returns the user registered under email.
func (d *Directory) GetUserByEmail(ctx context.Context, email string) (UserView, error) {
	user, err := d.store.Users().GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return UserView{}, ErrUserNotFound
	}
	if err != nil {
		return UserView{}, err
	}
	return d.view(ctx, user)
}

// UpdateProfile changes first and last name.
func (d *Directory) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) (UserView, error) {
	firstName = normalizeText(firstName)
	lastName = normalizeText(lastName)
	if err := requireText("first name", firstName, maxNameLength); err != nil {
		return UserView{}, err
	}
	if err := requireText("last name", lastName, maxNameLength); err != nil {
		return UserView{}, err
	}
	user, err := d.store.Users().UpdateProfile(ctx, id, firstName, lastName)
	if errors.Is(err, ErrNotFound) {
		return UserView{}, ErrUserNotFound
	}
	if err != nil {
		return UserView{}, err
	}
	recordAudit(ctx, d.audit, d.targetEvent(ctx, id, ActionProfileUpdate, ResourceUser, "User profile updated"))
	return d.view(ctx, user)
}

// Suspend marks the user SUSPENDED and revokes every session it holds.
func (d *Directory) Suspend(ctx context.Context, id int64) (UserView, error) {
	var user User
	err := d.store.InTx(ctx, func(tx Store) error {
		var err error
		user, err = tx.Users().UpdateStatus(ctx, id, StatusSuspended)
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Sessions().DeactivateAll(ctx, id)
		return err
	})
	if err != nil {
		return UserView{}, err
	}
	if d.cache != nil {
		if err := d.cache.EvictUser(ctx, id); err != nil {
			obs.Log(ctx, "error", "session_cache_evict_failed", map[string]any{"error": err.Error(), "user_id": id})
		}
	}
	recordAudit(ctx, d.audit, d.targetEvent(ctx, id, ActionUserSuspended, ResourceUser, "User account suspended"))
	return d.view(ctx, user)
}

// Reactivate marks the user ACTIVE again.
func (d *Directory) Reactivate(ctx context.Context, id int64) (UserView, error) {
	user, err := d.store.Users().UpdateStatus(ctx, id, StatusActive)
	if errors.Is(err, ErrNotFound) {
		return UserView{}, ErrUserNotFound
	}
	if err != nil {
		return UserView{}, err
	}
	recordAudit(ctx, d.audit, d.targetEvent(ctx, id, ActionUserReactivated, ResourceUser, "User account reactivated"))
	return d.view(ctx, user)
}

// ChangePassword replaces the password after checking the current one.
func (d *Directory) ChangePassword(ctx context.Context, id int64, current, next string) error {
	user, err := d.user(ctx, d.store, id)
	if err != nil {
		return err
	}
	if err := d.hasher.Verify(user.PasswordHash, current); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			return fmt.Errorf("verify password: %w", err)
		}
		ev := d.targetEvent(ctx, id, ActionPasswordChangeFailed, ResourceUser, "Invalid current password")
		ev.Status = AuditFailed
		recordAudit(ctx, d.audit, ev)
		return fmt.Errorf("%w: current password is incorrect", ErrInvalidCredentials)
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hash, err := d.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := d.store.Users().UpdatePassword(ctx, id, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	recordAudit(ctx, d.audit, d.targetEvent(ctx, id, ActionPasswordChanged, ResourceUser, "Password changed successfully"))
	return nil
}

// AssignRole gives the user a role. A second assignment of the same pair is a validation
// error, whether caught by the pre-check or by the storage constraint.
func (d *Directory) AssignRole(ctx context.Context, userID, roleID int64) (_ RoleAssignment, err error) {
	defer d.auditFailure(ctx, userID, ActionRoleAssignment, &err)
	actor, _ := UserIDFromContext(ctx)
	var (
		assignment RoleAssignment
		role       Role
	)
	err = d.store.InTx(ctx, func(tx Store) error {
		if _, err := d.user(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		role, err = tx.Roles().Get(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			return ErrRoleNotFound
		}
		if err != nil {
			return err
		}
		exists, err := tx.Roles().AssignmentExists(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if exists {
			return invalidf("user already has role %s", role.Name)
		}
		assignment, err = tx.Roles().Assign(ctx, RoleAssignment{
			UserID:     userID,
			RoleID:     roleID,
			AssignedAt: d.now().UTC(),
			AssignedBy: actor,
		})
		if errors.Is(err, ErrDuplicate) {
			return invalidf("user already has role %s", role.Name)
		}
		return err
	})
	if err != nil {
		return RoleAssignment{}, err
	}
	recordAudit(ctx, d.audit, d.targetEvent(ctx, userID, ActionRoleAssignment, ResourceUserRole, "Role "+role.Name+" assigned"))
	return assignment, nil
}

// RemoveRole takes a role away from the user.
func (d *Directory) RemoveRole(ctx context.Context, userID, roleID int64) (err error) {
	defer d.auditFailure(ctx, userID, ActionRoleRemoval, &err)
	var role Role
	err = d.store.InTx(ctx, func(tx Store) error {
		if _, err := d.user(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		role, err = tx.Roles().Get(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			return ErrRoleNotFound
		}
		if err != nil {
			return err
		}
		err = tx.Roles().Unassign(ctx, userID, roleID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: user does not have role %s", ErrNotFound, role.Name)
		}
		return err
	})
	if err != nil {
		return err
	}
	recordAudit(ctx, d.audit, d.targetEvent(ctx, userID, ActionRoleRemoval, ResourceUserRole, "Role "+role.Name+" removed"))
	return nil
}

// Stats counts users by status.
func (d *Directory) Stats(ctx context.Context) (UserStats, error) {
	counts, err := d.store.Users().CountByStatus(ctx)
	if err != nil {
		return UserStats{}, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return UserStats{
		Total:     total,
		Active:    counts[StatusActive],
		Inactive:  counts[StatusInactive],
		Suspended: counts[StatusSuspended],
	}, nil
}

// Search matches keyword against names, username and email, case-insensitively.
func (d *Directory) Search(ctx context.Context, keyword string, limit, offset int) ([]UserView, error) {
	keyword = normalizeText(keyword)
	if keyword == "" {
		return nil, invalidf("search keyword is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	users, err := d.store.Users().Search(ctx, keyword, limit, offset)
	if err != nil {
		return nil, err
	}
	return d.views(ctx, users)
}

// UsersByRole lists every user holding the named role.
func (d *Directory) UsersByRole(ctx context.Context, roleName string) ([]UserView, error) {
	roleName = strings.TrimSpace(roleName)
	if _, err := d.store.Roles().GetByName(ctx, roleName); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	users, err := d.store.Users().ListByRole(ctx, roleName)
	if err != nil {
		return nil, err
	}
	return d.views(ctx, users)
}

func (d *Directory) user(ctx context.Context, s Store, id int64) (User, error) {
	user, err := s.Users().Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

func (d *Directory) view(ctx context.Context, user User) (UserView, error) {
	roles, err := d.store.Roles().NamesForUser(ctx, user.ID)
	if err != nil {
		return UserView{}, err
	}
	return newUserView(user, dedupeSorted(roles)), nil
}

func (d *Directory) views(ctx context.Context, users []User) ([]UserView, error) {
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		v, err := d.view(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// auditFailure records a FAILED role event against target when *err is set on return.
func (d *Directory) auditFailure(ctx context.Context, target int64, action string, err *error) {
	if *err != nil {
		ev := d.targetEvent(ctx, target, action, ResourceUserRole, (*err).Error())
		ev.Status = AuditFailed
		recordAudit(ctx, d.audit, ev)
	}
}

// targetEvent attributes the event to the affected user and notes who acted.
func (d *Directory) targetEvent(ctx context.Context, target int64, action, resource, details string) AuditEvent {
	if actor, ok := UserIDFromContext(ctx); ok && actor != target {
		details = fmt.Sprintf("%s (by user %d)", details, actor)
	}
	return event(target, action, resource, AuditSuccess, ClientFromContext(ctx), details)
}
