package memory

import (
	"context"
	"sort"
	"strings"

	"warden.dev/internal/auth"
)

type userStore struct{ s *Store }

func (u userStore) Create(_ context.Context, user auth.User) (auth.User, error) {
	defer u.s.lock()()
	st := u.s.st
	for _, existing := range st.users {
		if existing.Email == user.Email || existing.Username == user.Username {
			return auth.User{}, auth.ErrDuplicate
		}
	}
	now := u.s.stamp()
	user.ID = st.id()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = auth.StatusActive
	}
	st.users[user.ID] = user
	return user, nil
}

func (u userStore) Get(_ context.Context, id int64) (auth.User, error) {
	defer u.s.lock()()
	user, ok := u.s.st.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return user, nil
}

func (u userStore) GetByEmail(_ context.Context, email string) (auth.User, error) {
	defer u.s.lock()()
	for _, user := range u.s.st.users {
		if user.Email == email {
			return user, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (u userStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := u.GetByEmail(ctx, email)
	return err == nil, nil
}

func (u userStore) ExistsByUsername(_ context.Context, username string) (bool, error) {
	defer u.s.lock()()
	for _, user := range u.s.st.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (u userStore) UpdateProfile(_ context.Context, id int64, firstName, lastName string) (auth.User, error) {
	return u.update(id, func(user *auth.User) {
		user.FirstName = firstName
		user.LastName = lastName
	})
}

func (u userStore) UpdateStatus(_ context.Context, id int64, status auth.UserStatus) (auth.User, error) {
	return u.update(id, func(user *auth.User) { user.Status = status })
}

func (u userStore) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	_, err := u.update(id, func(user *auth.User) { user.PasswordHash = passwordHash })
	return err
}

func (u userStore) update(id int64, fn func(*auth.User)) (auth.User, error) {
	defer u.s.lock()()
	user, ok := u.s.st.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	fn(&user)
	user.UpdatedAt = u.s.stamp()
	u.s.st.users[id] = user
	return user, nil
}

func (u userStore) CountByStatus(context.Context) (map[auth.UserStatus]int64, error) {
	defer u.s.lock()()
	out := make(map[auth.UserStatus]int64)
	for _, user := range u.s.st.users {
		out[user.Status]++
	}
	return out, nil
}

func (u userStore) Search(_ context.Context, keyword string, limit, offset int) ([]auth.User, error) {
	defer u.s.lock()()
	needle := strings.ToLower(keyword)
	var matched []auth.User
	for _, user := range u.s.st.users {
		for _, field := range []string{user.FirstName, user.LastName, user.Username, user.Email} {
			if strings.Contains(strings.ToLower(field), needle) {
				matched = append(matched, user)
				break
			}
		}
	}
	sortUsers(matched)
	if offset >= len(matched) {
		return []auth.User{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (u userStore) ListByRole(_ context.Context, roleName string) ([]auth.User, error) {
	defer u.s.lock()()
	st := u.s.st
	out := []auth.User{}
	for _, a := range st.userRoles {
		if st.roles[a.RoleID].Name == roleName {
			out = append(out, st.users[a.UserID])
		}
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(users []auth.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
