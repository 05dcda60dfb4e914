package memory

import (
	"context"
	"sort"
	"time"

	"warden.dev/internal/auth"
)

type sessionStore struct{ s *Store }

func (ss sessionStore) Create(_ context.Context, sess auth.Session) (auth.Session, error) {
	defer ss.s.lock()()
	st := ss.s.st
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = ss.s.stamp()
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		return auth.Session{}, auth.ErrValidation
	}
	if _, ok := st.users[sess.UserID]; !ok {
		return auth.Session{}, auth.ErrNotFound
	}
	if ss.tokenTaken(sess.Token, sess.RefreshToken, 0) {
		return auth.Session{}, auth.ErrDuplicate
	}
	sess.ID = st.id()
	st.sessions[sess.ID] = sess
	return sess, nil
}

func (ss sessionStore) tokenTaken(token, refresh string, self int64) bool {
	for _, existing := range ss.s.st.sessions {
		if existing.ID == self {
			continue
		}
		if existing.Token == token || (refresh != "" && existing.RefreshToken == refresh) {
			return true
		}
	}
	return false
}

func (ss sessionStore) FindByToken(_ context.Context, token string) (auth.Session, error) {
	defer ss.s.lock()()
	for _, sess := range ss.s.st.sessions {
		if sess.Token == token {
			return sess, nil
		}
	}
	return auth.Session{}, auth.ErrNotFound
}

func (ss sessionStore) FindByRefreshToken(_ context.Context, refreshToken string) (auth.Session, error) {
	defer ss.s.lock()()
	if refreshToken == "" {
		return auth.Session{}, auth.ErrNotFound
	}
	for _, sess := range ss.s.st.sessions {
		if sess.RefreshToken == refreshToken {
			return sess, nil
		}
	}
	return auth.Session{}, auth.ErrNotFound
}

// Rotate only touches never-revoked sessions that still hold oldRefresh.
func (ss sessionStore) Rotate(_ context.Context, id int64, oldRefresh, token, refreshToken string, expiresAt time.Time) (auth.Session, error) {
	defer ss.s.lock()()
	st := ss.s.st
	sess, ok := st.sessions[id]
	if !ok || sess.RevokedAt != nil || sess.RefreshToken != oldRefresh {
		return auth.Session{}, auth.ErrNotFound
	}
	if ss.tokenTaken(token, refreshToken, id) {
		return auth.Session{}, auth.ErrDuplicate
	}
	sess.Token = token
	sess.RefreshToken = refreshToken
	sess.ExpiresAt = expiresAt
	sess.IsActive = true
	st.sessions[id] = sess
	return sess, nil
}

func (ss sessionStore) Deactivate(_ context.Context, id int64) error {
	defer ss.s.lock()()
	sess, ok := ss.s.st.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	ss.s.st.sessions[id] = ss.revoke(sess)
	return nil
}

func (ss sessionStore) DeactivateAll(_ context.Context, userID int64) (int64, error) {
	defer ss.s.lock()()
	var n int64
	for id, sess := range ss.s.st.sessions {
		if sess.UserID != userID || sess.RevokedAt != nil {
			continue
		}
		ss.s.st.sessions[id] = ss.revoke(sess)
		n++
	}
	return n, nil
}

func (ss sessionStore) revoke(sess auth.Session) auth.Session {
	sess.IsActive = false
	if sess.RevokedAt == nil {
		now := ss.s.stamp()
		sess.RevokedAt = &now
	}
	return sess
}

func (ss sessionStore) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	defer ss.s.lock()()
	var n int64
	for id, sess := range ss.s.st.sessions {
		if sess.IsActive && sess.ExpiresAt.Before(now) {
			sess.IsActive = false
			ss.s.st.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (ss sessionStore) CountActive(ctx context.Context, userID int64, now time.Time) (int64, error) {
	list, err := ss.ListActive(ctx, userID, now)
	return int64(len(list)), err
}

func (ss sessionStore) ListActive(_ context.Context, userID int64, now time.Time) ([]auth.Session, error) {
	defer ss.s.lock()()
	out := []auth.Session{}
	for _, sess := range ss.s.st.sessions {
		if sess.UserID == userID && sess.Usable(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
