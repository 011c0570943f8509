package social

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
)

const (
	randomUsernameLen = 30

	// defaultMaxUsernameAttempts bounds the collision-suffix loop. A
	// deployment needing more than a thousand suffixes for one base name
	// has a data problem this loop should surface, not absorb.
	defaultMaxUsernameAttempts = 1000
)

// randomUsername returns a random lowercase hex username.
func randomUsername() string {
	b := make([]byte, randomUsernameLen/2)
	if _, err := rand.Read(b); err != nil {
		panic("social: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// usernameBase picks the starting candidate for a new account.
func (e *Engine) usernameBase(profile CanonicalProfile) string {
	if e.cfg.ForceRandomUsername {
		return randomUsername()
	}
	if profile.Username != "" {
		return profile.Username
	}
	if e.cfg.DefaultUsernameFunc != nil {
		return e.cfg.DefaultUsernameFunc()
	}
	if e.cfg.DefaultUsername != "" {
		return e.cfg.DefaultUsername
	}
	return randomUsername()
}

// uniqueUsername resolves collisions by appending a numeric suffix to the
// base candidate: base, base2, base3 and so on, each passed through the
// configured fixer before the existence check. The loop is bounded; hitting
// the bound returns ErrUsernameExhausted.
func (e *Engine) uniqueUsername(ctx context.Context, q querier, profile CanonicalProfile) (string, error) {
	base := e.usernameBase(profile)
	fixer := e.cfg.UsernameFixer
	if fixer == nil {
		fixer = func(s string) string { return s }
	}
	maxAttempts := e.cfg.MaxUsernameAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxUsernameAttempts
	}

	for i := 0; i < maxAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i+1)
		}
		candidate = fixer(candidate)
		exists, err := e.store.usernameExists(ctx, q, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrUsernameExhausted
}
