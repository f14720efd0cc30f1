package service

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const adminLimiterKey = "__admin__"

var ErrAdminDisabled = errors.New("admin access disabled")

// AdminGate valida el passcode del dashboard. El passcode en texto plano no
// se conserva: solo su hash bcrypt, calculado al arrancar.
type AdminGate struct {
	hash    []byte
	limiter LoginLimiter
}

func NewAdminGate(passcode string, limiter LoginLimiter) (*AdminGate, error) {
	gate := &AdminGate{limiter: limiter}
	if passcode == "" {
		return gate, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	gate.hash = hash
	return gate, nil
}

func (g *AdminGate) Enabled() bool {
	return g != nil && len(g.hash) > 0
}

// Verify devuelve el principal administrador si el passcode coincide.
func (g *AdminGate) Verify(passcode string) (Principal, error) {
	if !g.Enabled() {
		return Principal{}, ErrAdminDisabled
	}
	if g.limiter != nil && !g.limiter.Allow(adminLimiterKey) {
		return Principal{}, ErrRateLimited
	}
	if passcode == "" || bcrypt.CompareHashAndPassword(g.hash, []byte(passcode)) != nil {
		if g.limiter != nil {
			g.limiter.RecordFailure(adminLimiterKey)
		}
		return Principal{}, ErrInvalidCredential
	}
	return Principal{ID: RoleAdmin, Username: RoleAdmin, Role: RoleAdmin}, nil
}
