package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const maxBits = 64

var (
	ErrRegistryFrozen    = errors.New("permission: registry frozen")
	ErrEmptyPermission   = errors.New("permission: empty name")
	ErrDuplicate         = errors.New("permission: already registered")
	ErrRegistryExhausted = errors.New("permission: no free bits")
)

// Registry assigns each privileged operation a bit in a [Mask]. The engine
// registers two today: "mfa.override.issue" (issue a one-time MFA bypass for
// another account) and "billing.sync.any" (push MFA state to billing for an
// account other than the caller's). There is no super-user bit; an admin
// role holds each permission explicitly.
type Registry struct {
	mu     sync.RWMutex
	bits   map[string]int
	names  []string // indexed by bit
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{bits: make(map[string]int)}
}

// Register gives name the next free bit. Registration closes at Freeze.
func (r *Registry) Register(name string) (int, error) {
	if name == "" {
		return -1, ErrEmptyPermission
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.frozen:
		return -1, ErrRegistryFrozen
	case len(r.names) >= maxBits:
		return -1, ErrRegistryExhausted
	}
	if _, ok := r.bits[name]; ok {
		return -1, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	bit := len(r.names)
	r.bits[name] = bit
	r.names = append(r.names, name)
	return bit, nil
}

func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.bits[name]
	return bit, ok
}

// Name maps a bit back to its permission, for audit and denial messages.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bit < 0 || bit >= len(r.names) {
		return "", false
	}
	return r.names[bit], true
}

// Names lists the granted permissions of mask in sorted order.
func (r *Registry) Names(mask Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for bit, name := range r.names {
		if mask.Has(bit) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
