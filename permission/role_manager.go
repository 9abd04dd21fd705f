package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// RoleManager resolves role names to permission masks.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// FromRoles registers every permission named in roles, then every role, and
// freezes both. Permission bits are assigned in sorted name order so the
// mapping is stable across restarts.
func FromRoles(roles map[string][]string) (*RoleManager, error) {
	registry := NewRegistry()

	seen := make(map[string]struct{})
	var names []string
	for _, perms := range roles {
		for _, perm := range perms {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			names = append(names, perm)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := registry.Register(name); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	rm := NewRoleManager(registry)
	for role, perms := range roles {
		if err := rm.RegisterRole(role, perms); err != nil {
			return nil, err
		}
	}
	rm.Freeze()
	return rm, nil
}

// RegisterRole stores the mask built from permissionNames under roleName.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}

	if roleName == "" {
		return errors.New("role name empty")
	}

	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered")
	}

	var mask Mask
	for _, perm := range permissionNames {
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return fmt.Errorf("role %s: permission not registered: %s", roleName, perm)
		}
		mask = mask.With(bit)
	}

	rm.roles[roleName] = mask
	return nil
}

func (rm *RoleManager) GetMask(roleName string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[roleName]
	return mask, ok
}

// Allows reports whether roleName holds permission. Unknown roles and
// unknown permissions are denied.
func (rm *RoleManager) Allows(roleName, permission string) bool {
	if rm == nil {
		return false
	}
	bit, ok := rm.registry.Bit(permission)
	if !ok {
		return false
	}
	mask, ok := rm.GetMask(roleName)
	if !ok {
		return false
	}
	return mask.Has(bit)
}

// Granted lists the permissions held by roleName, for denial logs.
func (rm *RoleManager) Granted(roleName string) []string {
	if rm == nil {
		return nil
	}
	mask, ok := rm.GetMask(roleName)
	if !ok {
		return nil
	}
	return rm.registry.Names(mask)
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
