package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	"agentstore.org/internal/ids"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs local development
// without postgres and the service tests.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[string]*User            // by id
	usersByName   map[string]string           // lower(username) -> id
	roles         map[string]*Role            // by id
	rolesByName   map[string]string           // name -> id
	userRoles     map[string]map[string]bool  // user id -> role id set
	refreshByTok  map[string]*RefreshToken    // token -> row
	refreshByUser map[string]string           // user id -> token
}

// NewMemoryStore returns an empty store. Call SeedRoles before registering
// users so the default role exists.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*User),
		usersByName:   make(map[string]string),
		roles:         make(map[string]*Role),
		rolesByName:   make(map[string]string),
		userRoles:     make(map[string]map[string]bool),
		refreshByTok:  make(map[string]*RefreshToken),
		refreshByUser: make(map[string]string),
	}
}

// SeedRoles installs the given role names, skipping ones already present.
func (m *MemoryStore) SeedRoles(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := m.rolesByName[name]; ok {
			continue
		}
		role := &Role{ID: ids.New(), Name: name}
		m.roles[role.ID] = role
		m.rolesByName[name] = role.ID
	}
}

func (m *MemoryStore) Users() UserStore                 { return (*memoryUsers)(m) }
func (m *MemoryStore) Roles() RoleStore                 { return (*memoryRoles)(m) }
func (m *MemoryStore) RefreshTokens() RefreshTokenStore { return (*memoryRefresh)(m) }

type memoryUsers MemoryStore

func (m *memoryUsers) Create(ctx context.Context, u *User, roleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, ok := m.usersByName[key]; ok {
		return ErrAlreadyExists
	}
	for _, other := range m.users {
		if strings.EqualFold(other.Email, u.Email) {
			return ErrAlreadyExists
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	m.usersByName[key] = u.ID
	set := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			delete(m.users, u.ID)
			delete(m.usersByName, key)
			return ErrNotFound
		}
		set[id] = true
	}
	m.userRoles[u.ID] = set
	return nil
}

func (m *memoryUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memoryUsers) List(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memoryUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.usersByName[strings.ToLower(username)]
	return ok, nil
}

func (m *memoryUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryUsers) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if !strings.EqualFold(old.Username, u.Username) {
		delete(m.usersByName, strings.ToLower(old.Username))
		m.usersByName[strings.ToLower(u.Username)] = u.ID
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memoryUsers) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.usersByName, strings.ToLower(u.Username))
	delete(m.users, id)
	delete(m.userRoles, id)
	if tok, ok := m.refreshByUser[id]; ok {
		delete(m.refreshByTok, tok)
		delete(m.refreshByUser, id)
	}
	return nil
}

func (m *memoryUsers) SetRoles(ctx context.Context, userID string, roleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	set := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			return ErrNotFound
		}
		set[id] = true
	}
	m.userRoles[userID] = set
	return nil
}

func (m *memoryUsers) RolesFor(ctx context.Context, userID string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, ErrNotFound
	}
	var out []Role
	for roleID := range m.userRoles[userID] {
		out = append(out, *m.roles[roleID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memoryRoles MemoryStore

func (m *memoryRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rolesByName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.roles[id]
	return &cp, nil
}

func (m *memoryRoles) List(ctx context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memoryRefresh MemoryStore

func (m *memoryRefresh) Upsert(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.refreshByUser[tok.UserID]; ok {
		delete(m.refreshByTok, old)
	}
	cp := *tok
	m.refreshByTok[tok.Token] = &cp
	m.refreshByUser[tok.UserID] = tok.Token
	return nil
}

func (m *memoryRefresh) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.refreshByTok[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memoryRefresh) DeleteByToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refreshByTok[token]
	if !ok {
		return nil
	}
	delete(m.refreshByTok, token)
	delete(m.refreshByUser, tok.UserID)
	return nil
}

func (m *memoryRefresh) DeleteByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refreshByUser[userID]
	if !ok {
		return nil
	}
	delete(m.refreshByTok, tok)
	delete(m.refreshByUser, userID)
	return nil
}
