package agent

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a mutex-guarded in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	// grants is agent id -> user id set.
	grants map[string]map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]*Agent),
		grants: make(map[string]map[string]bool),
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return ErrAlreadyExists
	}
	cp := cloneAgent(a)
	m.agents[a.ID] = cp
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

func (m *MemoryStore) List(ctx context.Context, page Page) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(func(*Agent) bool { return true }, page), nil
}

func (m *MemoryStore) ListGrantedTo(ctx context.Context, userID string, page Page) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(func(a *Agent) bool { return m.grants[a.ID][userID] }, page), nil
}

func (m *MemoryStore) listLocked(keep func(*Agent) bool, page Page) *Listing {
	var all []*Agent
	for _, a := range m.agents {
		if keep(a) {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	total := len(all)
	if page.Offset > 0 {
		if page.Offset >= total {
			all = nil
		} else {
			all = all[page.Offset:]
		}
	}
	if page.Limit > 0 && len(all) > page.Limit {
		all = all[:page.Limit]
	}
	out := make([]*Agent, 0, len(all))
	for _, a := range all {
		out = append(out, cloneAgent(a))
	}
	return &Listing{Agents: out, Total: total}
}

func (m *MemoryStore) Update(ctx context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; !ok {
		return ErrNotFound
	}
	m.agents[a.ID] = cloneAgent(a)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	delete(m.grants, id)
	return nil
}

func (m *MemoryStore) AssignUser(ctx context.Context, agentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agentID]; !ok {
		return ErrNotFound
	}
	if m.grants[agentID] == nil {
		m.grants[agentID] = make(map[string]bool)
	}
	m.grants[agentID][userID] = true
	return nil
}

func (m *MemoryStore) RevokeUser(ctx context.Context, agentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agentID]; !ok {
		return ErrNotFound
	}
	delete(m.grants[agentID], userID)
	return nil
}

func (m *MemoryStore) SetUserAgents(ctx context.Context, userID string, agentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range agentIDs {
		if _, ok := m.agents[id]; !ok {
			return ErrNotFound
		}
	}
	for _, set := range m.grants {
		delete(set, userID)
	}
	for _, id := range agentIDs {
		if m.grants[id] == nil {
			m.grants[id] = make(map[string]bool)
		}
		m.grants[id][userID] = true
	}
	return nil
}

func (m *MemoryStore) HasGrant(ctx context.Context, agentID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grants[agentID][userID], nil
}

func (m *MemoryStore) GrantedAgentIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for agentID, users := range m.grants {
		if users[userID] {
			out = append(out, agentID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) RevokeAllForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.grants {
		delete(set, userID)
	}
	return nil
}

func cloneAgent(a *Agent) *Agent {
	cp := *a
	if a.ImageData != nil {
		cp.ImageData = append([]byte(nil), a.ImageData...)
	}
	return &cp
}
