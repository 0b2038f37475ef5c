package exam

import "sync"

type sessionKey struct {
	UserID int64
	TestID int64
}

// Registry holds live sessions in memory, keyed by session id with a
// secondary (user, test) index so a returning user lands on the same
// session instead of opening a second one.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[sessionKey]string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byUser: make(map[sessionKey]string),
	}
}

func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = s
	if s.UserID > 0 {
		r.byUser[sessionKey{UserID: s.UserID, TestID: s.TestID}] = s.ID
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) GetByUserTest(userID, testID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[sessionKey{UserID: userID, TestID: testID}]
	if !ok {
		return nil, false
	}
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if s.UserID > 0 {
		key := sessionKey{UserID: s.UserID, TestID: s.TestID}
		if current, ok := r.byUser[key]; ok && current == id {
			delete(r.byUser, key)
		}
	}
}
