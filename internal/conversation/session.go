package conversation

import "sync"

// Step tags the input a session is waiting for.
type Step int

const (
	StepNone Step = iota
	AwaitName
	AwaitPosition
	AwaitTaskText
	AwaitTaskAssignee
	AwaitReport
	AwaitDelegateTarget
)

// Session holds the partial progress of one identity's multi-step dialog.
// Sessions live in process memory only; a restart drops them and the user
// simply restarts the step.
type Session struct {
	Step     Step
	ChatID   int64
	Username string

	// accumulated flow data
	Name     string // registration: provisional display name
	TaskText string // task creation: draft text
	TaskRef  string // report / delegation: short id of the target task
}

// Manager is a concurrency-safe session store keyed by chat identity.
// Besides the map lock it hands out one mutex per identity so events from
// the same identity are processed strictly in arrival order while distinct
// identities proceed independently.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	locks    map[int64]*sync.Mutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// LockIdentity acquires the per-identity ordering lock and returns the
// release function.
func (m *Manager) LockIdentity(identity int64) func() {
	m.mu.Lock()
	l, ok := m.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[identity] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *Manager) Get(identity int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[identity]
	return s, ok
}

func (m *Manager) Put(identity int64, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[identity] = s
}

func (m *Manager) Delete(identity int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identity)
}
