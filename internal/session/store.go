package session

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"odpbot/internal/metrics"
)

// SweepSpec is the cron schedule of the inactivity sweeper
const SweepSpec = "@every 1m"

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// Store keeps one Session per chat and serializes work on each chat
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	locks    map[int64]*chatLock

	timeout time.Duration
	now     func() time.Time
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewStore creates a session store; sessions idle for longer than timeout
// are treated as absent
func NewStore(timeout time.Duration, logger *zap.Logger) *Store {
	return &Store{
		sessions: make(map[int64]*Session),
		locks:    make(map[int64]*chatLock),
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Store) lock(chatID int64) *chatLock {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &chatLock{}
		s.locks[chatID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Store) unlock(chatID int64, l *chatLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, chatID)
	}
	s.mu.Unlock()
}

func (s *Store) expired(sess *Session, now time.Time) bool {
	return s.timeout > 0 && now.Sub(sess.LastActivity) > s.timeout
}

// Do runs fn with the chat's session while holding the chat's lock. Calls for
// the same chat never overlap; different chats run concurrently. An expired
// session is replaced by a fresh idle one.
func (s *Store) Do(chatID int64, fn func(sess *Session)) {
	l := s.lock(chatID)
	defer s.unlock(chatID, l)

	now := s.now()
	s.mu.Lock()
	sess, ok := s.sessions[chatID]
	if ok && s.expired(sess, now) {
		s.logger.Info("Session expired", zap.Int64("chat_id", chatID), zap.String("state", string(sess.State())))
		metrics.SessionsExpired.Inc()
		ok = false
	}
	if !ok {
		sess = newSession(chatID, now, s.logger)
		s.sessions[chatID] = sess
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sess.ended {
			delete(s.sessions, chatID)
			return
		}
		sess.LastActivity = s.now()
	}()

	fn(sess)
}

// State returns the chat's current step, StateIdle when it has no live session
func (s *Store) State(chatID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok || s.expired(sess, s.now()) {
		return StateIdle
	}
	return sess.State()
}

// Len returns the number of stored sessions
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired sessions of chats that are not currently being handled
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for chatID, sess := range s.sessions {
		if _, busy := s.locks[chatID]; busy {
			continue
		}
		if s.expired(sess, now) {
			delete(s.sessions, chatID)
			dropped++
		}
	}
	if dropped > 0 {
		metrics.SessionsExpired.Add(float64(dropped))
		s.logger.Info("Swept expired sessions", zap.Int("count", dropped))
	}
	return dropped
}

// Start schedules the sweeper
func (s *Store) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(SweepSpec, func() { s.Sweep() }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the sweeper and waits for a running sweep to finish
func (s *Store) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
