package bridge

import "sync"

// pluginSlot holds the one authoritative plugin connection
type pluginSlot struct {
	mu      sync.Mutex
	current *Connection
}

// install makes c current and returns the displaced holder, which the
// caller must close once the slot lock is released.
func (s *pluginSlot) install(c *Connection) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.current
	if previous == c {
		return nil
	}
	s.current = c
	return previous
}

func (s *pluginSlot) get() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *pluginSlot) is(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c != nil && s.current == c
}

// clearIf empties the slot only when c is still the holder
func (s *pluginSlot) clearIf(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != c || c == nil {
		return false
	}
	s.current = nil
	return true
}

// take empties the slot and returns the previous holder
func (s *pluginSlot) take() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.current
	s.current = nil
	return c
}
