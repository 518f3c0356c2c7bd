package filter

import "sync"

// SelfSentSet remembers the exact texts the bot has recently sent to
// its own number, so the sync echoes of those sends can be told apart
// from genuine self-notes. Each registered text suppresses at most one
// match.
type SelfSentSet struct {
	mu    sync.Mutex
	texts map[string]int
}

// NewSelfSentSet returns an empty set.
func NewSelfSentSet() *SelfSentSet {
	return &SelfSentSet{texts: make(map[string]int)}
}

// Add registers a text the bot is about to send to itself.
func (s *SelfSentSet) Add(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[text]++
}

// Consume reports whether text was registered and, if so, removes one
// registration so the same text typed again by the user is not eaten.
func (s *SelfSentSet) Consume(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.texts[text]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.texts, text)
	} else {
		s.texts[text] = n - 1
	}
	return true
}
