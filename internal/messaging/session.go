// internal/messaging/session.go

package messaging

import "sync"

// Session is one signed-in client. It keeps at most one conversation open, so
// only one conversation channel is subscribed at a time across partner
// switches.
type Session struct {
	mu      sync.Mutex
	localID string
	deps    Dependencies
	opts    Options
	current *Conversation
}

// NewSession creates a session for localID
func NewSession(localID string, deps Dependencies, opts Options) (*Session, error) {
	if err := asValidationError(validateUser(localID)); err != nil {
		return nil, err
	}
	return &Session{localID: localID, deps: deps, opts: opts}, nil
}

// Open closes the current conversation, waiting for its subscription to be
// released, then opens the conversation with partnerID
func (s *Session) Open(partnerID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		if s.current.PartnerID() == partnerID {
			return s.current, nil
		}
		if err := s.current.Close(); err != nil {
			s.current.log.WithError(err).Warn("Error releasing previous conversation channel")
		}
		s.current = nil
	}

	conv, err := OpenConversation(s.localID, partnerID, s.deps, s.opts)
	if err != nil {
		return nil, err
	}
	s.current = conv
	return conv, nil
}

// Current returns the open conversation, if any
func (s *Session) Current() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close closes the open conversation
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
