// Package catalog provides stores for the agent identities and tool
// permissions a run loads during setup. Every store implements both
// tool.Catalog and engine.AgentLoader.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrun/core"
)

var (
	// ErrConversationNotFound is returned for unknown conversations.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrForbidden is returned when the caller's organization does not own
	// the conversation.
	ErrForbidden = errors.New("conversation belongs to another organization")
)

// Conversation binds a conversation to its agent and permitted tools.
type Conversation struct {
	ID string
	// OrganizationID owns the conversation. Empty means any caller.
	OrganizationID string
	AgentName      string
	Tools          []string
}

// InMemoryOptions configures an InMemoryStore.
type InMemoryOptions struct {
	// Fallback is served for conversations the store does not know. Nil
	// makes unknown conversations an error.
	Fallback *core.AgentIdentity
	// FallbackTools are permitted for unknown conversations when Fallback
	// is set.
	FallbackTools []string
}

// InMemoryStore is a process-local store. It is safe for concurrent use and
// suited to tests and single-node deployments configured from a file.
// Returned values are copies.
type InMemoryStore struct {
	mu            sync.RWMutex
	agents        map[string]core.AgentIdentity
	conversations map[string]Conversation
	opts          InMemoryOptions
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		agents:        make(map[string]core.AgentIdentity),
		conversations: make(map[string]Conversation),
		opts:          opts,
	}
}

// PutAgent stores or replaces an agent under its name.
func (s *InMemoryStore) PutAgent(agent core.AgentIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.Name] = cloneAgent(agent)
}

// PutConversation stores or replaces a conversation.
func (s *InMemoryStore) PutConversation(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Tools = append([]string(nil), c.Tools...)
	s.conversations[c.ID] = c
}

// LoadAgent implements engine.AgentLoader.
func (s *InMemoryStore) LoadAgent(_ context.Context, conversationID string, creds core.Credentials) (*core.AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok, err := s.conversationLocked(conversationID, creds)
	if err != nil {
		return nil, err
	}
	if !ok {
		agent := cloneAgent(*s.opts.Fallback)
		return &agent, nil
	}

	agent, found := s.agents[conv.AgentName]
	if !found {
		return nil, fmt.Errorf("agent %q of conversation %s not found", conv.AgentName, conversationID)
	}
	agent = cloneAgent(agent)
	return &agent, nil
}

// PermittedTools implements tool.Catalog.
func (s *InMemoryStore) PermittedTools(_ context.Context, creds core.Credentials, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok, err := s.conversationLocked(conversationID, creds)
	if err != nil {
		return nil, err
	}
	if !ok {
		return append([]string(nil), s.opts.FallbackTools...), nil
	}
	return append([]string(nil), conv.Tools...), nil
}

// conversationLocked resolves a conversation for creds. ok is false when the
// fallback applies. Caller must hold the read lock.
func (s *InMemoryStore) conversationLocked(conversationID string, creds core.Credentials) (Conversation, bool, error) {
	conv, found := s.conversations[conversationID]
	if !found {
		if s.opts.Fallback == nil {
			return Conversation{}, false, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return Conversation{}, false, nil
	}
	if conv.OrganizationID != "" && conv.OrganizationID != creds.ClientOrganizationID {
		return Conversation{}, false, fmt.Errorf("%w: %s", ErrForbidden, conversationID)
	}
	return conv, true, nil
}

func cloneAgent(a core.AgentIdentity) core.AgentIdentity {
	if a.SystemPromptOverride != nil {
		override := *a.SystemPromptOverride
		a.SystemPromptOverride = &override
	}
	return a
}
