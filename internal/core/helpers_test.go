package core

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/store"
)

type testDeps struct {
	db    *store.Store
	chars *characters.Store
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	dir := t.TempDir()

	db, err := store.NewStore("sqlite3", filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	chars, err := characters.NewStore(characters.Options{
		Dir:       filepath.Join(dir, "generated"),
		IndexPath: filepath.Join(dir, "index.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { chars.Close() })

	return &testDeps{db: db, chars: chars}
}

func (d *testDeps) createCharacter(t *testing.T, p *characters.Profile) *characters.Profile {
	t.Helper()
	saved, err := d.chars.Create(context.Background(), p)
	require.NoError(t, err)
	return saved
}

func isExtraction(req CompletionRequest) bool {
	return len(req.Messages) == 1 && strings.HasPrefix(req.Messages[0].Content, "From the following conversation")
}

// scriptedLLM answers chat calls with chatReply and extraction calls with
// extraction, recording every request.
type scriptedLLM struct {
	mu         sync.Mutex
	chatReply  func(n int) (string, error)
	extraction string
	chatCalls  []CompletionRequest
	extractReq []CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isExtraction(req) {
		s.extractReq = append(s.extractReq, req)
		return s.extraction, nil
	}
	s.chatCalls = append(s.chatCalls, req)
	if s.chatReply == nil {
		return "Greetings, traveller.", nil
	}
	return s.chatReply(len(s.chatCalls))
}

func (s *scriptedLLM) lastChat() CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatCalls[len(s.chatCalls)-1]
}
