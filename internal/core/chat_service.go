package core

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/metrics"
	"gwi.com/character-memory/internal/store"
)

type ChatOptions struct {
	HistoryLimit      int
	ExtractionAsync   bool
	ExtractionTimeout time.Duration
}

// ChatService runs chat turns: persona, memories and history in, model reply
// out, then memory extraction on the new exchange.
type ChatService struct {
	dbStore    *store.Store
	characters *characters.Store
	memory     *MemoryManager
	llm        LLM
	opts       ChatOptions

	mu       sync.Mutex
	inflight map[string]chan struct{} // latest extraction per (user, character)
	wg       sync.WaitGroup
}

func NewChatService(db *store.Store, chars *characters.Store, memory *MemoryManager, llm LLM, opts ChatOptions) *ChatService {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = store.DefaultHistoryLimit
	}
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = time.Minute
	}
	return &ChatService{
		dbStore:    db,
		characters: chars,
		memory:     memory,
		llm:        llm,
		opts:       opts,
		inflight:   make(map[string]chan struct{}),
	}
}

type ChatReply struct {
	Message        string    `json:"message"`
	Character      string    `json:"character"`
	ConversationID int64     `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// HandleMessage runs one chat turn. Without conversationID a new
// conversation is started; it is only written once the model has replied,
// so a failed model call persists nothing.
func (s *ChatService) HandleMessage(ctx context.Context, userID, characterName, message string, conversationID *int64) (*ChatReply, error) {
	if strings.TrimSpace(message) == "" || strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("Message and userId are required")
	}

	reply, err := s.handleMessage(ctx, userID, characterName, message, conversationID)
	switch {
	case err == nil:
		metrics.ChatTurns.WithLabelValues("ok").Inc()
	case apperr.Is(err, apperr.KindNotFound):
		metrics.ChatTurns.WithLabelValues("not_found").Inc()
	default:
		metrics.ChatTurns.WithLabelValues("error").Inc()
	}
	return reply, err
}

func (s *ChatService) handleMessage(ctx context.Context, userID, characterName, message string, conversationID *int64) (*ChatReply, error) {
	if _, err := s.dbStore.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}

	character, err := s.characters.LoadByName(ctx, characterName)
	if err != nil {
		return nil, err
	}
	name := character.Name

	var conv *store.Conversation
	if conversationID != nil {
		conv, err = s.dbStore.GetConversation(ctx, *conversationID)
		if err != nil {
			return nil, err
		}
		if conv.UserID != userID || !strings.EqualFold(conv.CharacterName, name) {
			return nil, apperr.Validation("Conversation does not belong to this user and character")
		}
	}

	if err := s.waitForExtraction(ctx, userID, name); err != nil {
		return nil, err
	}

	var (
		memories []store.Memory
		history  = []store.Message{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		memories, err = s.memory.Relevant(gctx, userID, name)
		return err
	})
	if conv != nil {
		g.Go(func() error {
			var err error
			history, err = s.dbStore.GetConversationHistory(gctx, conv.ID, s.opts.HistoryLimit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := BuildMessages(BuildSystemPrompt(character, memories), history, message)
	slog.Debug("Invoking model", "character", name, "user_id", userID, "history", len(history), "memories", len(memories))

	response, err := s.llm.Complete(ctx, CompletionRequest{Messages: messages})
	if err != nil {
		return nil, err
	}

	if conv == nil {
		conv, err = s.dbStore.CreateConversation(ctx, userID, name)
		if err != nil {
			return nil, err
		}
	}
	stored, err := s.dbStore.AppendExchange(ctx, conv.ID, message, response)
	if err != nil {
		return nil, err
	}

	if len(memories) > 0 {
		ids := make([]int64, len(memories))
		for i, m := range memories {
			ids[i] = m.ID
		}
		if err := s.dbStore.TouchMemories(ctx, ids); err != nil {
			slog.Warn("Failed to update memory access time", "character", name, "user_id", userID, "error", err)
		}
	}

	exchange := []ChatMessage{
		{Role: RoleUser, Content: message},
		{Role: RoleAssistant, Content: response},
	}
	if s.opts.ExtractionAsync {
		s.startExtraction(userID, name, exchange)
	} else {
		s.extract(userID, name, exchange)
	}

	return &ChatReply{
		Message:        response,
		Character:      name,
		ConversationID: conv.ID,
		Timestamp:      stored[1].Timestamp,
	}, nil
}

func pairKey(userID, characterName string) string {
	return userID + "\x00" + strings.ToLower(characterName)
}

// startExtraction runs extraction in the background. Extractions for the
// same pair run one after another, each waiting for its predecessor.
func (s *ChatService) startExtraction(userID, characterName string, exchange []ChatMessage) {
	key := pairKey(userID, characterName)

	s.mu.Lock()
	prev := s.inflight[key]
	done := make(chan struct{})
	s.inflight[key] = done
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.inflight[key] == done {
				delete(s.inflight, key)
			}
			s.mu.Unlock()
			close(done)
		}()

		if prev != nil {
			<-prev
		}
		s.extract(userID, characterName, exchange)
	}()
}

// extract is best effort: failures are logged, never returned.
func (s *ChatService) extract(userID, characterName string, exchange []ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ExtractionTimeout)
	defer cancel()

	memories, err := s.memory.Extract(ctx, userID, characterName, exchange)
	if err != nil {
		slog.Error("Memory extraction failed", "character", characterName, "user_id", userID, "error", err)
		return
	}
	slog.Info("Memories extracted", "character", characterName, "user_id", userID, "count", len(memories))
}

// waitForExtraction blocks until the pair's pending extractions are stored.
func (s *ChatService) waitForExtraction(ctx context.Context, userID, characterName string) error {
	s.mu.Lock()
	pending := s.inflight[pairKey(userID, characterName)]
	s.mu.Unlock()
	if pending == nil {
		return nil
	}

	select {
	case <-pending:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background extraction has finished.
func (s *ChatService) Wait() {
	s.wg.Wait()
}

// StartConversation opens a new conversation with an existing character.
func (s *ChatService) StartConversation(ctx context.Context, userID, characterName string) (*store.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	if _, err := s.dbStore.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}
	character, err := s.characters.LoadByName(ctx, characterName)
	if err != nil {
		return nil, err
	}
	return s.dbStore.CreateConversation(ctx, userID, character.Name)
}

// History returns the pair's most recent messages, oldest first.
func (s *ChatService) History(ctx context.Context, userID, characterName string, limit int) ([]store.Message, error) {
	name, err := s.canonicalName(ctx, characterName)
	if err != nil {
		return nil, err
	}
	messages, err := s.dbStore.GetRecentHistory(ctx, userID, name, limit)
	if err != nil {
		return nil, err
	}
	return chronological(messages), nil
}

// Memories returns the pair's top memories once pending extractions have
// been stored.
func (s *ChatService) Memories(ctx context.Context, userID, characterName string) ([]store.Memory, error) {
	name, err := s.canonicalName(ctx, characterName)
	if err != nil {
		return nil, err
	}
	if err := s.waitForExtraction(ctx, userID, name); err != nil {
		return nil, err
	}
	return s.memory.Relevant(ctx, userID, name)
}

// canonicalName maps a requested name onto the stored character's spelling.
// Unknown characters keep the requested name, so their history is empty.
func (s *ChatService) canonicalName(ctx context.Context, characterName string) (string, error) {
	character, err := s.characters.LoadByName(ctx, characterName)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return characterName, nil
		}
		return "", err
	}
	return character.Name, nil
}
