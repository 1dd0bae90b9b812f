package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/penguin-run/penguin/pkg/core"
)

// sessionRecord holds one session's full append-only log. mu serializes
// Append per session.
type sessionRecord struct {
	mu              sync.Mutex
	session         *core.Session
	messages        []*core.Message // append-only, ordered by id
	headID          int64
	nextID          int64
	checkpoints     map[string]*core.Checkpoint
	checkpointOrder []string
}

// MemoryStore is an in-process ConversationStore. It is the reference
// implementation used by the engine's own tests and by callers that do not
// need cross-process durability.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*sessionRecord)}
}

func (s *MemoryStore) record(sessionID string) (*sessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	return r, ok
}

func (s *MemoryStore) CreateSession(ctx context.Context, sessionID, agentID string) (*core.Session, error) {
	now := time.Now()
	sess := &core.Session{
		ID:        sessionID,
		AgentID:   agentID,
		Branch:    "main",
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec := &sessionRecord{
		session:     sess,
		nextID:      1,
		checkpoints: make(map[string]*core.Checkpoint),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sessionID]; exists {
		return nil, fmt.Errorf("session %q already exists", sessionID)
	}
	s.sessions[sessionID] = rec
	return cloneSession(sess), nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return nil, &ErrNotFound{Kind: "session", ID: sessionID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneSession(rec.session), nil
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, message *core.Message) (int64, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return 0, &ErrNotFound{Kind: "session", ID: sessionID}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	id := rec.nextID
	rec.nextID++

	m := message.Clone()
	if m == nil {
		m = &core.Message{}
	}
	m.ID = id
	m.SessionID = sessionID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Type == "" {
		m.Type = core.MessageKindMessage
	}

	rec.messages = append(rec.messages, m)
	rec.headID = id
	rec.session.UpdatedAt = m.CreatedAt
	return id, nil
}

func (s *MemoryStore) Head(ctx context.Context, sessionID string) (int64, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return 0, &ErrNotFound{Kind: "session", ID: sessionID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.headID, nil
}

func (s *MemoryStore) Range(ctx context.Context, sessionID string, fromID, toID int64) ([]*core.Message, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return nil, &ErrNotFound{Kind: "session", ID: sessionID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.rangeLocked(fromID, toID), nil
}

// rangeLocked must be called with rec.mu held.
func (rec *sessionRecord) rangeLocked(fromID, toID int64) []*core.Message {
	var out []*core.Message
	for _, m := range rec.messages {
		if m.Tombstoned {
			continue
		}
		if m.ID <= fromID {
			continue
		}
		if toID > 0 && m.ID > toID {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func (s *MemoryStore) Checkpoint(ctx context.Context, sessionID string, kind core.CheckpointKind, name, description string) (*core.Checkpoint, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return nil, &ErrNotFound{Kind: "session", ID: sessionID}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	cp := &core.Checkpoint{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Branch:        rec.session.Branch,
		HeadMessageID: rec.headID,
		Kind:          kind,
		Name:          name,
		Description:   description,
		CreatedAt:     time.Now(),
	}
	if len(rec.checkpointOrder) > 0 {
		cp.ParentCheckpointID = rec.checkpointOrder[len(rec.checkpointOrder)-1]
	}
	rec.checkpoints[cp.ID] = cp
	rec.checkpointOrder = append(rec.checkpointOrder, cp.ID)
	clone := *cp
	return &clone, nil
}

// ListSessionIDs returns every session id known to the store, in no
// particular order. It backs checkpoint.Checkpointer's cleanup pass
// (checkpoint.sessionLister).
func (s *MemoryStore) ListSessionIDs(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// DeleteCheckpoint removes checkpointID from sessionID's checkpoint index
// without touching any message. It backs checkpoint.Checkpointer's prune
// pass (checkpoint.checkpointPruner).
func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, sessionID, checkpointID string) error {
	rec, ok := s.record(sessionID)
	if !ok {
		return &ErrNotFound{Kind: "session", ID: sessionID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.checkpoints[checkpointID]; !ok {
		return &ErrNotFound{Kind: "checkpoint", ID: checkpointID}
	}
	delete(rec.checkpoints, checkpointID)
	for i, id := range rec.checkpointOrder {
		if id == checkpointID {
			rec.checkpointOrder = append(rec.checkpointOrder[:i], rec.checkpointOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*core.Checkpoint, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return nil, &ErrNotFound{Kind: "session", ID: sessionID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]*core.Checkpoint, 0, len(rec.checkpointOrder))
	for _, id := range rec.checkpointOrder {
		cp := *rec.checkpoints[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Rollback(ctx context.Context, sessionID, checkpointID string) error {
	rec, ok := s.record(sessionID)
	if !ok {
		return &ErrNotFound{Kind: "session", ID: sessionID}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	cp, ok := rec.checkpoints[checkpointID]
	if !ok {
		return &ErrNotFound{Kind: "checkpoint", ID: checkpointID}
	}

	for _, m := range rec.messages {
		if m.ID > cp.HeadMessageID {
			m.Tombstoned = true
		}
	}
	rec.headID = cp.HeadMessageID
	// Ids restart right after the checkpoint head so the next Append
	// yields head+1; tombstoned messages keep their old ids and stay in
	// the log for audit, invisible to Range on the active branch.
	rec.nextID = cp.HeadMessageID + 1
	rec.session.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Branch(ctx context.Context, sessionID, checkpointID, newSessionID string) error {
	src, ok := s.record(sessionID)
	if !ok {
		return &ErrNotFound{Kind: "session", ID: sessionID}
	}

	src.mu.Lock()
	cp, ok := src.checkpoints[checkpointID]
	if !ok {
		src.mu.Unlock()
		return &ErrNotFound{Kind: "checkpoint", ID: checkpointID}
	}
	copied := make([]*core.Message, 0, len(src.messages))
	for _, m := range src.messages {
		if m.ID <= cp.HeadMessageID {
			c := m.Clone()
			c.SessionID = newSessionID
			copied = append(copied, c)
		}
	}
	head := cp.HeadMessageID
	parentAgent := src.session.AgentID
	src.mu.Unlock()

	now := time.Now()
	newRec := &sessionRecord{
		session: &core.Session{
			ID:         newSessionID,
			AgentID:    parentAgent,
			Branch:     "main",
			ParentID:   sessionID,
			ParentHead: head,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		messages:    copied,
		headID:      head,
		nextID:      head + 1,
		checkpoints: make(map[string]*core.Checkpoint),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[newSessionID]; exists {
		return fmt.Errorf("session %q already exists", newSessionID)
	}
	s.sessions[newSessionID] = newRec
	return nil
}

// DeleteSession removes sessionID and every message/checkpoint it owns.
// Branches created from it are left alone (Branch already copied their
// messages out at fork time), matching the documented orphan-not-cascade
// rule for destroyed sessions' descendants.
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return &ErrNotFound{Kind: "session", ID: sessionID}
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Trim(ctx context.Context, sessionID string, opts core.TrimOptions) ([]*core.Message, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return nil, &ErrNotFound{Kind: "session", ID: sessionID}
	}
	rec.mu.Lock()
	all := rec.rangeLocked(0, -1)
	rec.mu.Unlock()
	return trimMessages(all, opts), nil
}

// estimateTokens is a coarse, provider-agnostic token estimate (roughly
// four characters per token) used only to budget the trim window; it is
// never exposed as a billed token count.
func estimateTokens(content string) int {
	return len(content)/4 + 1
}

func trimMessages(all []*core.Message, opts core.TrimOptions) []*core.Message {
	if len(all) == 0 {
		return nil
	}

	pinned := make(map[int64]bool, len(opts.PinnedIDs))
	for _, id := range opts.PinnedIDs {
		pinned[id] = true
	}

	keep := make([]bool, len(all))
	if all[0].Role == core.RoleSystem {
		keep[0] = true
	}
	for i, m := range all {
		if pinned[m.ID] {
			keep[i] = true
		}
	}

	budget := opts.MaxTokens
	if budget <= 0 {
		budget = int(^uint(0) >> 1)
	}
	used := 0
	for i, k := range keep {
		if k {
			used += estimateTokens(all[i].Content)
		}
	}

	for i := len(all) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		cost := estimateTokens(all[i].Content)
		if used+cost > budget {
			continue
		}
		keep[i] = true
		used += cost
	}

	var out []*core.Message
	var dropped []*core.Message
	flush := func() {
		if len(dropped) == 0 {
			return
		}
		if opts.Policy == core.TrimSummarizeMiddle {
			text := fmt.Sprintf("[%d earlier messages omitted]", len(dropped))
			if opts.Summarizer != nil {
				text = opts.Summarizer(dropped)
			}
			out = append(out, &core.Message{
				SessionID: dropped[0].SessionID,
				Role:      core.RoleSystem,
				Content:   text,
				Type:      core.MessageKindStatus,
				CreatedAt: dropped[0].CreatedAt,
			})
		}
		dropped = nil
	}

	for i, m := range all {
		if keep[i] {
			flush()
			out = append(out, m)
		} else {
			dropped = append(dropped, m)
		}
	}
	flush()
	return out
}

// CompareBranches reports where two sessions' active branches diverge.
func (s *MemoryStore) CompareBranches(ctx context.Context, sessionA, sessionB string) (BranchDiff, error) {
	a, err := s.Range(ctx, sessionA, 0, -1)
	if err != nil {
		return BranchDiff{}, err
	}
	b, err := s.Range(ctx, sessionB, 0, -1)
	if err != nil {
		return BranchDiff{}, err
	}

	common := 0
	for common < len(a) && common < len(b) && a[common].Content == b[common].Content && a[common].Role == b[common].Role {
		common++
	}

	var commonHead int64
	if common > 0 {
		commonHead = a[common-1].ID
	}
	return BranchDiff{
		CommonHead: commonHead,
		OnlyInA:    a[common:],
		OnlyInB:    b[common:],
	}, nil
}

// MergeBranch appends messages from sourceSessionID that are newer than
// targetSessionID's current head into target, returning the number
// appended.
func (s *MemoryStore) MergeBranch(ctx context.Context, sourceSessionID, targetSessionID string) (int, error) {
	targetHead, err := s.Head(ctx, targetSessionID)
	if err != nil {
		return 0, err
	}
	source, err := s.Range(ctx, sourceSessionID, 0, -1)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range source {
		if m.ID <= targetHead {
			continue
		}
		if _, err := s.Append(ctx, targetSessionID, m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func cloneSession(sess *core.Session) *core.Session {
	if sess == nil {
		return nil
	}
	c := *sess
	if sess.Metadata != nil {
		c.Metadata = make(map[string]any, len(sess.Metadata))
		for k, v := range sess.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
var _ BranchComparer = (*MemoryStore)(nil)
var _ BranchMerger = (*MemoryStore)(nil)
var _ SessionDeleter = (*MemoryStore)(nil)
