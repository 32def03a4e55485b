package knowmem

import "sync"

// ============================================================================
// Storage Provider Boundary
// ============================================================================

// MessageStore holds the ordered messages of one conversation.
// Ordinals are dense from 0 and stable once assigned.
type MessageStore interface {
	// Append stores a message and returns its ordinal.
	Append(m Message) (MessageOrdinal, error)
	// Get returns the message at ordinal, or false when out of range.
	Get(ordinal MessageOrdinal) (Message, bool, error)
	// Count returns the number of stored messages.
	Count() (int, error)
	// Scan visits every message in ordinal order until fn returns
	// false. The scan is finite and restartable.
	Scan(fn func(ordinal MessageOrdinal, m Message) bool) error
}

// SemanticRefStore is the append-only collection of extracted
// knowledge. Get after a successful Append is immediately consistent.
type SemanticRefStore interface {
	// Append assigns the next ordinal and stores the ref.
	Append(k Knowledge, r TextRange) (SemanticRefOrdinal, error)
	// Get returns the ref at ordinal, or false when out of range.
	Get(ordinal SemanticRefOrdinal) (SemanticRef, bool, error)
	// Count returns the number of stored refs.
	Count() (int, error)
	// Scan visits every ref in ordinal order until fn returns false.
	Scan(fn func(ref SemanticRef) bool) error
}

// StorageProvider is the narrow persistence contract the core depends
// on. Backings: in-memory, flat-file snapshot, relational file
// (SQLite). The core only assumes stable ordinals and read-after-write
// consistency.
type StorageProvider interface {
	Messages() MessageStore
	SemanticRefs() SemanticRefStore
	// SaveIndex persists serialized term index contents.
	SaveIndex(data *IndexData) error
	// LoadIndex returns previously saved index contents, or nil when
	// none exist.
	LoadIndex() (*IndexData, error)
	Close() error
}

// ============================================================================
// In-Memory Provider
// ============================================================================

// MemoryStorageProvider keeps everything in process memory. Reads are
// safe concurrently; appends must be serialized by the caller (single
// writer per conversation).
type MemoryStorageProvider struct {
	messages memoryMessageStore
	refs     memorySemanticRefStore
	index    *IndexData
	mu       sync.RWMutex
	closed   bool
}

// NewMemoryStorageProvider creates an empty in-memory provider.
func NewMemoryStorageProvider() *MemoryStorageProvider {
	p := &MemoryStorageProvider{}
	p.messages.p = p
	p.refs.p = p
	return p
}

// Messages returns the message store.
func (p *MemoryStorageProvider) Messages() MessageStore { return &p.messages }

// SemanticRefs returns the semantic ref store.
func (p *MemoryStorageProvider) SemanticRefs() SemanticRefStore { return &p.refs }

// SaveIndex retains the index data in memory.
func (p *MemoryStorageProvider) SaveIndex(data *IndexData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStorageClosed
	}
	p.index = data
	return nil
}

// LoadIndex returns the retained index data, if any.
func (p *MemoryStorageProvider) LoadIndex() (*IndexData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrStorageClosed
	}
	return p.index, nil
}

// Close marks the provider closed.
func (p *MemoryStorageProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type memoryMessageStore struct {
	p    *MemoryStorageProvider
	rows []Message
}

func (s *memoryMessageStore) Append(m Message) (MessageOrdinal, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.closed {
		return 0, ErrStorageClosed
	}
	s.rows = append(s.rows, m)
	return MessageOrdinal(len(s.rows) - 1), nil
}

func (s *memoryMessageStore) Get(ordinal MessageOrdinal) (Message, bool, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	if ordinal < 0 || int(ordinal) >= len(s.rows) {
		return Message{}, false, nil
	}
	return s.rows[ordinal], true, nil
}

func (s *memoryMessageStore) Count() (int, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	return len(s.rows), nil
}

func (s *memoryMessageStore) Scan(fn func(ordinal MessageOrdinal, m Message) bool) error {
	s.p.mu.RLock()
	rows := s.rows
	s.p.mu.RUnlock()
	for i, m := range rows {
		if !fn(MessageOrdinal(i), m) {
			return nil
		}
	}
	return nil
}

type memorySemanticRefStore struct {
	p    *MemoryStorageProvider
	rows []SemanticRef
}

func (s *memorySemanticRefStore) Append(k Knowledge, r TextRange) (SemanticRefOrdinal, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.closed {
		return 0, ErrStorageClosed
	}
	ordinal := SemanticRefOrdinal(len(s.rows))
	s.rows = append(s.rows, SemanticRef{
		SemanticRefOrdinal: ordinal,
		KnowledgeType:      k.Kind(),
		Knowledge:          k,
		Range:              r,
	})
	return ordinal, nil
}

func (s *memorySemanticRefStore) Get(ordinal SemanticRefOrdinal) (SemanticRef, bool, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	if ordinal < 0 || int(ordinal) >= len(s.rows) {
		return SemanticRef{}, false, nil
	}
	return s.rows[ordinal], true, nil
}

func (s *memorySemanticRefStore) Count() (int, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	return len(s.rows), nil
}

func (s *memorySemanticRefStore) Scan(fn func(ref SemanticRef) bool) error {
	s.p.mu.RLock()
	rows := s.rows
	s.p.mu.RUnlock()
	for _, ref := range rows {
		if !fn(ref) {
			return nil
		}
	}
	return nil
}
