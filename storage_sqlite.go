package knowmem

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStorageProvider persists messages, semantic refs and index
// contents in a single SQLite file. Reads are safe concurrently;
// appends follow the single-writer discipline of the core.
type SQLiteStorageProvider struct {
	db *sql.DB
	mu sync.RWMutex

	messages sqliteMessageStore
	refs     sqliteSemanticRefStore
}

// OpenSQLiteStorage opens (or creates) a SQLite-backed provider at the
// given path and initializes the schema.
func OpenSQLiteStorage(path string) (*SQLiteStorageProvider, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &StorageError{Op: "open sqlite", Err: err}
	}
	p := &SQLiteStorageProvider{db: db}
	p.messages.p = p
	p.refs.p = p
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return p, nil
}

func (p *SQLiteStorageProvider) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			ordinal INTEGER PRIMARY KEY,
			body TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS semantic_refs (
			ordinal INTEGER PRIMARY KEY,
			knowledge_type TEXT NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS index_sections (
			section TEXT PRIMARY KEY,
			body TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 40)], err)
		}
	}
	return nil
}

// Messages returns the message store.
func (p *SQLiteStorageProvider) Messages() MessageStore { return &p.messages }

// SemanticRefs returns the semantic ref store.
func (p *SQLiteStorageProvider) SemanticRefs() SemanticRefStore { return &p.refs }

// SaveIndex persists the serialized index sections.
func (p *SQLiteStorageProvider) SaveIndex(data *IndexData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := json.Marshal(data)
	if err != nil {
		return &StorageError{Op: "marshal index", Err: err}
	}
	_, err = p.db.Exec(
		`INSERT OR REPLACE INTO index_sections (section, body) VALUES ('term_index', ?)`,
		string(raw),
	)
	if err != nil {
		return &StorageError{Op: "save index", Err: err}
	}
	return nil
}

// LoadIndex returns previously saved index contents, or nil.
func (p *SQLiteStorageProvider) LoadIndex() (*IndexData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var raw string
	err := p.db.QueryRow(
		`SELECT body FROM index_sections WHERE section = 'term_index'`,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "load index", Err: err}
	}
	var data IndexData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, &StorageError{Op: "decode index", Err: err}
	}
	return &data, nil
}

// Close closes the underlying database.
func (p *SQLiteStorageProvider) Close() error {
	closeAnalytics()
	return p.db.Close()
}

type sqliteMessageStore struct {
	p *SQLiteStorageProvider
}

func (s *sqliteMessageStore) Append(m Message) (MessageOrdinal, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	raw, err := json.Marshal(m)
	if err != nil {
		return 0, &StorageError{Op: "marshal message", Err: err}
	}
	var next int
	if err := s.p.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&next); err != nil {
		return 0, &StorageError{Op: "append message", Err: err}
	}
	if _, err := s.p.db.Exec(
		`INSERT INTO messages (ordinal, body) VALUES (?, ?)`, next, string(raw),
	); err != nil {
		return 0, &StorageError{Op: "append message", Err: err}
	}
	return MessageOrdinal(next), nil
}

func (s *sqliteMessageStore) Get(ordinal MessageOrdinal) (Message, bool, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	var raw string
	err := s.p.db.QueryRow(`SELECT body FROM messages WHERE ordinal = ?`, int(ordinal)).Scan(&raw)
	if err == sql.ErrNoRows {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, &StorageError{Op: "get message", Err: err}
	}
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, false, &StorageError{Op: "decode message", Err: err}
	}
	return m, true, nil
}

func (s *sqliteMessageStore) Count() (int, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	var n int
	if err := s.p.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count messages", Err: err}
	}
	return n, nil
}

func (s *sqliteMessageStore) Scan(fn func(ordinal MessageOrdinal, m Message) bool) error {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rows, err := s.p.db.Query(`SELECT ordinal, body FROM messages ORDER BY ordinal`)
	if err != nil {
		return &StorageError{Op: "scan messages", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var ordinal int
		var raw string
		if err := rows.Scan(&ordinal, &raw); err != nil {
			return &StorageError{Op: "scan messages", Err: err}
		}
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return &StorageError{Op: "decode message", Err: err}
		}
		if !fn(MessageOrdinal(ordinal), m) {
			return nil
		}
	}
	return rows.Err()
}

type sqliteSemanticRefStore struct {
	p *SQLiteStorageProvider
}

func (s *sqliteSemanticRefStore) Append(k Knowledge, r TextRange) (SemanticRefOrdinal, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	var next int
	if err := s.p.db.QueryRow(`SELECT COUNT(*) FROM semantic_refs`).Scan(&next); err != nil {
		return 0, &StorageError{Op: "append semantic ref", Err: err}
	}
	ref := SemanticRef{
		SemanticRefOrdinal: SemanticRefOrdinal(next),
		KnowledgeType:      k.Kind(),
		Knowledge:          k,
		Range:              r,
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return 0, err
	}
	if _, err := s.p.db.Exec(
		`INSERT INTO semantic_refs (ordinal, knowledge_type, body) VALUES (?, ?, ?)`,
		next, string(k.Kind()), string(raw),
	); err != nil {
		return 0, &StorageError{Op: "append semantic ref", Err: err}
	}
	return SemanticRefOrdinal(next), nil
}

func (s *sqliteSemanticRefStore) Get(ordinal SemanticRefOrdinal) (SemanticRef, bool, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	var raw string
	err := s.p.db.QueryRow(`SELECT body FROM semantic_refs WHERE ordinal = ?`, int(ordinal)).Scan(&raw)
	if err == sql.ErrNoRows {
		return SemanticRef{}, false, nil
	}
	if err != nil {
		return SemanticRef{}, false, &StorageError{Op: "get semantic ref", Err: err}
	}
	var ref SemanticRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return SemanticRef{}, false, &StorageError{Op: "decode semantic ref", Err: err}
	}
	return ref, true, nil
}

func (s *sqliteSemanticRefStore) Count() (int, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	var n int
	if err := s.p.db.QueryRow(`SELECT COUNT(*) FROM semantic_refs`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count semantic refs", Err: err}
	}
	return n, nil
}

func (s *sqliteSemanticRefStore) Scan(fn func(ref SemanticRef) bool) error {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rows, err := s.p.db.Query(`SELECT body FROM semantic_refs ORDER BY ordinal`)
	if err != nil {
		return &StorageError{Op: "scan semantic refs", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return &StorageError{Op: "scan semantic refs", Err: err}
		}
		var ref SemanticRef
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			return &StorageError{Op: "decode semantic ref", Err: err}
		}
		if !fn(ref) {
			return nil
		}
	}
	return rows.Err()
}
