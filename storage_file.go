package knowmem

import "os"

// FileStorageProvider keeps working state in memory and persists it as
// a snapshot file on Flush and Close. Suited to single-process
// personal memory stores where the whole conversation fits in RAM.
type FileStorageProvider struct {
	*MemoryStorageProvider
	path string
	name string
}

// OpenFileStorage opens (or creates) a snapshot-file backed provider.
func OpenFileStorage(path string) (*FileStorageProvider, error) {
	p := &FileStorageProvider{
		MemoryStorageProvider: NewMemoryStorageProvider(),
		path:                  path,
	}
	if _, err := os.Stat(path); err != nil {
		return p, nil // fresh store
	}
	data, err := ReadSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	p.name = data.Name
	for _, m := range data.Messages {
		if _, err := p.Messages().Append(m); err != nil {
			return nil, err
		}
	}
	for _, ref := range data.SemanticRefs {
		if _, err := p.SemanticRefs().Append(ref.Knowledge, ref.Range); err != nil {
			return nil, err
		}
	}
	if data.TermIndex != nil || data.PropertyIndex != nil {
		if err := p.SaveIndex(&IndexData{TermIndex: data.TermIndex, PropertyIndex: data.PropertyIndex}); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Flush writes the current state to the snapshot file.
func (p *FileStorageProvider) Flush() error {
	data := &ConversationData{
		FileHeader: FileHeader{Version: SnapshotVersion},
		Name:       p.name,
	}
	if err := p.Messages().Scan(func(_ MessageOrdinal, m Message) bool {
		data.Messages = append(data.Messages, m)
		return true
	}); err != nil {
		return err
	}
	if err := p.SemanticRefs().Scan(func(ref SemanticRef) bool {
		data.SemanticRefs = append(data.SemanticRefs, ref)
		return true
	}); err != nil {
		return err
	}
	if idx, err := p.LoadIndex(); err != nil {
		return err
	} else if idx != nil {
		data.TermIndex = idx.TermIndex
		data.PropertyIndex = idx.PropertyIndex
	}
	return WriteSnapshotFile(p.path, data)
}

// Close flushes and closes the provider.
func (p *FileStorageProvider) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}
	closeAnalytics()
	return p.MemoryStorageProvider.Close()
}
