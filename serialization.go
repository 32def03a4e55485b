// Persisted index snapshot.
//
// The snapshot is JSON with a fixed field order: file header, then
// messages, then semantic refs (tagged union payloads), then the term
// and property index sections. Deserializing a snapshot and
// re-serializing it is byte-for-byte stable: everything serializes
// from structs and pre-sorted entries, never from maps.

package knowmem

import (
	"encoding/json"
	"fmt"
	"os"
)

// SnapshotVersion identifies the snapshot layout.
const SnapshotVersion = "0.2"

// FileHeader versions a snapshot.
type FileHeader struct {
	Version string `json:"version"`
}

// IndexData bundles the persistable index contents.
type IndexData struct {
	TermIndex     *TermIndexData `json:"termIndex,omitempty"`
	PropertyIndex *TermIndexData `json:"propertyIndex,omitempty"`
}

// ConversationData is the serialized form of a conversation memory.
type ConversationData struct {
	FileHeader    FileHeader     `json:"fileHeader"`
	Name          string         `json:"name,omitempty"`
	Messages      []Message      `json:"messages"`
	SemanticRefs  []SemanticRef  `json:"semanticRefs"`
	TermIndex     *TermIndexData `json:"termIndex,omitempty"`
	PropertyIndex *TermIndexData `json:"propertyIndex,omitempty"`
}

// validateHeader rejects snapshots from unknown layouts.
func validateHeader(h FileHeader) error {
	if h.Version != SnapshotVersion {
		return &SerializationError{
			What:    "fileHeader",
			Message: fmt.Sprintf("unsupported snapshot version %q, want %q", h.Version, SnapshotVersion),
		}
	}
	return nil
}

// EncodeSnapshot serializes conversation data to its canonical bytes.
func EncodeSnapshot(data *ConversationData) ([]byte, error) {
	if data.FileHeader.Version == "" {
		data.FileHeader.Version = SnapshotVersion
	}
	return json.Marshal(data)
}

// DecodeSnapshot parses canonical snapshot bytes, rejecting unknown
// versions and unknown knowledge variants.
func DecodeSnapshot(raw []byte) (*ConversationData, error) {
	var data ConversationData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if err := validateHeader(data.FileHeader); err != nil {
		return nil, err
	}
	for i, ref := range data.SemanticRefs {
		if SemanticRefOrdinal(i) != ref.SemanticRefOrdinal {
			return nil, &SerializationError{
				What:    "semanticRefs",
				Message: fmt.Sprintf("non-contiguous ordinal %d at position %d", ref.SemanticRefOrdinal, i),
			}
		}
	}
	return &data, nil
}

// WriteSnapshotFile writes the snapshot to path.
func WriteSnapshotFile(path string, data *ConversationData) error {
	raw, err := EncodeSnapshot(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return &StorageError{Op: "write snapshot", Err: err}
	}
	return nil
}

// ReadSnapshotFile reads a snapshot from path.
func ReadSnapshotFile(path string) (*ConversationData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "read snapshot", Err: err}
	}
	return DecodeSnapshot(raw)
}
