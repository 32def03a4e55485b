// Conversation memory: build/query phase split.
//
// An IndexBuilder is the single-writer, mutable build phase: append
// messages, append extracted knowledge, populate indexes. Build
// consumes it into an immutable ConversationMemory that is safe for
// concurrent queries.

package knowmem

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IndexBuilder accumulates a conversation's messages and knowledge.
// Appends must be serialized by the caller; ordinal monotonicity
// depends on a single writer per conversation.
type IndexBuilder struct {
	name     string
	id       string
	provider StorageProvider
	settings *MemorySettings
	logger   *zap.Logger

	termIndex  *TermToSemanticRefIndex
	propIndex  *PropertyIndex
	embedder   *Embedder
	embeddings *TermEmbeddingIndex

	consumed bool
}

// NewIndexBuilder starts a builder over the given storage. A nil
// storage provider means in-memory; a nil embedding provider disables
// fuzzy matching; a nil settings uses defaults.
func NewIndexBuilder(name string, storage StorageProvider, embeddings EmbeddingProvider, settings *MemorySettings) (*IndexBuilder, error) {
	s := settings.withDefaults()
	if storage == nil {
		storage = NewMemoryStorageProvider()
	}
	b := &IndexBuilder{
		name:      name,
		id:        uuid.NewString(),
		provider:  storage,
		settings:  s,
		logger:    s.logger(),
		termIndex: NewTermToSemanticRefIndex(),
		propIndex: NewPropertyIndex(),
	}
	if embeddings != nil {
		embedder, err := NewEmbedder(embeddings, s.EmbeddingCacheSize, s.EmbeddingConcurrency)
		if err != nil {
			return nil, err
		}
		b.embedder = embedder
		b.embeddings = NewTermEmbeddingIndex(embedder)
	}
	if err := b.hydrate(); err != nil {
		return nil, err
	}
	return b, nil
}

// hydrate reloads previously persisted index contents, so a builder
// over a file or SQLite provider continues where it left off.
func (b *IndexBuilder) hydrate() error {
	data, err := b.provider.LoadIndex()
	if err != nil || data == nil {
		return err
	}
	b.termIndex = DeserializeTermIndex(data.TermIndex)
	b.propIndex = DeserializePropertyIndex(data.PropertyIndex)
	return nil
}

// AddMessage appends a source message and returns its ordinal.
func (b *IndexBuilder) AddMessage(m Message) (MessageOrdinal, error) {
	if b.consumed {
		return 0, ErrBuilderConsumed
	}
	return b.provider.Messages().Append(m)
}

// AddKnowledge appends one extracted knowledge fragment anchored to
// the given text range and populates the term and property indexes.
// Entity-name postings carry the entity match weight; everything else
// the default weight.
func (b *IndexBuilder) AddKnowledge(k Knowledge, r TextRange) (SemanticRefOrdinal, error) {
	if b.consumed {
		return 0, ErrBuilderConsumed
	}
	ordinal, err := b.provider.SemanticRefs().Append(k, r)
	if err != nil {
		return 0, err
	}
	b.indexKnowledge(k, ordinal)
	return ordinal, nil
}

func (b *IndexBuilder) indexKnowledge(k Knowledge, ordinal SemanticRefOrdinal) {
	entityWeight := b.settings.EntityTermMatchWeight
	defaultWeight := b.settings.DefaultTermMatchWeight

	switch v := k.(type) {
	case ConcreteEntity:
		b.termIndex.Add(v.Name, ordinal, entityWeight)
		b.propIndex.Add(PropertyEntityName, v.Name, ordinal, entityWeight)
		for _, t := range v.Type {
			b.termIndex.Add(t, ordinal, defaultWeight)
			b.propIndex.Add(PropertyEntityType, t, ordinal, defaultWeight)
		}
		b.indexFacets(v.Facets, ordinal)
	case Action:
		b.termIndex.Add(v.Verb, ordinal, defaultWeight)
		b.propIndex.Add(PropertyVerb, v.Verb, ordinal, defaultWeight)
		if v.Subject != "" {
			b.termIndex.Add(v.Subject, ordinal, defaultWeight)
			b.propIndex.Add(PropertySubject, v.Subject, ordinal, defaultWeight)
		}
		if v.Object != "" {
			b.termIndex.Add(v.Object, ordinal, defaultWeight)
			b.propIndex.Add(PropertyObject, v.Object, ordinal, defaultWeight)
		}
		if v.IndirectObject != "" {
			b.termIndex.Add(v.IndirectObject, ordinal, defaultWeight)
			b.propIndex.Add(PropertyIndirectObject, v.IndirectObject, ordinal, defaultWeight)
		}
		b.indexFacets(v.Facets, ordinal)
	case Topic:
		b.termIndex.Add(v.Text, ordinal, defaultWeight)
		b.propIndex.Add(PropertyTopic, v.Text, ordinal, defaultWeight)
	case Tag:
		b.termIndex.Add(v.Text, ordinal, defaultWeight)
		b.propIndex.Add(PropertyTag, v.Text, ordinal, defaultWeight)
	case StructuredTag:
		b.termIndex.Add(v.Name, ordinal, defaultWeight)
		b.propIndex.Add(PropertyTag, v.Name, ordinal, defaultWeight)
		b.indexFacets(v.Facets, ordinal)
	}
}

func (b *IndexBuilder) indexFacets(facets []Facet, ordinal SemanticRefOrdinal) {
	weight := b.settings.DefaultTermMatchWeight
	for _, f := range facets {
		if f.Value == nil {
			continue
		}
		b.propIndex.Add(PropertyFacetName, f.Name, ordinal, weight)
		b.propIndex.Add(PropertyFacetValue, f.Value.ValueString(), ordinal, weight)
	}
}

// Build computes term embeddings for every indexed term (bounded
// concurrency, memoized), persists index contents through the storage
// provider and seals the builder into an immutable ConversationMemory.
// The builder cannot be used afterwards.
func (b *IndexBuilder) Build(ctx context.Context) (*ConversationMemory, error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	start := time.Now()
	if b.embeddings != nil {
		if err := b.embeddings.AddTerms(ctx, b.termIndex.Terms()); err != nil {
			return nil, err
		}
	}
	if err := b.provider.SaveIndex(&IndexData{
		TermIndex:     b.termIndex.Serialize(),
		PropertyIndex: b.propIndex.Serialize(),
	}); err != nil {
		return nil, err
	}
	b.consumed = true

	refCount, err := b.provider.SemanticRefs().Count()
	if err != nil {
		return nil, err
	}
	b.logger.Debug("index built",
		zap.String("conversation", b.name),
		zap.Int("semanticRefs", refCount),
		zap.Int("terms", b.termIndex.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	trackIndexBuilt(refCount, b.termIndex.Len())

	return &ConversationMemory{
		name:       b.name,
		id:         b.id,
		provider:   b.provider,
		settings:   b.settings,
		logger:     b.logger,
		termIndex:  b.termIndex,
		propIndex:  b.propIndex,
		embeddings: b.embeddings,
	}, nil
}

// ConversationMemory is the sealed, queryable index of one
// conversation. Immutable: concurrent queries share it safely. To add
// more knowledge, open a new builder over the same storage provider.
type ConversationMemory struct {
	name     string
	id       string
	provider StorageProvider
	settings *MemorySettings
	logger   *zap.Logger

	termIndex  *TermToSemanticRefIndex
	propIndex  *PropertyIndex
	embeddings *TermEmbeddingIndex
}

// Name returns the conversation name.
func (c *ConversationMemory) Name() string { return c.name }

// ID returns the conversation's unique identifier.
func (c *ConversationMemory) ID() string { return c.id }

// TermIndex exposes the sealed term index for exact lookups.
func (c *ConversationMemory) TermIndex() *TermToSemanticRefIndex { return c.termIndex }

// SemanticRefCount returns the number of indexed knowledge fragments.
func (c *ConversationMemory) SemanticRefCount() (int, error) {
	return c.provider.SemanticRefs().Count()
}

// GetSemanticRef returns the ref at ordinal.
func (c *ConversationMemory) GetSemanticRef(ordinal SemanticRefOrdinal) (SemanticRef, bool, error) {
	return c.provider.SemanticRefs().Get(ordinal)
}

// Search compiles and evaluates a query in one call.
func (c *ConversationMemory) Search(ctx context.Context, group *SearchTermGroup, when *WhenFilter) (*SearchResults, error) {
	plan, err := Compile(group, when)
	if err != nil {
		return nil, err
	}
	return c.Evaluate(ctx, plan)
}

// Evaluate runs a compiled plan against the sealed index. Results are
// grouped by knowledge type; every requested type is present even when
// empty. Cancellation yields a partial result with Aborted set, not an
// error.
func (c *ConversationMemory) Evaluate(ctx context.Context, plan *CompiledQuery) (*SearchResults, error) {
	start := time.Now()
	ec := &evalContext{
		ctx:        ctx,
		termIndex:  c.termIndex,
		propIndex:  c.propIndex,
		embeddings: c.embeddings,
		refs:       c.provider.SemanticRefs(),
		messages:   c.provider.Messages(),
		settings:   c.settings,
	}
	results, err := evaluate(ec, plan)
	if err != nil {
		trackError("evaluate")
		return nil, err
	}
	matches := 0
	for _, r := range results.ByType {
		matches += len(r.SemanticRefMatches)
	}
	c.logger.Debug("query evaluated",
		zap.String("conversation", c.name),
		zap.Int("matches", matches),
		zap.Bool("aborted", results.Aborted),
		zap.Duration("elapsed", time.Since(start)),
	)
	trackSearch(matches, results.Aborted)
	return results, nil
}

// SearchEntities runs the query scoped to entities and returns
// canonical merged entities, best evidence first.
func (c *ConversationMemory) SearchEntities(ctx context.Context, group *SearchTermGroup, when *WhenFilter) ([]*MergedEntity, error) {
	scoped := scopeToType(when, KnowledgeTypeEntity)
	results, err := c.Search(ctx, group, scoped)
	if err != nil {
		return nil, err
	}
	matches := results.ByType[KnowledgeTypeEntity]
	var scored []ScoredEntity
	for _, m := range matches.SemanticRefMatches {
		ref, ok, err := c.provider.SemanticRefs().Get(m.SemanticRefOrdinal)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if entity, ok := ref.Knowledge.(ConcreteEntity); ok {
			scored = append(scored, ScoredEntity{Entity: entity, Score: m.Score, Ordinal: ref.SemanticRefOrdinal})
		}
	}
	return MergeEntities(scored), nil
}

// SearchTopics runs the query scoped to topics and returns canonical
// merged topics, best evidence first.
func (c *ConversationMemory) SearchTopics(ctx context.Context, group *SearchTermGroup, when *WhenFilter) ([]*MergedTopic, error) {
	scoped := scopeToType(when, KnowledgeTypeTopic)
	results, err := c.Search(ctx, group, scoped)
	if err != nil {
		return nil, err
	}
	matches := results.ByType[KnowledgeTypeTopic]
	var scored []ScoredTopic
	for _, m := range matches.SemanticRefMatches {
		ref, ok, err := c.provider.SemanticRefs().Get(m.SemanticRefOrdinal)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if topic, ok := ref.Knowledge.(Topic); ok {
			scored = append(scored, ScoredTopic{Topic: topic, Score: m.Score, Ordinal: ref.SemanticRefOrdinal})
		}
	}
	return MergeTopics(scored), nil
}

func scopeToType(when *WhenFilter, kt KnowledgeType) *WhenFilter {
	if when == nil {
		return &WhenFilter{KnowledgeType: kt}
	}
	scoped := *when
	scoped.KnowledgeType = kt
	return &scoped
}

// RelatedTerms returns indexed terms semantically near term, best
// first, using the term embedding index. Fails when the memory was
// built without an embedding provider.
func (c *ConversationMemory) RelatedTerms(ctx context.Context, term string, maxMatches int) ([]Term, error) {
	if c.embeddings == nil {
		return nil, ErrNoEmbeddingProvider
	}
	if maxMatches <= 0 {
		maxMatches = c.settings.MaxFuzzyMatches
	}
	return c.embeddings.LookupTerm(ctx, term, maxMatches, c.settings.MinFuzzyScore)
}

// Serialize captures the conversation as snapshot data.
func (c *ConversationMemory) Serialize() (*ConversationData, error) {
	data := &ConversationData{
		FileHeader:    FileHeader{Version: SnapshotVersion},
		Name:          c.name,
		TermIndex:     c.termIndex.Serialize(),
		PropertyIndex: c.propIndex.Serialize(),
	}
	if err := c.provider.Messages().Scan(func(_ MessageOrdinal, m Message) bool {
		data.Messages = append(data.Messages, m)
		return true
	}); err != nil {
		return nil, err
	}
	if err := c.provider.SemanticRefs().Scan(func(ref SemanticRef) bool {
		data.SemanticRefs = append(data.SemanticRefs, ref)
		return true
	}); err != nil {
		return nil, err
	}
	return data, nil
}

// FromSnapshot rebuilds a queryable conversation memory from snapshot
// data. When an embedding provider is given, term embeddings are
// recomputed as one batch.
func FromSnapshot(ctx context.Context, data *ConversationData, embeddings EmbeddingProvider, settings *MemorySettings) (*ConversationMemory, error) {
	if err := validateHeader(data.FileHeader); err != nil {
		return nil, err
	}
	builder, err := NewIndexBuilder(data.Name, nil, embeddings, settings)
	if err != nil {
		return nil, err
	}
	for _, m := range data.Messages {
		if _, err := builder.AddMessage(m); err != nil {
			return nil, err
		}
	}
	for _, ref := range data.SemanticRefs {
		if _, err := builder.provider.SemanticRefs().Append(ref.Knowledge, ref.Range); err != nil {
			return nil, err
		}
	}
	builder.termIndex = DeserializeTermIndex(data.TermIndex)
	builder.propIndex = DeserializePropertyIndex(data.PropertyIndex)
	return builder.Build(ctx)
}
