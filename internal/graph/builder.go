package graph

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/tribridrag/tribridrag/internal/chunk"
)

// relatedToMinCooccur is how many chunks two entities must share
// before a related_to edge is emitted.
const relatedToMinCooccur = 2

// BuildResult reports what one graph build wrote.
type BuildResult struct {
	EntityCount       int
	RelationshipCount int
	DroppedEdges      int
	CommunityCount    int
}

// Builder turns chunks into the corpus entity graph: structural
// extraction always, semantic extraction when a chat model is
// configured, then corpus-wide mention resolution, co-occurrence
// edges, and community detection.
type Builder struct {
	store     GraphStore
	chat      ChatModel // nil disables semantic extraction and LLM summaries
	extractor *Extractor
	log       *slog.Logger
}

// NewBuilder creates a graph builder. chat may be nil.
func NewBuilder(store GraphStore, chat ChatModel, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		store:     store,
		chat:      chat,
		extractor: NewExtractor(log),
		log:       log,
	}
}

// Close releases the builder's parser.
func (b *Builder) Close() {
	b.extractor.Close()
}

// BuildChunks extracts and writes the graph for a set of chunks.
// Entities are always written before relationships; edges whose
// endpoints did not materialize are dropped, not failed. Communities
// are recomputed over the full corpus graph at the end.
func (b *Builder) BuildChunks(ctx context.Context, corpusID string, chunks []*chunk.Chunk) (*BuildResult, error) {
	entities := make(map[string]Entity)
	relationships := make(map[relKey]Relationship)
	var mentions []Mention

	// Per chunk: the entity IDs the chunk defines or references, for
	// co-occurrence counting.
	chunkOccurrences := make([][]string, 0, len(chunks))

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ext, err := b.extractor.Extract(ctx, c)
		if err != nil {
			return nil, err
		}
		occur := mergeExtraction(entities, relationships, &mentions, ext)

		if b.chat != nil {
			sem, err := extractSemantic(ctx, b.chat, c)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				b.log.Warn("semantic extraction failed, keeping structural entities",
					slog.String("file", c.FilePath), slog.String("error", err.Error()))
			} else {
				occur = append(occur, mergeExtraction(entities, relationships, &mentions, sem)...)
			}
		}
		chunkOccurrences = append(chunkOccurrences, occur)
	}

	nameIndex := buildNameIndex(entities)

	// Resolve mentions corpus-wide; unresolved names vanish.
	for _, m := range mentions {
		for _, targetID := range nameIndex[strings.ToLower(m.Name)] {
			if targetID == m.SourceID {
				continue
			}
			key := relKey{m.SourceID, targetID, m.Kind}
			if existing, ok := relationships[key]; ok {
				existing.Weight++
				relationships[key] = existing
				continue
			}
			relationships[key] = Relationship{
				SourceID: m.SourceID,
				TargetID: targetID,
				Kind:     m.Kind,
				Weight:   1,
			}
		}
	}

	b.addReferenceEdges(chunks, entities, nameIndex, relationships)
	addCooccurrenceEdges(chunkOccurrences, relationships)

	result, err := b.write(ctx, corpusID, entities, relationships)
	if err != nil {
		return nil, err
	}

	if err := b.rebuildCommunities(ctx, corpusID, result); err != nil {
		return nil, err
	}
	return result, nil
}

type relKey struct {
	source, target string
	kind           RelationshipKind
}

// mergeExtraction folds one chunk's extraction into the corpus
// accumulators and returns the entity IDs it touched.
func mergeExtraction(entities map[string]Entity, relationships map[relKey]Relationship, mentions *[]Mention, ext *Extraction) []string {
	occur := make([]string, 0, len(ext.Entities))
	for _, e := range ext.Entities {
		occur = append(occur, e.ID)
		if existing, ok := entities[e.ID]; ok {
			// Keep the richer record; descriptions come from semantic
			// extraction and win over empty structural ones.
			if existing.Description == "" && e.Description != "" {
				existing.Description = e.Description
				entities[e.ID] = existing
			}
			continue
		}
		entities[e.ID] = e
	}
	for _, r := range ext.Relationships {
		relationships[relKey{r.SourceID, r.TargetID, r.Kind}] = r
	}
	*mentions = append(*mentions, ext.Mentions...)
	return occur
}

func buildNameIndex(entities map[string]Entity) map[string][]string {
	index := make(map[string][]string)
	for id, e := range entities {
		key := strings.ToLower(e.Name)
		if key == "" {
			continue
		}
		index[key] = append(index[key], id)
	}
	// Deterministic resolution order.
	for key := range index {
		sort.Strings(index[key])
	}
	return index
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// addReferenceEdges links a file's module entity to entities in other
// files whose names appear in the chunk text.
func (b *Builder) addReferenceEdges(chunks []*chunk.Chunk, entities map[string]Entity, nameIndex map[string][]string, relationships map[relKey]Relationship) {
	for _, c := range chunks {
		moduleID := EntityID(c.CorpusID, c.FilePath, EntityModule)
		identifiers := make(map[string]struct{})
		for _, ident := range identifierPattern.FindAllString(c.Content, -1) {
			identifiers[strings.ToLower(ident)] = struct{}{}
		}
		for ident := range identifiers {
			for _, targetID := range nameIndex[ident] {
				target, ok := entities[targetID]
				if !ok || targetID == moduleID {
					continue
				}
				// Same-file name use is containment, not a reference.
				if target.FilePath == c.FilePath {
					continue
				}
				key := relKey{moduleID, targetID, RelReferences}
				if _, exists := relationships[key]; exists {
					continue
				}
				relationships[key] = Relationship{
					SourceID: moduleID,
					TargetID: targetID,
					Kind:     RelReferences,
					Weight:   1,
				}
			}
		}
	}
}

// addCooccurrenceEdges emits related_to edges for entity pairs that
// share enough chunks, weighted by the shared-chunk count.
func addCooccurrenceEdges(chunkOccurrences [][]string, relationships map[relKey]Relationship) {
	counts := make(map[[2]string]int)
	for _, occur := range chunkOccurrences {
		unique := make(map[string]struct{}, len(occur))
		for _, id := range occur {
			unique[id] = struct{}{}
		}
		ids := make([]string, 0, len(unique))
		for id := range unique {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				counts[[2]string{ids[i], ids[j]}]++
			}
		}
	}
	for pair, count := range counts {
		if count < relatedToMinCooccur {
			continue
		}
		key := relKey{pair[0], pair[1], RelRelatedTo}
		if _, exists := relationships[key]; exists {
			continue
		}
		relationships[key] = Relationship{
			SourceID: pair[0],
			TargetID: pair[1],
			Kind:     RelRelatedTo,
			Weight:   float64(count),
		}
	}
}

func (b *Builder) write(ctx context.Context, corpusID string, entities map[string]Entity, relationships map[relKey]Relationship) (*BuildResult, error) {
	entityList := make([]Entity, 0, len(entities))
	for _, e := range entities {
		entityList = append(entityList, e)
	}
	sort.Slice(entityList, func(i, j int) bool { return entityList[i].ID < entityList[j].ID })

	relList := make([]Relationship, 0, len(relationships))
	for _, r := range relationships {
		relList = append(relList, r)
	}
	sort.Slice(relList, func(i, j int) bool {
		if relList[i].SourceID != relList[j].SourceID {
			return relList[i].SourceID < relList[j].SourceID
		}
		if relList[i].TargetID != relList[j].TargetID {
			return relList[i].TargetID < relList[j].TargetID
		}
		return relList[i].Kind < relList[j].Kind
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.store.UpsertEntities(ctx, entityList); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dropped, err := b.store.UpsertRelationships(ctx, relList)
	if err != nil {
		return nil, err
	}

	b.log.Info("graph build wrote corpus graph",
		slog.String("corpus_id", corpusID),
		slog.Int("entities", len(entityList)),
		slog.Int("relationships", len(relList)-dropped),
		slog.Int("dropped_edges", dropped))

	return &BuildResult{
		EntityCount:       len(entityList),
		RelationshipCount: len(relList) - dropped,
		DroppedEdges:      dropped,
	}, nil
}

// rebuildCommunities recomputes the corpus community set over the full
// stored graph, not only this build's chunks.
func (b *Builder) rebuildCommunities(ctx context.Context, corpusID string, result *BuildResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	allEntities, err := b.store.AllEntities(ctx, corpusID)
	if err != nil {
		return err
	}
	allRels, err := b.store.AllRelationships(ctx, corpusID)
	if err != nil {
		return err
	}

	communities := DetectCommunities(corpusID, allEntities, allRels)
	byID := make(map[string]Entity, len(allEntities))
	for _, e := range allEntities {
		byID[e.ID] = e
	}
	summarizeCommunities(ctx, b.chat, communities, byID, b.log)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.store.ReplaceCommunities(ctx, corpusID, communities); err != nil {
		return err
	}
	result.CommunityCount = len(communities)
	return nil
}
