package retrieval

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tribridrag/tribridrag/internal/chunk"
	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/embed"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
	"github.com/tribridrag/tribridrag/internal/indexer"
	"github.com/tribridrag/tribridrag/internal/manifest"
	"github.com/tribridrag/tribridrag/internal/rerank"
	"github.com/tribridrag/tribridrag/internal/store"
)

// Retriever is one modality of the tri-brid query path.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, corpusID, query string) ([]Candidate, error)
}

const (
	defaultDeadline         = 10 * time.Second
	defaultModalityDeadline = 5 * time.Second
	defaultGracePeriod      = 250 * time.Millisecond
)

// Orchestrator is the query entry point. It verifies the corpus
// manifest before any retriever runs, fans out to the enabled
// retrievers under per-modality deadlines, fuses, shapes, reranks, and
// returns the top results with per-modality status.
type Orchestrator struct {
	cfg       *config.Config
	embedder  embed.Embedder
	reranker  rerank.Reranker
	manifests *manifest.Store
	log       *slog.Logger

	mu     sync.Mutex
	stores map[string]*indexer.Stores
	closed bool
}

// NewOrchestrator wires the query path. The reranker may be nil, which
// behaves as mode none.
func NewOrchestrator(cfg *config.Config, embedder embed.Embedder, reranker rerank.Reranker, log *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.KindConfig, "orchestrator requires a configuration")
	}
	if embedder == nil {
		return nil, apperrors.New(apperrors.KindConfig, "orchestrator requires an embedder")
	}
	if log == nil {
		log = slog.Default()
	}
	manifests, err := manifest.NewStore(cfg.ManifestsDir())
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:       cfg,
		embedder:  embedder,
		reranker:  reranker,
		manifests: manifests,
		log:       log,
		stores:    map[string]*indexer.Stores{},
	}, nil
}

// modalityOutcome is one retriever's gathered result.
type modalityOutcome struct {
	name       string
	weight     float64
	candidates []Candidate
	err        error
	latency    time.Duration
}

// Search runs one query end to end.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "query must not be empty")
	}
	if req.CorpusID == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "corpus id must not be empty")
	}

	// Manifest gate: readiness, dimension lock, and sparse pin are all
	// checked before a single retriever runs.
	m, err := o.manifests.Load(req.CorpusID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.KindNotFound, "corpus %q has no index", req.CorpusID)
		}
		return nil, err
	}
	if err := m.CheckReady(); err != nil {
		return nil, err
	}
	if err := m.CheckEmbedder(manifest.EmbedderInfo{
		Provider:  o.embedder.Provider(),
		Model:     o.embedder.ModelName(),
		Dimension: o.embedder.Dimensions(),
	}); err != nil {
		return nil, err
	}
	if err := m.CheckSparse(o.sparseInfo()); err != nil {
		return nil, err
	}

	stores, err := o.corpusStores(ctx, req.CorpusID, m.EmbeddingDimension)
	if err != nil {
		return nil, err
	}

	retrievers, weights, perModality := o.buildRetrievers(req, stores)
	if len(retrievers) == 0 {
		return nil, apperrors.New(apperrors.KindConfig, "no retrieval modality enabled")
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = o.cfg.Retrieval.Deadline
	}
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	qctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	outcomes, err := o.gather(ctx, qctx, req, retrievers, weights)
	if err != nil {
		return nil, err
	}

	var lists []modalityResult
	for _, out := range outcomes {
		status := ModalityStatus{State: StateOK, Count: len(out.candidates), Latency: out.latency}
		if out.err != nil {
			status.State = StateFailed
			if isTimeout(out.err) {
				status.State = StateTimeout
			}
			status.Error = out.err.Error()
			o.log.Warn("retriever demoted",
				slog.String("modality", out.name),
				slog.String("state", string(status.State)),
				slog.String("error", out.err.Error()))
		} else {
			lists = append(lists, modalityResult{name: out.name, weight: out.weight, candidates: out.candidates})
		}
		perModality[out.name] = status
	}
	if len(lists) == 0 {
		return nil, apperrors.New(apperrors.KindAllRetrieversFailed, "every enabled retriever failed")
	}

	fusedList := fuse(o.cfg.Fusion, lists)
	matches, err := o.resolveMatches(qctx, stores, fusedList)
	if err != nil {
		return nil, err
	}
	matches = applyMaxPerFile(matches, o.cfg.Fusion.MaxPerFile)
	if o.cfg.Fusion.MMREnabled {
		matches = applyMMR(matches, o.cfg.Fusion.MMRLambda)
	}

	resp := &Response{
		FusionMethod: fusionMethod(o.cfg.Fusion.Method),
		RerankerMode: rerank.ModeNone,
		PerModality:  perModality,
	}
	matches = o.applyReranker(qctx, req.Query, matches, resp)

	topK := req.TopK
	if topK <= 0 {
		topK = o.cfg.Retrieval.TopK
	}
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	if o.cfg.Fusion.NeighborWindow > 0 {
		expanded, err := expandNeighbors(qctx, stores.Chunks, matches, o.cfg.Fusion.NeighborWindow)
		if err != nil {
			o.log.Warn("neighbor expansion failed", slog.String("error", err.Error()))
		} else {
			matches = expanded
		}
	}

	resp.Matches = matches
	resp.Latency = time.Since(start)
	return resp, nil
}

// buildRetrievers instantiates the enabled modalities and seeds the
// status map with the disabled ones.
func (o *Orchestrator) buildRetrievers(req Request, stores *indexer.Stores) ([]Retriever, map[string]float64, map[string]ModalityStatus) {
	var retrievers []Retriever
	weights := map[string]float64{}
	perModality := map[string]ModalityStatus{}

	if enabled(o.cfg.VectorSearch.Enabled, req.IncludeVector) {
		retrievers = append(retrievers, NewVectorRetriever(
			o.embedder, stores.Vector,
			o.cfg.VectorSearch.TopKDense, o.cfg.VectorSearch.SimilarityThreshold))
		weights[ModalityVector] = o.cfg.Fusion.VectorWeight
	} else {
		perModality[ModalityVector] = ModalityStatus{State: StateDisabled}
	}

	if enabled(o.cfg.SparseSearch.Enabled, req.IncludeSparse) {
		retrievers = append(retrievers, NewSparseRetriever(stores.Sparse, o.cfg.SparseSearch.TopKSparse))
		weights[ModalitySparse] = o.cfg.Fusion.SparseWeight
	} else {
		perModality[ModalitySparse] = ModalityStatus{State: StateDisabled}
	}

	if enabled(o.cfg.GraphSearch.Enabled, req.IncludeGraph) {
		retrievers = append(retrievers, NewGraphRetriever(
			stores.Graph, stores.Chunks, stores.Vector, o.embedder,
			o.cfg.GraphSearch.MaxHops, o.cfg.GraphSearch.TopKGraph,
			o.cfg.GraphSearch.IncludeCommunities))
		weights[ModalityGraph] = o.cfg.Fusion.GraphWeight
	} else {
		perModality[ModalityGraph] = ModalityStatus{State: StateDisabled}
	}

	return retrievers, weights, perModality
}

// gather fans the retrievers out and collects their outcomes. When the
// caller cancels, collection stops after the configured grace period;
// stragglers are demoted as timeouts.
func (o *Orchestrator) gather(parent, qctx context.Context, req Request, retrievers []Retriever, weights map[string]float64) ([]modalityOutcome, error) {
	modalityDeadline := o.cfg.Retrieval.ModalityDeadline
	if modalityDeadline <= 0 {
		modalityDeadline = defaultModalityDeadline
	}
	grace := o.cfg.Retrieval.CancelGracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	ch := make(chan modalityOutcome, len(retrievers))
	for _, r := range retrievers {
		go func(r Retriever) {
			began := time.Now()
			subCtx, subCancel := context.WithTimeout(qctx, modalityDeadline)
			defer subCancel()
			candidates, err := r.Retrieve(subCtx, req.CorpusID, req.Query)
			ch <- modalityOutcome{
				name:       r.Name(),
				weight:     weights[r.Name()],
				candidates: candidates,
				err:        err,
				latency:    time.Since(began),
			}
		}(r)
	}

	outcomes := make([]modalityOutcome, 0, len(retrievers))
	received := map[string]struct{}{}
	var graceTimer <-chan time.Time
	for len(outcomes) < len(retrievers) {
		select {
		case out := <-ch:
			outcomes = append(outcomes, out)
			received[out.name] = struct{}{}
		case <-qctx.Done():
			if parent.Err() != nil {
				return nil, parent.Err()
			}
			if graceTimer == nil {
				graceTimer = time.After(grace)
			}
			select {
			case out := <-ch:
				outcomes = append(outcomes, out)
				received[out.name] = struct{}{}
			case <-graceTimer:
				// Whatever has not reported by now is a timeout.
				for _, r := range retrievers {
					if _, ok := received[r.Name()]; !ok {
						outcomes = append(outcomes, modalityOutcome{
							name: r.Name(),
							err:  context.DeadlineExceeded,
						})
					}
				}
				return outcomes, nil
			}
		}
	}
	return outcomes, nil
}

// resolveMatches turns fused candidates into matches backed by live
// chunks. IDs no longer in the store are dropped; virtual candidates
// carry their content in metadata.
func (o *Orchestrator) resolveMatches(ctx context.Context, stores *indexer.Stores, fusedList []fused) ([]Match, error) {
	var chunkIDs []string
	for _, f := range fusedList {
		if f.Virtual == nil {
			chunkIDs = append(chunkIDs, f.ChunkID)
		}
	}
	resolved, err := stores.Chunks.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*chunk.Chunk, len(resolved))
	for _, c := range resolved {
		byID[c.ID] = c
	}

	matches := make([]Match, 0, len(fusedList))
	for _, f := range fusedList {
		m := Match{
			ChunkID:    f.ChunkID,
			Score:      f.Score,
			FusedScore: f.Score,
			Sources:    dedupSources(f.Sources),
		}
		if f.Virtual != nil {
			m.Metadata = map[string]string{
				"type":    f.Virtual.Kind,
				"title":   f.Virtual.Title,
				"summary": f.Virtual.Content,
			}
		} else {
			c, ok := byID[f.ChunkID]
			if !ok {
				continue
			}
			m.Chunk = c
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// applyReranker re-scores the shaped matches. A reranker failure is a
// degradation, not a query failure: the fused order stands.
func (o *Orchestrator) applyReranker(ctx context.Context, query string, matches []Match, resp *Response) []Match {
	if o.reranker == nil || o.reranker.Mode() == rerank.ModeNone || len(matches) == 0 {
		return matches
	}
	resp.RerankerMode = o.reranker.Mode()

	docs := make([]rerank.Document, len(matches))
	byID := make(map[string]int, len(matches))
	for i, m := range matches {
		content := ""
		if m.Chunk != nil {
			content = m.Chunk.Content
		} else if m.Metadata != nil {
			content = m.Metadata["summary"]
		}
		docs[i] = rerank.Document{ChunkID: m.ChunkID, Content: content}
		byID[m.ChunkID] = i
	}

	out, err := o.reranker.Rerank(ctx, query, docs)
	if err != nil {
		o.log.Warn("reranker unavailable, returning fused order",
			slog.String("error", err.Error()))
		resp.RerankerMode = "degraded"
		resp.Degraded = true
		return matches
	}

	reranked := make([]Match, 0, len(out.Scores))
	for _, s := range out.Scores {
		idx, ok := byID[s.ChunkID]
		if !ok {
			continue
		}
		m := matches[idx]
		m.Score = s.Score
		reranked = append(reranked, m)
	}
	resp.RerankerVersion = out.Version
	return reranked
}

// Close releases all cached corpus stores.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	var firstErr error
	for id, s := range o.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(o.stores, id)
	}
	return firstErr
}

func (o *Orchestrator) corpusStores(ctx context.Context, corpusID string, dimensions int) (*indexer.Stores, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, apperrors.New(apperrors.KindInternal, "orchestrator is closed")
	}
	if s, ok := o.stores[corpusID]; ok {
		return s, nil
	}
	s, err := indexer.OpenStores(ctx, o.cfg, corpusID, dimensions)
	if err != nil {
		return nil, err
	}
	o.stores[corpusID] = s
	return s, nil
}

func (o *Orchestrator) sparseInfo() manifest.SparseInfo {
	backend := o.cfg.SparseSearch.Backend
	if backend == "" {
		backend = store.SparseBackendSQLite
	}
	tokenizer := o.cfg.SparseSearch.Tokenizer
	if tokenizer == "" {
		tokenizer = store.TokenizerCode
	}
	return manifest.SparseInfo{Backend: backend, Tokenizer: tokenizer}
}

func enabled(configured bool, override *bool) bool {
	if override != nil {
		return configured && *override
	}
	return configured
}

func fusionMethod(method string) string {
	if method == FusionWeighted {
		return FusionWeighted
	}
	return FusionRRF
}

func dedupSources(sources []string) []string {
	seen := map[string]struct{}{}
	out := sources[:0]
	for _, s := range sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return apperrors.KindOf(err) == apperrors.KindUpstreamTimeout
}
