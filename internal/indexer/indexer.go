package indexer

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tribridrag/tribridrag/internal/chunk"
	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/embed"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
	"github.com/tribridrag/tribridrag/internal/graph"
	"github.com/tribridrag/tribridrag/internal/loader"
	"github.com/tribridrag/tribridrag/internal/manifest"
	"github.com/tribridrag/tribridrag/internal/store"
)

// DefaultEmbedderConcurrency bounds concurrent embedding batches.
const DefaultEmbedderConcurrency = 4

// DefaultWriteBatchSize is how many chunks one embed-and-write unit
// carries.
const DefaultWriteBatchSize = 64

// Progress is a build progress snapshot.
type Progress struct {
	Stage         string
	FilesSeen     int
	FilesChanged  int
	ChunksWritten int
}

// ProgressFunc receives progress snapshots. Called from the build
// goroutine; keep it cheap.
type ProgressFunc func(Progress)

// Options configures an Indexer.
type Options struct {
	Config *config.Config
	// Embedder overrides the config-built provider; tests inject the
	// static embedder here.
	Embedder embed.Embedder
	// Chat overrides the config-built chat model for semantic
	// extraction and community summaries.
	Chat     graph.ChatModel
	Progress ProgressFunc
	Logger   *slog.Logger
}

// Indexer runs corpus builds.
type Indexer struct {
	cfg      *config.Config
	embedder embed.Embedder
	chat     graph.ChatModel
	progress ProgressFunc
	log      *slog.Logger
}

// New creates an Indexer. When no embedder is injected it is built
// from the configuration; the chat model likewise, and only when chat
// is enabled.
func New(opts Options) (*Indexer, error) {
	if opts.Config == nil {
		return nil, apperrors.New(apperrors.KindConfig, "indexer requires a configuration")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	embedder := opts.Embedder
	if embedder == nil {
		var err error
		embedder, err = embed.New(opts.Config.Embedding, log)
		if err != nil {
			return nil, err
		}
	}

	chat := opts.Chat
	if chat == nil && opts.Config.Chat.Enabled {
		var err error
		chat, err = graph.NewOpenAIChatModel(graph.ChatOptions{
			APIKey:  opts.Config.Chat.APIKey(),
			BaseURL: opts.Config.Chat.BaseURL,
			Model:   opts.Config.Chat.Model,
			Timeout: opts.Config.Chat.Timeout,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Indexer{
		cfg:      opts.Config,
		embedder: embedder,
		chat:     chat,
		progress: opts.Progress,
		log:      log,
	}, nil
}

// BuildRequest names what to build.
type BuildRequest struct {
	CorpusID string
	Root     string
	// Force rebuilds everything, ignoring the per-file hash delta.
	Force bool
}

// BuildResult reports what a build did.
type BuildResult struct {
	CorpusID       string
	FilesSeen      int
	FilesChanged   int
	FilesRemoved   int
	ChunksWritten  int
	ChunksDeleted  int
	EntityCount    int
	CommunityCount int
	Duration       time.Duration
}

// Build runs one corpus build end to end. Exactly one build per corpus
// may run at a time; a second request fails with a build conflict. A
// cancelled build leaves the manifest and the live stores exactly as
// they were; a failed one records the error in the manifest without
// touching the live stores.
func (ix *Indexer) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if req.CorpusID == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "corpus id must not be empty")
	}
	if info, err := os.Stat(req.Root); err != nil || !info.IsDir() {
		return nil, apperrors.Newf(apperrors.KindInvalidInput, "corpus root %q is not a directory", req.Root)
	}

	corpusDir := ix.cfg.CorpusDir(req.CorpusID)
	lock, err := acquireBuildLock(corpusDir, req.CorpusID)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	manifests, err := manifest.NewStore(ix.cfg.ManifestsDir())
	if err != nil {
		return nil, err
	}
	prev, err := manifests.Load(req.CorpusID)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		prev = nil
	}
	// Raw bytes, so cancellation can put back a byte-identical manifest.
	snapshot, err := manifests.Snapshot(req.CorpusID)
	if err != nil {
		return nil, err
	}

	info := manifest.EmbedderInfo{
		Provider:  ix.embedder.Provider(),
		Model:     ix.embedder.ModelName(),
		Dimension: ix.embedder.Dimensions(),
	}
	if prev != nil && !req.Force {
		// Rebuilding on top of an index locked to another embedder or
		// sparse pin needs force.
		if err := prev.CheckEmbedder(info); err != nil {
			return nil, err
		}
		if err := prev.CheckSparse(ix.sparseInfo()); err != nil {
			return nil, err
		}
	}
	building := ix.newManifest(req.CorpusID, prev, info)
	building.BuildStatus = manifest.StatusBuilding
	if err := manifests.Save(building); err != nil {
		return nil, err
	}

	start := time.Now()
	result, buildErr := ix.run(ctx, req, building)

	if buildErr != nil {
		if stderrors.Is(buildErr, context.Canceled) || ctx.Err() != nil {
			// Cancellation must leave the manifest byte-identical to
			// what it was before the build.
			_ = manifests.Restore(req.CorpusID, snapshot)
		} else {
			building.BuildStatus = manifest.StatusError
			building.BuildError = buildErr.Error()
			_ = manifests.Save(building)
		}
		return nil, buildErr
	}

	building.BuildStatus = manifest.StatusComplete
	building.BuildError = ""
	if err := manifests.Save(building); err != nil {
		return nil, err
	}

	result.CorpusID = req.CorpusID
	result.Duration = time.Since(start)
	ix.log.Info("build complete",
		slog.String("corpus_id", req.CorpusID),
		slog.Int("files_changed", result.FilesChanged),
		slog.Int("chunks_written", result.ChunksWritten),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (ix *Indexer) sparseInfo() manifest.SparseInfo {
	backend := ix.cfg.SparseSearch.Backend
	if backend == "" {
		backend = store.SparseBackendSQLite
	}
	tokenizer := ix.cfg.SparseSearch.Tokenizer
	if tokenizer == "" {
		tokenizer = store.TokenizerCode
	}
	return manifest.SparseInfo{Backend: backend, Tokenizer: tokenizer}
}

// newManifest snapshots the build configuration, carrying forward the
// learning state from the previous manifest.
func (ix *Indexer) newManifest(corpusID string, prev *manifest.Manifest, info manifest.EmbedderInfo) *manifest.Manifest {
	sparse := ix.sparseInfo()
	m := &manifest.Manifest{
		CorpusID:           corpusID,
		EmbeddingProvider:  info.Provider,
		EmbeddingModel:     info.Model,
		EmbeddingDimension: info.Dimension,
		Chunker: manifest.ChunkerSnapshot{
			Strategy:        ix.cfg.Chunker.Strategy,
			ChunkSize:       ix.cfg.Chunker.ChunkSize,
			ChunkOverlap:    ix.cfg.Chunker.ChunkOverlap,
			MinChunkChars:   ix.cfg.Chunker.MinChunkChars,
			MaxChunkTokens:  ix.cfg.Chunker.MaxChunkTokens,
			ASTOverlapLines: ix.cfg.Chunker.ASTOverlapLines,
			PreserveImports: ix.cfg.Chunker.PreserveImports,
		},
		SparseBackend:   sparse.Backend,
		SparseTokenizer: sparse.Tokenizer,
		GraphBackend:    ix.cfg.GraphStore.Backend,
	}
	if prev != nil {
		m.CreatedAt = prev.CreatedAt
		m.Adapter = prev.Adapter
		m.TripletCount = prev.TripletCount
	}
	return m
}

func (ix *Indexer) report(p Progress) {
	if ix.progress != nil {
		ix.progress(p)
	}
}

// run is the build body: delta scan, chunk, embed, write, graph. All
// store writes land in a staging copy of the corpus directory; the
// live stores change only at the commit just before run returns, so a
// cancelled or failed build leaves them holding the previous complete
// state. A neo4j graph store lives on an external server and sits
// outside the staged copy.
func (ix *Indexer) run(ctx context.Context, req BuildRequest, m *manifest.Manifest) (*BuildResult, error) {
	corpusDir := ix.cfg.CorpusDir(req.CorpusID)
	stagingDir, err := stageCorpusStores(corpusDir, req.Force)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stagingDir)

	stores, err := openStoresDir(ctx, ix.cfg, stagingDir, ix.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	storesClosed := false
	defer func() {
		if !storesClosed {
			_ = stores.Close()
		}
	}()

	prevHashes := map[string]string{}
	if !req.Force {
		prevHashes, err = stores.Chunks.FileHashes(ctx)
		if err != nil {
			return nil, err
		}
	}

	ld, err := loader.New(loader.Options{
		Root:              req.Root,
		IncludeExtensions: ix.cfg.Loader.IncludeExtensions,
		ExcludePatterns:   ix.cfg.Loader.ExcludePatterns,
		MaxFileSize:       ix.cfg.Loader.MaxFileSizeBytes,
		RespectGitignore:  ix.cfg.Loader.RespectGitignore,
	})
	if err != nil {
		return nil, err
	}

	chunker := chunk.New(chunk.Options{
		Strategy:        chunk.Strategy(ix.cfg.Chunker.Strategy),
		ChunkSize:       ix.cfg.Chunker.ChunkSize,
		ChunkOverlap:    ix.cfg.Chunker.ChunkOverlap,
		MinChunkChars:   ix.cfg.Chunker.MinChunkChars,
		MaxChunkTokens:  ix.cfg.Chunker.MaxChunkTokens,
		ASTOverlapLines: ix.cfg.Chunker.ASTOverlapLines,
		PreserveImports: ix.cfg.Chunker.PreserveImports,
	}, ix.log)
	defer chunker.Close()

	concurrency := ix.cfg.Indexer.EmbedderConcurrency
	if concurrency <= 0 {
		concurrency = DefaultEmbedderConcurrency
	}
	batchSize := ix.cfg.Indexer.WriteBatchSize
	if batchSize <= 0 {
		batchSize = DefaultWriteBatchSize
	}

	result := &BuildResult{}
	var (
		writeMu sync.Mutex
		written int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	flush := func(batch []*chunk.Chunk) {
		g.Go(func() error {
			return ix.writeBatch(gctx, stores, batch, &writeMu, &written)
		})
	}

	results, err := ld.Load(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var (
		pending     []*chunk.Chunk
		newChunks   []*chunk.Chunk
		fileRecords []*store.FileRecord
		loopErr     error
	)

	for res := range results {
		// File boundary: a cancelled build stops here.
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		if err := gctx.Err(); err != nil {
			break
		}
		if res.Err != nil {
			ix.log.Warn("skipping unreadable file", slog.String("error", res.Err.Error()))
			continue
		}
		f := res.File
		seen[f.Path] = struct{}{}
		result.FilesSeen++

		if prev, ok := prevHashes[f.Path]; ok && prev == f.ContentHash {
			continue
		}
		result.FilesChanged++

		// Replacing a changed file purges its old chunks everywhere.
		if _, existed := prevHashes[f.Path]; existed {
			deleted, err := ix.purgeFile(ctx, stores, req.CorpusID, f.Path)
			if err != nil {
				loopErr = err
				break
			}
			result.ChunksDeleted += deleted
		}

		chunks, err := chunker.ChunkFile(ctx, req.CorpusID, &chunk.FileInput{
			Path:     f.Path,
			Content:  f.Content,
			Language: f.Language,
		})
		if err != nil {
			loopErr = err
			break
		}

		newChunks = append(newChunks, chunks...)
		pending = append(pending, chunks...)
		for len(pending) >= batchSize {
			flush(pending[:batchSize])
			pending = append([]*chunk.Chunk(nil), pending[batchSize:]...)
		}

		fileRecords = append(fileRecords, &store.FileRecord{
			Path:        f.Path,
			ContentHash: f.ContentHash,
			Language:    f.Language,
			ChunkCount:  len(chunks),
			IndexedAt:   time.Now().Unix(),
		})

		ix.report(Progress{Stage: "chunking", FilesSeen: result.FilesSeen,
			FilesChanged: result.FilesChanged, ChunksWritten: written})
	}
	if loopErr == nil && len(pending) > 0 {
		flush(pending)
	}

	// Files present last build but gone now.
	for path := range prevHashes {
		if loopErr != nil {
			break
		}
		if _, ok := seen[path]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		deleted, err := ix.purgeFile(ctx, stores, req.CorpusID, path)
		if err != nil {
			loopErr = err
			break
		}
		if err := stores.Chunks.DeleteFileRecord(ctx, path); err != nil {
			loopErr = err
			break
		}
		result.FilesRemoved++
		result.ChunksDeleted += deleted
	}

	// Drain in-flight batches before anything touches the staged
	// stores again.
	if err := g.Wait(); err != nil && loopErr == nil {
		loopErr = err
	}
	if loopErr != nil {
		// Unblock the loader if it is still producing.
		go func() {
			for range results {
			}
		}()
		return nil, loopErr
	}
	result.ChunksWritten = written

	if len(fileRecords) > 0 {
		if err := stores.Chunks.SaveFileRecords(ctx, fileRecords); err != nil {
			return nil, err
		}
	}

	ix.report(Progress{Stage: "graph", FilesSeen: result.FilesSeen,
		FilesChanged: result.FilesChanged, ChunksWritten: written})

	if len(newChunks) > 0 || result.FilesRemoved > 0 {
		builder := graph.NewBuilder(stores.Graph, ix.chat, ix.log)
		defer builder.Close()
		graphResult, err := builder.BuildChunks(ctx, req.CorpusID, newChunks)
		if err != nil {
			return nil, err
		}
		result.CommunityCount = graphResult.CommunityCount
	}

	graphStats, err := stores.Graph.Stats(ctx, req.CorpusID)
	if err != nil {
		return nil, err
	}
	result.EntityCount = graphStats.EntityCount

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := stores.SaveVector(); err != nil {
		return nil, err
	}

	// The manifest records store totals, not this build's delta.
	storeStats, err := stores.Chunks.Stats(ctx)
	if err != nil {
		return nil, err
	}
	m.FileCount = storeStats.FileCount
	m.ChunkCount = storeStats.ChunkCount
	m.EntityCount = result.EntityCount

	// Publish the staged stores; the manifest flips to complete only
	// after this succeeds.
	storesClosed = true
	if err := stores.Close(); err != nil {
		return nil, err
	}
	if err := commitCorpusStores(corpusDir, stagingDir); err != nil {
		return nil, err
	}

	ix.report(Progress{Stage: "finalizing", FilesSeen: result.FilesSeen,
		FilesChanged: result.FilesChanged, ChunksWritten: result.ChunksWritten})
	return result, nil
}

// writeBatch embeds one chunk batch and writes it to every store.
// Writes are serialized; embedding runs concurrently across batches.
func (ix *Indexer) writeBatch(ctx context.Context, stores *Stores, batch []*chunk.Chunk, writeMu *sync.Mutex, written *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	ids := make([]string, len(batch))
	docs := make([]*store.Document, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	// Write boundary: cancellation is honored between batches, never
	// inside one.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stores.Chunks.SaveChunks(ctx, batch); err != nil {
		return err
	}
	if err := stores.Chunks.SaveEmbeddings(ctx, ids, vectors); err != nil {
		return err
	}
	if err := stores.Sparse.Index(ctx, docs); err != nil {
		return err
	}
	if err := stores.Vector.Add(ctx, ids, vectors); err != nil {
		return err
	}
	*written += len(batch)
	return nil
}

// purgeFile removes a file's chunks from every index.
func (ix *Indexer) purgeFile(ctx context.Context, stores *Stores, corpusID, path string) (int, error) {
	ids, err := stores.Chunks.DeleteChunksByFile(ctx, path)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := stores.Sparse.Delete(ctx, ids); err != nil {
		return 0, err
	}
	if err := stores.Vector.Delete(ctx, ids); err != nil {
		return 0, err
	}
	if err := stores.Graph.DeleteEntitiesByFile(ctx, corpusID, path); err != nil {
		return 0, err
	}
	return len(ids), nil
}
