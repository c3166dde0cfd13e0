// Package indexer runs the end-to-end build: walk the corpus, chunk
// changed files, embed, write the sparse/vector/graph indexes, and
// finish by publishing the manifest.
package indexer

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// inProcessBuilds guards against two builds of the same corpus inside
// one process; the file lock covers other processes.
var (
	inProcessMu     sync.Mutex
	inProcessBuilds = make(map[string]struct{})
)

// buildLock holds both the in-process slot and the cross-process file
// lock for one corpus build.
type buildLock struct {
	corpusID string
	flock    *flock.Flock
}

// acquireBuildLock takes the build slot for a corpus, without
// blocking. A held lock anywhere means a build is already running.
func acquireBuildLock(corpusDir, corpusID string) (*buildLock, error) {
	inProcessMu.Lock()
	if _, busy := inProcessBuilds[corpusID]; busy {
		inProcessMu.Unlock()
		return nil, apperrors.Newf(apperrors.KindBuildConflict,
			"a build for corpus %q is already running", corpusID)
	}
	inProcessBuilds[corpusID] = struct{}{}
	inProcessMu.Unlock()

	release := func() {
		inProcessMu.Lock()
		delete(inProcessBuilds, corpusID)
		inProcessMu.Unlock()
	}

	if err := os.MkdirAll(corpusDir, 0o755); err != nil {
		release()
		return nil, apperrors.Wrap(apperrors.KindInternal, "create corpus directory", err)
	}

	fl := flock.New(filepath.Join(corpusDir, buildLockName))
	acquired, err := fl.TryLock()
	if err != nil {
		release()
		return nil, apperrors.Wrap(apperrors.KindInternal, "acquire build lock", err)
	}
	if !acquired {
		release()
		return nil, apperrors.Newf(apperrors.KindBuildConflict,
			"another process is building corpus %q", corpusID)
	}
	return &buildLock{corpusID: corpusID, flock: fl}, nil
}

func (l *buildLock) release() {
	_ = l.flock.Unlock()
	inProcessMu.Lock()
	delete(inProcessBuilds, l.corpusID)
	inProcessMu.Unlock()
}
