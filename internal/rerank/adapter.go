package rerank

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sync"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// adapterHandle is one loaded adapter version. The active pointer
// holds one reference; every in-flight scoring request holds another.
// The weights are released only after the handle is retired and the
// last reference drops, so a request that started on version v always
// finishes on v.
type adapterHandle struct {
	path        string
	fingerprint string

	mu      sync.Mutex
	refs    int
	retired bool
	unload  func()
}

func newAdapterHandle(path, fingerprint string, unload func()) *adapterHandle {
	return &adapterHandle{path: path, fingerprint: fingerprint, refs: 1, unload: unload}
}

// acquire takes a reference for an in-flight request. It fails once
// the handle has been retired and fully drained.
func (h *adapterHandle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired && h.refs == 0 {
		return false
	}
	h.refs++
	return true
}

// release drops one reference, unloading when a retired handle drains.
func (h *adapterHandle) release() {
	h.mu.Lock()
	h.refs--
	drained := h.retired && h.refs == 0
	unload := h.unload
	h.mu.Unlock()
	if drained && unload != nil {
		unload()
	}
}

// retire drops the active pointer's reference. In-flight requests keep
// the weights alive until they complete.
func (h *adapterHandle) retire() {
	h.mu.Lock()
	if h.retired {
		h.mu.Unlock()
		return
	}
	h.retired = true
	h.refs--
	drained := h.refs == 0
	unload := h.unload
	h.mu.Unlock()
	if drained && unload != nil {
		unload()
	}
}

// fingerprintFile hashes an adapter weight file. The fingerprint is
// the adapter's identity: the watcher reloads when it changes and the
// scorer reports it as the model version.
func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindRerankerUnavailable, "open adapter file", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", apperrors.Wrap(apperrors.KindRerankerUnavailable, "read adapter file", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
