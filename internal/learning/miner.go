package learning

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// Mine modes.
const (
	MineModeAppend  = "append"
	MineModeReplace = "replace"
)

// Confidence assigned by triplet provenance. Explicit feedback on both
// sides is trusted most; a sampled negative dilutes it; click-through
// alone is the weakest signal.
const (
	confidenceExplicitPair    = 1.0
	confidenceSampledNegative = 0.7
	confidenceClickThrough    = 0.5
)

// Triplet is one (query, positive, negative) training example.
type Triplet struct {
	Query      string  `json:"query"`
	Positive   string  `json:"positive"`
	Negative   string  `json:"negative"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// ChunkResolver reports which of the given chunk IDs still exist.
// Triplets referencing vanished chunks are discarded.
type ChunkResolver interface {
	ResolveChunks(ctx context.Context, ids []string) (map[string]bool, error)
}

// MinerOptions configures a mining pass.
type MinerOptions struct {
	EventLogPath        string
	TripletsPath        string
	Mode                string
	PreserveOnEmpty     bool
	ConfidenceThreshold float64

	// Resolver may be nil, in which case every referenced chunk is
	// assumed live.
	Resolver ChunkResolver
	Logger   *slog.Logger
}

// MineResult summarizes a mining pass.
type MineResult struct {
	EventsRead        int
	TripletsMined     int
	TripletsDiscarded int
	PreservedExisting bool
}

// Miner turns usage events into training triplets.
type Miner struct {
	opts MinerOptions
	log  *slog.Logger
}

func NewMiner(opts MinerOptions) (*Miner, error) {
	if opts.EventLogPath == "" || opts.TripletsPath == "" {
		return nil, apperrors.New(apperrors.KindConfig, "miner requires event log and triplets paths")
	}
	switch opts.Mode {
	case "":
		opts.Mode = MineModeAppend
	case MineModeAppend, MineModeReplace:
	default:
		return nil, apperrors.Newf(apperrors.KindConfig, "mine mode %q not one of append, replace", opts.Mode)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Miner{opts: opts, log: opts.Logger}, nil
}

// querySignals is the per-query aggregate the mining rules run over.
type querySignals struct {
	query     string
	topChunks []string
	positives []string
	negatives []string
	clicks    map[string]bool
}

// Mine reads the event log, emits triplets, and writes the triplet
// file according to the configured mode. In replace mode with nothing
// mined, the existing file is preserved or truncated per
// preserve_existing_on_empty.
func (m *Miner) Mine(ctx context.Context) (*MineResult, error) {
	events, err := ReadEvents(ctx, m.opts.EventLogPath)
	if err != nil {
		return nil, err
	}
	res := &MineResult{EventsRead: len(events)}

	triplets, discarded, err := m.mineTriplets(ctx, events)
	if err != nil {
		return nil, err
	}
	res.TripletsMined = len(triplets)
	res.TripletsDiscarded = discarded

	if len(triplets) == 0 && m.opts.Mode == MineModeReplace {
		if m.opts.PreserveOnEmpty {
			res.PreservedExisting = true
			m.log.Info("mining found nothing, preserving existing triplets",
				slog.String("path", m.opts.TripletsPath))
			return res, nil
		}
		if err := writeTriplets(m.opts.TripletsPath, nil, false); err != nil {
			return nil, err
		}
		return res, nil
	}
	if len(triplets) == 0 {
		return res, nil
	}

	appendMode := m.opts.Mode == MineModeAppend
	if err := writeTriplets(m.opts.TripletsPath, triplets, appendMode); err != nil {
		return nil, err
	}
	m.log.Info("mined triplets",
		slog.Int("events", res.EventsRead),
		slog.Int("mined", res.TripletsMined),
		slog.Int("discarded", res.TripletsDiscarded),
		slog.String("mode", m.opts.Mode))
	return res, nil
}

func (m *Miner) mineTriplets(ctx context.Context, events []Event) ([]Triplet, int, error) {
	grouped := groupByQuery(events)

	var candidates []Triplet
	for _, sig := range grouped {
		candidates = append(candidates, mineQuery(sig)...)
	}

	live, err := m.resolve(ctx, candidates)
	if err != nil {
		return nil, 0, err
	}

	var kept []Triplet
	discarded := 0
	for _, t := range candidates {
		if t.Confidence < m.opts.ConfidenceThreshold {
			discarded++
			continue
		}
		if live != nil && (!live[t.Positive] || !live[t.Negative]) {
			discarded++
			continue
		}
		kept = append(kept, t)
	}
	return kept, discarded, nil
}

// mineQuery applies the mining rules to one query's signals:
// explicit positive and negative feedback pair directly; an explicit
// positive without a negative samples the highest-ranked unmarked
// result; click-through alone promotes the best-ranked clicked chunk
// against the best-ranked unclicked one.
func mineQuery(sig *querySignals) []Triplet {
	var out []Triplet

	switch {
	case len(sig.positives) > 0 && len(sig.negatives) > 0:
		for _, pos := range sig.positives {
			for _, neg := range sig.negatives {
				if pos == neg {
					continue
				}
				out = append(out, Triplet{
					Query: sig.query, Positive: pos, Negative: neg,
					Confidence: confidenceExplicitPair, Source: "explicit",
				})
			}
		}
	case len(sig.positives) > 0:
		marked := map[string]bool{}
		for _, p := range sig.positives {
			marked[p] = true
		}
		for _, pos := range sig.positives {
			if neg, ok := sampleNegative(sig.topChunks, marked, sig.clicks); ok {
				out = append(out, Triplet{
					Query: sig.query, Positive: pos, Negative: neg,
					Confidence: confidenceSampledNegative, Source: "explicit_sampled",
				})
			}
		}
	case len(sig.clicks) > 0:
		pos, ok := bestRankedClicked(sig.topChunks, sig.clicks)
		if !ok {
			break
		}
		if neg, ok := sampleNegative(sig.topChunks, map[string]bool{pos: true}, sig.clicks); ok {
			out = append(out, Triplet{
				Query: sig.query, Positive: pos, Negative: neg,
				Confidence: confidenceClickThrough, Source: "click_through",
			})
		}
	}
	return out
}

// sampleNegative picks the highest-ranked result that is neither
// marked positive nor clicked.
func sampleNegative(topChunks []string, marked, clicks map[string]bool) (string, bool) {
	for _, id := range topChunks {
		if marked[id] || clicks[id] {
			continue
		}
		return id, true
	}
	return "", false
}

func bestRankedClicked(topChunks []string, clicks map[string]bool) (string, bool) {
	for _, id := range topChunks {
		if clicks[id] {
			return id, true
		}
	}
	return "", false
}

func groupByQuery(events []Event) []*querySignals {
	byQuery := map[string]*querySignals{}
	var order []string
	getSig := func(query string) *querySignals {
		sig, ok := byQuery[query]
		if !ok {
			sig = &querySignals{query: query, clicks: map[string]bool{}}
			byQuery[query] = sig
			order = append(order, query)
		}
		return sig
	}

	for _, ev := range events {
		query := strings.TrimSpace(ev.Query)
		if query == "" {
			continue
		}
		sig := getSig(query)
		switch ev.Kind {
		case EventSearch:
			// A repeated search refreshes the ranked list.
			if len(ev.TopChunks) > 0 {
				sig.topChunks = ev.TopChunks
			}
		case EventFeedback:
			if ev.ChunkID == "" || ev.Helpful == nil {
				continue
			}
			if *ev.Helpful {
				sig.positives = append(sig.positives, ev.ChunkID)
			} else {
				sig.negatives = append(sig.negatives, ev.ChunkID)
			}
		case EventClick:
			if ev.ChunkID != "" {
				sig.clicks[ev.ChunkID] = true
			}
		}
	}

	sort.Strings(order)
	out := make([]*querySignals, 0, len(order))
	for _, q := range order {
		out = append(out, byQuery[q])
	}
	return out
}

func (m *Miner) resolve(ctx context.Context, triplets []Triplet) (map[string]bool, error) {
	if m.opts.Resolver == nil || len(triplets) == 0 {
		return nil, nil
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, t := range triplets {
		for _, id := range []string{t.Positive, t.Negative} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return m.opts.Resolver.ResolveChunks(ctx, ids)
}

// writeTriplets persists the triplet file. Appends go straight to the
// file; a replace is staged and renamed so readers never see a torn
// file.
func writeTriplets(path string, triplets []Triplet, appendMode bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "create triplets directory", err)
	}

	if appendMode {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, "open triplets file", err)
		}
		defer f.Close()
		return encodeTriplets(f, triplets)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "stage triplets file", err)
	}
	if err := encodeTriplets(f, triplets); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.Wrap(apperrors.KindInternal, "replace triplets file", err)
	}
	return nil
}

func encodeTriplets(f *os.File, triplets []Triplet) error {
	w := bufio.NewWriter(f)
	for _, t := range triplets {
		line, err := json.Marshal(t)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, "encode triplet", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return apperrors.Wrap(apperrors.KindInternal, "write triplet", err)
		}
	}
	return w.Flush()
}

// ReadTriplets reads every triplet from the file at path. A missing
// file reads as empty.
func ReadTriplets(path string) ([]Triplet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "read triplets file", err)
	}
	var out []Triplet
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var t Triplet
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
