// Package jsonstore is the default store.Store implementation: an
// append-only sequence of JSON segment files on disk, one per contiguous
// run of merged blocks. It is grounded on the original scanner's
// fileHandler.py (createNewFile / mergePending / openLatest), translated
// into explicit-error Go and keyed by block height rather than a single
// growing file.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/example/evmscan/internal/decoder"
	"github.com/example/evmscan/internal/store"
)

// segment is the on-disk shape of one file: the block range it covers plus
// the grouped decoded events in it.
type segment struct {
	FirstBlock uint64                                                           `json:"first_block"`
	LastBlock  uint64                                                           `json:"last_block"`
	Events     map[uint64]map[string]map[string]map[string]map[string]interface{} `json:"events"`
	flatEvents []decoder.Event
}

// Store persists decoded events as <firstBlock>.json segment files under
// dir, rotating to a new segment once the current one holds events for more
// than maxEntries distinct blocks.
type Store struct {
	mu         sync.Mutex
	dir        string
	maxEntries int

	latest  uint64
	current *segment
	pending []store.ChunkResult
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxEntries overrides the default segment rotation threshold.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

// New opens (or creates) the store rooted at dir, resuming from the
// highest-numbered existing segment file if one is present.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonstore: create directory %s: %w", dir, err)
	}
	s := &Store{dir: dir, maxEntries: 1000}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.openLatest(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) segmentPath(firstBlock uint64) string {
	return filepath.Join(s.dir, strconv.FormatUint(firstBlock, 10)+".json")
}

// listSegments returns existing segment files sorted by their firstBlock.
func (s *Store) listSegments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if _, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64); err != nil {
			continue
		}
		files = append(files, name)
	}
	sort.Slice(files, func(i, j int) bool {
		a, _ := strconv.ParseUint(strings.TrimSuffix(files[i], ".json"), 10, 64)
		b, _ := strconv.ParseUint(strings.TrimSuffix(files[j], ".json"), 10, 64)
		return a < b
	})
	return files, nil
}

func (s *Store) openLatest() error {
	files, err := s.listSegments()
	if err != nil {
		return fmt.Errorf("jsonstore: list segments: %w", err)
	}
	if len(files) == 0 {
		s.current = &segment{Events: map[uint64]map[string]map[string]map[string]map[string]interface{}{}}
		return nil
	}

	last := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(s.dir, last))
	if err != nil {
		return fmt.Errorf("jsonstore: read segment %s: %w", last, err)
	}
	var seg segment
	if err := json.Unmarshal(data, &seg); err != nil {
		return fmt.Errorf("jsonstore: parse segment %s: %w", last, err)
	}
	seg.flatEvents = flattenEvents(seg.Events)
	s.current = &seg
	s.latest = seg.LastBlock
	logrus.WithField("segment", last).Infof("jsonstore: resumed at block %d", s.latest)
	return nil
}

// Setup declares the starting watermark for a new scan session. Any
// watermark already on disk wins over a lower requested start.
func (s *Store) Setup(startBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if startBlock > s.latest {
		s.latest = startBlock
		s.current.FirstBlock = startBlock
		s.current.LastBlock = startBlock
	}
	return nil
}

// Process merges chunk into the pending list ordered by FromBlock, then
// greedily advances latest while the head of pending is contiguous with it.
func (s *Store) Process(chunk store.ChunkResult) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addPending(chunk)
	merged := s.mergePending()

	if len(s.current.Events) > s.maxEntries {
		if err := s.saveLocked(); err != nil {
			return merged, err
		}
		s.rotate()
	}
	return merged, nil
}

func (s *Store) addPending(chunk store.ChunkResult) {
	pos := sort.Search(len(s.pending), func(i int) bool { return s.pending[i].FromBlock >= chunk.FromBlock })
	s.pending = append(s.pending, store.ChunkResult{})
	copy(s.pending[pos+1:], s.pending[pos:])
	s.pending[pos] = chunk
}

func (s *Store) mergePending() uint64 {
	var merged uint64
	for len(s.pending) > 0 && s.pending[0].FromBlock <= s.latest+1 {
		head := s.pending[0]
		grouped := decoder.GroupByBlock(head.Events)
		for block, byTx := range grouped {
			s.current.Events[block] = byTx
		}
		if head.ToBlock > s.latest {
			merged += head.ToBlock - s.latest
			s.latest = head.ToBlock
		}
		s.current.LastBlock = s.latest
		s.current.flatEvents = append(s.current.flatEvents, head.Events...)
		s.pending = s.pending[1:]
	}
	return merged
}

func (s *Store) rotate() {
	s.current = &segment{
		FirstBlock: s.latest + 1,
		LastBlock:  s.latest,
		Events:     map[uint64]map[string]map[string]map[string]map[string]interface{}{},
	}
}

// CheckMissing returns the sub-range of [lo, hi] not yet durable.
func (s *Store) CheckMissing(lo, hi uint64) ([]store.Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.MissingRanges(lo, hi, s.latest), nil
}

// GetEvents returns every durable decoded event in [lo, hi], scanning both
// the active segment and, if needed, older segment files on disk.
func (s *Store) GetEvents(lo, hi uint64) ([]decoder.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []decoder.Event
	for _, e := range s.current.flatEvents {
		if e.BlockNumber >= lo && e.BlockNumber <= hi {
			out = append(out, e)
		}
	}

	if lo >= s.current.FirstBlock {
		return out, nil
	}

	files, err := s.listSegments()
	if err != nil {
		return nil, fmt.Errorf("jsonstore: list segments: %w", err)
	}
	for _, name := range files {
		firstBlock, _ := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
		if firstBlock == s.current.FirstBlock {
			continue // already covered by the in-memory flatEvents above
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("jsonstore: read segment %s: %w", name, err)
		}
		var seg segment
		if err := json.Unmarshal(data, &seg); err != nil {
			return nil, fmt.Errorf("jsonstore: parse segment %s: %w", name, err)
		}
		if seg.LastBlock < lo || seg.FirstBlock > hi {
			continue
		}
		for _, e := range flattenEvents(seg.Events) {
			if e.BlockNumber >= lo && e.BlockNumber <= hi {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// flattenEvents reconstructs a flat []decoder.Event from a segment's
// serialized nested block/tx/address/"name index" shape, the inverse of
// decoder.GroupByBlock, used to recover events from rotated-out segment
// files whose in-memory flatEvents no longer exist.
func flattenEvents(events map[uint64]map[string]map[string]map[string]map[string]interface{}) []decoder.Event {
	var out []decoder.Event
	for block, byTx := range events {
		for txHex, byAddr := range byTx {
			for addrHex, byIndex := range byAddr {
				for key, args := range byIndex {
					name, logIndex := splitNameIndex(key)
					out = append(out, decoder.Event{
						BlockNumber: block,
						TxHash:      common.HexToHash(txHex),
						Address:     common.HexToAddress(addrHex),
						LogIndex:    logIndex,
						Name:        name,
						Args:        args,
					})
				}
			}
		}
	}
	return out
}

// splitNameIndex reverses the "name logIndex" key built by
// decoder.GroupByBlock. Event names never contain spaces, so splitting on
// the last one is unambiguous.
func splitNameIndex(key string) (string, uint) {
	i := strings.LastIndex(key, " ")
	if i < 0 {
		return key, 0
	}
	idx, err := strconv.ParseUint(key[i+1:], 10, 64)
	if err != nil {
		return key, 0
	}
	return key[:i], uint(idx)
}

// Latest returns the current watermark.
func (s *Store) Latest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Save persists the active segment to disk. Idempotent.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonstore: marshal segment: %w", err)
	}
	path := s.segmentPath(s.current.FirstBlock)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("jsonstore: write segment %s: %w", path, err)
	}
	logrus.WithField("segment", path).Debug("jsonstore: segment saved")
	return nil
}
