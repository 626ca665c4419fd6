package memory

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/idgen"
)

// stopWords is the small, fixed list of tokens excluded from episodic
// search tokenization and keyword indexing.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "was": true, "were": true,
	"are": true, "you": true, "your": true,
}

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Tokenize lowercases s, strips punctuation, and drops tokens shorter
// than 3 characters or in the stop-word list.
func Tokenize(s string) []string {
	fields := nonWordRe.Split(strings.ToLower(s), -1)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// EpisodicStore is an append-only store of completed-task Episodes, with
// a keyword index kept separately for fast search without reading every
// episode file.
type EpisodicStore struct {
	mu      sync.Mutex
	dir     string
	indexFn string
	index   []EpisodeIndexEntry
}

// OpenEpisodicStore loads the keyword index from dir/index.json. A parse
// failure on the index is recovered by starting empty, per the
// corruption-handling policy for auxiliary indexes.
func OpenEpisodicStore(dir string) *EpisodicStore {
	s := &EpisodicStore{dir: dir, indexFn: filepath.Join(dir, "index.json")}
	readJSONDocument(s.indexFn, &s.index)
	return s
}

// Store writes episode to its own JSON file and updates the keyword
// index. Assigns a new id if episode.ID is empty.
func (s *EpisodicStore) Store(episode Episode) (Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if episode.ID == "" {
		episode.ID = idgen.Episode()
	}
	path := filepath.Join(s.dir, episode.ID+".json")
	if err := writeJSONDocument(path, episode); err != nil {
		return episode, errkind.Wrap(errkind.MemorySaveFailed, err).WithSource("EpisodicMemory")
	}

	s.index = append(s.index, EpisodeIndexEntry{
		ID:        episode.ID,
		Keywords:  episode.Keywords,
		Category:  episode.TaskCategory,
		Success:   episode.Outcome.Success,
		Timestamp: episode.CompletedAt,
		Turns:     episode.Outcome.TurnsTaken,
	})
	if err := writeJSONDocument(s.indexFn, s.index); err != nil {
		return episode, errkind.Wrap(errkind.MemorySaveFailed, err).WithSource("EpisodicMemory")
	}
	return episode, nil
}

// Get loads the full Episode by id.
func (s *EpisodicStore) Get(id string) (Episode, bool, error) {
	var ep Episode
	ok, err := readJSONDocument(filepath.Join(s.dir, id+".json"), &ep)
	if err != nil {
		return Episode{}, false, errkind.Wrap(errkind.EpisodeNotFound, err).WithSource("EpisodicMemory")
	}
	return ep, ok, nil
}

// scoredEntry pairs an index entry with its search score.
type scoredEntry struct {
	entry EpisodeIndexEntry
	score float64
}

// Search tokenizes query and scores each index entry by the fraction of
// query tokens present in the entry's keyword set, returning the top-k
// entries descending by score.
func (s *EpisodicStore) Search(query string, topK int) []EpisodeIndexEntry {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	s.mu.Lock()
	entries := make([]EpisodeIndexEntry, len(s.index))
	copy(entries, s.index)
	s.mu.Unlock()

	scored := make([]scoredEntry, 0, len(entries))
	for _, e := range entries {
		kw := make(map[string]bool, len(e.Keywords))
		for _, k := range e.Keywords {
			kw[strings.ToLower(k)] = true
		}
		matches := 0
		for _, t := range tokens {
			if kw[t] {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		scored = append(scored, scoredEntry{entry: e, score: float64(matches) / float64(len(tokens))})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if topK > len(scored) {
		topK = len(scored)
	}
	out := make([]EpisodeIndexEntry, topK)
	for i := 0; i < topK; i++ {
		out[i] = scored[i].entry
	}
	return out
}

// ByCategory returns index entries matching category, most recent first.
func (s *EpisodicStore) ByCategory(category string) []EpisodeIndexEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EpisodeIndexEntry
	for _, e := range s.index {
		if e.Category == category {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Recent returns the n most recently completed index entries.
func (s *EpisodicStore) Recent(n int) []EpisodeIndexEntry {
	s.mu.Lock()
	entries := make([]EpisodeIndexEntry, len(s.index))
	copy(entries, s.index)
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if n > len(entries) {
		n = len(entries)
	}
	return entries[:n]
}

// All returns every episode in the store, used by the Episode Buffer to
// bulk-ingest existing history at startup.
func (s *EpisodicStore) All() ([]Episode, error) {
	s.mu.Lock()
	entries := make([]EpisodeIndexEntry, len(s.index))
	copy(entries, s.index)
	s.mu.Unlock()

	out := make([]Episode, 0, len(entries))
	for _, e := range entries {
		ep, ok, err := s.Get(e.ID)
		if err != nil || !ok {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}
