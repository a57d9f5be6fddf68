package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/policy-qa/internal/model"
)

// Index defaults.
const (
	DefaultMaxCorpora      = 64
	DefaultLoadConcurrency = 4
)

// ErrEmptyDocumentSet is returned when Ensure is called without references.
var ErrEmptyDocumentSet = eris.New("corpus: no documents supplied")

// Corpus is the immutable set of clauses built for one document set.
type Corpus struct {
	Key       string
	Documents []string
	BuiltAt   time.Time

	clauses []model.Clause
}

// Clauses returns a copy of the indexed clauses in document order. Relevance
// scores are always zero; they are assigned per query by the retriever.
func (c *Corpus) Clauses() []model.Clause {
	out := make([]model.Clause, len(c.clauses))
	for i, cl := range c.clauses {
		out[i] = cl.Unscored()
	}
	return out
}

// Len returns the number of clauses.
func (c *Corpus) Len() int {
	return len(c.clauses)
}

// BuildFunc observes completed builds.
type BuildFunc func(c *Corpus, elapsed time.Duration)

// Option configures an Index.
type Option func(*Index)

// WithMaxCorpora bounds how many document sets stay cached. The oldest set
// is evicted first; zero or less keeps every set.
func WithMaxCorpora(n int) Option {
	return func(ix *Index) { ix.maxCorpora = n }
}

// WithLoadConcurrency bounds how many documents of one set load at once.
// Non-positive values keep the default.
func WithLoadConcurrency(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.loadConcurrency = n
		}
	}
}

// WithOnBuild registers a callback run after every build.
func WithOnBuild(fn BuildFunc) Option {
	return func(ix *Index) { ix.onBuild = fn }
}

// Index owns the corpora of a process. Each distinct document set is built
// at most once; concurrent callers for the same set wait on one build.
type Index struct {
	loader          Loader
	maxCorpora      int
	loadConcurrency int
	onBuild         BuildFunc

	mu      sync.RWMutex
	corpora map[string]*Corpus
	order   []string

	group  singleflight.Group
	builds atomic.Int64
}

// NewIndex creates an empty Index backed by loader.
func NewIndex(loader Loader, opts ...Option) *Index {
	ix := &Index{
		loader:          loader,
		maxCorpora:      DefaultMaxCorpora,
		loadConcurrency: DefaultLoadConcurrency,
		corpora:         make(map[string]*Corpus),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Builds returns how many corpora have been built.
func (ix *Index) Builds() int64 {
	return ix.builds.Load()
}

// Ensure returns the corpus for docs, building it on first use. The set is
// order-insensitive and duplicate references collapse.
func (ix *Index) Ensure(ctx context.Context, docs []string) (*Corpus, error) {
	refs := uniqueRefs(docs)
	if len(refs) == 0 {
		return nil, ErrEmptyDocumentSet
	}
	key := SetKey(refs)

	if c := ix.lookup(key); c != nil {
		return c, nil
	}

	// The build outlives a cancelled first caller so that other waiters on
	// the same set still get a corpus.
	buildCtx := context.WithoutCancel(ctx)
	v, err, _ := ix.group.Do(key, func() (any, error) {
		if c := ix.lookup(key); c != nil {
			return c, nil
		}
		c, err := ix.build(buildCtx, key, refs)
		if err != nil {
			return nil, err
		}
		ix.store(c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Corpus), nil
}

func (ix *Index) lookup(key string) *Corpus {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.corpora[key]
}

func (ix *Index) store(c *Corpus) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.corpora[c.Key] = c
	ix.order = append(ix.order, c.Key)
	for ix.maxCorpora > 0 && len(ix.order) > ix.maxCorpora {
		delete(ix.corpora, ix.order[0])
		ix.order = ix.order[1:]
	}
}

func (ix *Index) build(ctx context.Context, key string, refs []string) (*Corpus, error) {
	start := time.Now()

	passages := make([][]Passage, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.loadConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			p, err := ix.loader.Load(gctx, ref)
			if err != nil {
				return eris.Wrapf(err, "corpus: load %s", ref)
			}
			passages[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var clauses []model.Clause
	tails := make(map[string]int)
	for i, ref := range refs {
		tail := uniqueTail(tails, model.DocumentTail(ref))
		for j, p := range passages[i] {
			clauses = append(clauses, model.Clause{
				ClauseID: model.ClauseIDFor(tail, j+1),
				Content:  p.Content,
				Section:  p.Section,
				Metadata: model.ClauseMetadata{
					Document:    ref,
					Page:        p.Page,
					SectionType: p.SectionType,
				},
			})
		}
	}
	if len(clauses) == 0 {
		return nil, eris.New("corpus: documents produced no clauses")
	}

	c := &Corpus{
		Key:       key,
		Documents: refs,
		BuiltAt:   time.Now().UTC(),
		clauses:   clauses,
	}
	elapsed := time.Since(start)
	ix.builds.Add(1)

	zap.L().Info("corpus built",
		zap.String("key", key),
		zap.Int("documents", len(refs)),
		zap.Int("clauses", len(clauses)),
		zap.Duration("elapsed", elapsed),
	)
	if ix.onBuild != nil {
		ix.onBuild(c, elapsed)
	}
	return c, nil
}

// uniqueTail disambiguates references that share a last path segment.
func uniqueTail(seen map[string]int, tail string) string {
	seen[tail]++
	if n := seen[tail]; n > 1 {
		return fmt.Sprintf("%s~%d", tail, n)
	}
	return tail
}

// uniqueRefs trims references and drops blanks and duplicates, keeping
// first-seen order.
func uniqueRefs(docs []string) []string {
	seen := make(map[string]bool, len(docs))
	refs := make([]string, 0, len(docs))
	for _, d := range docs {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		refs = append(refs, d)
	}
	return refs
}

// SetKey identifies a document set independent of order.
func SetKey(refs []string) string {
	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:12])
}
