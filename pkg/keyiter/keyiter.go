// Package keyiter produces the lazy sequence of pagination keys to request
// for one (source, category) pipeline and decides termination. Three
// policies exist: alphabet buckets (a..z plus one symbol bucket), numeric
// page indices, and a single sentinel key for bulk-dump sources.
//
// Iterators are pull-based and strictly sequential: the driver asks for the
// next key, fetches it, then reports the page outcome through Observe before
// asking again. Termination of the numeric policy depends on that feedback
// (short page, or two consecutive byte-identical pages). Follow-up keys
// discovered mid-page (e.g. "show all" links) are fed back through Push so
// termination and rate limiting stay in one place.
package keyiter

import (
	"crypto/sha256"
	"strconv"
	"strings"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
)

// Key is an opaque per-source cursor value: a letter bucket, a decimal page
// index, or the sentinel for non-paginated sources.
type Key = string

// Sentinel is the key used for single-shot sources, which fetch exactly once.
const Sentinel Key = "*"

// SymbolBucket collects entries whose leading character is not a letter.
// It is visited after "z".
const SymbolBucket Key = "0"

// PageResult is the driver's feedback for the key most recently returned by
// Next. Failed pages (retries exhausted) advance the iterator rather than
// stalling the category.
type PageResult struct {
	// Records is the number of records extracted from the page.
	Records int
	// Digest identifies the payload bytes, for repeated-content detection.
	Digest [sha256.Size]byte
	// Failed marks a fetch or parse failure; the page contributes nothing
	// to termination decisions.
	Failed bool
}

// Iterator enumerates pagination keys for one (source, category).
// Implementations are not safe for concurrent use; each pipeline owns its
// iterator.
type Iterator interface {
	// Next returns the next key to fetch, or false when the category is done.
	Next() (Key, bool)
	// Observe reports the outcome of the most recently returned key.
	Observe(PageResult)
	// Push appends a dynamically discovered follow-up key. Pushed keys are
	// served after the main sequence and never affect termination.
	Push(key Key)
}

// Options configure iterator construction.
type Options struct {
	// PageSize is the full-page record count for the numeric policy; a page
	// with fewer records terminates the category.
	PageSize int
	// Resume is the last successfully completed key of a previous run;
	// iteration starts after it.
	Resume Key
	// Keys optionally restricts iteration to an explicit selection: a
	// single key, a comma-separated list, or a range ("a-f", "3-12").
	Keys string
}

// New creates an iterator for the given pagination scheme.
func New(scheme config.KeyScheme, opts Options) (Iterator, error) {
	switch scheme {
	case config.KeysAlphabet:
		if opts.Keys != "" {
			keys, err := expandKeys(opts.Keys, validAlphaKey, nil)
			if err != nil {
				return nil, err
			}
			return &staticIterator{keys: keys}, nil
		}
		return newAlphabetIterator(opts.Resume), nil
	case config.KeysPages:
		if opts.PageSize <= 0 {
			return nil, errors.New(errors.ErrorTypeConfig, "numeric-page iterator requires a positive page size")
		}
		if opts.Keys != "" {
			keys, err := expandKeys(opts.Keys, validPageKey, expandNumericRange)
			if err != nil {
				return nil, err
			}
			return &staticIterator{keys: keys}, nil
		}
		return newNumericIterator(opts.PageSize, opts.Resume)
	case config.KeysSingle:
		return &singleIterator{}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown key scheme %q", scheme)
	}
}

// alphabetBuckets is the full key sequence of the alphabet policy:
// a..z plus the symbol bucket, 27 keys in total.
func alphabetBuckets() []Key {
	keys := make([]Key, 0, 27)
	for c := byte('a'); c <= 'z'; c++ {
		keys = append(keys, string(c))
	}
	return append(keys, SymbolBucket)
}

func validAlphaKey(k Key) bool {
	if k == SymbolBucket {
		return true
	}
	return len(k) == 1 && k[0] >= 'a' && k[0] <= 'z'
}

func validPageKey(k Key) bool {
	if k == "" {
		return false
	}
	for i := 0; i < len(k); i++ {
		if k[i] < '0' || k[i] > '9' {
			return false
		}
	}
	return true
}

// expandKeys expands an explicit key selection: "a-f" style ranges when the
// scheme supports them, otherwise comma-separated lists.
func expandKeys(spec string, valid func(Key) bool, numRange func(lo, hi string) []Key) ([]Key, error) {
	if lo, hi, ok := strings.Cut(spec, "-"); ok && !strings.Contains(spec, ",") {
		var keys []Key
		if numRange != nil && validPageKey(lo) && validPageKey(hi) {
			keys = numRange(lo, hi)
		} else if len(lo) == 1 && len(hi) == 1 && lo[0] <= hi[0] {
			for c := lo[0]; c <= hi[0]; c++ {
				keys = append(keys, string(c))
			}
		}
		if keys != nil {
			for _, k := range keys {
				if !valid(k) {
					return nil, errors.Newf(errors.ErrorTypeValidation, "invalid key %q in %q", k, spec)
				}
			}
			return keys, nil
		}
	}

	parts := strings.Split(spec, ",")
	keys := make([]Key, 0, len(parts))
	for _, p := range parts {
		k := strings.TrimSpace(p)
		if !valid(k) {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid key %q in %q", k, spec)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func expandNumericRange(lo, hi string) []Key {
	a, _ := strconv.Atoi(lo)
	b, _ := strconv.Atoi(hi)
	if a > b {
		return nil
	}
	keys := make([]Key, 0, b-a+1)
	for i := a; i <= b; i++ {
		keys = append(keys, strconv.Itoa(i))
	}
	return keys
}

// staticIterator serves a fixed, pre-expanded key list. Used for explicit
// key selections, where the caller decides the bounds and no automatic
// termination applies.
type staticIterator struct {
	keys  []Key
	pos   int
	extra []Key
}

func (it *staticIterator) Next() (Key, bool) {
	if it.pos < len(it.keys) {
		k := it.keys[it.pos]
		it.pos++
		return k, true
	}
	if len(it.extra) > 0 {
		k := it.extra[0]
		it.extra = it.extra[1:]
		return k, true
	}
	return "", false
}

func (it *staticIterator) Observe(PageResult) {}

func (it *staticIterator) Push(key Key) { it.extra = append(it.extra, key) }

// alphabetIterator walks a..z plus the symbol bucket. It is stateless with
// respect to page content (bounded, restartable from any bucket).
type alphabetIterator struct {
	keys  []Key
	pos   int
	extra []Key
}

func newAlphabetIterator(resume Key) *alphabetIterator {
	it := &alphabetIterator{keys: alphabetBuckets()}
	if resume != "" {
		for i, k := range it.keys {
			if k == resume {
				it.pos = i + 1
				break
			}
		}
	}
	return it
}

func (it *alphabetIterator) Next() (Key, bool) {
	if it.pos < len(it.keys) {
		k := it.keys[it.pos]
		it.pos++
		return k, true
	}
	if len(it.extra) > 0 {
		k := it.extra[0]
		it.extra = it.extra[1:]
		return k, true
	}
	return "", false
}

func (it *alphabetIterator) Observe(PageResult) {}

func (it *alphabetIterator) Push(key Key) { it.extra = append(it.extra, key) }

// numericIterator counts pages from 0 and terminates when a page returns
// fewer records than the configured page size, or when two consecutive
// pages are byte-identical (a server echoing its last page).
type numericIterator struct {
	pageSize int
	next     int
	done     bool

	prevDigest [sha256.Size]byte
	havePrev   bool

	pending bool // a key was handed out and not yet observed
	extra   []Key
}

func newNumericIterator(pageSize int, resume Key) (*numericIterator, error) {
	it := &numericIterator{pageSize: pageSize}
	if resume != "" {
		if !validPageKey(resume) {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid resume key %q", resume)
		}
		n, _ := strconv.Atoi(resume)
		it.next = n + 1
	}
	return it, nil
}

func (it *numericIterator) Next() (Key, bool) {
	if !it.done && !it.pending {
		k := strconv.Itoa(it.next)
		it.next++
		it.pending = true
		return k, true
	}
	if it.done && len(it.extra) > 0 {
		k := it.extra[0]
		it.extra = it.extra[1:]
		return k, true
	}
	return "", false
}

func (it *numericIterator) Observe(res PageResult) {
	if !it.pending {
		// follow-up key outcome; never affects termination
		return
	}
	it.pending = false

	if res.Failed {
		// advance past the failed key without a termination decision
		return
	}
	if res.Records < it.pageSize {
		it.done = true
		return
	}
	if it.havePrev && res.Digest == it.prevDigest {
		it.done = true
		return
	}
	it.prevDigest = res.Digest
	it.havePrev = true
}

func (it *numericIterator) Push(key Key) { it.extra = append(it.extra, key) }

// singleIterator yields the sentinel key exactly once; bulk-dump sources
// terminate after one fetch regardless of content.
type singleIterator struct {
	served bool
}

func (it *singleIterator) Next() (Key, bool) {
	if it.served {
		return "", false
	}
	it.served = true
	return Sentinel, true
}

func (it *singleIterator) Observe(PageResult) {}

func (it *singleIterator) Push(Key) {}
