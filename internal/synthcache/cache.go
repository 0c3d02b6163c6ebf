// Package synthcache memoizes narration synthesis by content hash.
package synthcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/logger"
)

// ErrMiss is returned by a Store when the key is absent.
var ErrMiss = errors.New("synthcache: miss")

// Entry is an immutable cached synthesis result.
type Entry struct {
	Audio       []byte
	DurationSec float64
	Provider    string
	// Transient entries are returned to the caller but never stored.
	Transient bool
}

// Store is a content-addressed blob store. Entries are written once per key
// and never mutated.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, e Entry) error
}

// SynthesizeFunc produces the entry on a cache miss.
type SynthesizeFunc func(ctx context.Context) (Entry, error)

// Outcome reports how GetOrSynthesize was served.
type Outcome struct {
	Key string
	Hit bool
	// WriteErr is set when the freshly synthesized entry could not be stored.
	WriteErr error
}

// Cache deduplicates and memoizes synthesis calls.
type Cache struct {
	store Store
	group singleflight.Group
	log   *logger.Logger
}

// New creates a cache over store.
func New(store Store, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{store: store, log: log.WithComponent("synthcache")}
}

// Key derives the cache key of a synthesis request.
func Key(voiceID, text string, pace float64) string {
	h := sha256.New()
	h.Write([]byte(voiceID))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(roundPace(pace), 'f', 3, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText applies NFC and collapses runs of whitespace.
func NormalizeText(text string) string {
	s := norm.NFC.String(text)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func roundPace(pace float64) float64 {
	if pace <= 0 {
		pace = 1
	}
	v, _ := strconv.ParseFloat(strconv.FormatFloat(pace, 'f', 3, 64), 64)
	return v
}

// GetOrSynthesize returns the cached entry for the request or synthesizes,
// stores and returns it. Concurrent callers with the same key share a single
// synthesis, which runs detached from any one caller's cancellation; each
// caller stops waiting when its own ctx is done. Store read failures count
// as misses; write failures are reported on the Outcome and otherwise
// ignored. Transient entries are never stored.
func (c *Cache) GetOrSynthesize(ctx context.Context, voiceID, text string, pace float64, fn SynthesizeFunc) (Entry, Outcome, error) {
	key := Key(voiceID, text, pace)
	out := Outcome{Key: key}

	if e, err := c.store.Get(ctx, key); err == nil {
		out.Hit = true
		return e, out, nil
	} else if !errors.Is(err, ErrMiss) {
		c.log.Warn("cache read failed, treating as miss", "key", key, "error", err.Error())
	}

	type flight struct {
		entry    Entry
		writeErr error
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		e, err := fn(flightCtx)
		if err != nil {
			return nil, err
		}
		if e.Transient {
			return flight{entry: e}, nil
		}
		var werr error
		if err := c.store.Put(flightCtx, key, e); err != nil {
			werr = apperr.WrapWithCode(err, apperr.CodeCacheWriteFailure, "synthcache.put", "cannot store synthesis")
			c.log.Warn("cache write failed", "key", key, "error", err.Error())
		}
		return flight{entry: e, writeErr: werr}, nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, out, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, out, res.Err
		}
		f := res.Val.(flight)
		out.WriteErr = f.writeErr
		return f.entry, out, nil
	}
}
