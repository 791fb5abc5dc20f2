// Package resolver resolves I2P host names to destinations with SAM
// NAMING LOOKUP and caches the answers for a bounded time.
package resolver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/destination"
	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
	"github.com/go-i2p/gemini-sam-proxy/lib/samclient"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// Default cache parameters.
const (
	DefaultCacheSize = 256
	DefaultTTL       = 10 * time.Minute
)

// Lookup results reported to a Recorder.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultSkip  = "skip"
	ResultError = "error"
)

// ErrEmptyHost is returned for an empty host name.
var ErrEmptyHost = errors.New("empty host name")

// Lookuper performs NAMING LOOKUP. *samclient.Client implements it.
type Lookuper interface {
	NamingLookup(name string) (*samclient.NamingResult, *protocol.Command, error)
}

// Recorder counts lookup results. May be nil.
type Recorder interface {
	RecordLookup(result string)
}

// Entry is one resolved name.
type Entry struct {
	// Name is the host name as requested, lowercased.
	Name string
	// Destination is the Base64 public destination.
	Destination string
	// B32 is the destination's .b32.i2p address, or "" if it could not
	// be derived.
	B32 string
}

// Resolver caches NAMING LOOKUP answers. Safe for concurrent use.
type Resolver struct {
	cache *expirable.LRU[string, Entry]
	log   logrus.FieldLogger
	rec   Recorder
}

// New returns a Resolver holding at most size names for ttl each.
// Non-positive values select the defaults.
func New(size int, ttl time.Duration, log logrus.FieldLogger, rec Recorder) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{
		cache: expirable.NewLRU[string, Entry](size, nil, ttl),
		log:   log,
		rec:   rec,
	}
}

// Resolve returns the value to pass as DESTINATION= for host.
// Base32 addresses are returned unchanged without a lookup; other names
// are answered from the cache or looked up on conn.
func (r *Resolver) Resolve(conn Lookuper, host string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(host))
	if name == "" {
		return "", ErrEmptyHost
	}
	if destination.IsB32Address(name) {
		r.record(ResultSkip)
		return host, nil
	}

	if entry, ok := r.cache.Get(name); ok {
		r.record(ResultHit)
		return entry.Destination, nil
	}

	result, _, err := conn.NamingLookup(name)
	if err != nil {
		r.record(ResultError)
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if result.Value == "" {
		r.record(ResultError)
		return "", fmt.Errorf("resolve %s: %w", name, destination.ErrInvalidDestination)
	}

	entry := Entry{Name: name, Destination: result.Value}
	if b32, err := destination.B32Address(result.Value); err == nil {
		entry.B32 = b32
	} else {
		r.log.WithError(err).WithField("host", name).Debug("Cannot derive b32 address")
	}
	r.cache.Add(name, entry)
	r.record(ResultMiss)

	r.log.WithFields(logrus.Fields{
		"host": name,
		"b32":  entry.B32,
	}).Debug("Resolved I2P name")
	return entry.Destination, nil
}

// Lookup returns the cached entry for host without contacting the bridge.
func (r *Resolver) Lookup(host string) (Entry, bool) {
	return r.cache.Peek(strings.ToLower(strings.TrimSpace(host)))
}

// Len returns the number of cached names.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// Purge drops every cached name.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

func (r *Resolver) record(result string) {
	if r.rec != nil {
		r.rec.RecordLookup(result)
	}
}
