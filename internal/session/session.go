// Package session implements the cosmetic access gate and per-session viewer
// state. A session exists only after the gate is passed; the token lives in a
// cookie without Max-Age, so it dies with the browsing session, and the
// server side expires from an LRU with TTL. This is not a security boundary.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dotplot-sc/server/internal/selection"
)

// State is the viewer state owned by one session. The selection mutators are
// serialized so concurrent requests on the same session stay consistent.
type State struct {
	mu  sync.Mutex
	sel *selection.Set
}

func newState() *State {
	return &State{sel: selection.New()}
}

// AddGene adds a gene to the session's selection.
func (s *State) AddGene(gene string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.Add(gene)
}

// RemoveGene removes a gene from the session's selection.
func (s *State) RemoveGene(gene string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.Remove(gene)
}

// ClearGenes empties the session's selection.
func (s *State) ClearGenes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Clear()
}

// Genes returns the selected genes in insertion order.
func (s *State) Genes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.Genes()
}

// Config contains session store settings.
type Config struct {
	// PasswordSHA256 is the hex SHA-256 digest of the gate password.
	// Empty leaves the gate open.
	PasswordSHA256 string
	TTL            time.Duration
	MaxSessions    int
}

// Store holds active sessions keyed by opaque token.
type Store struct {
	cfg      Config
	sessions *expirable.LRU[string, *State]
}

// NewStore creates a session store.
func NewStore(cfg Config) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 4096
	}
	return &Store{
		cfg:      cfg,
		sessions: expirable.NewLRU[string, *State](cfg.MaxSessions, nil, cfg.TTL),
	}
}

// GateOpen reports whether the gate accepts any password.
func (s *Store) GateOpen() bool {
	return s.cfg.PasswordSHA256 == ""
}

// CheckPassword compares the SHA-256 digest of password against the
// configured digest in constant time.
func (s *Store) CheckPassword(password string) bool {
	if s.GateOpen() {
		return true
	}
	sum := sha256.Sum256([]byte(password))
	digest := hex.EncodeToString(sum[:])
	want := strings.ToLower(s.cfg.PasswordSHA256)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(want)) == 1
}

// Authenticate checks the password and, on success, creates a session and
// returns its token.
func (s *Store) Authenticate(password string) (string, bool) {
	if !s.CheckPassword(password) {
		return "", false
	}
	return s.Create(), true
}

// Create creates a new session unconditionally and returns its token.
// Used when the gate is open.
func (s *Store) Create() string {
	token := newToken()
	s.sessions.Add(token, newState())
	return token
}

// Get returns the session state for token, if the session is still live.
func (s *Store) Get(token string) (*State, bool) {
	return s.sessions.Get(token)
}

// Delete removes the session for token.
func (s *Store) Delete(token string) {
	s.sessions.Remove(token)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

func newToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
