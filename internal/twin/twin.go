// Package twin is an in-memory stand-in for the two services the client
// talks to: the identity provider and the game backend.
//
// It is not a mock. It keeps real state (accounts with bcrypt password
// hashes, signed ID tokens, refresh tokens, wallets, played games) so the
// client can be driven end to end on a laptop or in tests without network
// access. State lives only as long as the process.
package twin

import (
	"cmp"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/sakif/keno-client/internal/auth"
)

// Config tunes the simulated economy.
type Config struct {
	StartingBalance int
	TimeBonus       int
	BonusInterval   time.Duration
	// Seed fixes the draw sequence; 0 seeds from the clock.
	Seed int64
	// Now replaces time.Now in tests.
	Now func() time.Time
}

type account struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	DisplayName  string `json:"displayName"`
	ProviderID   string `json:"providerId"`
}

type player struct {
	UserID        int       `json:"userId"`
	LocalID       string    `json:"localId"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	EmailsEnabled bool      `json:"enableEmails"`
	Balance       int       `json:"balance"`
	TimeBonus     int       `json:"timeBonus"`
	NextTimeBonus time.Time `json:"nextTimeBonusUTC"`
}

type game struct {
	ID        int    `json:"gameId"`
	LocalID   string `json:"localId"`
	Win       int    `json:"win"`
	Completed bool   `json:"completed"`
}

// Twin is safe for concurrent use.
type Twin struct {
	cfg       Config
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	accounts   map[string]*account // by localID
	byEmail    map[string]string   // email → localID
	byIdp      map[string]string   // providerID:subject → localID
	refresh    map[string]string   // refresh token → localID
	players    map[string]*player  // by localID
	sessions   map[int]string      // session id → localID
	games      map[int]*game
	purchases  map[string]bool // purchase tokens already credited
	outbox     []string        // password reset mails
	nextUser   int
	nextSess   int
	nextGameID int
}

func New(cfg Config, tokens *auth.TokenService, passwords *auth.PasswordService, logger *slog.Logger) *Twin {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BonusInterval <= 0 {
		cfg.BonusInterval = 4 * time.Hour
	}
	t := &Twin{
		cfg:       cfg,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
	t.Reset()
	return t
}

// Reset drops all state.
func (t *Twin) Reset() {
	seed := t.cfg.Seed
	if seed == 0 {
		seed = t.cfg.Now().UnixNano()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	t.accounts = make(map[string]*account)
	t.byEmail = make(map[string]string)
	t.byIdp = make(map[string]string)
	t.refresh = make(map[string]string)
	t.players = make(map[string]*player)
	t.sessions = make(map[int]string)
	t.games = make(map[int]*game)
	t.purchases = make(map[string]bool)
	t.outbox = nil
	t.nextUser = 0
	t.nextSess = 0
	t.nextGameID = 0
}

// Snapshot is the admin view of the twin's state.
type Snapshot struct {
	Accounts []account `json:"accounts"`
	Players  []player  `json:"players"`
	Sessions int       `json:"sessions"`
	Games    []game    `json:"games"`
	Outbox   []string  `json:"outbox"`
}

func (t *Twin) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Snapshot
	for _, a := range t.accounts {
		s.Accounts = append(s.Accounts, *a)
	}
	for _, p := range t.players {
		s.Players = append(s.Players, *p)
	}
	for _, g := range t.games {
		s.Games = append(s.Games, *g)
	}
	slices.SortFunc(s.Accounts, func(a, b account) int { return cmp.Compare(a.LocalID, b.LocalID) })
	slices.SortFunc(s.Players, func(a, b player) int { return cmp.Compare(a.UserID, b.UserID) })
	slices.SortFunc(s.Games, func(a, b game) int { return cmp.Compare(a.ID, b.ID) })
	s.Sessions = len(t.sessions)
	s.Outbox = append([]string(nil), t.outbox...)
	return s
}

func (t *Twin) now() time.Time {
	return t.cfg.Now().UTC()
}
