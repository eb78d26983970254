// Package auction implements a sealed-bid auction on top of the
// confidential engine. Bid amounts stay encrypted for the whole life
// of the auction; only the identity of the current leading bidder is
// public, and the winning amount is revealed once, after close, to
// principals the auctioneer chooses.
package auction

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/confidential"
)

// State is the auction lifecycle phase.
type State uint8

const (
	Open State = iota
	Closed
	Revealed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Revealed:
		return "revealed"
	default:
		return "unknown"
	}
}

var (
	ErrAuctionClosed = errors.New("auction closed")
	ErrAuctionActive = errors.New("auction still active")
	ErrAlreadyClosed = errors.New("auction already closed")
	ErrNotClosed     = errors.New("auction not closed yet")
	ErrNoBid         = errors.New("no bid")
)

// Config parameterizes a new auction.
type Config struct {
	// Auctioneer may end the auction and extend view permissions on
	// the winning bid.
	Auctioneer confidential.Principal

	// CloseTime is the wall-clock gate: bids are rejected at or after
	// it, and the auction cannot be ended before it.
	CloseTime time.Time

	// BidType is the encrypted integer type bids must carry.
	// Defaults to euint64.
	BidType confidential.UintType

	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time

	// Events receives lifecycle events. Defaults to NopSink.
	Events Sink

	// Log may be nil.
	Log log.Logger
}

// Auction is the sealed-bid auction state machine. Every mutating
// method runs as one serialized, transactional call against the
// underlying machine, matching the single-writer-per-call model of
// the engine. Read accessors take the auction's own lock so a host
// may serve them concurrently with calls in flight.
type Auction struct {
	machine   *confidential.Machine
	validator *confidential.Validator
	cfg       Config
	context   ids.ID

	// mu guards the record fields below. Mutating methods hold it for
	// the whole call body; accessors hold it for reads.
	mu sync.RWMutex

	state         State
	leadingBid    confidential.Handle
	leadingBidder confidential.Principal
	hasBid        bool
	bids          map[confidential.Principal]confidential.Handle

	winner       confidential.Principal
	winningBid   uint64
	revealCached bool
}

// New opens an auction. The leading bid starts as an encrypted zero
// that only the engine itself may decrypt, so the first real bid
// always takes the lead.
func New(ctx context.Context, m *confidential.Machine, v *confidential.Validator, cfg Config) (*Auction, error) {
	if !cfg.BidType.Valid() || !cfg.BidType.Numeric() {
		cfg.BidType = confidential.Uint64
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Events == nil {
		cfg.Events = NopSink{}
	}

	a := &Auction{
		machine:   m,
		validator: v,
		cfg:       cfg,
		context:   deriveContext(cfg.Auctioneer, cfg.CloseTime),
		bids:      make(map[confidential.Principal]confidential.Handle),
	}

	err := m.RunCall(ctx, func(m *confidential.Machine) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		zero, err := m.EncryptTrivial(0, cfg.BidType)
		if err != nil {
			return err
		}
		if err := m.Grant(zero, confidential.Self, confidential.Persistent); err != nil {
			return err
		}
		a.leadingBid = zero
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cfg.Log != nil {
		cfg.Log.Info("auction opened",
			log.Stringer("context", a.context),
			log.Stringer("auctioneer", cfg.Auctioneer),
		)
	}
	return a, nil
}

func deriveContext(auctioneer confidential.Principal, closeTime time.Time) ids.ID {
	h := sha256.New()
	h.Write([]byte("confidential.auction"))
	h.Write(auctioneer[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(closeTime.Unix()))
	h.Write(ts[:])
	return ids.ID(h.Sum(nil))
}

// Context returns the proof context bidders must bind their envelopes
// to. A proof minted for one auction does not validate on another.
func (a *Auction) Context() ids.ID { return a.context }

// State returns the current lifecycle phase.
func (a *Auction) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// LeadingBidder returns the public identity of the current leading
// bidder and whether any bid has been placed.
func (a *Auction) LeadingBidder() (confidential.Principal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.leadingBidder, a.hasBid
}

// LeadingBid returns the handle of the current leading bid. The handle
// is opaque; decrypting it still requires a grant (see GrantView).
func (a *Auction) LeadingBid() confidential.Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.leadingBid
}

// PlaceBid admits a proof-carrying encrypted bid from env.Submitter.
// The bid amount is compared against the current leading bid entirely
// in ciphertext-space; the only plaintext the engine learns is the
// ordering boolean, which carries no magnitude information. The
// bidder receives a persistent grant on their own stored bid.
func (a *Auction) PlaceBid(ctx context.Context, env confidential.ProofEnvelope) error {
	return a.machine.RunCall(ctx, func(m *confidential.Machine) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		now := a.cfg.Clock()
		if a.state != Open || !now.Before(a.cfg.CloseTime) {
			return ErrAuctionClosed
		}

		bid, err := a.validator.Admit(a.context, env, a.cfg.BidType)
		if err != nil {
			return err
		}
		if err := m.Grant(bid, env.Submitter, confidential.Persistent); err != nil {
			return err
		}

		isHigher, err := m.Gt(bid, a.leadingBid)
		if err != nil {
			return err
		}
		// The ordering boolean is decrypted under a transient grant
		// to update the public leading-bidder identity. The amounts
		// themselves are never decrypted here.
		if err := m.Grant(isHigher, confidential.Self, confidential.Transient); err != nil {
			return err
		}
		higher, err := m.DecryptBool(isHigher, confidential.Self)
		if err != nil {
			return err
		}

		newLeading, err := m.Select(isHigher, bid, a.leadingBid)
		if err != nil {
			return err
		}
		if err := m.Grant(newLeading, confidential.Self, confidential.Persistent); err != nil {
			return err
		}

		a.bids[env.Submitter] = bid
		a.leadingBid = newLeading
		a.hasBid = true
		if higher {
			a.leadingBidder = env.Submitter
		}

		if a.cfg.Log != nil {
			a.cfg.Log.Debug("bid placed",
				log.Stringer("bidder", env.Submitter),
				log.Stringer("leader", a.leadingBidder),
			)
		}
		a.cfg.Events.BidPlaced(BidPlaced{Bidder: env.Submitter, At: now})
		return nil
	})
}

// End closes the auction. It fails with ErrAuctionActive before the
// close time and with ErrAlreadyClosed on a second call.
func (a *Auction) End(ctx context.Context) error {
	return a.machine.RunCall(ctx, func(*confidential.Machine) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.state != Open {
			return ErrAlreadyClosed
		}
		now := a.cfg.Clock()
		if now.Before(a.cfg.CloseTime) {
			return ErrAuctionActive
		}

		a.state = Closed
		a.winner = a.leadingBidder
		if a.cfg.Log != nil {
			a.cfg.Log.Info("auction ended", log.Stringer("winner", a.winner))
		}
		a.cfg.Events.AuctionEnded(AuctionEnded{Winner: a.winner, At: now})
		return nil
	})
}

// WinningBid reveals the winner and the winning amount. The leading
// bid is decrypted exactly once; the plaintext is cached and later
// reads are served from the cache without touching the evaluator.
func (a *Auction) WinningBid(ctx context.Context) (confidential.Principal, uint64, error) {
	var winner confidential.Principal
	var amount uint64
	err := a.machine.RunCall(ctx, func(m *confidential.Machine) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.state == Open {
			return ErrNotClosed
		}
		if !a.hasBid {
			return ErrNoBid
		}
		if !a.revealCached {
			v, err := m.Decrypt(a.leadingBid, confidential.Self)
			if err != nil {
				return err
			}
			a.winningBid = v
			a.revealCached = true
			a.state = Revealed
		}
		winner = a.winner
		amount = a.winningBid
		return nil
	})
	return winner, amount, err
}

// MyBid returns the handle of p's stored bid. The bidder holds a
// persistent grant on it and may decrypt it at any time.
func (a *Auction) MyBid(p confidential.Principal) (confidential.Handle, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h, ok := a.bids[p]
	if !ok {
		return confidential.Handle{}, ErrNoBid
	}
	return h, nil
}

// AmIWinning reports whether p is the current leading bidder. Before
// close this is a live answer; after close it names the winner.
func (a *Auction) AmIWinning(p confidential.Principal) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hasBid && p == a.leadingBidder
}

// GrantView extends a persistent decryption grant on the winning-bid
// handle to viewer. Only the auctioneer may do this, and only after
// the auction has closed.
func (a *Auction) GrantView(ctx context.Context, requester, viewer confidential.Principal) error {
	return a.machine.RunCall(ctx, func(m *confidential.Machine) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if requester != a.cfg.Auctioneer {
			return confidential.ErrAccessDenied
		}
		if a.state == Open {
			return ErrNotClosed
		}
		return m.Grant(a.leadingBid, viewer, confidential.Persistent)
	})
}

// Record is a plain snapshot of the auction's public state, suitable
// for persistence or inspection. It never carries bid plaintext
// before reveal.
type Record struct {
	State         string                  `json:"state"`
	Auctioneer    confidential.Principal  `json:"auctioneer"`
	CloseTime     time.Time               `json:"closeTime"`
	LeadingBidder *confidential.Principal `json:"leadingBidder,omitempty"`
	Bidders       int                     `json:"bidders"`
	WinningBid    *uint64                 `json:"winningBid,omitempty"`
}

// Record snapshots the auction's public state.
func (a *Auction) Record() Record {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r := Record{
		State:      a.state.String(),
		Auctioneer: a.cfg.Auctioneer,
		CloseTime:  a.cfg.CloseTime,
		Bidders:    len(a.bids),
	}
	if a.hasBid {
		leader := a.leadingBidder
		r.LeadingBidder = &leader
	}
	if a.revealCached {
		v := a.winningBid
		r.WinningBid = &v
	}
	return r
}
