package auction

import (
	"time"

	"github.com/luxfi/confidential"
)

// BidPlaced is emitted after a bid is admitted. It names the bidder
// and the time, never the bid amount.
type BidPlaced struct {
	Bidder confidential.Principal
	At     time.Time
}

// AuctionEnded is emitted when the auction closes.
type AuctionEnded struct {
	Winner confidential.Principal
	At     time.Time
}

// Sink receives auction events. Implementations must not block.
type Sink interface {
	BidPlaced(BidPlaced)
	AuctionEnded(AuctionEnded)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) BidPlaced(BidPlaced) {}

func (NopSink) AuctionEnded(AuctionEnded) {}

// ChanSink forwards events to a buffered channel, dropping them when
// the channel is full.
type ChanSink struct {
	C chan any
}

// NewChanSink creates a sink buffering up to size events.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{C: make(chan any, size)}
}

func (s *ChanSink) BidPlaced(e BidPlaced) { s.send(e) }

func (s *ChanSink) AuctionEnded(e AuctionEnded) { s.send(e) }

func (s *ChanSink) send(e any) {
	select {
	case s.C <- e:
	default:
	}
}
