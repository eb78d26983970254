// Package server exposes a sealed-bid auction over HTTP. It hosts the
// confidential engine, dispatches each request as one serialized call,
// and persists admitted bid material so the auction state can be
// rebuilt.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/confidential"
	"github.com/luxfi/confidential/auction"
	"github.com/luxfi/confidential/internal/store"
)

// Config holds server configuration.
type Config struct {
	Address    string
	Auctioneer confidential.Principal
	CloseTime  time.Time
	BidType    confidential.UintType

	// ProofKey verifies bid proofs. The same key signs envelopes on
	// the /seal endpoint, which exists for development and testing;
	// production deployments sign out-of-process.
	ProofKey []byte

	Store store.Store
	Clock func() time.Time
	Log   log.Logger
}

// Server hosts one auction over the confidential engine.
type Server struct {
	cfg       Config
	backend   *confidential.LocalBackend
	machine   *confidential.Machine
	validator *confidential.Validator
	auction   *auction.Auction
	store     store.Store
}

// New creates a server and opens its auction.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	backend := confidential.NewLocalBackend()
	machine := confidential.NewMachine(backend, cfg.Log)
	validator := confidential.NewValidator(cfg.ProofKey, backend, machine.Registry())

	auc, err := auction.New(context.Background(), machine, validator, auction.Config{
		Auctioneer: cfg.Auctioneer,
		CloseTime:  cfg.CloseTime,
		BidType:    cfg.BidType,
		Clock:      cfg.Clock,
		Log:        cfg.Log,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		backend:   backend,
		machine:   machine,
		validator: validator,
		auction:   auc,
		store:     cfg.Store,
	}, nil
}

// Auction returns the hosted auction.
func (s *Server) Auction() *auction.Auction { return s.auction }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/auction", s.handleAuction)
	mux.HandleFunc("/bid", s.handleBid)
	mux.HandleFunc("/end", s.handleEnd)
	mux.HandleFunc("/winner", s.handleWinner)
	mux.HandleFunc("/mybid", s.handleMyBid)
	mux.HandleFunc("/winning", s.handleWinning)
	mux.HandleFunc("/grant", s.handleGrant)
	mux.HandleFunc("/seal", s.handleSeal)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"state":   s.auction.State().String(),
		"handles": s.machine.Registry().Len(),
	})
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"context": s.auction.Context().String(),
		"record":  s.auction.Record(),
	})
}

// BidRequest carries a proof-carrying encrypted bid.
type BidRequest struct {
	Submitter string `json:"submitter"`
	Material  []byte `json:"material"`
	Proof     []byte `json:"proof"`
}

// BidResponse reports the public outcome of a bid.
type BidResponse struct {
	Leader  string `json:"leader"`
	Bidders int    `json:"bidders"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	submitter, err := confidential.PrincipalFromString(req.Submitter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	env := confidential.ProofEnvelope{
		Submitter: submitter,
		Context:   s.auction.Context(),
		Material:  req.Material,
		Proof:     req.Proof,
	}
	if err := s.auction.PlaceBid(r.Context(), env); err != nil {
		writeError(w, err)
		return
	}

	// Admitted material is durable application state.
	if h, err := s.auction.MyBid(submitter); err == nil {
		if err := s.store.Put(r.Context(), h.String(), req.Material); err != nil && s.cfg.Log != nil {
			s.cfg.Log.Debug("persist bid material", log.Err(err))
		}
	}

	rec := s.auction.Record()
	resp := BidResponse{Bidders: rec.Bidders}
	if rec.LeadingBidder != nil {
		resp.Leader = rec.LeadingBidder.String()
	}
	writeJSON(w, resp)
}

// EndRequest identifies the caller asking to close the auction.
type EndRequest struct {
	Requester string `json:"requester"`
}

// handleEnd trusts the requester field as the caller's identity. The
// server stands in for a trusted host; production deployments
// authenticate callers out-of-process.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	requester, err := confidential.PrincipalFromString(req.Requester)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if requester != s.cfg.Auctioneer {
		writeError(w, confidential.ErrAccessDenied)
		return
	}

	if err := s.auction.End(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.auction.Record())
}

func (s *Server) handleWinner(w http.ResponseWriter, r *http.Request) {
	winner, amount, err := s.auction.WinningBid(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"winner": winner.String(),
		"amount": amount,
	})
}

// handleMyBid trusts the principal query parameter as the caller's
// identity; see handleEnd for the trust model.
func (s *Server) handleMyBid(w http.ResponseWriter, r *http.Request) {
	p, err := confidential.PrincipalFromString(r.URL.Query().Get("principal"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h, err := s.auction.MyBid(p)
	if err != nil {
		writeError(w, err)
		return
	}

	// The bidder holds a persistent grant on their own bid.
	value, err := s.machine.Decrypt(h, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"handle": h.String(),
		"value":  value,
	})
}

// handleWinning trusts the principal query parameter as the caller's
// identity; see handleEnd for the trust model.
func (s *Server) handleWinning(w http.ResponseWriter, r *http.Request) {
	p, err := confidential.PrincipalFromString(r.URL.Query().Get("principal"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"winning": s.auction.AmIWinning(p)})
}

// GrantRequest asks the auctioneer to extend view rights on the
// winning bid.
type GrantRequest struct {
	Requester string `json:"requester"`
	Viewer    string `json:"viewer"`
}

// handleGrant trusts the requester field as the caller's identity; see
// handleEnd for the trust model.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	requester, err := confidential.PrincipalFromString(req.Requester)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	viewer, err := confidential.PrincipalFromString(req.Viewer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.auction.GrantView(r.Context(), requester, viewer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"granted": viewer.String()})
}

// SealRequest asks for a signed bid envelope. Development helper.
type SealRequest struct {
	Submitter string `json:"submitter"`
	Value     uint64 `json:"value"`
	Nonce     uint64 `json:"nonce"`
}

// SealResponse carries the material and proof to submit on /bid.
type SealResponse struct {
	Material []byte `json:"material"`
	Proof    []byte `json:"proof"`
	Context  string `json:"context"`
}

func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req SealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	submitter, err := confidential.PrincipalFromString(req.Submitter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Nonces start at 1; 0 can never pass the validator's freshness
	// check, so refuse to mint an envelope that is dead on arrival.
	if req.Nonce == 0 {
		http.Error(w, "nonce must be at least 1", http.StatusBadRequest)
		return
	}

	material, err := confidential.Seal(req.Value, s.bidType())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	env := confidential.SignEnvelope(s.cfg.ProofKey, submitter, s.auction.Context(), material, req.Nonce)

	writeJSON(w, SealResponse{
		Material: env.Material,
		Proof:    env.Proof,
		Context:  env.Context.String(),
	})
}

func (s *Server) bidType() confidential.UintType {
	if s.cfg.BidType.Numeric() {
		return s.cfg.BidType
	}
	return confidential.Uint64
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, confidential.ErrAccessDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, confidential.ErrReplayedProof),
		errors.Is(err, auction.ErrAlreadyClosed),
		errors.Is(err, auction.ErrAuctionClosed),
		errors.Is(err, auction.ErrAuctionActive),
		errors.Is(err, auction.ErrNotClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, confidential.ErrMalformedCiphertext),
		errors.Is(err, confidential.ErrInvalidProof),
		errors.Is(err, confidential.ErrProofCountMismatch),
		errors.Is(err, confidential.ErrInvalidRecipient):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, confidential.ErrUnknownHandle),
		errors.Is(err, auction.ErrNoBid),
		errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
