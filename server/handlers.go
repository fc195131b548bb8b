package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jaden-Nix/reputation-heist/heist"
)

// routes registers the HTTP API.
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/heists", s.handleHeists)
	mux.HandleFunc("/heists/", s.handleHeistByID)
	mux.HandleFunc("/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/status", s.handleStatus)
}

// Handler returns the full API handler, used by tests and by Run.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeErr maps the ledger error taxonomy onto HTTP status codes. Oracle
// failures never reach here; they are absorbed into fallback verdicts.
func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, heist.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, heist.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, heist.ErrNotJoinable),
		errors.Is(err, heist.ErrNotBettable),
		errors.Is(err, heist.ErrNotSubmittable),
		errors.Is(err, heist.ErrNotSettleable),
		errors.Is(err, heist.ErrNotDisputable),
		errors.Is(err, heist.ErrNotSettled),
		errors.Is(err, heist.ErrAlreadyJoined),
		errors.Is(err, heist.ErrAlreadySettled),
		errors.Is(err, heist.ErrAlreadyClaimed),
		errors.Is(err, heist.ErrInsufficientRep):
		code = http.StatusConflict
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

type createHeistRequest struct {
	Creator  string `json:"creator"`
	Opponent string `json:"opponent,omitempty"`
	Dare     string `json:"dare"`
	Category string `json:"category,omitempty"`
	Bounty   string `json:"bounty"`
	StakeRep int64  `json:"stake_rep"`
	Duration string `json:"duration,omitempty"`
}

func (s *Server) handleHeists(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := heist.Status(r.URL.Query().Get("status"))
		heists := s.ledger.List(status)
		sort.Slice(heists, func(i, j int) bool { return heists[i].ID < heists[j].ID })
		writeJSON(w, http.StatusOK, heists)

	case http.MethodPost:
		var req createHeistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, fmt.Errorf("%w: %v", heist.ErrInvalidInput, err))
			return
		}
		bounty, err := decimal.NewFromString(req.Bounty)
		if err != nil {
			writeErr(w, fmt.Errorf("%w: bad bounty %q", heist.ErrInvalidInput, req.Bounty))
			return
		}
		var duration time.Duration
		if req.Duration != "" {
			duration, err = time.ParseDuration(req.Duration)
			if err != nil || duration < 0 {
				writeErr(w, fmt.Errorf("%w: bad duration %q", heist.ErrInvalidInput, req.Duration))
				return
			}
		}

		if err := s.gateParticipants(r, req.Creator, req.Opponent); err != nil {
			writeErr(w, err)
			return
		}

		id, err := s.ledger.Create(r.Context(), req.Creator, req.Opponent, req.Dare,
			req.Category, bounty, req.StakeRep, duration)
		if err != nil {
			writeErr(w, err)
			return
		}
		h, err := s.ledger.Get(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, h)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// gateParticipants enforces the attestation gate and seeds the reputation
// book from oracle scores. The oracle is a soft dependency: with gating off
// or the oracle unconfigured this is a no-op.
func (s *Server) gateParticipants(r *http.Request, p1, p2 string) error {
	if s.ethos == nil {
		return nil
	}
	if a, err := heist.NormalizeAddress(p1); err == nil {
		s.ledger.Rep().Seed(a, s.ethos.Profile(r.Context(), a).Score)
	}
	if p2 != "" {
		if a, err := heist.NormalizeAddress(p2); err == nil && a != heist.ZeroAddress {
			s.ledger.Rep().Seed(a, s.ethos.Profile(r.Context(), a).Score)
		}
	}
	if !s.cfg.RequireAttestation {
		return nil
	}
	if p2 == "" {
		p2 = heist.ZeroAddress
	}
	res := s.ethos.ValidateParticipants(r.Context(), p1, p2)
	if !res.Valid {
		return fmt.Errorf("%w: %s", heist.ErrInvalidInput, res.Reason)
	}
	return nil
}

type joinRequest struct {
	Joiner string `json:"joiner"`
}

type betRequest struct {
	Bettor     string `json:"bettor"`
	SupportsP1 bool   `json:"supports_p1"`
	Amount     string `json:"amount"`
}

type proofRequest struct {
	Submitter string `json:"submitter"`
	ProofURL  string `json:"proof_url"`
}

type disputeRequest struct {
	Party string `json:"party"`
}

type resolveRequest struct {
	WinnerIsP1 bool   `json:"winner_is_p1"`
	Verdict    string `json:"verdict,omitempty"`
}

type claimRequest struct {
	Claimant string `json:"claimant"`
}

type claimResponse struct {
	HeistID uint64 `json:"heist_id"`
	Amount  string `json:"amount"`
}

// handleHeistByID routes /heists/{id} and /heists/{id}/{action}.
func (s *Server) handleHeistByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/heists/")
	parts := strings.SplitN(rest, "/", 2)
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: bad heist id %q", heist.ErrInvalidInput, parts[0]))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h, err := s.ledger.Get(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
		return
	}

	if r.Method != http.MethodPost && !(parts[1] == "bets" && r.Method == http.MethodGet) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "join":
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, fmt.Errorf("%w: %v", heist.ErrInvalidInput, err))
			return
		}
		if err := s.gateParticipants(r, req.Joiner, ""); err != nil {
			writeErr(w, err)
			return
		}
		if err := s.ledger.Join(r.Context(), id, req.Joiner); err != nil {
			writeErr(w, err)
			return
		}
		s.respondWithHeist(w, id)

	case "bets":
		if r.Method == http.MethodGet {
			bets, err := s.ledger.Bets(id)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, bets)
			return
		}
		var req betRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, fmt.Errorf("%w: %v", heist.ErrInvalidInput, err))
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeErr(w, fmt.Errorf("%w: bad amount %q", heist.ErrInvalidInput, req.Amount))
			return
		}
		bet, err := s.ledger.PlaceBet(r.Context(), id, req.Bettor, req.SupportsP1, amount)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, bet)

	case "proof":
		var req proofRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, fmt.Errorf("%w: %v", heist.ErrInvalidInput, err))
			return
		}
		// Blocks through the judging call; the fallback verdict bounds
		// the wait to the judge timeout.
		if err := s.ledger.SubmitProof(r.Context(), id, req.Submitter, req.ProofURL); err != nil {
			writeErr(w, err)
			return
		}
		s.respondWithHeist(w, id)

	case "dispute":
		var req disputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, fmt.Errorf("%w: %v", heist.ErrInvalidInput, err))
			return
		}
		if err := s.ledger.Dispute(r.Context(), id, req.Party); err != nil {
			writeErr(w, err)
			return
		}
		s.respondWithHeist(w, id)

	case "resolve":
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, fmt.Errorf("%w: %v", heist.ErrInvalidInput, err))
			return
		}
		if err := s.ledger.ResolveDispute(r.Context(), id, req.WinnerIsP1, req.Verdict); err != nil {
			writeErr(w, err)
			return
		}
		s.respondWithHeist(w, id)

	case "claim":
		var req claimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, fmt.Errorf("%w: %v", heist.ErrInvalidInput, err))
			return
		}
		amt, err := s.ledger.ClaimWinnings(r.Context(), id, req.Claimant)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, claimResponse{HeistID: id, Amount: amt.String()})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) respondWithHeist(w http.ResponseWriter, id uint64) {
	h, err := s.ledger.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type leaderboardEntry struct {
	Address string `json:"address"`
	Rep     int64  `json:"rep"`
}

// handleLeaderboard backs the hall-of-fame view: every known address sorted
// by reputation.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.ledger.Rep().Snapshot()
	entries := make([]leaderboardEntry, 0, len(snap))
	for addr, rep := range snap {
		entries = append(entries, leaderboardEntry{Address: addr, Rep: rep})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rep == entries[j].Rep {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].Rep > entries[j].Rep
	})
	writeJSON(w, http.StatusOK, entries)
}

type statusResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Backend   string `json:"backend"`
	Heists    int    `json:"heists"`
	HouseTake string `json:"house_take"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	backend := s.cfg.Backend
	if backend == "" {
		backend = "bolt"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Name:      name,
		Version:   version,
		Backend:   backend,
		Heists:    len(s.ledger.List("")),
		HouseTake: s.ledger.HouseTake().String(),
	})
}
