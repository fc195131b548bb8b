// Package client is a thin typed client over the heistd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"

	"github.com/Jaden-Nix/reputation-heist/heist"
)

// Cfg configures a HeistClient.
type Cfg struct {
	// ServerAddr is the base URL of the heistd API, e.g. http://localhost:8888.
	ServerAddr string
	Timeout    time.Duration
	Log        slog.Logger
	// HTTPClient overrides the transport, used by tests.
	HTTPClient *http.Client
}

type HeistClient struct {
	base string
	hc   *http.Client
	log  slog.Logger
}

func NewHeistClient(cfg *Cfg) (*HeistClient, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("client must have logger")
	}
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("client must have server address")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			// Proof submission blocks through judging, so leave
			// headroom above the server's judge timeout.
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HeistClient{
		base: strings.TrimRight(cfg.ServerAddr, "/"),
		hc:   hc,
		log:  cfg.Log,
	}, nil
}

// apiError is returned for any non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *HeistClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.log.Debugf("%s %s", method, path)
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var er struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			msg = er.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateHeistArgs mirrors the create endpoint. Opponent empty means an open
// bounty; Opponent equal to Creator declares a vow.
type CreateHeistArgs struct {
	Creator  string `json:"creator"`
	Opponent string `json:"opponent,omitempty"`
	Dare     string `json:"dare"`
	Category string `json:"category,omitempty"`
	Bounty   string `json:"bounty"`
	StakeRep int64  `json:"stake_rep"`
	Duration string `json:"duration,omitempty"`
}

func (c *HeistClient) CreateHeist(ctx context.Context, args CreateHeistArgs) (*heist.Heist, error) {
	var h heist.Heist
	if err := c.do(ctx, http.MethodPost, "/heists", args, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HeistClient) GetHeist(ctx context.Context, id uint64) (*heist.Heist, error) {
	var h heist.Heist
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/heists/%d", id), nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HeistClient) ListHeists(ctx context.Context, status heist.Status) ([]*heist.Heist, error) {
	path := "/heists"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var hs []*heist.Heist
	if err := c.do(ctx, http.MethodGet, path, nil, &hs); err != nil {
		return nil, err
	}
	return hs, nil
}

func (c *HeistClient) JoinHeist(ctx context.Context, id uint64, joiner string) (*heist.Heist, error) {
	var h heist.Heist
	in := struct {
		Joiner string `json:"joiner"`
	}{joiner}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/heists/%d/join", id), in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HeistClient) PlaceBet(ctx context.Context, id uint64, bettor string, supportsP1 bool, amount decimal.Decimal) (*heist.Bet, error) {
	var b heist.Bet
	in := struct {
		Bettor     string `json:"bettor"`
		SupportsP1 bool   `json:"supports_p1"`
		Amount     string `json:"amount"`
	}{bettor, supportsP1, amount.String()}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/heists/%d/bets", id), in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *HeistClient) ListBets(ctx context.Context, id uint64) ([]*heist.Bet, error) {
	var bs []*heist.Bet
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/heists/%d/bets", id), nil, &bs); err != nil {
		return nil, err
	}
	return bs, nil
}

// SubmitProof blocks until the heist is judged and either settled or parked
// in escrow; the returned heist carries the rendered verdict.
func (c *HeistClient) SubmitProof(ctx context.Context, id uint64, submitter, proofURL string) (*heist.Heist, error) {
	var h heist.Heist
	in := struct {
		Submitter string `json:"submitter"`
		ProofURL  string `json:"proof_url"`
	}{submitter, proofURL}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/heists/%d/proof", id), in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HeistClient) Dispute(ctx context.Context, id uint64, party string) (*heist.Heist, error) {
	var h heist.Heist
	in := struct {
		Party string `json:"party"`
	}{party}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/heists/%d/dispute", id), in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HeistClient) ResolveDispute(ctx context.Context, id uint64, winnerIsP1 bool, verdict string) (*heist.Heist, error) {
	var h heist.Heist
	in := struct {
		WinnerIsP1 bool   `json:"winner_is_p1"`
		Verdict    string `json:"verdict,omitempty"`
	}{winnerIsP1, verdict}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/heists/%d/resolve", id), in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HeistClient) ClaimWinnings(ctx context.Context, id uint64, claimant string) (decimal.Decimal, error) {
	var out struct {
		HeistID uint64 `json:"heist_id"`
		Amount  string `json:"amount"`
	}
	in := struct {
		Claimant string `json:"claimant"`
	}{claimant}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/heists/%d/claim", id), in, &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.Amount)
}

// LeaderboardEntry is one row of the reputation leaderboard.
type LeaderboardEntry struct {
	Address string `json:"address"`
	Rep     int64  `json:"rep"`
}

func (c *HeistClient) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	if err := c.do(ctx, http.MethodGet, "/leaderboard", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ServerStatus reports daemon identity and aggregate counters.
type ServerStatus struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Backend   string `json:"backend"`
	Heists    int    `json:"heists"`
	HouseTake string `json:"house_take"`
}

func (c *HeistClient) Status(ctx context.Context) (*ServerStatus, error) {
	var st ServerStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
