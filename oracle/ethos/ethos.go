// Package ethos resolves participant addresses to credibility scores and
// social-attestation status. The upstream service is a soft dependency:
// every failure degrades to a neutral profile, never to an error that could
// block a settlement decision.
package ethos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
)

// BaselineScore is the neutral credibility for new or unreachable profiles.
const BaselineScore = int64(1200)

// Profile is the trust view of one address.
type Profile struct {
	Address      string   `json:"address"`
	Score        int64    `json:"score"`
	HasTwitter   bool     `json:"has_twitter"`
	HasFarcaster bool     `json:"has_farcaster"`
	IsVerified   bool     `json:"is_verified"`
	Socials      []string `json:"social_accounts"`
}

// MaxStake is the capped fraction of the score a profile may put at risk.
func (p Profile) MaxStake() int64 {
	return p.Score / 4
}

func neutralProfile(addr string) Profile {
	return Profile{Address: addr, Score: BaselineScore}
}

// Client fetches profiles with a short per-address cache so one settlement
// decision never observes two different reads of the same address.
type Client struct {
	baseURL string
	http    *http.Client
	log     slog.Logger

	cacheTTL time.Duration
	mu       deadlock.Mutex
	cache    map[string]cachedProfile
	now      func() time.Time
}

type cachedProfile struct {
	p  Profile
	at time.Time
}

// NewClient builds a client against an Ethos-style profile API. now may be
// nil for wall-clock time.
func NewClient(baseURL string, timeout time.Duration, log slog.Logger, now func() time.Time) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		log:      log,
		cacheTTL: time.Minute,
		cache:    make(map[string]cachedProfile),
		now:      now,
	}
}

// profilePayload covers the field spellings the upstream API has used for
// attestations across versions.
type profilePayload struct {
	CredibilityScore int64           `json:"credibilityScore"`
	Score            int64           `json:"score"`
	Twitter          json.RawMessage `json:"twitter"`
	XHandle          json.RawMessage `json:"xHandle"`
	Farcaster        json.RawMessage `json:"farcaster"`
	FarcasterHandle  json.RawMessage `json:"farcasterHandle"`
	Attestations     struct {
		Twitter   json.RawMessage `json:"twitter"`
		Farcaster json.RawMessage `json:"farcaster"`
	} `json:"attestations"`
}

func present(raw json.RawMessage) bool {
	s := string(raw)
	return s != "" && s != "null" && s != `""` && s != "false"
}

// Profile resolves one address. Idempotent and cacheable; absence of an
// upstream profile is not an error.
func (c *Client) Profile(ctx context.Context, addr string) Profile {
	c.mu.Lock()
	if e, ok := c.cache[addr]; ok && c.now().Sub(e.at) < c.cacheTTL {
		c.mu.Unlock()
		return e.p
	}
	c.mu.Unlock()

	p := c.fetch(ctx, addr)

	c.mu.Lock()
	c.cache[addr] = cachedProfile{p: p, at: c.now()}
	c.mu.Unlock()
	return p
}

func (c *Client) fetch(ctx context.Context, addr string) Profile {
	url := fmt.Sprintf("%s/api/v2/profiles/%s", c.baseURL, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return neutralProfile(addr)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warnf("ethos: profile %s unreachable, using neutral: %v", addr, err)
		return neutralProfile(addr)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return neutralProfile(addr)
	}

	var raw profilePayload
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		c.log.Warnf("ethos: malformed profile for %s: %v", addr, err)
		return neutralProfile(addr)
	}

	p := Profile{Address: addr}
	p.Score = raw.CredibilityScore
	if p.Score == 0 {
		p.Score = raw.Score
	}
	if p.Score <= 0 {
		p.Score = BaselineScore
	}
	p.HasTwitter = present(raw.Twitter) || present(raw.XHandle) || present(raw.Attestations.Twitter)
	p.HasFarcaster = present(raw.Farcaster) || present(raw.FarcasterHandle) || present(raw.Attestations.Farcaster)
	if p.HasTwitter {
		p.Socials = append(p.Socials, "twitter")
	}
	if p.HasFarcaster {
		p.Socials = append(p.Socials, "farcaster")
	}
	p.IsVerified = p.HasTwitter || p.HasFarcaster
	return p
}

// ValidationResult reports whether a pairing passes the attestation gate.
type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason"`
	P1Verified bool   `json:"p1_verified"`
	P2Verified bool   `json:"p2_verified"`
}

// ValidateParticipants checks both principals' attestations in parallel.
// The zero address marks an open bounty and skips the p2 check.
func (c *Client) ValidateParticipants(ctx context.Context, p1, p2 string) ValidationResult {
	const zeroAddr = "0x0000000000000000000000000000000000000000"

	var prof1, prof2 Profile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prof1 = c.Profile(gctx, p1)
		return nil
	})
	g.Go(func() error {
		prof2 = c.Profile(gctx, p2)
		return nil
	})
	_ = g.Wait()

	openBounty := p2 == zeroAddr
	if !prof1.IsVerified {
		return ValidationResult{
			Reason:     "challenger must have verified social accounts",
			P2Verified: prof2.IsVerified,
		}
	}
	if !openBounty && !prof2.IsVerified {
		return ValidationResult{
			Reason:     "daredevil must have verified social accounts",
			P1Verified: true,
		}
	}
	return ValidationResult{
		Valid:      true,
		Reason:     "both participants verified",
		P1Verified: true,
		P2Verified: openBounty || prof2.IsVerified,
	}
}
