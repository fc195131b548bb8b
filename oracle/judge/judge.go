// Package judge adapts an external generative AI judge to the ledger's
// verdict contract. One request attempt per invocation, strict schema
// validation of the reply, and a deterministic fallback that routes the
// heist to manual review instead of settling on garbage.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"

	"github.com/Jaden-Nix/reputation-heist/forensic"
	"github.com/Jaden-Nix/reputation-heist/heist"
	"github.com/Jaden-Nix/reputation-heist/oracle/ethos"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// Adapter calls the generative judge and always folds the forensic signal
// into the returned verdict, fallback or not.
type Adapter struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
	log      slog.Logger

	forensics *forensic.Evaluator
	identity  *ethos.Client
}

// New wires the adapter. endpoint may be empty for the default Gemini API;
// identity may be nil to skip the trust context in prompts.
func New(apiKey, model, endpoint string, timeout time.Duration, forensics *forensic.Evaluator, identity *ethos.Client, log slog.Logger) *Adapter {
	if model == "" {
		model = "gemini-pro"
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf(defaultEndpoint, model)
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		apiKey:    apiKey,
		model:     model,
		endpoint:  endpoint,
		http:      &http.Client{Timeout: timeout},
		log:       log,
		forensics: forensics,
		identity:  identity,
	}
}

// Gemini generateContent wire shapes, reduced to what we read.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// rawVerdict is the strict reply schema expected inside the model output.
type rawVerdict struct {
	ScoreBalls     *int   `json:"score_balls"`
	ScoreExecution *int   `json:"score_execution"`
	ScoreChaos     *int   `json:"score_chaos"`
	Confidence     *int   `json:"confidence_score"`
	VerdictText    string `json:"verdict_text"`
	Mood           string `json:"mood"`
	WinnerIsP1     *bool  `json:"winner_is_p1"`
}

// Judge renders a verdict for one proof submission. It never returns an
// error for oracle unavailability; the fallback verdict stands in and the
// caller routes it to escrow.
func (a *Adapter) Judge(ctx context.Context, req heist.JudgeRequest) (heist.Verdict, error) {
	fr := a.forensics.Evaluate(req.P1, req.P2, req.Dare)

	v, err := a.ask(ctx, req, fr)
	if err != nil {
		a.log.Warnf("judge: heist %d oracle failure, substituting fallback: %v", req.HeistID, err)
		v = heist.FallbackVerdict()
	}
	mergeForensics(&v, fr)
	return v, nil
}

func (a *Adapter) ask(ctx context.Context, req heist.JudgeRequest, fr forensic.Result) (heist.Verdict, error) {
	prompt := a.buildPrompt(ctx, req, fr)

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return heist.Verdict{}, fmt.Errorf("marshal request: %w", err)
	}

	url := a.endpoint + "?key=" + a.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return heist.Verdict{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return heist.Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return heist.Verdict{}, fmt.Errorf("judge replied %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return heist.Verdict{}, fmt.Errorf("decode response: %w", err)
	}
	if len(gen.Candidates) == 0 || len(gen.Candidates[0].Content.Parts) == 0 {
		return heist.Verdict{}, fmt.Errorf("empty candidates")
	}
	text := gen.Candidates[0].Content.Parts[0].Text

	obj, ok := firstBalancedJSON(text)
	if !ok {
		return heist.Verdict{}, fmt.Errorf("no JSON object in reply")
	}
	var raw rawVerdict
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return heist.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	return validate(raw)
}

// validate treats any schema violation uniformly as oracle failure.
func validate(raw rawVerdict) (heist.Verdict, error) {
	score := func(name string, p *int) (int, error) {
		if p == nil || *p < 1 || *p > 10 {
			return 0, fmt.Errorf("bad %s", name)
		}
		return *p, nil
	}
	sb, err := score("score_balls", raw.ScoreBalls)
	if err != nil {
		return heist.Verdict{}, err
	}
	se, err := score("score_execution", raw.ScoreExecution)
	if err != nil {
		return heist.Verdict{}, err
	}
	sc, err := score("score_chaos", raw.ScoreChaos)
	if err != nil {
		return heist.Verdict{}, err
	}
	if raw.Confidence == nil || *raw.Confidence < 0 || *raw.Confidence > 100 {
		return heist.Verdict{}, fmt.Errorf("bad confidence_score")
	}
	if raw.WinnerIsP1 == nil {
		return heist.Verdict{}, fmt.Errorf("missing winner_is_p1")
	}
	if strings.TrimSpace(raw.VerdictText) == "" {
		return heist.Verdict{}, fmt.Errorf("empty verdict_text")
	}
	mood := heist.Mood(raw.Mood)
	switch mood {
	case heist.MoodBrutal, heist.MoodImpressed, heist.MoodNeutral, heist.MoodDisappointed:
	default:
		return heist.Verdict{}, fmt.Errorf("bad mood %q", raw.Mood)
	}

	return heist.Verdict{
		ScoreBalls:     sb,
		ScoreExecution: se,
		ScoreChaos:     sc,
		Confidence:     *raw.Confidence,
		Text:           raw.VerdictText,
		Mood:           mood,
		WinnerIsP1:     *raw.WinnerIsP1,
	}, nil
}

func mergeForensics(v *heist.Verdict, fr forensic.Result) {
	v.IntegrityScore = fr.IntegrityScore
	v.TrivialDare = fr.TrivialDare
	v.CollusionSuspected = fr.CollusionSuspected
	v.InteractionCount = fr.InteractionCount
	v.XPReward = fr.XPReward
	v.XPSlash = fr.XPSlash
}

func (a *Adapter) buildPrompt(ctx context.Context, req heist.JudgeRequest, fr forensic.Result) string {
	var sb strings.Builder
	sb.WriteString(`You are the "Heist Master", a chaotic, cynical, but fair AI judge of reputation bets.

A user has submitted a proof URL for a dare.
`)
	fmt.Fprintf(&sb, "Dare: %q\nProof URL: %q\n", req.Dare, req.ProofURL)
	if req.IsVow {
		sb.WriteString("This is a Vow: the challenger committed to the dare themself. Judge leniently on audacity, strictly on completion.\n")
	}
	fmt.Fprintf(&sb, "\nForensic context: integrity score %d/100", fr.IntegrityScore)
	if fr.TrivialDare {
		sb.WriteString(", dare flagged as trivial - be harsh")
	}
	if fr.CollusionSuspected {
		fmt.Fprintf(&sb, ", collusion suspected (%d recent interactions between these two) - be suspicious", fr.InteractionCount)
	}
	sb.WriteString(".\n")

	if a.identity != nil {
		p1 := a.identity.Profile(ctx, req.P1)
		p2 := a.identity.Profile(ctx, req.P2)
		fmt.Fprintf(&sb, "Challenger credibility: %d (verified=%t). Daredevil credibility: %d (verified=%t).\n",
			p1.Score, p1.IsVerified, p2.Score, p2.IsVerified)
	}

	sb.WriteString(`
Infer from the proof URL text whether the dare was completed. If it is ambiguous, lean harsh.

Respond strictly in this JSON format:
{
    "score_balls": number (1-10),
    "score_execution": number (1-10),
    "score_chaos": number (1-10),
    "confidence_score": number (0-100, how sure you are; below 80 triggers manual review),
    "verdict_text": "A short, punchy, 1-2 sentence verdict.",
    "mood": "brutal" | "impressed" | "neutral" | "disappointed",
    "winner_is_p1": boolean (true if the challenger wins because the dare was NOT completed convincingly; false if the daredevil completed it and wins)
}
`)
	return sb.String()
}
