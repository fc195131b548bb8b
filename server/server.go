package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"

	"github.com/Jaden-Nix/reputation-heist/forensic"
	"github.com/Jaden-Nix/reputation-heist/heist"
	"github.com/Jaden-Nix/reputation-heist/oracle/ethos"
	"github.com/Jaden-Nix/reputation-heist/oracle/judge"
	"github.com/Jaden-Nix/reputation-heist/server/heistdb"
)

const (
	name    = "heistd"
	version = "v0.1.0"
)

// Config carries everything the daemon needs; loaded by cmd/heistd and
// passed explicitly.
type Config struct {
	ServerDir string
	HTTPPort  string

	// Backend selects the persistence implementation: "bolt" or "mem".
	Backend string

	// Judging oracle.
	JudgeAPIKey   string
	JudgeModel    string
	JudgeEndpoint string
	JudgeTimeout  time.Duration

	// Identity oracle. Empty EthosURL disables attestation gating.
	EthosURL           string
	RequireAttestation bool

	// Settlement policy. Zero values take the ledger defaults.
	ConfidenceThreshold int
	HouseFeePct         int64
	ListingFee          decimal.Decimal
	ReviewWindow        time.Duration

	SweepInterval time.Duration

	Log       slog.Logger
	OracleLog slog.Logger
	LedgerLog slog.Logger
}

// Server wires the ledger, the oracles and the persistence facade behind an
// HTTP API, and runs the background sweeps.
type Server struct {
	log slog.Logger
	cfg Config

	db      heistdb.HeistDB
	ledger  *heist.Ledger
	ethos   *ethos.Client
	sweeper *sweeper

	httpServer *http.Server
}

// NewServer opens the selected backend, rehydrates the ledger and prepares
// the HTTP API. Run starts serving.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("log is nil")
	}

	var db heistdb.HeistDB
	var err error
	switch cfg.Backend {
	case "", "bolt":
		db, err = heistdb.NewBoltDB(filepath.Join(cfg.ServerDir, "heists.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	case "mem":
		db = heistdb.NewMemDB()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	var identity *ethos.Client
	if cfg.EthosURL != "" {
		identity = ethos.NewClient(cfg.EthosURL, 0, cfg.OracleLog, nil)
	}

	forensics := forensic.NewEvaluator(nil, nil)
	judgeOracle := judge.New(cfg.JudgeAPIKey, cfg.JudgeModel, cfg.JudgeEndpoint,
		cfg.JudgeTimeout, forensics, identity, cfg.OracleLog)

	ledger := heist.NewLedger(heist.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		HouseFeePct:         cfg.HouseFeePct,
		ListingFee:          cfg.ListingFee,
		ReviewWindow:        cfg.ReviewWindow,
		JudgeTimeout:        cfg.JudgeTimeout,
	}, judgeOracle, db, heist.NewRepBook(), cfg.LedgerLog, nil)

	s := &Server{
		log:    cfg.Log,
		cfg:    cfg,
		db:     db,
		ledger: ledger,
		ethos:  identity,
	}

	if err := s.rehydrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	s.sweeper = newSweeper(cfg.Log, ledger, forensics, cfg.SweepInterval)

	if cfg.HTTPPort != "" {
		mux := http.NewServeMux()
		s.routes(mux)
		s.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
			Handler: mux,
		}
	}

	return s, nil
}

// rehydrate reloads every stored heist into the ledger so active wagers
// survive restarts.
func (s *Server) rehydrate(ctx context.Context) error {
	heists, err := s.db.ListHeists(ctx, heistdb.Filter{})
	if err != nil {
		return fmt.Errorf("failed to list stored heists: %w", err)
	}
	for _, h := range heists {
		bets, err := s.db.ListBets(ctx, h.ID)
		if err != nil {
			return fmt.Errorf("failed to list bets for heist %d: %w", h.ID, err)
		}
		s.ledger.Restore(h, bets)
	}
	maxID, err := s.db.MaxHeistID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read max heist id: %w", err)
	}
	s.ledger.ResumeFrom(maxID)
	if len(heists) > 0 {
		s.log.Infof("Rehydrated %d heists from %s backend", len(heists), s.cfg.Backend)
	}
	return nil
}

// Ledger exposes the state machine, mainly for tests.
func (s *Server) Ledger() *heist.Ledger { return s.ledger }

// Run serves until ctx is cancelled, then shuts down cleanly.
func (s *Server) Run(ctx context.Context) error {
	go s.sweeper.run(ctx)

	if s.httpServer != nil {
		go func() {
			s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Errorf("HTTP server error: %v", err)
			}
		}()
	}

	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(sctx)
}

// Shutdown stops the HTTP server and closes the database last, after all
// in-flight operations finished.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sweeper.stop()

	if s.httpServer != nil {
		s.log.Info("Shutting down HTTP server...")
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Errorf("Error shutting down HTTP server: %v", err)
		}
	}

	s.log.Info("Closing database...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing database: %v", err)
	}

	s.log.Info("Server shut down completed.")
	return nil
}
