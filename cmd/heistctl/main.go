// heistctl is a command line front end for the heistd HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"

	"github.com/Jaden-Nix/reputation-heist/client"
	"github.com/Jaden-Nix/reputation-heist/heist"
)

const usage = `usage: heistctl [-server addr] <command> [args]

commands:
  create  -creator A [-opponent B] -dare D -bounty N [-stake N] [-category C] [-duration 24h]
  get     <id>
  list    [status]
  join    <id> <joiner>
  bet     <id> <bettor> <p1|p2> <amount>
  bets    <id>
  proof   <id> <submitter> <url>
  dispute <id> <party>
  resolve <id> <p1|p2> [verdict text]
  claim   <id> <claimant>
  leaderboard
  status
`

func dump(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad heist id %q", s)
	}
	return id, nil
}

func realMain() error {
	serverAddr := flag.String("server", "http://localhost:8888", "heistd base URL")
	debugLevel := flag.String("debuglevel", "warn", "log level")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	backend := slog.NewBackend(os.Stderr)
	log := backend.Logger("CTL")
	if lvl, ok := slog.LevelFromString(*debugLevel); ok {
		log.SetLevel(lvl)
	}

	c, err := client.NewHeistClient(&client.Cfg{ServerAddr: *serverAddr, Log: log})
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		creator := fs.String("creator", "", "creator address")
		opponent := fs.String("opponent", "", "opponent address, empty for open bounty")
		dare := fs.String("dare", "", "dare text")
		bounty := fs.String("bounty", "", "bounty in ETH")
		stake := fs.Int64("stake", 0, "reputation stake required of the joiner")
		category := fs.String("category", "", "dare category")
		duration := fs.String("duration", "", "time limit, e.g. 24h")
		_ = fs.Parse(args[1:])
		h, err := c.CreateHeist(ctx, client.CreateHeistArgs{
			Creator:  *creator,
			Opponent: *opponent,
			Dare:     *dare,
			Category: *category,
			Bounty:   *bounty,
			StakeRep: *stake,
			Duration: *duration,
		})
		if err != nil {
			return err
		}
		dump(h)

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: heistctl get <id>")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		h, err := c.GetHeist(ctx, id)
		if err != nil {
			return err
		}
		dump(h)

	case "list":
		var status heist.Status
		if len(args) > 1 {
			status = heist.Status(args[1])
		}
		hs, err := c.ListHeists(ctx, status)
		if err != nil {
			return err
		}
		dump(hs)

	case "join":
		if len(args) != 3 {
			return fmt.Errorf("usage: heistctl join <id> <joiner>")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		h, err := c.JoinHeist(ctx, id, args[2])
		if err != nil {
			return err
		}
		dump(h)

	case "bet":
		if len(args) != 5 {
			return fmt.Errorf("usage: heistctl bet <id> <bettor> <p1|p2> <amount>")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		amt, err := decimal.NewFromString(args[4])
		if err != nil {
			return fmt.Errorf("bad amount %q", args[4])
		}
		b, err := c.PlaceBet(ctx, id, args[2], args[3] == "p1", amt)
		if err != nil {
			return err
		}
		dump(b)

	case "bets":
		if len(args) != 2 {
			return fmt.Errorf("usage: heistctl bets <id>")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		bs, err := c.ListBets(ctx, id)
		if err != nil {
			return err
		}
		dump(bs)

	case "proof":
		if len(args) != 4 {
			return fmt.Errorf("usage: heistctl proof <id> <submitter> <url>")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		h, err := c.SubmitProof(ctx, id, args[2], args[3])
		if err != nil {
			return err
		}
		dump(h)

	case "dispute":
		if len(args) != 3 {
			return fmt.Errorf("usage: heistctl dispute <id> <party>")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		h, err := c.Dispute(ctx, id, args[2])
		if err != nil {
			return err
		}
		dump(h)

	case "resolve":
		if len(args) < 3 {
			return fmt.Errorf("usage: heistctl resolve <id> <p1|p2> [verdict]")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		verdict := ""
		if len(args) > 3 {
			verdict = args[3]
		}
		h, err := c.ResolveDispute(ctx, id, args[2] == "p1", verdict)
		if err != nil {
			return err
		}
		dump(h)

	case "claim":
		if len(args) != 3 {
			return fmt.Errorf("usage: heistctl claim <id> <claimant>")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		amt, err := c.ClaimWinnings(ctx, id, args[2])
		if err != nil {
			return err
		}
		fmt.Printf("claimed %s\n", amt.String())

	case "leaderboard":
		entries, err := c.Leaderboard(ctx)
		if err != nil {
			return err
		}
		dump(entries)

	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		dump(st)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
