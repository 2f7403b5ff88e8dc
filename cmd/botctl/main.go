// botctl is the operator CLI for the credit ledger: balances, grants,
// deductions and transaction history, straight against the configured store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Zimbwa03/nerdx-bot/internal/config"
	"github.com/Zimbwa03/nerdx-bot/internal/ledger"
	ledgerpg "github.com/Zimbwa03/nerdx-bot/internal/ledger/postgres"
	ledgersqlite "github.com/Zimbwa03/nerdx-bot/internal/ledger/sqlite"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: botctl [flags] <command> [args]

Commands:
  balance <user>                   show a user's credit balance
  grant <user> <amount> <reason>   credit a user's account
  deduct <user> <amount> <reason>  debit a user's account
  history <user> [limit]           show recent transactions
  open <user> <opening-balance>    create an account (idempotent)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()
	root := flag.String("root", ".", "config root directory")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*root)
	if err != nil {
		fatal("load config: %v", err)
	}

	var store ledger.Store
	switch cfg.LedgerDriver {
	case "postgres":
		store, err = ledgerpg.New(cfg.LedgerDSN, 4, 2)
	default:
		store, err = ledgersqlite.New(cfg.LedgerPath)
	}
	if err != nil {
		fatal("open ledger store: %v", err)
	}
	defer store.Close()

	led := ledger.New(store, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, led, args); err != nil {
		fatal("%v", err)
	}
}

func run(ctx context.Context, led *ledger.Ledger, args []string) error {
	switch cmd := args[0]; cmd {
	case "balance":
		if len(args) != 2 {
			return errors.New("usage: botctl balance <user>")
		}
		balance, err := led.GetBalance(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d credits\n", args[1], balance)
		return nil

	case "grant", "deduct":
		if len(args) != 4 {
			return fmt.Errorf("usage: botctl %s <user> <amount> <reason>", cmd)
		}
		amount, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || amount <= 0 {
			return fmt.Errorf("amount must be a positive integer, got %q", args[2])
		}
		user, reason := args[1], args[3]
		if cmd == "grant" {
			if _, err := led.Add(ctx, user, amount, reason); err != nil {
				return err
			}
		} else {
			ok, err := led.Deduct(ctx, user, amount, reason)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("insufficient balance to deduct %d", amount)
			}
		}
		balance, err := led.GetBalance(ctx, user)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d credits\n", user, balance)
		return nil

	case "history":
		if len(args) < 2 || len(args) > 3 {
			return errors.New("usage: botctl history <user> [limit]")
		}
		limit := 10
		if len(args) == 3 {
			parsed, err := strconv.Atoi(args[2])
			if err != nil || parsed <= 0 {
				return fmt.Errorf("limit must be a positive integer, got %q", args[2])
			}
			limit = parsed
		}
		txns, err := led.ListRecent(ctx, args[1], limit)
		if err != nil {
			return err
		}
		if len(txns) == 0 {
			fmt.Println("no transactions")
			return nil
		}
		for _, txn := range txns {
			fmt.Printf("%s  %+5d  %-12s  %-11s  %s\n",
				txn.CreatedAt.Format(time.RFC3339), txn.Delta, txn.ActionKey, txn.Status, txn.ID)
		}
		return nil

	case "open":
		if len(args) != 3 {
			return errors.New("usage: botctl open <user> <opening-balance>")
		}
		opening, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || opening < 0 {
			return fmt.Errorf("opening balance must be a non-negative integer, got %q", args[2])
		}
		if err := led.CreateAccount(ctx, args[1], opening); err != nil {
			return err
		}
		balance, err := led.GetBalance(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d credits\n", args[1], balance)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "botctl: "+format+"\n", args...)
	os.Exit(1)
}
