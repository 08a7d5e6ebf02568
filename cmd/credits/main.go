package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"jobengine/internal/adapter/repo"
	"jobengine/internal/domain"
	"jobengine/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		userFlag    string
		grantFlag   int64
		openFlag    int64
		balanceFlag bool
	)
	flag.StringVar(&userFlag, "user", "", "user ID (the JWT subject)")
	flag.Int64Var(&grantFlag, "grant", 0, "credits to add to the user's balance")
	flag.Int64Var(&openFlag, "open", -1, "open the account with this starting balance if it does not exist")
	flag.BoolVar(&balanceFlag, "balance", false, "print the current balance only")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if grantFlag < 0 {
		exitWithError(errors.New("-grant must not be negative"))
	}
	if !balanceFlag && grantFlag == 0 && openFlag < 0 {
		exitWithError(errors.New("nothing to do: pass -grant, -open or -balance"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL")).With().Str("cmd", "credits").Logger()
	ledger := repo.NewLedger(infra.NewSQLRunner(pool, logger))

	if openFlag >= 0 {
		acct, err := ledger.OpenAccount(ctx, userID, openFlag)
		if err != nil {
			exitWithError(fmt.Errorf("failed to open account: %w", err))
		}
		fmt.Printf("account %s ready with balance %d\n", acct.UserID, acct.Balance)
	}

	if grantFlag > 0 {
		acct, err := ledger.Grant(ctx, userID, grantFlag)
		if errors.Is(err, domain.ErrAccountNotFound) {
			exitWithError(fmt.Errorf("user %s has no credit account; pass -open 0 to create it", userID))
		}
		if err != nil {
			exitWithError(fmt.Errorf("failed to grant credits: %w", err))
		}
		fmt.Printf("granted %d credits to %s, balance now %d\n", grantFlag, acct.UserID, acct.Balance)
	}

	if balanceFlag {
		balance, err := ledger.Balance(ctx, userID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to load balance: %w", err))
		}
		fmt.Printf("balance=%d\n", balance)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
