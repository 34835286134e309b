package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"peerlend/crypto"
	"peerlend/native/lending"
	"peerlend/services/lendingd/server"
)

const (
	poolIDCommand    = "pool-id"
	tokenCommand     = "token"
	exportCommand    = "export"
	defaultSecretEnv = "LENDINGD_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case poolIDCommand:
		err = runPoolID(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case exportCommand:
		err = runExport(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: lendctl <command> [flags]\n\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  %-8s derive a pool id from lender and token pair\n", poolIDCommand)
	fmt.Fprintf(os.Stderr, "  %-8s sign a development bearer token for lendingd\n", tokenCommand)
	fmt.Fprintf(os.Stderr, "  %-8s dump pools and loans from a data directory\n", exportCommand)
}

func runPoolID(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(poolIDCommand, flag.ContinueOnError)
	lender := fs.String("lender", "", "Lender address")
	loanToken := fs.String("loan-token", "", "Loan token address")
	collateralToken := fs.String("collateral-token", "", "Collateral token address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var addrs [3][20]byte
	for i, value := range []string{*lender, *loanToken, *collateralToken} {
		addr, err := crypto.ParseAddress(value)
		if err != nil {
			return fmt.Errorf("%s: %w", []string{"lender", "loan-token", "collateral-token"}[i], err)
		}
		addrs[i] = addr
	}
	fmt.Fprintln(out, lending.PoolIDFor(addrs[0], addrs[1], addrs[2]).String())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("subject", "", "Caller address placed in the token subject")
	issuer := fs.String("issuer", "peerlend", "Token issuer; must match lendingd auth.issuer")
	audience := fs.String("audience", "", "Comma-separated audiences")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the HS256 secret")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	secret, err := readSecret(*secretEnv)
	if err != nil {
		return err
	}
	var aud []string
	for _, part := range strings.Split(*audience, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			aud = append(aud, trimmed)
		}
	}
	token, err := server.IssueToken(secret, *issuer, addr, aud, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
