// Command devtoken mints bearer tokens for local testing.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"rollcall/internal/auth"
	"rollcall/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		subject string
		role    string
		asJSON  bool
	)
	flagSet := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	flagSet.StringVar(&subject, "sub", "", "lecturer or student id the token is issued to")
	flagSet.StringVar(&role, "role", string(auth.RoleLecturer), "LECTURER or STUDENT")
	flagSet.BoolVar(&asJSON, "json", false, "print both tokens and expiries as JSON")
	ttl := flagSet.Duration("ttl", 0, "access token lifetime (default ACCESS_TTL)")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if subject == "" {
		return fmt.Errorf("--sub is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	accessTTL := cfg.AccessTTL
	if *ttl > 0 {
		accessTTL = *ttl
	}

	pair, err := auth.Issue(subject, auth.Role(strings.ToUpper(role)), cfg.JWTIssuer, cfg.JWTSigningKey, accessTTL, cfg.RefreshTTL)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pair)
	}
	fmt.Println(pair.AccessToken)
	return nil
}
