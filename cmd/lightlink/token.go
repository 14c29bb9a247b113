package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-lightlink/internal/auth"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/config"
)

// runToken implements "lightlink token": it signs an API access token with
// the configured secret and prints it to out.
//
//	lightlink token -subject wall-panel -role operator -ttl 720h
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. the client name (required)")
	role := fs.String("role", string(auth.RoleViewer), "viewer or operator")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set (set LIGHTLINK_JWT_SECRET)")
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
