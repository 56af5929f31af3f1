package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
)

type options struct {
	secret   string
	issuer   string
	clientID string
	role     string
	ttl      time.Duration
	asJSON   bool
}

type issuedToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Role      string    `json:"role,omitempty"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.secret, "secret", "", "HMAC secret (fallback: OMS_JWT_SECRET)")
	fs.StringVar(&opts.issuer, "issuer", "", "token issuer (fallback: OMS_JWT_ISSUER, default "+auth.DefaultIssuer+")")
	fs.StringVar(&opts.clientID, "client-id", "", "client id placed into sub")
	fs.StringVar(&opts.role, "role", "", "optional role, e.g. admin")
	fs.DurationVar(&opts.ttl, "ttl", auth.DefaultTTL, "token lifetime")
	fs.BoolVar(&opts.asJSON, "json", false, "print token with claims as JSON")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(opts.secret) == "" {
		opts.secret = getenv("OMS_JWT_SECRET")
	}
	if strings.TrimSpace(opts.issuer) == "" {
		opts.issuer = getenv("OMS_JWT_ISSUER")
	}
	if strings.TrimSpace(opts.clientID) == "" {
		return options{}, errors.New("client-id is required")
	}
	if opts.ttl <= 0 {
		return options{}, errors.New("ttl must be > 0")
	}
	return opts, nil
}

func issue(opts options) (issuedToken, error) {
	manager, err := auth.NewManager(auth.Config{
		Secret: opts.secret,
		Issuer: opts.issuer,
		TTL:    opts.ttl,
	}, nil)
	if err != nil {
		return issuedToken{}, err
	}

	token, claims, err := manager.Issue(opts.clientID, opts.role)
	if err != nil {
		return issuedToken{}, err
	}
	return issuedToken{
		Token:     token,
		ClientID:  claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func write(out io.Writer, token issuedToken, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(out, token.Token)
		return err
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(token)
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	token, err := issue(opts)
	if err != nil {
		fail("issue token: %v", err)
	}
	if err := write(os.Stdout, token, opts.asJSON); err != nil {
		fail("write token: %v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
