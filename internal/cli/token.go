package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crvs/internal/identity"
	id "crvs/pkg/domain"
)

type TokenOptions struct {
	*RootOptions
	Practitioner string
	Office       string
	TTL          time.Duration
}

// TokenResult is a signed bearer credential for local testing.
type TokenResult struct {
	Practitioner id.PractitionerID `json:"practitioner"`
	Token        string            `json:"token"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

func (r TokenResult) String() string {
	return r.Token
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a practitioner",
		Long: `Sign an access token with JWT_SIGNING_KEY, JWT_ISSUER and JWT_AUDIENCE.
Intended for local runs and end-to-end tests; deployed environments obtain
tokens from the registry's identity provider.

Examples:
  export TOKEN=$(workflowctl token)
  workflowctl token --practitioner 2b0e... --office lusaka-central --ttl 8h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Practitioner, "practitioner", "", "practitioner id (random when empty)")
	cmd.Flags().StringVar(&opts.Office, "office", "", "registration office claim")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	cfg, err := opts.env.Config()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.TTL <= 0 {
		return NewExitError(ExitCommandError, "--ttl must be positive")
	}
	raw := opts.Practitioner
	if raw == "" {
		raw = uuid.NewString()
	}
	practitioner, err := id.ParsePractitionerID(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid practitioner id", err)
	}

	token, err := identity.NewJWTResolver(cfg.Auth).Issue(practitioner, opts.Office, opts.TTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sign token", err)
	}
	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "issuer=%s audience=%s\n", cfg.Auth.Issuer, cfg.Auth.Audience)
	}
	return opts.formatter(cmd).Success(TokenResult{
		Practitioner: practitioner,
		Token:        token,
		ExpiresAt:    time.Now().Add(opts.TTL).UTC().Truncate(time.Second),
	})
}
