// Command gen-token signs HS256 bearer tokens accepted by the API when it
// runs with AUTH0_TEST_MODE.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type tokenOptions struct {
	secret   string
	audience string
	issuer   string
	ttl      time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	opts := tokenOptions{secret: os.Getenv("TEST_JWT_SECRET"), audience: os.Getenv("AUTH0_AUDIENCE")}
	var count int

	cmd := &cobra.Command{
		Use:          "gen-token [user-id]",
		Short:        "Print test bearer tokens, one per line",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("count must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return errors.New("explicit user ID cannot be combined with --count")
			}
			for i := 0; i < count; i++ {
				userID := "dev-user"
				switch {
				case len(args) > 0:
					userID = args[0]
				case count > 1:
					userID = fmt.Sprintf("dev-user-%d", i+1)
				}
				tok, err := signToken(userID, opts, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&opts.secret, "secret", opts.secret, "HS256 signing secret")
	cmd.Flags().StringVar(&opts.audience, "audience", opts.audience, "aud claim, empty to omit")
	cmd.Flags().StringVar(&opts.issuer, "issuer", "", "iss claim, empty to omit")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func signToken(userID string, opts tokenOptions, now time.Time) (string, error) {
	if opts.secret == "" {
		return "", errors.New("TEST_JWT_SECRET or --secret is required")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(opts.ttl).Unix(),
	}
	if opts.audience != "" {
		claims["aud"] = opts.audience
	}
	if opts.issuer != "" {
		claims["iss"] = opts.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.secret))
}
