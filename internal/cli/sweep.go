package cli

import (
	"time"

	"classroom-quiz-service/internal/config"
	transport "classroom-quiz-service/internal/transport/http"
	"github.com/spf13/cobra"
)

// NewSweepCmd runs one lifecycle pass; meant to be invoked by cron.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Auto-start and auto-end scheduled sessions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.lifecycle.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("sweep finished", "started", res.Started, "ended", res.Ended, "failed", res.Failed)
			return nil
		},
	}
}

// NewTokenCmd prints a bearer token for a user id, for local testing against the server.
func NewTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			secret := cfg.Auth.Secret
			if secret == "" {
				secret = devSecret
			}
			if ttl == 0 {
				ttl = config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour)
			}
			token, err := transport.NewAuthenticator(secret).Issue(args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.tokenTTL)")
	return cmd
}
