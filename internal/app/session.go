package app

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/config"
)

type sessionSummary struct {
	Present   bool       `json:"present"`
	UserID    string     `json:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Remaining string     `json:"remaining,omitempty"`
	Expired   bool       `json:"expired,omitempty"`
}

func newSessionCommand(load func() (config.Config, error)) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the persisted device session",
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted session without its tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			persister, err := sessionPersister(cfg.Auth)
			if err != nil {
				return err
			}
			if persister == nil {
				return errors.New("session secret is not configured; nothing is persisted")
			}

			summary := sessionSummary{}
			session, err := persister.Load(cmd.Context())
			switch {
			case errors.Is(err, auth.ErrNoSession):
			case err != nil:
				return err
			default:
				expires := session.ExpiresAt.UTC()
				remaining := session.Remaining(time.Now())
				summary = sessionSummary{
					Present:   true,
					UserID:    session.UserID,
					ExpiresAt: &expires,
					Expired:   remaining <= 0,
				}
				if remaining > 0 {
					summary.Remaining = remaining.Round(time.Second).String()
				}
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(summary)
		},
	})

	return sessionCmd
}
