package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/ledger"
)

var (
	errChainBroken = errors.New("audit chain verification failed")
	errDrift       = errors.New("balance projection does not match the ledger")
)

func newVerifyAuditCmd(a *app) *cobra.Command {
	var fromID string

	cmd := &cobra.Command{
		Use:   "verify-audit",
		Short: "Verify the audit hash chain",
		Long:  "Walks the audit log in sequence order and reports the first entry whose link or hash does not match.\nExits non-zero when the chain is broken.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd.Context(), func(l *ledger.Service) error {
				res, err := l.VerifyAuditChain(cmd.Context(), fromID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.OK {
					return errChainBroken
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fromID, "from", "", "Audit entry ID to start from (default: genesis)")
	return cmd
}

func newCheckBalancesCmd(a *app) *cobra.Command {
	var groupID string

	cmd := &cobra.Command{
		Use:   "check-balances",
		Short: "Recompute balances from the ledger and compare with the projection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd.Context(), func(l *ledger.Service) error {
				report, err := l.CheckBalances(cmd.Context(), groupID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.OK {
					return errDrift
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&groupID, "group", "g", "", "Group ID to check (default: every group)")
	return cmd
}

func newPurgeIdempotencyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-idempotency",
		Short: "Delete expired idempotency records once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd.Context(), func(l *ledger.Service) error {
				n, err := l.Guard().PurgeExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired idempotency records\n", n)
				return nil
			})
		},
	}
}

func newCreateGroupCmd(a *app) *cobra.Command {
	var (
		name    string
		members []string
		actorID string
	)

	cmd := &cobra.Command{
		Use:   "create-group",
		Short: "Register a group and its members",
		Long:  "Creates a group with members in join order. Equal splits without explicit beneficiaries use this order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd.Context(), func(l *ledger.Service) error {
				group, err := l.CreateGroup(cmd.Context(), ledger.Actor{UserID: actorID, UserAgent: "splitledger-cli"}, name, members)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), group)
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Group name")
	cmd.Flags().StringSliceVarP(&members, "members", "m", nil, "Comma-separated member user IDs in join order")
	cmd.Flags().StringVar(&actorID, "actor", "", "User ID recorded as the audit actor")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("members")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Long:  "Signs a JWT with the configured secret. Intended for development and operator access.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret (JWT_SECRET) is required to issue tokens")
			}
			token, err := auth.NewJWTManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenDuration).Generate(userID)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (token subject)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
