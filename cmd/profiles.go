package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formrunner/internal/observability"
	"github.com/xkilldash9x/formrunner/internal/profile"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspects and cleans the per-session browser profile directory",
	}
	cmd.AddCommand(newProfilesListCmd(), newProfilesSweepCmd())
	return cmd
}

func openProfileStore(cmd *cobra.Command) (*profile.Store, error) {
	cfg, err := configFromContext(cmd.Context())
	if err != nil {
		return nil, err
	}
	return profile.NewStore(cfg.Profiles().Root, observability.GetLogger())
}

func newProfilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the sessions that still have a profile on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfileStore(cmd)
			if err != nil {
				return err
			}
			ids, err := store.List()
			if err != nil {
				return err
			}
			sort.Strings(ids)
			out := cmd.OutOrStdout()
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

func newProfilesSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deletes profiles older than profiles.max_age_days",
		Long: `Deletes leftover profiles, normally from jobs that crashed before cleanup.
With --max-age-days 0 every profile is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openProfileStore(cmd)
			if err != nil {
				return err
			}
			removed, err := store.Sweep(cfg.Profiles().MaxAgeDays)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d profile(s)\n", removed)
			return err
		},
	}
	cmd.Flags().Int("max-age-days", 0, "age in days after which a profile is removed")
	bindFlag(cmd, "max-age-days", "profiles.max_age_days")
	return cmd
}
