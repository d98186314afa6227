package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/praxis/internal/permissions"
)

// buildApprovalsCmd creates the "approvals" command group for the project
// approval store.
func buildApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Manage recorded tool approvals",
	}
	cmd.AddCommand(
		buildApprovalsListCmd(),
		buildApprovalsClearCmd(),
	)
	return cmd
}

func buildApprovalsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted approvals for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openApprovalStore(configPath)
			if err != nil {
				return err
			}

			keys := store.PersistedKeys()
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No approvals recorded.")
				return nil
			}
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildApprovalsClearCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "clear [key]",
		Short: "Remove one approval, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openApprovalStore(configPath)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				if err := store.Remove(args[0]); err != nil {
					return fmt.Errorf("remove approval: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			}

			keys := store.PersistedKeys()
			for _, key := range keys {
				if err := store.Remove(key); err != nil {
					return fmt.Errorf("remove approval %s: %w", key, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d approvals\n", len(keys))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func openApprovalStore(configPath string) (*permissions.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := permissions.OpenStore(approvalsPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open approvals store: %w", err)
	}
	return store, nil
}
