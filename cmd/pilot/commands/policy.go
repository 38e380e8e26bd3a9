package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pilot/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "policy",
		Aliases: []string{"policies"},
		Short:   "Inspect admission policies",
		Long: `Inspect the admission policies evaluated before projects are created,
run or deleted: the built-in policies, the files under policy.paths, minus
the names listed in policy.disabled.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyShowCommand())

	return cmd
}

func loadPolicies(cmd *cobra.Command) (*policy.Engine, error) {
	cfg, err := loadConfig("")
	if err != nil {
		return nil, err
	}
	return openPolicy(cmd.Context(), cfg.Policy, log.Logger)
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List admission policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadPolicies(cmd)
			if err != nil {
				return err
			}

			policies := eng.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, p.Source, p.Description)
			}
			return w.Flush()
		},
	}
}

func newPolicyShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a policy's Rego module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadPolicies(cmd)
			if err != nil {
				return err
			}

			p, err := eng.GetPolicy(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(p)
			}
			fmt.Print(p.Rego)
			return nil
		},
	}
}
