package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/sink"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

func newProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Create, list, run and delete projects",
	}

	cmd.AddCommand(newProjectCreateCommand())
	cmd.AddCommand(newProjectListCommand())
	cmd.AddCommand(newProjectRunCommand())
	cmd.AddCommand(newProjectDeleteCommand())
	cmd.AddCommand(newProjectEventsCommand())

	return cmd
}

// report prints an outcome and turns anything but a completed outcome into
// an error carrying failure.
func report(res engine.Result, printed bool, failure string) error {
	if res.Err != nil {
		return fmt.Errorf("%s: %w", failure, res.Err)
	}

	if jsonOutput {
		if err := printJSON(res.Outcome); err != nil {
			return err
		}
	} else if !printed && res.Outcome.Output != "" {
		fmt.Print(res.Outcome.Output)
	}

	if !res.Success() {
		return fmt.Errorf("%s (%s)", failure, outcomeReason(res.Outcome))
	}
	return nil
}

func outcomeReason(o engine.Outcome) string {
	switch {
	case o.Reason != "":
		return o.Reason
	case o.Err != nil:
		return o.Err.Error()
	default:
		return string(o.Kind)
	}
}

func newProjectCreateCommand() *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project from a template",
		Example: `  # Create a project from the default template
  pilot project create demo

  # Create a project from a template in templates.dir
  pilot project create api --template service`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			name := args[0]
			res := a.bridge.Invoke(ctx, "start_project", a.lifecycle.CreateWorkflow(sink.NewAccumulator(), name, template))
			if err := report(res, false, fmt.Sprintf("failed to create project '%s'", name)); err != nil {
				return err
			}
			if !jsonOutput {
				fmt.Printf("ID: %s\n", res.Outcome.Value.(engine.ProjectSummary).ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "template name (default: templates.default)")

	return cmd
}

func newProjectListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			res := a.bridge.Invoke(ctx, "list_projects", a.lifecycle.ListWorkflow(sink.NewAccumulator()))
			if res.Err != nil {
				return fmt.Errorf("failed to list projects: %w", res.Err)
			}
			projects, _ := res.Outcome.Value.([]engine.ProjectSummary)

			if jsonOutput {
				if projects == nil {
					projects = []engine.ProjectSummary{}
				}
				return printJSON(map[string]interface{}{"projects": projects})
			}
			if len(projects) == 0 {
				fmt.Println("No projects")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Name)
			}
			return w.Flush()
		},
	}
}

func newProjectRunCommand() *cobra.Command {
	var (
		branch     string
		step       int
		showEvents bool
	)

	cmd := &cobra.Command{
		Use:   "run ID",
		Short: "Run a project's remaining steps",
		Long: `Run a project's remaining steps.

The run resumes after the last checkpointed step unless --step is given.
Questions asked by steps are answered on the terminal; without a terminal
they get empty answers. Interrupting the run (Ctrl-C) rolls it back.`,
		Example: `  # Run a project
  pilot project run 2f6c3b0e-8a51-4c8e-9a0c-3d1f1e2a7b54

  # Re-run from the second step
  pilot project run 2f6c3b0e-8a51-4c8e-9a0c-3d1f1e2a7b54 --step 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			var stepArg *int
			if cmd.Flags().Changed("step") {
				stepArg = &step
			}

			var s sink.Sink = sink.NewAccumulator()
			interactive := !jsonOutput && term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				s = sink.NewInteractive(os.Stdin, os.Stdout)
			}

			id := strings.TrimSpace(args[0])
			if showEvents {
				a.tel.Events.Subscribe(func(e telemetry.Event) {
					fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Type, e.Message)
				}, telemetry.FilterByProjectID(id))
			}

			res := a.bridge.Invoke(ctx, "run_project", a.lifecycle.RunWorkflow(s, id, branch, stepArg))
			return report(res, interactive, fmt.Sprintf("failed to run project '%s'", id))
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to run (default: main)")
	cmd.Flags().IntVarP(&step, "step", "s", 0, "step index to start from")
	cmd.Flags().BoolVar(&showEvents, "events", false, "print the project's lifecycle events to stderr")

	return cmd
}

func newProjectDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a project and all of its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			id := args[0]
			res := a.bridge.Invoke(ctx, "delete_project", a.lifecycle.DeleteWorkflow(sink.NewAccumulator(), id))
			if err := report(res, false, fmt.Sprintf("failed to delete project '%s'", id)); err != nil {
				return err
			}
			if !jsonOutput && res.Outcome.Output == "" {
				fmt.Printf("Project '%s' deleted successfully\n", id)
			}
			return nil
		},
	}
}
