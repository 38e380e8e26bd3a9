package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pilot/pkg/config"
)

func newTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates"},
		Short:   "Inspect project templates",
	}

	cmd.AddCommand(newTemplateListCommand())
	cmd.AddCommand(newTemplateGraphCommand())

	return cmd
}

func openTemplates() (*config.Templates, error) {
	cfg, err := loadConfig("")
	if err != nil {
		return nil, err
	}
	return config.NewTemplates(cfg.Templates, log.Logger)
}

func newTemplateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpls, err := openTemplates()
			if err != nil {
				return err
			}

			list := tmpls.List()
			if jsonOutput {
				return printJSON(list)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tSOURCE\tDESCRIPTION")
			for _, t := range list {
				name := t.Name
				if name == tmpls.Default() {
					name += " (default)"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, len(t.Steps), t.Source, t.Description)
			}
			return w.Flush()
		},
	}
}

func newTemplateGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph [NAME]",
		Short: "Print a template's step graph in DOT format",
		Example: `  # Render the default template with Graphviz
  pilot template graph | dot -Tpng -o steps.png`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpls, err := openTemplates()
			if err != nil {
				return err
			}

			name := tmpls.Default()
			if len(args) == 1 {
				name = args[0]
			}
			dot, err := tmpls.Graph(name)
			if err != nil {
				return err
			}
			fmt.Print(dot)
			return nil
		},
	}
}
