package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/internal/resource"
)

// newGuardrailsCommand manages the Resource Manager's guardrail-purposed
// resources (spec glossary: "a resource whose purpose is to constrain
// model behavior, subtype of resource"). Guardrails are ordinary Resource
// rows; this subcommand is a convenience lens over `resource.Manager`, not
// a distinct store concept.
func newGuardrailsCommand(projectDir, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardrails",
		Short: "Manage prompt-injected guardrail resources",
	}
	cmd.AddCommand(
		newGuardrailsListCommand(projectDir, logLevel),
		newGuardrailsSyncCommand(projectDir, logLevel),
		newGuardrailsAddCommand(projectDir, logLevel),
	)
	return cmd
}

func newGuardrailsListCommand(projectDir, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured resources, including guardrails",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*projectDir, *logLevel)
			if err != nil {
				return err
			}
			defer e.close()

			resources, err := e.store.ListResources(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			if len(resources) == 0 {
				fmt.Fprintln(os.Stderr, "no resources configured")
				return nil
			}
			for _, r := range resources {
				status := "enabled"
				if !r.Enabled {
					status = "disabled"
				}
				fmt.Printf("%d\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.ResourceType, r.InjectionPos, status)
			}
			return nil
		},
	}
}

func newGuardrailsSyncCommand(projectDir, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile resource files on disk against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*projectDir, *logLevel)
			if err != nil {
				return err
			}
			defer e.close()

			mgr := resource.NewManager(e.store, *projectDir, nil, e.logger)
			result, err := mgr.SyncFromFilesystem(cmd.Context())
			if err != nil {
				return err
			}
			e.ok("sync complete: %d added, %d updated, %d removed", result.Added, result.Updated, result.Removed)
			return nil
		},
	}
}

func newGuardrailsAddCommand(projectDir, logLevel *string) *cobra.Command {
	var rtype string
	var position string
	var priority int
	var file string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a guardrail resource from a file (or stdin with --file -)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content []byte
			var err error
			if file == "-" {
				content, err = os.ReadFile("/dev/stdin")
			} else {
				content, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read guardrail content: %w", err)
			}

			e, err := openEnv(*projectDir, *logLevel)
			if err != nil {
				return err
			}
			defer e.close()

			mgr := resource.NewManager(e.store, *projectDir, nil, e.logger)
			r, err := mgr.Create(cmd.Context(), args[0], domain.ResourceType(rtype), string(content), domain.InjectionPosition(position), priority)
			if err != nil {
				return err
			}
			e.ok("added guardrail resource %s (id %d)", r.Name, r.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&rtype, "type", string(domain.ResourceCodingStandards), "resource type")
	cmd.Flags().StringVar(&position, "position", string(domain.PositionBeforePrompt), "prompt injection anchor")
	cmd.Flags().IntVar(&priority, "priority", 0, "injection priority (lower first)")
	cmd.Flags().StringVar(&file, "file", "-", "path to the guardrail content file, or - for stdin")
	return cmd
}
