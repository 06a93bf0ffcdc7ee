package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
)

func newLoopsCommand(projectDir, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loops",
		Short: "Manage a project's loop configurations",
	}
	cmd.AddCommand(
		newLoopsListCommand(projectDir),
		newLoopsShowCommand(projectDir),
		newLoopsSyncCommand(projectDir),
		newLoopsCreateCommand(projectDir),
		newLoopsDeleteCommand(projectDir, logLevel),
	)
	return cmd
}

func newLoopsListCommand(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loops configured for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			loops, err := config.LoadAllLoops(*projectDir)
			if err != nil {
				return err
			}
			if len(loops) == 0 {
				fmt.Fprintln(os.Stderr, "no loops configured")
				return nil
			}
			for name, l := range loops {
				fmt.Printf("%s\t%s\t%d modes\n", name, l.Type, len(l.Modes))
			}
			return nil
		},
	}
}

func newLoopsShowCommand(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print one loop's configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := config.LoadLoop(*projectDir, args[0])
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(l)
			if err != nil {
				return fmt.Errorf("marshal loop: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// newLoopsSyncCommand re-validates every loop file on disk, including the
// cross-loop source-reference graph (config.ValidateSources) — the
// operator-facing equivalent of the original `LoopLoader.sync_loops`, minus
// the database registry the Go store deliberately drops (spec's "the store
// only ever holds references to loop names, never their bodies").
func newLoopsSyncCommand(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Validate every loop config file and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			loops, err := config.LoadAllLoops(*projectDir)
			if err != nil {
				return err
			}
			fmt.Printf("%d loop(s) validated OK\n", len(loops))
			return nil
		},
	}
}

func newLoopsCreateCommand(projectDir *string) *cobra.Command {
	var loopType string
	var outputSingular, outputPlural string
	var inputSource, inputSingular, inputPlural string
	var mode string
	var model string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Write a new loop config file with one default mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			l := &config.Loop{
				Name: name,
				Type: domain.LoopType(loopType),
				Modes: map[string]config.Mode{
					mode: {Model: model, Timeout: 600},
				},
				ModeSelection: config.ModeSelection{Strategy: domain.StrategyFixed, FixedMode: mode},
				Limits:        config.Limits{MaxConsecutiveErrors: 3, CooldownBetweenIterations: 5},
			}
			switch domain.LoopType(loopType) {
			case domain.LoopTypeGenerator:
				l.ItemTypes = &config.ItemTypes{Output: config.ItemTypeOutput{Singular: outputSingular, Plural: outputPlural}}
			case domain.LoopTypeConsumer:
				l.ItemTypes = &config.ItemTypes{Input: &config.ItemTypeInput{
					Source: inputSource, Singular: inputSingular, Plural: inputPlural,
				}}
			}
			if err := config.SaveLoop(*projectDir, l); err != nil {
				return err
			}
			fmt.Printf("wrote %s/.ralphx/loops/%s.yaml\n", *projectDir, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&loopType, "type", string(domain.LoopTypeGenerator), "generator or consumer")
	cmd.Flags().StringVar(&outputSingular, "output-singular", "item", "generator output item type (singular)")
	cmd.Flags().StringVar(&outputPlural, "output-plural", "items", "generator output item type (plural)")
	cmd.Flags().StringVar(&inputSource, "input-source", "", "consumer's upstream generator loop name")
	cmd.Flags().StringVar(&inputSingular, "input-singular", "item", "consumer input item type (singular)")
	cmd.Flags().StringVar(&inputPlural, "input-plural", "items", "consumer input item type (plural)")
	cmd.Flags().StringVar(&mode, "mode", "default", "name of the one mode this template declares")
	cmd.Flags().StringVar(&model, "model", "sonnet", "model the default mode runs under")
	return cmd
}

// newLoopsDeleteCommand releases the loop's claims before removing its
// config file, matching the original implementation's delete ordering
// (release claims, then unlink) so no work item is left locked forever.
func newLoopsDeleteCommand(projectDir, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a loop's config file, releasing any claims it holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			loops, err := config.LoadAllLoops(*projectDir)
			if err != nil {
				return err
			}
			for otherName, l := range loops {
				if otherName == name {
					continue
				}
				if l.Type == domain.LoopTypeConsumer && l.ItemTypes != nil && l.ItemTypes.Input != nil &&
					l.ItemTypes.Input.Source == name {
					return fmt.Errorf("cannot delete loop %q: referenced by %q", name, otherName)
				}
			}

			e, err := openEnv(*projectDir, *logLevel)
			if err != nil {
				return err
			}
			defer e.close()

			released, err := e.store.ReleaseClaimsByLoop(cmd.Context(), name)
			if err != nil {
				return err
			}
			if err := config.DeleteLoop(*projectDir, name); err != nil {
				return err
			}
			e.ok("deleted loop %s (released %d claim(s))", name, released)
			return nil
		},
	}
}
