package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newProjectsCommand implements `ralphx projects list`: every RalphX
// project is just a directory with a `.ralphx/` subdirectory, so listing
// them is a filesystem scan under --root, not a registry lookup — the
// store is scoped per-project and holds no cross-project index (spec §4.1
// "single embedded database scoped to one project directory").
func newProjectsCommand(projectDir, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage RalphX projects",
	}
	cmd.AddCommand(newProjectsListCommand())
	return cmd
}

func newProjectsListCommand() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List RalphX projects found under --root",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(root)
			if err != nil {
				return fmt.Errorf("read %s: %w", root, err)
			}
			found := 0
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				path := filepath.Join(root, e.Name())
				if _, err := os.Stat(filepath.Join(path, ".ralphx")); err != nil {
					continue
				}
				found++
				fmt.Printf("%s\t%s\n", e.Name(), path)
			}
			if found == 0 {
				fmt.Fprintf(os.Stderr, "no RalphX projects found under %s\n", root)
			}
			return nil
		},
	}
	wd, _ := os.Getwd()
	cmd.Flags().StringVar(&root, "root", filepath.Dir(wd), "directory to scan for RalphX projects")
	return cmd
}
