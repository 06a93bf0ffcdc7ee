package cli

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ralphx/ralphx/internal/domain"
)

// newAddCommand implements `ralphx add <content>`: a direct (non-generated)
// work item, entering the pool the same way a generator loop's extracted
// items do (spec §3 "direct input").
func newAddCommand(projectDir, logLevel *string) *cobra.Command {
	var id, itemType, category string
	var priority int
	var deps []string

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Add a work item directly to the project's queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*projectDir, *logLevel)
			if err != nil {
				return err
			}
			defer e.close()

			if id == "" {
				id = uuid.NewString()
			}
			item := &domain.WorkItem{
				ID:           id,
				Content:      strings.Join(args, " "),
				Status:       domain.StatusPending,
				Category:     category,
				ItemType:     itemType,
				Priority:     priority,
				Dependencies: deps,
				CreatedAt:    time.Now().UTC(),
				UpdatedAt:    time.Now().UTC(),
			}
			if err := e.store.CreateWorkItem(cmd.Context(), item); err != nil {
				return err
			}
			e.ok("added work item %s", item.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "work item ID (default: a generated UUID)")
	cmd.Flags().StringVar(&itemType, "type", "", "item type consumer loops filter on")
	cmd.Flags().StringVar(&category, "category", "", "item category")
	cmd.Flags().IntVar(&priority, "priority", 0, "item priority")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "dependency item IDs")
	return cmd
}
