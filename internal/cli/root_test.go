package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ralphx/ralphx/pkg/apperrors"
)

func TestExecute_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"validation error", apperrors.NewValidationError("bad args"), 2},
		{"wrapped validation error", fmt.Errorf("run loop: %w", apperrors.NewValidationError("bad args")), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := &cobra.Command{
				Use:           "test",
				SilenceUsage:  true,
				SilenceErrors: true,
				RunE: func(cmd *cobra.Command, args []string) error {
					return tt.err
				},
			}
			got := Execute(root)
			if got != tt.want {
				t.Errorf("Execute() = %d, want %d", got, tt.want)
			}
		})
	}
}
