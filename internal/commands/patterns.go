package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/routes"
	"bank-reconciliation-backend/internal/services/patterns"
)

func newPatternsCommand(rt *runtime) *cobra.Command {
	var (
		department     string
		txType         string
		minOccurrences int
	)

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Print recurring payment patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := patterns.Filter{MinOccurrences: minOccurrences}
			if department != "" {
				dept, err := uuid.Parse(department)
				if err != nil {
					return fmt.Errorf("invalid --department: %w", err)
				}
				f.DepartmentID = &dept
			}
			if txType != "" {
				f.Type = models.TransactionType(strings.ToUpper(txType))
				if !f.Type.Valid() {
					return fmt.Errorf("invalid --type %q", txType)
				}
			}

			ctx, cfg, _, db, err := rt.setup(cmd.Context())
			if err != nil {
				return err
			}
			svc := routes.NewServices(db, cfg.Engine, nil)
			found, err := svc.Detector.Detect(ctx, f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), found)
		},
	}

	cmd.Flags().StringVar(&department, "department", "", "limit to one department")
	cmd.Flags().StringVar(&txType, "type", "", "CREDIT or DEBIT")
	cmd.Flags().IntVar(&minOccurrences, "min-occurrences", 0, "minimum occurrences (default from engine config)")

	return cmd
}
