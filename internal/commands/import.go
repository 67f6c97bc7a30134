package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bank-reconciliation-backend/internal/routes"
	"bank-reconciliation-backend/internal/services/importer"
)

func newImportCommand(rt *runtime) *cobra.Command {
	var (
		department   string
		organization string
		mapping      string
		source       string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a bank statement file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dept, err := uuid.Parse(department)
			if err != nil {
				return fmt.Errorf("invalid --department: %w", err)
			}
			req := importer.ImportRequest{
				DepartmentID: dept,
				FileName:     filepath.Base(args[0]),
				Source:       source,
			}
			if organization != "" {
				org, err := uuid.Parse(organization)
				if err != nil {
					return fmt.Errorf("invalid --organization: %w", err)
				}
				req.OrganizationID = &org
			}
			if mapping != "" {
				if err := json.Unmarshal([]byte(mapping), &req.Mapping); err != nil {
					return fmt.Errorf("invalid --mapping: %w", err)
				}
			}
			if req.Data, err = os.ReadFile(args[0]); err != nil {
				return fmt.Errorf("reading statement: %w", err)
			}

			ctx, cfg, _, db, err := rt.setup(cmd.Context())
			if err != nil {
				return err
			}
			svc := routes.NewServices(db, cfg.Engine, nil)
			res, err := svc.Importer.Import(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&department, "department", "", "department id (required)")
	_ = cmd.MarkFlagRequired("department")
	cmd.Flags().StringVar(&organization, "organization", "", "organization id")
	cmd.Flags().StringVar(&mapping, "mapping", "", `column mapping as JSON, e.g. {"amount":"Sum"}`)
	cmd.Flags().StringVar(&source, "source", "", "import source label")

	return cmd
}
