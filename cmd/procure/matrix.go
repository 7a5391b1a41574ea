package main

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/warp/procurement-engine/factory"
	"github.com/warp/procurement-engine/procurement"
)

func matrixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Approval matrix tooling",
	}
	cmd.AddCommand(matrixCheckCmd())
	cmd.AddCommand(matrixDefaultCmd())
	return cmd
}

func matrixCheckCmd() *cobra.Command {
	var (
		values    []string
		usersFile string
	)
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a matrix file and show where values route",
		Long: `Validate a matrix file: tier order, overlaps, gaps and role mappings.

With --value, print the tier and approver chain each value routes to.
With --users, approver roles are resolved against that directory file.

Examples:
  procure matrix check config/approval-matrix.yaml
  procure matrix check config/approval-matrix.yaml --value 15000 --value 250000
  procure matrix check config/approval-matrix.yaml --value 5000 --users config/users.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := factory.NewMatrixFactory().LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d tiers OK\n", args[0], len(m.Thresholds))

			var dir factory.Directory
			if usersFile != "" {
				if dir, err = factory.LoadDirectory(usersFile); err != nil {
					return err
				}
			}
			for _, raw := range values {
				value, err := decimal.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("invalid --value %q: %w", raw, err)
				}
				if err := printRoute(cmd.Context(), out, m, dir, value, usersFile != ""); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&values, "value", nil, "award value to route (repeatable)")
	cmd.Flags().StringVar(&usersFile, "users", "", "user directory file used to resolve approvers")
	return cmd
}

// printRoute walks value through every step of its tier.
func printRoute(ctx context.Context, w io.Writer, m procurement.ApprovalMatrix, dir factory.Directory, value decimal.Decimal, resolveUsers bool) error {
	tier, err := m.Tier(value)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s → tier %q\n", value.StringFixed(2), tier.Name)
	if len(tier.Steps) == 0 {
		fmt.Fprintln(w, "  approved without review")
		return nil
	}
	status := procurement.RequisitionStatus("")
	for {
		var routing procurement.Routing
		if status == "" {
			routing, err = m.Resolve(ctx, routeDirectory(dir, resolveUsers), value)
		} else {
			routing, err = m.Advance(ctx, routeDirectory(dir, resolveUsers), value, status)
		}
		if err != nil {
			return err
		}
		if routing.Approved() {
			fmt.Fprintf(w, "  → %s\n", routing.Status)
			return nil
		}
		approver := "any committee member"
		if routing.ApproverID != nil {
			approver = string(*routing.ApproverID)
		}
		fmt.Fprintf(w, "  %d. %s (%s): %s\n", routing.Step+1, routing.Role, routing.Status, approver)
		status = routing.Status
	}
}

// routeDirectory returns dir, or a directory that invents one holder per
// role when no users file was given so routing can still be shown.
func routeDirectory(dir factory.Directory, resolveUsers bool) procurement.UserDirectory {
	if resolveUsers {
		return dir
	}
	return anyHolder{}
}

type anyHolder struct{}

func (anyHolder) UsersWithRole(_ context.Context, role procurement.Role) ([]procurement.User, error) {
	return []procurement.User{{ID: "(unresolved)", Roles: []procurement.Role{role}}}, nil
}

func matrixDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the built-in approval matrix as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := factory.NewMatrixFactory().ToDocument(factory.DefaultMatrix())
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(doc)
		},
	}
}
