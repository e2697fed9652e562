package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/requirements"
)

var (
	reqProjectType string
	reqTrades      []string
	reqHazmat      bool
	reqStrict      bool
	reqListTrades  bool
)

var requirementsCmd = &cobra.Command{
	Use:   "requirements",
	Short: "Print the insurance requirements for a project type and trades",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if reqListTrades {
			return writeIndentedJSON(cmd.OutOrStdout(), requirements.TradeNames())
		}

		project := &domain.Project{
			Type:               domain.ProjectType(reqProjectType).Normalize(),
			HazardousMaterials: reqHazmat,
		}
		if !project.Type.Valid() {
			return fmt.Errorf("unknown project type %q", reqProjectType)
		}

		if reqStrict {
			set, err := requirements.BuildStrict(project, reqTrades)
			if err != nil {
				return err
			}
			return writeIndentedJSON(cmd.OutOrStdout(), set)
		}
		return writeIndentedJSON(cmd.OutOrStdout(), requirements.Build(project, reqTrades))
	},
}

func init() {
	requirementsCmd.Flags().StringVar(&reqProjectType, "project-type", "", "Project type: standard, condo or high_rise")
	requirementsCmd.Flags().StringSliceVar(&reqTrades, "trades", nil, "Comma-separated trades")
	requirementsCmd.Flags().BoolVar(&reqHazmat, "hazardous-materials", false, "Project involves hazardous materials")
	requirementsCmd.Flags().BoolVar(&reqStrict, "strict", false, "Reject unknown trades")
	requirementsCmd.Flags().BoolVar(&reqListTrades, "list-trades", false, "List known trade names and exit")
	rootCmd.AddCommand(requirementsCmd)
}
