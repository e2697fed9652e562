package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/requirements"
	"github.com/opensource-finance/kestrel/internal/tradecoverage"
)

type validateOptions struct {
	coiPath     string
	projectPath string
	trades      []string
	strict      bool
}

var validateOpts validateOptions

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a certificate of insurance file",
	Long:  "Validates a COI JSON file against the requirements composed from the project and trades, and checks the GL policy for trade exclusions. Exits with code 2 when the certificate is not compliant.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		compliant, err := runValidate(cmd.OutOrStdout(), validateOpts)
		if err != nil {
			return err
		}
		if !compliant {
			return &exitCodeError{code: 2, msg: "certificate is not compliant"}
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateOpts.coiPath, "coi", "", "Path to COI JSON file (required)")
	validateCmd.Flags().StringVar(&validateOpts.projectPath, "project", "", "Path to project JSON file")
	validateCmd.Flags().StringSliceVar(&validateOpts.trades, "trades", nil, "Comma-separated trades the subcontractor performs")
	validateCmd.Flags().BoolVar(&validateOpts.strict, "strict", false, "Reject unknown trades instead of defaulting to carpentry")

	if err := validateCmd.MarkFlagRequired("coi"); err != nil {
		panic(fmt.Sprintf("failed to mark coi flag as required: %v", err))
	}

	rootCmd.AddCommand(validateCmd)
}

// validateReport is the JSON document printed by the validate command.
type validateReport struct {
	Compliant     bool                       `json:"compliant"`
	Validation    domain.ValidationResult    `json:"validation"`
	TradeCoverage domain.TradeCoverageResult `json:"tradeCoverage"`
	BrokerMessage string                     `json:"brokerMessage,omitempty"`
}

// runValidate prints the report to w and reports overall compliance.
func runValidate(w io.Writer, opts validateOptions) (bool, error) {
	var coi domain.COI
	if err := readJSONFile(opts.coiPath, &coi); err != nil {
		return false, fmt.Errorf("failed to read coi: %w", err)
	}

	project := &domain.Project{}
	if opts.projectPath != "" {
		if err := readJSONFile(opts.projectPath, project); err != nil {
			return false, fmt.Errorf("failed to read project: %w", err)
		}
	}

	var set domain.RequirementSet
	if opts.strict {
		var err error
		if set, err = requirements.BuildStrict(project, opts.trades); err != nil {
			return false, err
		}
	} else {
		set = requirements.Build(project, opts.trades)
	}

	result := compliance.New().ValidateAgainst(&coi, project, set)
	coverage := tradecoverage.ValidatePolicyTradeCoverage(&coi, opts.trades)

	report := validateReport{
		Compliant:     result.Compliant && coverage.Compliant,
		Validation:    result,
		TradeCoverage: coverage,
	}
	if !coverage.Compliant || len(coverage.Warnings) > 0 {
		report.BrokerMessage = tradecoverage.GenerateBrokerTradeMessage(coverage, coi.InsuredName)
	}

	if err := writeIndentedJSON(w, report); err != nil {
		return false, err
	}
	return report.Compliant, nil
}

func readJSONFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
