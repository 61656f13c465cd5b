package main

import (
	"github.com/spf13/cobra"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		workflowID string
		inputArgs  []string
		inputFile  string
		query      string
	)

	cmd := &cobra.Command{
		Use:   "run <document>",
		Short: "Run a workflow",
		Long: `Run a workflow from an Arazzo document (file path or URL).

The first workflow in the document runs unless --workflow names another.
The run result is printed as JSON; --query filters it with a jq program.
Exits 1 when the run does not succeed and 2 when the document is invalid.`,
		Example: `  wrkflo run petstore.arazzo.yaml --input petId=7
  wrkflo run flows.yaml --workflow adopt --inputs inputs.yaml --query .outputs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(inputArgs, inputFile, cmd.InOrStdin())
			if err != nil {
				return &exitError{Code: exitFailed, Message: "invalid inputs", Cause: err}
			}

			a, err := opts.setup(cmd.Context(), cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.svc.RunFile(cmd.Context(), args[0], workflowID, inputs)
			if err != nil {
				if schema.HasCode(err, schema.ErrCodeValidation) {
					return &exitError{Code: exitInvalidDocument, Message: "run rejected", Cause: err}
				}
				return &exitError{Code: exitFailed, Message: "run failed", Cause: err}
			}

			out, err := a.svc.Query(cmd.Context(), query, result)
			if err != nil {
				return &exitError{Code: exitFailed, Message: "query failed", Cause: err}
			}
			if err := printJSON(cmd, out); err != nil {
				return err
			}

			if result.Status != schema.RunStatusSucceeded {
				return &exitError{Code: exitFailed}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "workflow to run (default: first in document)")
	cmd.Flags().StringArrayVarP(&inputArgs, "input", "i", nil, "workflow input as key=value (repeatable)")
	cmd.Flags().StringVar(&inputFile, "inputs", "", "YAML or JSON file of inputs (- for stdin)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "jq program applied to the result")
	return cmd
}
