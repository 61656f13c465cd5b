package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate an Arazzo document",
		Long: `Check a document against the Arazzo schema and the semantic rules:
unique ids, resolvable step targets and well-formed runtime expressions.
Warnings are reported but do not fail validation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.svc.ValidateFile(cmd.Context(), args[0])
			if err != nil {
				return &exitError{Code: exitFailed, Message: "could not read document", Cause: err}
			}

			out := cmd.OutOrStdout()
			if opts.json {
				if err := printJSON(cmd, map[string]any{
					"valid":    result.Valid(),
					"errors":   result.Errors,
					"warnings": result.Warnings,
				}); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, result.String())
				if result.Valid() {
					fmt.Fprintf(out, "%s is valid\n", args[0])
				}
			}

			if !result.Valid() {
				return &exitError{Code: exitInvalidDocument, Message: fmt.Sprintf("%s has %d error(s)", args[0], len(result.Errors))}
			}
			return nil
		},
	}
}
