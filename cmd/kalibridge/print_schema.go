package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/kalibridge/kalitypes"
)

var printSchemaCmd = &cobra.Command{
	Use:   "print-schema",
	Short: "Print the JSON schema of ToolRequest and WorkflowRequest",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrintSchema(cmd)
	},
}

func init() {
	rootCmd.AddCommand(printSchemaCmd)
}

func runPrintSchema(cmd *cobra.Command) error {
	toolSchema, err := jsonschema.For[kalitypes.ToolRequest](nil)
	if err != nil {
		return fmt.Errorf("print-schema: ToolRequest: %w", err)
	}
	workflowSchema, err := jsonschema.For[kalitypes.WorkflowRequest](nil)
	if err != nil {
		return fmt.Errorf("print-schema: WorkflowRequest: %w", err)
	}

	out := map[string]*jsonschema.Schema{
		"ToolRequest":     toolSchema,
		"WorkflowRequest": workflowSchema,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
