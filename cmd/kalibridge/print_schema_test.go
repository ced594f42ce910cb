package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
)

func TestRunPrintSchemaWritesBothSchemas(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	if err := runPrintSchema(cmd); err != nil {
		t.Fatalf("runPrintSchema() error = %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	for _, name := range []string{"ToolRequest", "WorkflowRequest"} {
		if _, ok := decoded[name]; !ok {
			t.Errorf("expected a %s schema in the output", name)
		}
	}
}
