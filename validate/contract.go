package validate

import (
	"testing"

	"github.com/jonwraymond/kalibridge/kalitypes"
)

// Case is one table entry in a ValidatorContract, grounded in the
// teacher's RunGatewayContractTests (contract.go): a fixed set of named
// cases that any caller composing its own policy can reuse rather than
// hand-writing the same boundary checks per adapter test.
type Case struct {
	Name    string
	Req     kalitypes.ToolRequest
	Policy  kalitypes.Policy
	WantErr kalitypes.ValidationKind // empty means "accepted"
}

// RunContractCases runs every case in cases against Validate and fails
// the test if the outcome does not match WantErr.
func RunContractCases(t *testing.T, cases []Case) {
	t.Helper()
	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			plan, err := Validate(c.Req, c.Policy)
			if c.WantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				if plan.Tool != c.Req.Tool {
					t.Errorf("Validate() plan.Tool = %q, want %q", plan.Tool, c.Req.Tool)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error kind %v, got nil", c.WantErr)
			}
			ve, ok := err.(*kalitypes.ValidationError)
			if !ok {
				t.Fatalf("Validate() error type = %T, want *kalitypes.ValidationError", err)
			}
			if ve.Kind != c.WantErr {
				t.Errorf("Validate() kind = %v, want %v", ve.Kind, c.WantErr)
			}
		})
	}
}
