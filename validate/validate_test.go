package validate

import (
	"strings"
	"testing"

	"github.com/jonwraymond/kalibridge/kalitypes"
)

func basePolicy() kalitypes.Policy {
	return kalitypes.DefaultPolicy()
}

func baseReq() kalitypes.ToolRequest {
	return kalitypes.ToolRequest{
		Host:       "kali.example.net",
		User:       "op",
		Tool:       "nmap",
		Args:       []string{"-sn", "10.0.0.0/24"},
		TimeoutSec: 30,
	}
}

func TestValidateContract(t *testing.T) {
	policy := basePolicy()

	maxArgs := make([]string, policy.MaxArgs)
	for i := range maxArgs {
		maxArgs[i] = "-v"
	}
	tooManyArgs := append([]string{}, maxArgs...)
	tooManyArgs = append(tooManyArgs, "-v")

	longArg := strings.Repeat("a", 1025)

	cases := []Case{
		{
			Name:   "accepted",
			Req:    baseReq(),
			Policy: policy,
		},
		{
			Name: "tool not allowed",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Tool = "bash"
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindToolNotAllowed,
		},
		{
			Name: "empty tool",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Tool = ""
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindToolNotAllowed,
		},
		{
			Name: "max args exactly accepted",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Args = maxArgs
				return r
			}(),
			Policy: policy,
		},
		{
			Name: "max args plus one rejected",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Args = tooManyArgs
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindTooManyArgs,
		},
		{
			Name: "arg too long",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Args = []string{longArg}
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindInvalidArg,
		},
		{
			Name: "arg with embedded newline",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Args = []string{"foo\nbar"}
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindInvalidArg,
		},
		{
			Name: "host with metachar",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Host = "kali;rm -rf /"
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindBadHost,
		},
		{
			Name: "host with whitespace",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.Host = "kali host"
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindBadHost,
		},
		{
			Name: "empty user",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.User = ""
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindBadUser,
		},
		{
			Name: "user with @",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.User = "op@host"
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindBadUser,
		},
		{
			Name: "timeout zero",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.TimeoutSec = 0
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindBadTimeout,
		},
		{
			Name: "timeout one accepted",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.TimeoutSec = 1
				return r
			}(),
			Policy: policy,
		},
		{
			Name: "timeout exceeds cap",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.TimeoutSec = policy.MaxTimeoutSec + 1
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindBadTimeout,
		},
		{
			Name: "negative max output bytes rejected",
			Req: func() kalitypes.ToolRequest {
				r := baseReq()
				r.MaxOutputBytes = -1
				return r
			}(),
			Policy:  policy,
			WantErr: kalitypes.KindInvalidArg,
		},
	}

	RunContractCases(t, cases)
}

func TestValidateClampsOutputBytes(t *testing.T) {
	policy := basePolicy()
	req := baseReq()
	req.MaxOutputBytes = policy.MaxOutputBytes * 2

	plan, err := Validate(req, policy)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if plan.MaxOutputBytes != policy.MaxOutputBytes {
		t.Errorf("MaxOutputBytes = %d, want clamped to %d", plan.MaxOutputBytes, policy.MaxOutputBytes)
	}
}

func TestValidateGeneratesCorrelationID(t *testing.T) {
	policy := basePolicy()
	req := baseReq()

	plan, err := Validate(req, policy)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if plan.CorrelationID == "" {
		t.Error("CorrelationID should be generated when absent")
	}
}

func TestValidatePreservesCorrelationID(t *testing.T) {
	policy := basePolicy()
	req := baseReq()
	req.CorrelationID = "fixed-id"

	plan, err := Validate(req, policy)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if plan.CorrelationID != "fixed-id" {
		t.Errorf("CorrelationID = %q, want %q", plan.CorrelationID, "fixed-id")
	}
}

func TestValidateIdempotentOnVettedPlan(t *testing.T) {
	policy := basePolicy()
	req := baseReq()
	req.CorrelationID = "abc"

	plan1, err := Validate(req, policy)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	req2 := kalitypes.ToolRequest{
		Host:          plan1.Host,
		User:          plan1.User,
		Tool:          plan1.Tool,
		Args:          plan1.Args,
		TimeoutSec:    plan1.TimeoutSec,
		CorrelationID: plan1.CorrelationID,
	}
	plan2, err := Validate(req2, policy)
	if err != nil {
		t.Fatalf("Validate() on vetted plan error = %v", err)
	}
	if plan1.Tool != plan2.Tool || plan1.TimeoutSec != plan2.TimeoutSec || plan1.CorrelationID != plan2.CorrelationID {
		t.Errorf("revalidating a vetted plan produced a different plan: %+v vs %+v", plan1, plan2)
	}
}
