package errors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeConcurrencyConflict, "append lost the race")
	wrapped := fmt.Errorf("set stage: %w", base)

	if !errors.Is(wrapped, New(CodeConcurrencyConflict, "other message")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(wrapped, New(CodeNotFound, "append lost the race")) {
		t.Fatal("expected errors.Is to reject a different code")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeProjectorApplyFailed, "apply batch", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestToGRPCStatusCarriesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeStageNotInProcess, "stage does not belong to process", map[string]string{
		"stage_id":   "qualified",
		"process_id": "enterprise-sales",
	})

	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", st.Code())
	}

	var info *errdetails.ErrorInfo
	for _, detail := range st.Details() {
		if typed, ok := detail.(*errdetails.ErrorInfo); ok {
			info = typed
		}
	}
	if info == nil {
		t.Fatal("expected an ErrorInfo detail")
	}
	if info.Reason != string(CodeStageNotInProcess) {
		t.Fatalf("expected reason %s, got %s", CodeStageNotInProcess, info.Reason)
	}
	if info.Metadata["stage_id"] != "qualified" {
		t.Fatalf("expected stage_id metadata, got %v", info.Metadata)
	}
}

func TestValidationCodesMapToInvalidArgument(t *testing.T) {
	for _, code := range []Code{
		CodeProcessStagesEmpty,
		CodeProcessNotSet,
		CodeStageNotInProcess,
		CodeOutcomeInvalid,
		CodeThresholdInvalid,
	} {
		if !code.IsValidation() {
			t.Fatalf("expected %s to classify as validation", code)
		}
		if code.GRPCCode() != codes.InvalidArgument {
			t.Fatalf("expected %s to map to InvalidArgument, got %v", code, code.GRPCCode())
		}
	}
	if CodeConcurrencyConflict.IsValidation() {
		t.Fatal("concurrency conflict is not a validation failure")
	}
}
