package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, OperationName: "test-op"}

	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, OperationName: "fetch-key"}

	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return sharederrors.Classify(sharederrors.KindTransientExternal, fmt.Errorf("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, OperationName: "extract"}

	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return sharederrors.Classify(sharederrors.KindPermanentInput, fmt.Errorf("bad schema"))
	})
	if err == nil {
		t.Fatal("Do() expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}

func TestDoExhaustsAttemptsOnPersistentTransientError(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, OperationName: "dial-db"}

	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return sharederrors.Classify(sharederrors.KindTransientExternal, fmt.Errorf("timeout"))
	})
	if err == nil {
		t.Fatal("Do() expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
