package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestResult_String(t *testing.T) {
	tests := []struct {
		result Result
		want   string
	}{
		{ResultOK, "ok"},
		{ResultError, "error"},
		{ResultWriteProtected, "write protected"},
		{ResultNotReady, "not ready"},
		{ResultParamError, "parameter error"},
		{Result(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.result.String(); got != tt.want {
				t.Errorf("Result.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResult_Error(t *testing.T) {
	tests := []struct {
		result  Result
		wantErr error
	}{
		{ResultOK, nil},
		{ResultError, ErrIO},
		{ResultWriteProtected, ErrWriteProtected},
		{ResultNotReady, ErrNotReady},
		{ResultParamError, ErrParam},
	}

	for _, tt := range tests {
		t.Run(tt.result.String(), func(t *testing.T) {
			err := tt.result.Error()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Result.Error() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Result.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Result
	}{
		{"nil", nil, ResultOK},
		{"param", ErrParam, ResultParamError},
		{"wrapped not ready", fmt.Errorf("read sector 4: %w", ErrNotReady), ResultNotReady},
		{"no disk", ErrNoDisk, ResultNotReady},
		{"protected", ErrWriteProtected, ResultWriteProtected},
		{"timeout", fmt.Errorf("%w: %w", ErrIO, ErrTimeout), ResultError},
		{"foreign", errors.New("unrelated"), ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultOf(tt.err); got != tt.want {
				t.Errorf("ResultOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrNotReady,
		ErrParam,
		ErrWriteProtected,
		ErrIO,
		ErrTimeout,
		ErrNoDisk,
		ErrNotSupported,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}
