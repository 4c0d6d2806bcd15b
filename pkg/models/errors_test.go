package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"fatal", Fatal(errors.New("boom")), true},
		{"transient", Transient(errors.New("boom")), false},
		{"unclassified", errors.New("boom"), false},
		{"nil", nil, false},
		{"wrapped fatal", fmt.Errorf("stage: %w", Fatal(errors.New("boom"))), true},
		{"wrapped transient", fmt.Errorf("stage: %w", Transient(errors.New("boom"))), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	err := Fatal(fmt.Errorf("%w: status 404", ErrFetchFailed))
	if !errors.Is(err, ErrFetchFailed) {
		t.Error("classified error lost its sentinel")
	}
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr error
	}{
		{"valid", Job{ID: "v1", URI: "https://host/movie.mp4"}, nil},
		{"missing id", Job{URI: "https://host/movie.mp4"}, ErrMissingJobID},
		{"missing uri", Job{ID: "v1"}, ErrMissingSourceURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
