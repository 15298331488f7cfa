package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestInputErrorSummary(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		private []string
	}{
		{
			name:    "DataLoad",
			err:     &DataLoadError{Table: "customers", Path: "/etc/shadow-nope", Err: errors.New("open /etc/shadow-nope: no such file or directory")},
			want:    "data load error: customers table could not be read",
			private: []string{"/etc", "no such file"},
		},
		{
			name: "Schema",
			err:  &SchemaError{Table: "claims", Column: "claim_amount"},
			want: `schema error: claims table is missing required column "claim_amount"`,
		},
		{
			name:    "Data",
			err:     &DataError{Stage: "load claims", RecordID: "X", Reason: `claim_amount "TOPSECRET-VALUE" is not a number`},
			want:    "data error: load claims",
			private: []string{"TOPSECRET-VALUE", "record X"},
		},
		{
			name: "Wrapped",
			err:  fmt.Errorf("score: %w", &DataError{Stage: "claim scoring", Reason: "coverage_amount is zero"}),
			want: "data error: claim scoring",
		},
		{
			name: "Other",
			err:  errors.New("disk on fire"),
			want: "run failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InputErrorSummary(tt.err)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			for _, p := range tt.private {
				if strings.Contains(got, p) {
					t.Errorf("expected %q to be left out, got %q", p, got)
				}
			}
		})
	}
}
