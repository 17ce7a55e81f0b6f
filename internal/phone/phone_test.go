package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		country string
		want    string
		wantErr bool
	}{
		{name: "already international", raw: "+221771234567", country: "221", want: "+221771234567"},
		{name: "double zero prefix", raw: "00221771234567", country: "221", want: "+221771234567"},
		{name: "national with leading zero", raw: "0771234567", country: "221", want: "+221771234567"},
		{name: "national without leading zero", raw: "771234567", country: "221", want: "+221771234567"},
		{name: "spaces and dashes", raw: "77 123-45.67", country: "221", want: "+221771234567"},
		{name: "parentheses", raw: "(77) 123 45 67", country: "221", want: "+221771234567"},
		{name: "country code with plus", raw: "771234567", country: "+221", want: "+221771234567"},
		{name: "letters rejected", raw: "77AB1234", country: "221", wantErr: true},
		{name: "empty rejected", raw: "   ", country: "221", wantErr: true},
		{name: "too short rejected", raw: "12", country: "", wantErr: true},
		{name: "too long rejected", raw: "+12345678901234567890", country: "221", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.raw, tc.country)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v (value %q)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
