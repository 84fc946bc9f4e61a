package models

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		phone   string
		region  string
		want    string
		wantErr bool
	}{
		{"empty stays empty", "  ", "IN", "", false},
		{"national number uses region", "650-253-0000", "US", "+16502530000", false},
		{"international prefix wins over region", "+1 650 253 0000", "IN", "+16502530000", false},
		{"indian mobile", "98765 43210", "IN", "+919876543210", false},
		{"too short", "12345", "US", "", true},
		{"not a number", "call me", "US", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.phone, tt.region)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizePhone(%q) error = %v, wantErr %v", tt.phone, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.phone, got, tt.want)
			}
		})
	}
}
