package core

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"12.34", "12.34", false},
		{"12,34", "12.34", false},
		{"0", "0", false},
		{"  9.99 ", "9.99", false},
		{"1234.5678", "1234.5678", false},
		{"", "", true},
		{"-5", "", true},
		{"+5", "", true},
		{"abc", "", true},
		{"12.34.56", "", true},
		{"12a", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err != ErrInvalidAmount {
					t.Errorf("ParseAmount(%q) err = %v, want ErrInvalidAmount", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
