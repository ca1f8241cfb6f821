package textutil

import "testing"

func TestStripSymbols(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Mum ❤️", "Mum"},
		{"John (work)", "John work"},
		{"+44 7700 900000", "44 7700 900000"},
		{"José Müller", "José Müller"},
		{"snake_case", "snake_case"},
		{"🎉🎉", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripSymbols(tt.in); got != tt.want {
			t.Errorf("StripSymbols(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFixMojibake(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"ascii", "hello", "hello"},
		{"escaped e acute", "CafÃ©", "Café"},
		{"escaped emoji", "ð\u009f\u0098\u0082", "😂"},
		{"already utf8", "Café ☕", "Café ☕"},
		{"latin1 not utf8 bytes", "été", "été"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FixMojibake(tt.in); got != tt.want {
				t.Errorf("FixMojibake(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
