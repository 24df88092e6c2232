package ingest

import "testing"

func TestDecodeContentText(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{
			name:   "simple Tj",
			stream: "BT /F1 12 Tf (Hello ) Tj (World) Tj ET",
			want:   "Hello World",
		},
		{
			name:   "TJ array with kerning",
			stream: "BT [(Hel) -20 (lo)] TJ ET",
			want:   "Hello",
		},
		{
			name:   "hex string",
			stream: "BT <48656C6C6F> Tj ET",
			want:   "Hello",
		},
		{
			name:   "odd hex digit padded",
			stream: "BT <48656C6C6F2> Tj ET",
			want:   "Hello ",
		},
		{
			name:   "Td starts new line",
			stream: "BT (first) Tj 0 -14 Td (second) Tj ET",
			want:   "first\nsecond",
		},
		{
			name:   "escapes in literal string",
			stream: `BT (a\(b\)c\\d) Tj ET`,
			want:   `a(b)c\d`,
		},
		{
			name:   "octal escape",
			stream: `BT (\101\102) Tj ET`,
			want:   "AB",
		},
		{
			name:   "nested parens",
			stream: "BT (outer (inner) tail) Tj ET",
			want:   "outer (inner) tail",
		},
		{
			name:   "string operand of non-text operator dropped",
			stream: "BT (ignored) SC (shown) Tj ET",
			want:   "shown",
		},
		{
			name:   "comment skipped",
			stream: "BT % (not text)\n(real) Tj ET",
			want:   "real",
		},
		{
			name:   "no text operators",
			stream: "q 1 0 0 1 50 50 cm Q",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeContentText([]byte(tt.stream)); got != tt.want {
				t.Errorf("decodeContentText(%q) = %q, want %q", tt.stream, got, tt.want)
			}
		})
	}
}
