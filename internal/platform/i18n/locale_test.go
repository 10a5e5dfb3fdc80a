package i18n

import "testing"

func TestNegotiate(t *testing.T) {
	cases := []struct {
		name     string
		override string
		header   string
		want     string
	}{
		{name: "empty", want: BaseLocale},
		{name: "malformed header", header: ";;;", want: BaseLocale},
		{name: "exact", header: "pt-BR,pt;q=0.9", want: "pt-BR"},
		{name: "weighted", header: "de;q=0.5, fr;q=0.9", want: "fr"},
		{name: "unsupported", header: "ko-KR", want: BaseLocale},
		{name: "override wins", override: "ja", header: "pt-BR", want: "ja"},
		{name: "invalid override falls back", override: "!!", header: "de", want: "de"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Negotiate(tc.override, tc.header); got != tc.want {
				t.Fatalf("Negotiate(%q, %q) = %q, want %q", tc.override, tc.header, got, tc.want)
			}
		})
	}
}
