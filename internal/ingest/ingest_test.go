package ingest

import "testing"

func TestCurrencyFilter(t *testing.T) {
	tests := []struct {
		name    string
		symbols []string
		src     string
		dst     string
	}{
		{"rial markets", []string{"BTCIRT", "ETHIRT", "DOGEIRT"}, "btc,eth,doge", "rls"},
		{"tether markets", []string{"BTCUSDT", "ETHUSDT"}, "btc,eth", "usdt"},
		{"mixed quotes drop dst", []string{"BTCIRT", "BTCUSDT"}, "btc,btc", ""},
		{"unknown suffix ignored", []string{"BTCIRT", "FOOBAR"}, "btc", "rls"},
		{"empty", nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := currencyFilter(tt.symbols)
			if src != tt.src || dst != tt.dst {
				t.Fatalf("currencyFilter(%v) = (%q, %q), want (%q, %q)",
					tt.symbols, src, dst, tt.src, tt.dst)
			}
		})
	}
}
