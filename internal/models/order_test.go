package models

import "testing"

func TestIsValidOrderTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{OrderStatusPending, OrderStatusPaymentDetected, true},
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusExpired, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPaymentDetected, OrderStatusPaid, true},
		{OrderStatusPaid, OrderStatusRefunded, true},

		{OrderStatusPaid, OrderStatusExpired, false},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusExpired, OrderStatusPaid, false},
		{OrderStatusRefunded, OrderStatusPaid, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusRefunded, OrderStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidOrderTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidOrderTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestNetworkForCurrency(t *testing.T) {
	tests := []struct {
		currency string
		network  string
		wantErr  bool
	}{
		{CurrencyBNB, NetworkBSC, false},
		{CurrencyUSDTBEP20, NetworkBSC, false},
		{CurrencyBUSD, NetworkBSC, false},
		{CurrencyBTC, NetworkBitcoin, false},
		{CurrencyUSDTTRC20, NetworkTron, false},
		{"DOGE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			network, err := NetworkForCurrency(tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NetworkForCurrency(%q) expected error, got %q", tt.currency, network)
				}
				return
			}
			if err != nil {
				t.Fatalf("NetworkForCurrency(%q) unexpected error: %v", tt.currency, err)
			}
			if network != tt.network {
				t.Errorf("NetworkForCurrency(%q) = %q, want %q", tt.currency, network, tt.network)
			}
		})
	}
}

func TestRequiredConfirmations(t *testing.T) {
	tests := []struct {
		network string
		want    int
	}{
		{NetworkBSC, 12},
		{NetworkBitcoin, 3},
		{NetworkTron, 19},
		{"unknown", 0},
	}

	for _, tt := range tests {
		if got := RequiredConfirmations(tt.network); got != tt.want {
			t.Errorf("RequiredConfirmations(%q) = %d, want %d", tt.network, got, tt.want)
		}
	}
}
