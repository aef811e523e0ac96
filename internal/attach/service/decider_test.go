package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideCheckoutForceWinsOverEverything(t *testing.T) {
	in := DecisionInput{
		ForceCheckout:    true,
		InvoiceOnly:      true,
		HasPaymentMethod: true,
		AllProductsFree:  true,
		HasPaidOngoing:   true,
	}
	assert.Equal(t, DecisionCheckout, DecideCheckout(in))
}

func TestDecideCheckoutPrecedence(t *testing.T) {
	cases := []struct {
		name string
		in   DecisionInput
		want CheckoutDecision
	}{
		{
			name: "invoice only skips checkout",
			in:   DecisionInput{InvoiceOnly: true},
			want: DecisionNoCheckout,
		},
		{
			name: "stored payment method skips checkout",
			in:   DecisionInput{HasPaymentMethod: true},
			want: DecisionNoCheckout,
		},
		{
			name: "free products skip checkout",
			in:   DecisionInput{AllProductsFree: true},
			want: DecisionNoCheckout,
		},
		{
			name: "established paid customer skips checkout",
			in:   DecisionInput{HasPaidOngoing: true},
			want: DecisionNoCheckout,
		},
		{
			name: "new paid customer without payment method checks out",
			in:   DecisionInput{},
			want: DecisionCheckout,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecideCheckout(tc.in))
		})
	}
}

// Every input combination maps to exactly one of the two outcomes.
func TestDecideCheckoutTotal(t *testing.T) {
	for i := 0; i < 32; i++ {
		in := DecisionInput{
			ForceCheckout:    i&1 != 0,
			InvoiceOnly:      i&2 != 0,
			HasPaymentMethod: i&4 != 0,
			AllProductsFree:  i&8 != 0,
			HasPaidOngoing:   i&16 != 0,
		}
		got := DecideCheckout(in)
		assert.Contains(t, []CheckoutDecision{DecisionCheckout, DecisionNoCheckout}, got, "input %+v", in)

		if in.ForceCheckout {
			assert.Equal(t, DecisionCheckout, got, "input %+v", in)
		} else if in.InvoiceOnly || in.HasPaymentMethod || in.AllProductsFree || in.HasPaidOngoing {
			assert.Equal(t, DecisionNoCheckout, got, "input %+v", in)
		}
	}
}
