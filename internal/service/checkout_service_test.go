package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validCheckoutRequest() *CheckoutRequest {
	return &CheckoutRequest{
		UserID:            7,
		CartLineIDs:       []int64{1, 2},
		ShippingAddressID: 3,
		PaymentMethod:     "cash",
		ShippingFee:       20000,
	}
}

func TestCheckoutValidation(t *testing.T) {
	cs := &CheckoutService{}

	assert.NoError(t, cs.validate(validCheckoutRequest()))

	empty := validCheckoutRequest()
	empty.CartLineIDs = nil
	assert.ErrorIs(t, cs.validate(empty), ErrEmptySelection)

	badMethod := validCheckoutRequest()
	badMethod.PaymentMethod = "crypto"
	var ve *ValidationError
	err := cs.validate(badMethod)
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "payment_method", ve.Field)

	negativeFee := validCheckoutRequest()
	negativeFee.ShippingFee = -1
	err = cs.validate(negativeFee)
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "shipping_fee", ve.Field)

	longNote := validCheckoutRequest()
	longNote.Note = strings.Repeat("x", maxNoteLength+1)
	err = cs.validate(longNote)
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "note", ve.Field)

	gatewayOK := validCheckoutRequest()
	gatewayOK.PaymentMethod = "gateway"
	assert.NoError(t, cs.validate(gatewayOK))
}
