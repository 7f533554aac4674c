package gateway

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner() *Signer {
	return NewSigner(Config{
		BaseURL:      "https://sandbox.gateway.example/paymentv2/vpcpay.html",
		MerchantCode: "DEMOSHOP",
		HashSecret:   "SUPERSECRETKEY",
		ReturnURL:    "http://localhost:8080/api/v1/payment/return",
	})
}

func TestCanonicalizeSortsAndFormEncodes(t *testing.T) {
	params := map[string]string{"b": "2", "a": "1"}
	params[ParamOrderInfo] = "Payment for order 42"

	// Byte-wise ascending key order, space encoded as '+'.
	assert.Equal(t, "a=1&b=2&vnp_OrderInfo=Payment+for+order+42", canonicalize(params))
}

func TestBuildPayURLRoundTrip(t *testing.T) {
	s := testSigner()

	payURL := s.BuildPayURL(PayRequest{
		TxnRef:    "42-01",
		Amount:    150000,
		OrderInfo: "Payment for order 42",
		ClientIP:  "203.0.113.7",
		CreatedAt: time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC),
	})

	u, err := url.Parse(payURL)
	require.NoError(t, err)

	values, err := url.ParseQuery(u.RawQuery)
	require.NoError(t, err)

	assert.Equal(t, Version, values.Get(ParamVersion))
	assert.Equal(t, CommandPay, values.Get(ParamCommand))
	assert.Equal(t, "15000000", values.Get(ParamAmount)) // x100, smallest unit
	assert.Equal(t, "20240517093000", values.Get(ParamCreateDate))
	assert.Equal(t, "42-01", values.Get(ParamTxnRef))
	assert.NotEmpty(t, values.Get(ParamSecureHash))

	// The signature must be the final parameter of the raw query.
	parts := strings.Split(u.RawQuery, "&")
	assert.True(t, strings.HasPrefix(parts[len(parts)-1], ParamSecureHash+"="))

	// Verifying the produced query succeeds.
	_, err = s.VerifyQuery(u.RawQuery)
	assert.NoError(t, err)
}

func TestVerifyRejectsMutatedParameter(t *testing.T) {
	s := testSigner()

	payURL := s.BuildPayURL(PayRequest{
		TxnRef:    "42-01",
		Amount:    150000,
		OrderInfo: "Payment for order 42",
		ClientIP:  "203.0.113.7",
		CreatedAt: time.Now(),
	})
	u, err := url.Parse(payURL)
	require.NoError(t, err)

	values, err := url.ParseQuery(u.RawQuery)
	require.NoError(t, err)

	// Tamper with the amount, keep the signature.
	values.Set(ParamAmount, "100")
	_, err = s.VerifyQuery(values.Encode())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s := testSigner()
	other := NewSigner(Config{
		BaseURL:      "https://sandbox.gateway.example/paymentv2/vpcpay.html",
		MerchantCode: "DEMOSHOP",
		HashSecret:   "DIFFERENTSECRET",
		ReturnURL:    "http://localhost:8080/api/v1/payment/return",
	})

	payURL := s.BuildPayURL(PayRequest{TxnRef: "7-01", Amount: 1000, CreatedAt: time.Now()})
	u, err := url.Parse(payURL)
	require.NoError(t, err)

	_, err = other.VerifyQuery(u.RawQuery)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	s := testSigner()
	_, err := s.Verify(map[string]string{ParamTxnRef: "1-01", ParamAmount: "100"})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyParsesCallbackOutcome(t *testing.T) {
	s := testSigner()

	params := map[string]string{
		ParamTxnRef:       "42-01",
		ParamAmount:       "15000000",
		ParamResponseCode: "00",
		ParamTxnStatus:    "00",
		ParamTxnNo:        "14409911",
		ParamBankCode:     "NCB",
	}
	params[ParamSecureHash] = s.sign(canonicalize(params))

	cb, err := s.Verify(params)
	require.NoError(t, err)
	assert.True(t, cb.Success)
	assert.Equal(t, "42-01", cb.TxnRef)
	assert.Equal(t, int64(150000), cb.Amount)
	assert.Equal(t, "NCB", cb.BankCode)

	// A non-success transaction status fails the outcome, not the signature.
	params[ParamTxnStatus] = "02"
	delete(params, ParamSecureHash)
	params[ParamSecureHash] = s.sign(canonicalize(params))

	cb, err = s.Verify(params)
	require.NoError(t, err)
	assert.False(t, cb.Success)
}

func TestVerifyRejectsMalformedAmount(t *testing.T) {
	s := testSigner()

	// Correctly signed, but the amount is not a number; verification fails
	// closed instead of reporting a zero amount.
	params := map[string]string{ParamTxnRef: "42-01", ParamAmount: "15000000x"}
	params[ParamSecureHash] = s.sign(canonicalize(params))

	_, err := s.Verify(params)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyAcceptsUppercaseSignature(t *testing.T) {
	s := testSigner()

	params := map[string]string{ParamTxnRef: "9-02", ParamAmount: "500"}
	params[ParamSecureHash] = strings.ToUpper(s.sign(canonicalize(params)))

	_, err := s.Verify(params)
	assert.NoError(t, err)
}
