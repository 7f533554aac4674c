// Package gateway implements the redirect payment gateway's signed
// query-string protocol: canonical form-encoded parameter string, sorted by
// key, HMAC-SHA512 with a shared secret, hex encoded. The signed string is
// byte-for-byte the query string sent, with the signature appended as one
// more parameter that is never itself part of the signed data.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Protocol constants fixed by the gateway contract.
const (
	Version     = "2.1.0"
	CommandPay  = "pay"
	CurrencyVND = "VND"
	LocaleVN    = "vn"

	// ResponseCodeSuccess is the gateway's "approved" code for both the
	// response code and the transaction status parameters.
	ResponseCodeSuccess = "00"
)

// Parameter names on the wire.
const (
	ParamVersion      = "vnp_Version"
	ParamCommand      = "vnp_Command"
	ParamMerchantCode = "vnp_TmnCode"
	ParamAmount       = "vnp_Amount"
	ParamCreateDate   = "vnp_CreateDate"
	ParamCurrency     = "vnp_CurrCode"
	ParamIPAddr       = "vnp_IpAddr"
	ParamLocale       = "vnp_Locale"
	ParamOrderInfo    = "vnp_OrderInfo"
	ParamReturnURL    = "vnp_ReturnUrl"
	ParamTxnRef       = "vnp_TxnRef"
	ParamResponseCode = "vnp_ResponseCode"
	ParamTxnStatus    = "vnp_TransactionStatus"
	ParamTxnNo        = "vnp_TransactionNo"
	ParamBankCode     = "vnp_BankCode"
	ParamSecureHash   = "vnp_SecureHash"
)

const createDateLayout = "20060102150405"

// ErrInvalidSignature is returned when an inbound callback's signature does
// not match the recomputed HMAC. Verification fails closed.
var ErrInvalidSignature = errors.New("invalid gateway signature")

// Config holds the merchant credentials and endpoints for the gateway.
type Config struct {
	BaseURL      string
	MerchantCode string
	HashSecret   string
	ReturnURL    string
}

// PayRequest is the outbound payment request to be signed into a redirect
// URL. Amount is in major currency units; the protocol multiplies by 100.
type PayRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
}

// CallbackResult is a parsed and verified inbound callback.
type CallbackResult struct {
	TxnRef        string
	ResponseCode  string
	TxnStatus     string
	TransactionNo string
	BankCode      string
	Amount        int64
	Success       bool
}

// Signer builds signed redirect URLs and verifies inbound callbacks.
type Signer struct {
	cfg Config
}

func NewSigner(cfg Config) *Signer {
	return &Signer{cfg: cfg}
}

// canonicalize sorts the parameters by name, byte-wise ascending, and joins
// form-encoded key=value pairs with '&'. This exact string is both the data
// signed and the query string sent.
func canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func (s *Signer) sign(canonical string) string {
	mac := hmac.New(sha512.New, []byte(s.cfg.HashSecret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildPayURL assembles the full signed redirect URL for a payment attempt.
func (s *Signer) BuildPayURL(req PayRequest) string {
	params := map[string]string{
		ParamVersion:      Version,
		ParamCommand:      CommandPay,
		ParamMerchantCode: s.cfg.MerchantCode,
		ParamAmount:       fmt.Sprintf("%d", req.Amount*100),
		ParamCreateDate:   req.CreatedAt.Format(createDateLayout),
		ParamCurrency:     CurrencyVND,
		ParamIPAddr:       req.ClientIP,
		ParamLocale:       LocaleVN,
		ParamOrderInfo:    req.OrderInfo,
		ParamReturnURL:    s.cfg.ReturnURL,
		ParamTxnRef:       req.TxnRef,
	}

	canonical := canonicalize(params)
	signature := s.sign(canonical)

	return fmt.Sprintf("%s?%s&%s=%s", s.cfg.BaseURL, canonical, ParamSecureHash, signature)
}

// Verify checks the signature over the supplied callback parameters. The
// signature parameter itself is stripped before re-canonicalizing; everything
// else the gateway sent participates in the HMAC. Comparison is constant
// time. On mismatch it returns ErrInvalidSignature and nothing else.
func (s *Signer) Verify(params map[string]string) (*CallbackResult, error) {
	supplied, ok := params[ParamSecureHash]
	if !ok || supplied == "" {
		return nil, ErrInvalidSignature
	}

	rest := make(map[string]string, len(params)-1)
	for k, v := range params {
		if k == ParamSecureHash {
			continue
		}
		rest[k] = v
	}

	expected := s.sign(canonicalize(rest))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(supplied))) {
		return nil, ErrInvalidSignature
	}

	var amount int64
	if raw := rest[ParamAmount]; raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Signed but unparseable is still a protocol violation; fail closed.
			return nil, fmt.Errorf("malformed amount %q: %w", raw, ErrInvalidSignature)
		}
		amount = parsed
	}

	res := &CallbackResult{
		TxnRef:        rest[ParamTxnRef],
		ResponseCode:  rest[ParamResponseCode],
		TxnStatus:     rest[ParamTxnStatus],
		TransactionNo: rest[ParamTxnNo],
		BankCode:      rest[ParamBankCode],
		Amount:        amount / 100,
	}
	res.Success = res.ResponseCode == ResponseCodeSuccess && res.TxnStatus == ResponseCodeSuccess
	return res, nil
}

// VerifyQuery is Verify over a raw query string, for handlers that receive
// the callback as a redirect.
func (s *Signer) VerifyQuery(rawQuery string) (*CallbackResult, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	return s.Verify(params)
}
