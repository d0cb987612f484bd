package billing

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/gorilla/schema"
)

const (
	PayFastStatusComplete  = "COMPLETE"
	PayFastStatusCancelled = "CANCELLED"

	payFastSignatureKey = "signature"
)

// Param is one key/value pair of a PayFast request. PayFast signs outbound
// requests in the order the fields are sent, so params are kept as a slice.
type Param struct {
	Key   string
	Value string
}

type Params []Param

// Add appends a param and returns the extended list.
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// PayFastITN is the form body PayFast posts to the notify URL.
type PayFastITN struct {
	MPaymentID      string `schema:"m_payment_id"`
	PfPaymentID     string `schema:"pf_payment_id"`
	PaymentStatus   string `schema:"payment_status"`
	ItemName        string `schema:"item_name"`
	ItemDescription string `schema:"item_description"`
	AmountGross     string `schema:"amount_gross"`
	AmountFee       string `schema:"amount_fee"`
	AmountNet       string `schema:"amount_net"`
	CustomStr1      string `schema:"custom_str1"` // local user id
	CustomStr2      string `schema:"custom_str2"` // plan code, optional
	NameFirst       string `schema:"name_first"`
	NameLast        string `schema:"name_last"`
	EmailAddress    string `schema:"email_address"`
	MerchantID      string `schema:"merchant_id"`
	Token           string `schema:"token"`
	BillingDate     string `schema:"billing_date"`
	Signature       string `schema:"signature"`
}

// UserID returns the correlation id passed through at checkout time.
func (n *PayFastITN) UserID() string {
	return strings.TrimSpace(n.CustomStr1)
}

// EventID identifies a delivery for the webhook log. Empty when PayFast did
// not send a payment id.
func (n *PayFastITN) EventID() string {
	id := strings.TrimSpace(n.PfPaymentID)
	if id == "" {
		return ""
	}
	return id + ":" + strings.ToUpper(strings.TrimSpace(n.PaymentStatus))
}

var itnDecoder = newITNDecoder()

func newITNDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// ParsePayFastITN parses a form-encoded ITN body. The returned values keep
// every field as sent and are what the signature must be computed over.
func ParsePayFastITN(body []byte) (*PayFastITN, url.Values, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse payfast body of len %d: %w", len(body), err)
	}
	var itn PayFastITN
	if err := itnDecoder.Decode(&itn, values); err != nil {
		return nil, nil, fmt.Errorf("failed to decode payfast itn: %w", err)
	}
	return &itn, values, nil
}

// PayFastParamString builds the string PayFast hashes: key=value pairs joined
// by '&', values trimmed and URL-encoded with spaces as '+', followed by the
// passphrase when one is configured.
func PayFastParamString(params Params, passphrase string, skipEmpty bool) string {
	var b strings.Builder
	for _, p := range params {
		if skipEmpty && p.Value == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(payFastEncode(p.Value))
	}
	if passphrase != "" {
		b.WriteString("&passphrase=")
		b.WriteString(payFastEncode(passphrase))
	}
	return b.String()
}

// SignPayFast signs an outbound request. Params are hashed in the given order
// and empty values are left out.
func SignPayFast(params Params, passphrase string) string {
	return md5Hex(PayFastParamString(params, passphrase, true))
}

// PayFastSignatureForITN recomputes the signature of an inbound notification.
// Keys are sorted alphabetically, the signature field itself is excluded and
// empty values are kept.
func PayFastSignatureForITN(values url.Values, passphrase string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == payFastSignatureKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(Params, 0, len(keys))
	for _, k := range keys {
		params = params.Add(k, values.Get(k))
	}
	return md5Hex(PayFastParamString(params, passphrase, false))
}

// VerifyPayFastSignature reports whether the ITN carries a signature matching
// its fields. A missing signature never verifies.
func VerifyPayFastSignature(values url.Values, passphrase string) bool {
	return CheckPayFastSignature(values, passphrase) == nil
}

// CheckPayFastSignature is VerifyPayFastSignature with the failure reason.
// A field sent more than once never verifies: only one value per key is
// hashed, so any other copy would be unsigned.
func CheckPayFastSignature(values url.Values, passphrase string) error {
	got := strings.TrimSpace(values.Get(payFastSignatureKey))
	if got == "" {
		return ErrSignatureMissing
	}
	for _, vs := range values {
		if len(vs) > 1 {
			return ErrSignatureInvalid
		}
	}
	if !strings.EqualFold(PayFastSignatureForITN(values, passphrase), got) {
		return ErrSignatureInvalid
	}
	return nil
}

// BuildPayFastCheckoutURL returns the redirect URL for a signed checkout.
func BuildPayFastCheckoutURL(processURL string, params Params, passphrase string) (string, error) {
	base := strings.TrimSpace(processURL)
	if base == "" {
		return "", errors.New("PAYFAST_PROCESS_URL is not configured")
	}
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("invalid PAYFAST_PROCESS_URL: %w", err)
	}
	query := PayFastParamString(params, "", true)
	return base + "?" + query + "&signature=" + SignPayFast(params, passphrase), nil
}

// payFastEncode mirrors JavaScript's encodeURIComponent followed by replacing
// %20 with '+'. url.QueryEscape already writes spaces as '+' but also escapes
// the five characters encodeURIComponent leaves alone.
func payFastEncode(v string) string {
	return uriComponentUnescaper.Replace(url.QueryEscape(strings.TrimSpace(v)))
}

var uriComponentUnescaper = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
