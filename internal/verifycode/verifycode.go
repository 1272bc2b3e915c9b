// Package verifycode derives the short verification payload shown on an
// invoice and its scannable QR rendering. The payload is re-computable from
// committed entry fields; it is never part of the fingerprint input.
package verifycode

import (
	"net/url"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// fingerprintPrefixLen is the number of fingerprint characters embedded in
// the payload when the option is on.
const fingerprintPrefixLen = 8

// KeyMap names the query-string keys of the payload. Deployments override
// individual keys to match whatever their verification portal expects.
type KeyMap struct {
	Issuer      string
	Series      string
	Number      string
	IssueDate   string
	Amount      string
	Mode        string
	Fingerprint string
}

// DefaultKeyMap returns the stock key names.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Issuer:      "iss",
		Series:      "ser",
		Number:      "num",
		IssueDate:   "dat",
		Amount:      "amt",
		Mode:        "mod",
		Fingerprint: "fp",
	}
}

// Config is the immutable derivation configuration.
type Config struct {
	// BaseURL, when set, prefixes the query string so the code scans as a
	// link to the verification portal. Empty means the bare query string is
	// the payload.
	BaseURL string

	Keys KeyMap

	// ModeMarker is the fixed mode field value. Defaults to "1".
	ModeMarker string

	// IncludeFingerprintPrefix appends the first 8 characters of the
	// committed fingerprint.
	IncludeFingerprintPrefix bool

	// ImageSize is the QR edge length in pixels. Defaults to 256.
	ImageSize int
}

// Input holds the committed entry fields the payload is derived from.
type Input struct {
	IssuerTaxID string
	Series      string
	Number      string
	InvoiceID   string // used when Number is blank
	IssueDate   time.Time
	Amount      string // fixed-point, 2 decimals
	Fingerprint string
}

// Derive builds the URL-encoded verification payload. Identical input and
// configuration always produce an identical string.
func Derive(in Input, cfg Config) string {
	keys := cfg.Keys
	if keys == (KeyMap{}) {
		keys = DefaultKeyMap()
	}
	mode := cfg.ModeMarker
	if mode == "" {
		mode = "1"
	}
	number := in.Number
	if number == "" {
		number = in.InvoiceID
	}

	pairs := []struct{ k, v string }{
		{keys.Issuer, in.IssuerTaxID},
		{keys.Series, in.Series},
		{keys.Number, number},
		{keys.IssueDate, in.IssueDate.Format("2006-01-02")},
		{keys.Amount, in.Amount},
		{keys.Mode, mode},
	}
	if cfg.IncludeFingerprintPrefix && len(in.Fingerprint) >= fingerprintPrefixLen {
		pairs = append(pairs, struct{ k, v string }{keys.Fingerprint, in.Fingerprint[:fingerprintPrefixLen]})
	}

	// url.Values.Encode sorts keys alphabetically; the field order here is
	// fixed, so the pairs are joined by hand with escaped values.
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.v))
	}

	query := b.String()
	if cfg.BaseURL == "" {
		return query
	}
	sep := "?"
	if strings.Contains(cfg.BaseURL, "?") {
		sep = "&"
	}
	return cfg.BaseURL + sep + query
}

// Render encodes the payload as a PNG QR code at error-correction level M.
// Callers treat a render failure as non-fatal: the textual payload is still
// committed and usable.
func Render(payload string, cfg Config) ([]byte, error) {
	size := cfg.ImageSize
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
