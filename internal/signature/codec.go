// Package signature computes and verifies the keyed hashes payment providers
// attach to redirect URLs, API requests and callbacks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Codec describes how a provider canonicalizes a parameter set before
// hashing it. The zero value sorts keys, joins the values with "&" and
// hashes with HMAC-SHA256.
type Codec struct {
	// Hash constructs the HMAC digest. Defaults to SHA-256.
	Hash func() hash.Hash
	// Delimiter joins the canonical elements. Defaults to "&".
	Delimiter string
	// Pairs emits "key=value" elements; otherwise only values are joined.
	Pairs bool
	// Escape URL-encodes keys and values (query-string canonicalization).
	Escape bool
	// SkipEmpty drops parameters whose value is empty.
	SkipEmpty bool
	// Order pins a fixed field order. Keys missing from the parameter set
	// contribute an empty value. When nil, keys are sorted byte-wise.
	Order []string
}

// VNPay signs payment URLs and IPN query strings.
var VNPay = Codec{
	Hash:      sha512.New,
	Delimiter: "&",
	Pairs:     true,
	Escape:    true,
	SkipEmpty: true,
}

// MoMo signs create/query requests and IPN bodies.
var MoMo = Codec{
	Hash:      sha256.New,
	Delimiter: "&",
	Pairs:     true,
}

// VNPayQuery returns the pipe-joined HMAC-SHA512 codec VNPay uses for its
// merchant web API (querydr/refund) with the given field order.
func VNPayQuery(order ...string) Codec {
	return Codec{Hash: sha512.New, Delimiter: "|", Order: order}
}

// ZaloPay returns the pipe-joined HMAC-SHA256 codec ZaloPay uses for its
// mac fields with the given field order.
func ZaloPay(order ...string) Codec {
	return Codec{Hash: sha256.New, Delimiter: "|", Order: order}
}

// Canonical returns the string the signature is computed over.
func (c Codec) Canonical(params map[string]string) string {
	keys := c.keys(params)
	delim := c.Delimiter
	if delim == "" {
		delim = "&"
	}

	var b strings.Builder
	written := 0
	for _, k := range keys {
		v := params[k]
		if c.SkipEmpty && v == "" {
			continue
		}
		if written > 0 {
			b.WriteString(delim)
		}
		written++
		if c.Escape {
			v = url.QueryEscape(v)
		}
		if c.Pairs {
			if c.Escape {
				b.WriteString(url.QueryEscape(k))
			} else {
				b.WriteString(k)
			}
			b.WriteByte('=')
		}
		b.WriteString(v)
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC of the canonical form of params.
func (c Codec) Sign(params map[string]string, secret string) string {
	return hex.EncodeToString(c.mac(params, secret))
}

// Verify reports whether signature matches params under secret. It never
// panics: an empty secret or a malformed signature yields false.
func (c Codec) Verify(params map[string]string, signature, secret string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, c.mac(params, secret))
}

func (c Codec) mac(params map[string]string, secret string) []byte {
	h := c.Hash
	if h == nil {
		h = sha256.New
	}
	m := hmac.New(h, []byte(secret))
	m.Write([]byte(c.Canonical(params)))
	return m.Sum(nil)
}

func (c Codec) keys(params map[string]string) []string {
	if c.Order != nil {
		return c.Order
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
