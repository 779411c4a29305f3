// Package billing mints the bill token of a committed sale and redeems it
// into a receipt on the public verification path.
package billing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
)

const (
	tokenSeparator = "-"
	nonceBytes     = 16
)

// Token is a parsed bill token: <tenantId>-<32 hex nonce>-<saleId>
type Token struct {
	TenantID string
	Nonce    string
	SaleID   string
}

func (t Token) String() string {
	return t.TenantID + tokenSeparator + t.Nonce + tokenSeparator + t.SaleID
}

// NewToken builds a token for saleID with a fresh nonce read from random
func NewToken(random io.Reader, tenantID, saleID string) (Token, error) {
	if tenantID == "" || strings.Contains(tenantID, tokenSeparator) {
		return Token{}, fmt.Errorf("billing: tenant id %q cannot be embedded in a token", tenantID)
	}
	if saleID == "" || strings.Contains(saleID, tokenSeparator) {
		return Token{}, fmt.Errorf("billing: sale id %q cannot be embedded in a token", saleID)
	}

	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return Token{}, fmt.Errorf("billing: read nonce: %w", err)
	}

	return Token{TenantID: tenantID, Nonce: hex.EncodeToString(buf), SaleID: saleID}, nil
}

// ParseToken splits a token into its parts. Anything but three non-empty
// parts with a 32-char hex nonce is malformed, including the legacy
// two-part form.
func ParseToken(raw string) (Token, error) {
	parts := strings.Split(raw, tokenSeparator)
	if len(parts) != 3 {
		return Token{}, domain.ErrMalformedToken
	}
	for _, p := range parts {
		if p == "" {
			return Token{}, domain.ErrMalformedToken
		}
	}
	if !isNonce(parts[1]) {
		return Token{}, domain.ErrMalformedToken
	}
	return Token{TenantID: parts[0], Nonce: parts[1], SaleID: parts[2]}, nil
}

func isNonce(s string) bool {
	if len(s) != nonceBytes*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// cryptoRandom is the default nonce source
var cryptoRandom io.Reader = rand.Reader
