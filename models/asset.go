package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stellar/go/strkey"
)

const NativeAssetCode = "XLM"

var assetCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,12}$`)

// Asset is a parsed Stellar asset. Issuer is empty for the native asset.
type Asset struct {
	Code   string
	Issuer string
}

func (a Asset) IsNative() bool {
	return a.Issuer == "" && a.Code == NativeAssetCode
}

func (a Asset) String() string {
	if a.IsNative() {
		return NativeAssetCode
	}
	return a.Code + ":" + a.Issuer
}

// ParseAsset accepts "XLM" (also "native") or "CODE:ISSUER"
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, NativeAssetCode) || strings.EqualFold(s, "native") {
		return Asset{Code: NativeAssetCode}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Asset{}, fmt.Errorf("asset %q must be XLM or CODE:ISSUER", s)
	}
	code, issuer := parts[0], parts[1]
	if !assetCodePattern.MatchString(code) {
		return Asset{}, fmt.Errorf("invalid asset code %q", code)
	}
	if !strkey.IsValidEd25519PublicKey(issuer) {
		return Asset{}, fmt.Errorf("invalid asset issuer %q", issuer)
	}
	return Asset{Code: code, Issuer: issuer}, nil
}

// ValidateAddress checks that addr is a Stellar account id (G...)
func ValidateAddress(addr string) error {
	if !strkey.IsValidEd25519PublicKey(addr) {
		return fmt.Errorf("invalid Stellar address %q", addr)
	}
	return nil
}
