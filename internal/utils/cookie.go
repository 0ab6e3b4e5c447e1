package utils // package utils signs and verifies cookie values

import (
	"crypto/hmac"     // cookie MACs
	"crypto/sha256"   // HMAC hash function
	"encoding/base64" // MAC encoding
	"strings"         // prefix and separator parsing
)

const signedPrefix = "s:"

// SignCookie returns "s:<value>.<mac>" where mac is the unpadded base64
// HMAC-SHA256 of value under secret.
func SignCookie(value string, secret []byte) string {
	return signedPrefix + value + "." + cookieMAC(value, secret)
}

// UnsignCookie verifies a value produced by SignCookie and returns the
// original value.  ok is false for unsigned or tampered input.
func UnsignCookie(signed string, secret []byte) (value string, ok bool) {
	if !strings.HasPrefix(signed, signedPrefix) {
		return "", false
	}
	body := strings.TrimPrefix(signed, signedPrefix)
	dot := strings.LastIndexByte(body, '.')
	if dot < 0 {
		return "", false
	}
	value, mac := body[:dot], body[dot+1:]
	if !hmac.Equal([]byte(mac), []byte(cookieMAC(value, secret))) {
		return "", false
	}
	return value, true
}

func cookieMAC(value string, secret []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(value))
	return base64.RawStdEncoding.EncodeToString(m.Sum(nil))
}
