// Package apple_notification verifies App Store Server Notifications V2.
// Each JWS carries its signing chain in the x5c header; the chain must end
// at Apple Root CA G3.
package apple_notification

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const appleRootCAG3RootPem = `-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----`

type Verifier struct {
	roots *x509.CertPool
}

// NewVerifier trusts Apple Root CA G3.
func NewVerifier() (*Verifier, error) {
	return NewVerifierWithRoot([]byte(appleRootCAG3RootPem))
}

// NewVerifierWithRoot trusts the given PEM root instead.
func NewVerifierWithRoot(rootPEM []byte) (*Verifier, error) {
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(rootPEM) {
		return nil, errors.New("root certificate couldn't be parsed")
	}
	return &Verifier{roots: roots}, nil
}

// Parse verifies signedPayload and the nested transaction and renewal JWS.
func (v *Verifier) Parse(signedPayload string) (*Notification, error) {
	payload := &NotificationPayload{}
	if err := v.parseJWS(signedPayload, payload); err != nil {
		return nil, fmt.Errorf("invalid notification payload: %w", err)
	}
	n := &Notification{
		Payload:   payload,
		IsTest:    payload.NotificationType == "TEST",
		IsSandbox: payload.Data.Environment == "Sandbox",
	}
	if n.IsTest {
		return n, nil
	}

	if payload.Data.SignedTransactionInfo == "" {
		return nil, errors.New("notification has no signed transaction info")
	}
	n.TransactionInfo = &TransactionInfo{}
	if err := v.parseJWS(payload.Data.SignedTransactionInfo, n.TransactionInfo); err != nil {
		return nil, fmt.Errorf("invalid signed transaction info: %w", err)
	}
	if payload.Data.SignedRenewalInfo != "" {
		n.RenewalInfo = &RenewalInfo{}
		if err := v.parseJWS(payload.Data.SignedRenewalInfo, n.RenewalInfo); err != nil {
			return nil, fmt.Errorf("invalid signed renewal info: %w", err)
		}
	}
	return n, nil
}

func (v *Verifier) parseJWS(token string, claims jwt.Claims) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.leafKey(t.Header)
	})
	return err
}

// leafKey verifies the x5c chain [leaf, intermediate, root] and returns the
// leaf's public key.
func (v *Verifier) leafKey(header map[string]any) (*ecdsa.PublicKey, error) {
	raw, ok := header["x5c"].([]any)
	if !ok || len(raw) < 3 {
		return nil, errors.New("x5c header must hold three certificates")
	}
	certs := make([]*x509.Certificate, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("x5c[%d] is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	intermediates.AddCert(certs[1])
	if _, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("certificate chain rejected: %w", err)
	}

	pk, ok := certs[0].PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("appstore public key must be of type ecdsa.PublicKey")
	}
	return pk, nil
}
