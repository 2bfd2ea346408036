package apple_notification

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type testChain struct {
	rootPEM []byte
	x5c     []string
	leafKey *ecdsa.PrivateKey
}

func newCert(t *testing.T, serial int64, cn string, isCA bool, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}
	if parent == nil {
		parent, parentKey = tmpl, key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func newTestChain(t *testing.T) *testChain {
	root, rootKey := newCert(t, 1, "Test Root", true, nil, nil)
	inter, interKey := newCert(t, 2, "Test Intermediate", true, root, rootKey)
	leaf, leafKey := newCert(t, 3, "Test Leaf", false, inter, interKey)
	enc := func(c *x509.Certificate) string { return base64.StdEncoding.EncodeToString(c.Raw) }
	return &testChain{
		rootPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Raw}),
		x5c:     []string{enc(leaf), enc(inter), enc(root)},
		leafKey: leafKey,
	}
}

func (c *testChain) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = c.x5c
	s, err := token.SignedString(c.leafKey)
	require.NoError(t, err)
	return s
}

func TestVerifier_ParsesRenewal(t *testing.T) {
	chain := newTestChain(t)
	v, err := NewVerifierWithRoot(chain.rootPEM)
	require.NoError(t, err)

	txJWS := chain.sign(t, jwt.MapClaims{
		"transactionId":         "2000000001",
		"originalTransactionId": "2000000000",
		"productId":             "com.example.premium.monthly",
		"appAccountToken":       "0190f1a2-3b4c-7d5e-8f60-718293a4b5c6",
		"purchaseDate":          1735689600000,
		"expiresDate":           1738368000000,
		"price":                 9990,
		"currency":              "USD",
		"type":                  "Auto-Renewable Subscription",
	})
	renewalJWS := chain.sign(t, jwt.MapClaims{
		"autoRenewStatus":       1,
		"renewalDate":           1738368000000,
		"productId":             "com.example.premium.monthly",
		"originalTransactionId": "2000000000",
	})
	payload := chain.sign(t, jwt.MapClaims{
		"notificationType": "DID_RENEW",
		"notificationUUID": "c1b2",
		"data": map[string]any{
			"environment":           "Sandbox",
			"signedTransactionInfo": txJWS,
			"signedRenewalInfo":     renewalJWS,
		},
	})

	n, err := v.Parse(payload)
	require.NoError(t, err)
	require.False(t, n.IsTest)
	require.True(t, n.IsSandbox)
	require.Equal(t, "DID_RENEW", n.Payload.NotificationType)
	require.Equal(t, "2000000001", n.TransactionInfo.TransactionID)
	require.Equal(t, int64(9990), n.TransactionInfo.Price)
	require.True(t, n.AutoRenewing())
}

func TestVerifier_TestNotificationSkipsTransaction(t *testing.T) {
	chain := newTestChain(t)
	v, err := NewVerifierWithRoot(chain.rootPEM)
	require.NoError(t, err)

	n, err := v.Parse(chain.sign(t, jwt.MapClaims{"notificationType": "TEST", "data": map[string]any{}}))
	require.NoError(t, err)
	require.True(t, n.IsTest)
	require.Nil(t, n.TransactionInfo)
	require.False(t, n.AutoRenewing())
}

func TestVerifier_RejectsForeignChain(t *testing.T) {
	trusted := newTestChain(t)
	other := newTestChain(t)
	v, err := NewVerifierWithRoot(trusted.rootPEM)
	require.NoError(t, err)

	_, err = v.Parse(other.sign(t, jwt.MapClaims{"notificationType": "TEST"}))
	require.Error(t, err)
}

func TestVerifier_RejectsMissingX5c(t *testing.T) {
	chain := newTestChain(t)
	v, err := NewVerifierWithRoot(chain.rootPEM)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{"notificationType": "TEST"})
	s, err := token.SignedString(chain.leafKey)
	require.NoError(t, err)
	_, err = v.Parse(s)
	require.Error(t, err)
}

func TestVerifier_RequiresTransactionInfo(t *testing.T) {
	chain := newTestChain(t)
	v, err := NewVerifierWithRoot(chain.rootPEM)
	require.NoError(t, err)

	_, err = v.Parse(chain.sign(t, jwt.MapClaims{"notificationType": "REFUND", "data": map[string]any{}}))
	require.Error(t, err)
}

func TestNewVerifier_AppleRootParses(t *testing.T) {
	_, err := NewVerifier()
	require.NoError(t, err)
}
