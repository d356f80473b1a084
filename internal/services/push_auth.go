package services

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"entitlement-api/pkg/logging"

	"github.com/golang-jwt/jwt"
)

const googleCertsURL = "https://www.googleapis.com/oauth2/v1/certs"

// PushAuthenticator verifies that a push delivery really originates from the
// platform's notification pipeline: the bearer token must be a valid OIDC
// token issued by Google for the configured audience and service account.
// Signing certificates are fetched on demand and cached.
type PushAuthenticator struct {
	audience       string
	serviceAccount string

	httpClient    *http.Client
	certCache     map[string]*x509.Certificate
	mutex         sync.RWMutex
	lastCertFetch time.Time
	certCacheTTL  time.Duration
}

// NewPushAuthenticator creates a push authenticator. With an empty audience
// authentication is disabled (local development); every delivery is accepted
// and a warning logged.
func NewPushAuthenticator(audience, serviceAccount string) *PushAuthenticator {
	return &PushAuthenticator{
		audience:       audience,
		serviceAccount: serviceAccount,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		certCache:      make(map[string]*x509.Certificate),
		certCacheTTL:   time.Hour,
	}
}

// Authenticate checks the Authorization header of a push delivery. A failure
// means the envelope is not provably from the legitimate source and must be
// rejected without touching any state.
func (a *PushAuthenticator) Authenticate(authorizationHeader string) error {
	if a.audience == "" {
		logging.Warnf("Push authentication disabled (PUBSUB_AUDIENCE not set), accepting delivery")
		return nil
	}

	rawToken := strings.TrimPrefix(authorizationHeader, "Bearer ")
	if rawToken == "" || rawToken == authorizationHeader {
		return fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		cert, err := a.certificate(kid)
		if err != nil {
			return nil, err
		}
		key, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate %s does not contain an RSA key", kid)
		}
		return key, nil
	})
	if err != nil {
		return fmt.Errorf("failed to verify bearer token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("bearer token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("unexpected claims type")
	}

	issuer, _ := claims["iss"].(string)
	if issuer != "accounts.google.com" && issuer != "https://accounts.google.com" {
		return fmt.Errorf("unexpected issuer %q", issuer)
	}
	audience, _ := claims["aud"].(string)
	if audience != a.audience {
		return fmt.Errorf("unexpected audience %q", audience)
	}
	if a.serviceAccount != "" {
		email, _ := claims["email"].(string)
		if email != a.serviceAccount {
			return fmt.Errorf("unexpected service account %q", email)
		}
	}

	return nil
}

// certificate returns the signing certificate for a key id, refreshing the
// cache when the key is unknown or the cache is stale.
func (a *PushAuthenticator) certificate(kid string) (*x509.Certificate, error) {
	a.mutex.RLock()
	cert, exists := a.certCache[kid]
	fresh := time.Since(a.lastCertFetch) < a.certCacheTTL
	a.mutex.RUnlock()

	if exists && fresh {
		return cert, nil
	}

	if err := a.refreshCertificates(); err != nil {
		return nil, err
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()
	cert, exists = a.certCache[kid]
	if !exists {
		return nil, fmt.Errorf("no certificate for key id %s", kid)
	}
	return cert, nil
}

// refreshCertificates fetches the current certificate set.
func (a *PushAuthenticator) refreshCertificates() error {
	resp, err := a.httpClient.Get(googleCertsURL)
	if err != nil {
		return fmt.Errorf("failed to fetch certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("certificate endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read certificate response: %w", err)
	}

	var pemByKid map[string]string
	if err := json.Unmarshal(body, &pemByKid); err != nil {
		return fmt.Errorf("failed to parse certificate response: %w", err)
	}

	certs := make(map[string]*x509.Certificate, len(pemByKid))
	for kid, certPEM := range pemByKid {
		cert, err := parseCertificatePEM(certPEM)
		if err != nil {
			logging.Errorf("Skipping unparsable certificate %s: %v", kid, err)
			continue
		}
		certs[kid] = cert
	}
	if len(certs) == 0 {
		return fmt.Errorf("certificate endpoint returned no usable certificates")
	}

	a.mutex.Lock()
	a.certCache = certs
	a.lastCertFetch = time.Now()
	a.mutex.Unlock()

	return nil
}

// parseCertificatePEM parses a PEM encoded certificate.
func parseCertificatePEM(certPEM string) (*x509.Certificate, error) {
	if !strings.HasPrefix(certPEM, "-----BEGIN CERTIFICATE-----") {
		certPEM = "-----BEGIN CERTIFICATE-----\n" + certPEM + "\n-----END CERTIFICATE-----"
	}

	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("certificate is expired or not yet valid")
	}

	return cert, nil
}
