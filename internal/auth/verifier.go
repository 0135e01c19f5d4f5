package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
)

// ErrMissingToken is returned when no identity token was supplied. The
// verifier makes no network call in that case.
var ErrMissingToken = errors.New("identity token missing")

var errUnknownKey = errors.New("unknown token key")

// Verifier exchanges a caller-supplied identity token for a verified user ID
type Verifier interface {
	// Verify validates the token and returns the subject user ID
	Verify(ctx context.Context, idToken string) (string, error)
}

// Config configures identity token verification.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// JWKSVerifier validates RS256 identity tokens against the provider's JWKS
// document. The key set is fetched lazily on first use and cached with a TTL;
// concurrent first calls fetch at most once. The verifier holds the only
// connection state to the identity provider, so it is constructed once and
// passed to the service rather than kept in a package-level singleton.
type JWKSVerifier struct {
	issuer     string
	audience   string
	leeway     time.Duration
	jwksURL    string
	httpClient *http.Client

	mu         sync.Mutex
	rsaKeys    map[string]*rsa.PublicKey
	keysExpire time.Time
}

// NewJWKSVerifier creates a token verifier. No network call happens until the
// first Verify.
func NewJWKSVerifier(cfg Config) (*JWKSVerifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires a jwks url")
	}

	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}

	return &JWKSVerifier{
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		leeway:     leeway,
		jwksURL:    jwksURL,
		httpClient: httpClient,
	}, nil
}

// Verify validates the token and returns the subject user ID
func (v *JWKSVerifier) Verify(ctx context.Context, idToken string) (string, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return "", ErrMissingToken
	}

	keys, err := v.currentKeys(ctx, false)
	if err != nil {
		return "", fmt.Errorf("loading provider keys: %w", err)
	}

	claims, err := v.parse(idToken, keys)
	if errors.Is(err, errUnknownKey) {
		// Key rotation at the provider; refetch once and retry
		keys, err = v.currentKeys(ctx, true)
		if err != nil {
			return "", fmt.Errorf("loading provider keys: %w", err)
		}
		claims, err = v.parse(idToken, keys)
	}
	if err != nil {
		return "", err
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}

func (v *JWKSVerifier) parse(idToken string, keys map[string]*rsa.PublicKey) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(idToken, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	}, opts...)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

// currentKeys returns the cached key set, fetching it when absent, expired,
// or when the caller forces a refresh. The mutex makes concurrent first calls
// fetch exactly once.
func (v *JWKSVerifier) currentKeys(ctx context.Context, force bool) (map[string]*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !force && v.rsaKeys != nil && time.Now().UTC().Before(v.keysExpire) {
		return v.rsaKeys, nil
	}

	keys, err := v.fetchJWKS(ctx)
	if err != nil {
		// Keep serving stale keys rather than failing every request
		if v.rsaKeys != nil && !force {
			return v.rsaKeys, nil
		}
		return nil, err
	}

	v.rsaKeys = keys
	v.keysExpire = time.Now().UTC().Add(defaultJWKSCacheTTL)
	return keys, nil
}

func (v *JWKSVerifier) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable rsa keys")
	}
	return keys, nil
}

func parseRSAPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() {
		return nil, errors.New("invalid rsa key")
	}
	e := int(eBig.Int64())
	if e <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
