// Package auth verifies bearer tokens and resolves them to API credentials.
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

	"github.com/golang-jwt/jwt/v5"

	"hookrelay/internal/model"
)

const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
	ModeJWKS = "jwks"
)

var ErrUnauthorized = errors.New("unauthorized")

type Config struct {
	Mode            string
	HMACSecret      string
	JWKSURL         string
	CredentialClaim string
	ScopeClaim      string
}

// Verifier validates bearer tokens and extracts the credential and its scopes.
// Supports modes: dev (no verify), hmac (HS256), jwks (RS256 from JWKS URL).
type Verifier struct {
	mode            string
	hmacSecret      []byte
	jwksURL         string
	credentialClaim string
	scopeClaim      string
	http            *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
	cacheTTL  time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func NewVerifier(cfg Config) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{
		mode:            mode,
		hmacSecret:      []byte(cfg.HMACSecret),
		jwksURL:         cfg.JWKSURL,
		credentialClaim: orDefault(cfg.CredentialClaim, "sub"),
		scopeClaim:      orDefault(cfg.ScopeClaim, "scope"),
		http:            &http.Client{Timeout: 5 * time.Second},
		cacheTTL:        10 * time.Minute,
	}
}

func orDefault(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

func (v *Verifier) Mode() string { return v.mode }

// Verify resolves token to a principal. Every failure wraps ErrUnauthorized.
func (v *Verifier) Verify(ctx context.Context, token string) (model.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Principal{}, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	if v.mode == ModeDev {
		// token format: credential:scope1,scope2
		cred, scopes, ok := strings.Cut(token, ":")
		if !ok || cred == "" {
			return model.Principal{}, fmt.Errorf("%w: invalid dev token; expected credential:scopes", ErrUnauthorized)
		}
		return model.Principal{CredentialID: cred, Scopes: ParseScopes(scopes)}, nil
	}

	var keyFunc jwt.Keyfunc
	var methods []string
	switch v.mode {
	case ModeHMAC:
		methods = []string{jwt.SigningMethodHS256.Alg()}
		keyFunc = func(*jwt.Token) (any, error) { return v.hmacSecret, nil }
	case ModeJWKS:
		methods = []string{jwt.SigningMethodRS256.Alg()}
		keyFunc = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.rsaKey(ctx, kid)
		}
	default:
		return model.Principal{}, fmt.Errorf("%w: unsupported auth mode %q", ErrUnauthorized, v.mode)
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, jwt.WithValidMethods(methods)); err != nil {
		return model.Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	cred, _ := claims[v.credentialClaim].(string)
	if cred == "" {
		return model.Principal{}, fmt.Errorf("%w: missing %s claim", ErrUnauthorized, v.credentialClaim)
	}
	return model.Principal{CredentialID: cred, Scopes: scopesFromClaim(claims[v.scopeClaim])}, nil
}

// scopesFromClaim accepts an OAuth style space separated string or a JSON array.
func scopesFromClaim(raw any) []string {
	switch s := raw.(type) {
	case string:
		return ParseScopes(s)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func (v *Verifier) rsaKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.fetchJWKS(ctx); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS(ctx context.Context) error {
	if v.jwksURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: HTTP %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		pub, err := k.rsa()
		if err != nil {
			return fmt.Errorf("jwks key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

func (k jwk) rsa() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("bad exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}
