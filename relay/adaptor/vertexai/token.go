package vertexai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/llmux/llmux/common/client"
)

const (
	tokenEndpoint = "https://oauth2.googleapis.com/token"
	tokenScope    = "https://www.googleapis.com/auth/cloud-platform"
	tokenLifetime = time.Hour
)

// tokenCache keeps minted access tokens until shortly before expiry.
var tokenCache = gocache.New(50*time.Minute, 10*time.Minute)

// GetAccessToken mints a short-lived Vertex access token from the service
// account credential, caching it per client email.
func GetAccessToken(ctx context.Context, clientEmail, privateKey string) (string, error) {
	if cached, ok := tokenCache.Get(clientEmail); ok {
		return cached.(string), nil
	}

	signed, err := signServiceAccountJWT(clientEmail, privateKey)
	if err != nil {
		return "", errors.Wrap(err, "sign service account jwt")
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", signed)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "exchange jwt for access token")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("token exchange failed: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.Wrap(err, "unmarshal token response")
	}
	if payload.AccessToken == "" {
		return "", errors.New("token exchange returned no access_token")
	}

	ttl := 50 * time.Minute
	if payload.ExpiresIn > 0 {
		ttl = time.Duration(payload.ExpiresIn-600) * time.Second
		if ttl <= 0 {
			ttl = time.Duration(payload.ExpiresIn) * time.Second / 2
		}
	}
	tokenCache.Set(clientEmail, payload.AccessToken, ttl)
	return payload.AccessToken, nil
}

func signServiceAccountJWT(clientEmail, privateKey string) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKey))
	if err != nil {
		return "", errors.Wrap(err, "parse private key")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   clientEmail,
		"scope": tokenScope,
		"aud":   tokenEndpoint,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenLifetime).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}
