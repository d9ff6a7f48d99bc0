package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appJWTLifetime = 9 * time.Minute
	// appJWTSkew backdates iat to tolerate clock drift against GitHub.
	appJWTSkew = time.Minute
	// installationTokenTimeout bounds a token exchange, which oauth2.TokenSource cannot pass a
	// context to.
	installationTokenTimeout = 30 * time.Second
)

// appAuth signs GitHub App JWTs.
type appAuth struct {
	appID int64
	key   *rsa.PrivateKey
	now   func() time.Time
}

func newAppAuth(appID int64, privateKeyPEM string) (*appAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &appAuth{appID: appID, key: key, now: time.Now}, nil
}

func (a *appAuth) signedJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}

// installationTokenSource exchanges the App JWT for an installation access token. Wrap it in
// oauth2.ReuseTokenSource so the exchange only happens near expiry.
type installationTokenSource struct {
	client         *Client
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	signed, err := s.client.app.signedJWT()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), installationTokenTimeout)
	defer cancel()

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	path := "/app/installations/" + strconv.FormatInt(s.installationID, 10) + "/access_tokens"
	if err := s.client.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := s.client.send(ctx, request{method: http.MethodPost, path: path, bearer: signed}, &out); err != nil {
		return nil, fmt.Errorf("installation %d token: %w", s.installationID, err)
	}
	return &oauth2.Token{AccessToken: out.Token, TokenType: "Bearer", Expiry: out.ExpiresAt}, nil
}
