package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
)

// tokenFreshnessWindow is how long an issued access token is trusted
// before a new exchange is forced. Salesforce session timeouts default to
// two hours; 7000 seconds keeps a safety margin under that.
const tokenFreshnessWindow = 7000 * time.Second

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Authenticator performs the single OAuth exchange the connector needs:
// either a refresh-token grant or, when a private key is configured, a JWT
// bearer assertion. Refreshed tokens are written back through the config.
type Authenticator struct {
	cfg      *bootstrap.Config
	http     *http.Client
	tokenURL string
	mu       sync.Mutex
}

// New creates an Authenticator bound to the given config.
func New(cfg *bootstrap.Config) *Authenticator {
	return &Authenticator{
		cfg:      cfg,
		http:     &http.Client{Timeout: 60 * time.Second},
		tokenURL: strings.TrimRight(cfg.InstanceURL, "/") + "/services/oauth2/token",
	}
}

// NewWithEndpoint creates an Authenticator with an explicit token
// endpoint, used by tests.
func NewWithEndpoint(cfg *bootstrap.Config, tokenURL string) *Authenticator {
	a := New(cfg)
	a.tokenURL = tokenURL
	return a
}

// Token returns a valid bearer token, refreshing it first if stale.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tokenValid() {
		return a.cfg.AccessToken, nil
	}
	if err := a.exchange(ctx); err != nil {
		return "", err
	}
	return a.cfg.AccessToken, nil
}

// Headers returns the auth headers to merge into each API request.
func (a *Authenticator) Headers(ctx context.Context) (map[string]string, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

func (a *Authenticator) tokenValid() bool {
	if a.cfg.AccessToken == "" || a.cfg.IssuedAt == 0 {
		return false
	}
	issued := time.UnixMilli(a.cfg.IssuedAt)
	return time.Since(issued) < tokenFreshnessWindow
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	IssuedAt    json.Number `json:"issued_at"`
	InstanceURL string      `json:"instance_url"`
}

func (a *Authenticator) exchange(ctx context.Context) error {
	form, err := a.grantForm()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed OAuth login, response was '%s'", strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}

	issuedAt, _ := tr.IssuedAt.Int64()
	if issuedAt == 0 {
		issuedAt = time.Now().UnixMilli()
	}
	if err := a.cfg.SetToken(tr.AccessToken, issuedAt, tr.InstanceURL); err != nil {
		log.Printf("⚠️ Failed to persist refreshed token: %v", err)
	}
	log.Println("OAuth authorization attempt was successful.")
	return nil
}

func (a *Authenticator) grantForm() (url.Values, error) {
	if a.cfg.JWTPrivateKey != "" {
		assertion, err := a.buildAssertion()
		if err != nil {
			return nil, err
		}
		return url.Values{
			"grant_type": {jwtBearerGrant},
			"assertion":  {assertion},
		}, nil
	}

	return url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"redirect_uri":  {a.cfg.RedirectURI},
		"refresh_token": {a.cfg.RefreshToken},
	}, nil
}

// buildAssertion signs the RS256 JWT bearer assertion: issuer is the
// connected app's client id, subject the Salesforce username.
func (a *Authenticator) buildAssertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.cfg.JWTPrivateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse jwt_private_key: %w", err)
	}

	audience := a.cfg.JWTAudience
	if audience == "" {
		audience = "https://login.salesforce.com"
	}

	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.ClientID,
		Subject:   a.cfg.JWTSubject,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(3 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign jwt assertion: %w", err)
	}
	return signed, nil
}
