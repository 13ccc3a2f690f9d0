package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
)

// GetM2MToken retrieves a machine-to-machine token from Keycloak
func GetM2MToken(ctx context.Context, cfg models.OAuthClient, client *http.Client) (*models.TokenResponse, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimSuffix(cfg.KeycloakURL, "/"), cfg.KeycloakRealm)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", cfg.ClientID)
	data.Set("client_secret", cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request to %s failed: %w", tokenURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("failed to get token, status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var tokenResp models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response from %s carried no access token", tokenURL)
	}
	return &tokenResp, nil
}

// M2MTokenSource hands out a client-credentials token, reusing it until shortly before expiry.
// The Redis cache is shared by every replica; a nil cache means every call hits Keycloak.
type M2MTokenSource struct {
	Client     models.OAuthClient
	HTTPClient *http.Client
	Cache      *RedisTokenCache
	Logger     *logger.Logger

	mu sync.Mutex
}

func NewM2MTokenSource(client models.OAuthClient, httpClient *http.Client, cache *RedisTokenCache, log *logger.Logger) *M2MTokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &M2MTokenSource{Client: client, HTTPClient: httpClient, Cache: cache, Logger: log}
}

func (s *M2MTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Cache != nil {
		cached, err := s.Cache.GetToken(ctx)
		if err != nil {
			s.Logger.Warn("AUTH", fmt.Sprintf("Token cache unavailable: %v", err))
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	resp, err := GetM2MToken(ctx, s.Client, s.HTTPClient)
	if err != nil {
		s.Logger.Error("AUTH", fmt.Sprintf("Failed to obtain M2M token: %v", err))
		return "", err
	}
	s.Logger.Debug("AUTH", fmt.Sprintf("Obtained M2M token for %s, expires in %ds", s.Client.ClientID, resp.ExpiresIn))

	if s.Cache != nil {
		if err := s.Cache.SetToken(ctx, resp.AccessToken, resp.ExpiresIn); err != nil {
			s.Logger.Warn("AUTH", fmt.Sprintf("Failed to cache M2M token: %v", err))
		}
	}
	return resp.AccessToken, nil
}
