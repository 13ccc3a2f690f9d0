package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
)

// TokenSource supplies the bearer token for service-to-service calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPGate asks the billing service whether a member holds an active entitlement.
type HTTPGate struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	logger  *logger.Logger
}

func NewHTTPGate(baseURL string, client *http.Client, tokens TokenSource, log *logger.Logger) *HTTPGate {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPGate{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		logger:  log,
	}
}

// Fetch returns the billing service's raw answer. An unknown member yields a response with nothing granted.
func (g *HTTPGate) Fetch(ctx context.Context, memberID string) (*models.EntitlementResponse, error) {
	endpoint := fmt.Sprintf("%s/internal/v1/members/%s/entitlement", g.baseURL, url.PathEscape(memberID))
	g.logger.Debug("ENTITLEMENT", fmt.Sprintf("Fetching entitlement: %s", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create entitlement request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if g.tokens != nil {
		token, err := g.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Error("ENTITLEMENT", fmt.Sprintf("Billing service error: %v", err))
		return nil, fmt.Errorf("billing service error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			g.logger.Error("ENTITLEMENT", fmt.Sprintf("Failed to close entitlement response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		g.logger.Warn("ENTITLEMENT", fmt.Sprintf("Member not known to billing: %s", memberID))
		return &models.EntitlementResponse{MemberID: memberID, MemberActive: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Error("ENTITLEMENT", fmt.Sprintf("Billing service returned status: %d", resp.StatusCode))
		return nil, fmt.Errorf("billing service returned status: %d", resp.StatusCode)
	}

	var out models.EntitlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode entitlement response: %w", err)
	}
	if out.MemberID == "" {
		out.MemberID = memberID
	}
	return &out, nil
}

func (g *HTTPGate) HasEntitlement(ctx context.Context, memberID string) (bool, error) {
	resp, err := g.Fetch(ctx, memberID)
	if err != nil {
		return false, err
	}
	return decide(resp)
}

// decide maps a billing answer onto the gate's contract.
func decide(resp *models.EntitlementResponse) (bool, error) {
	if !resp.MemberActive {
		return false, scheduling.ErrMemberInactive
	}
	return resp.Entitled, nil
}

// AllowAll lets every member through.
func AllowAll() scheduling.EntitlementGate {
	return scheduling.EntitlementFunc(func(context.Context, string) (bool, error) {
		return true, nil
	})
}
