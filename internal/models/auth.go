package models

// TokenResponse is the client-credentials grant returned by the identity provider.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// OAuthClient identifies this service to the identity provider for machine-to-machine calls.
type OAuthClient struct {
	KeycloakURL   string
	KeycloakRealm string
	ClientID      string
	ClientSecret  string
}

// EntitlementResponse is the billing service's answer for one member.
type EntitlementResponse struct {
	MemberID     string `json:"member_id"`
	MemberActive bool   `json:"member_active"`
	Entitled     bool   `json:"entitled"`
	Source       string `json:"source,omitempty"`
}
