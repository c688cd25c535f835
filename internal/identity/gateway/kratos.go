// Package gateway adapts Ory Kratos to the identity provider operations the recovery flows need.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"orphan-recovery/internal/identity/domain"
	"orphan-recovery/internal/security"

	kratos "github.com/ory/kratos-client-go"
)

// KratosGateway signs users in through the Kratos public API and looks up or deletes
// identities through the admin API.
type KratosGateway struct {
	public *kratos.APIClient
	admin  *kratos.APIClient
}

// NewKratosGateway returns a gateway for the given public and admin base URLs.
// timeout bounds every HTTP call to Kratos.
func NewKratosGateway(publicURL, adminURL string, timeout time.Duration) *KratosGateway {
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &KratosGateway{
		public: newAPIClient(publicURL, httpClient),
		admin:  newAPIClient(adminURL, httpClient),
	}
}

func newAPIClient(baseURL string, httpClient *http.Client) *kratos.APIClient {
	cfg := kratos.NewConfiguration()
	cfg.Servers = []kratos.ServerConfiguration{{URL: strings.TrimRight(baseURL, "/")}}
	cfg.HTTPClient = httpClient
	cfg.AddDefaultHeader("Accept", "application/json")
	return kratos.NewAPIClient(cfg)
}

// SignInWithPassword runs a native (API) login flow with the password method.
// Rejected credentials return domain.ErrInvalidCredentials.
func (g *KratosGateway) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	flow, resp, err := g.public.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, unavailable("create login flow", resp, err)
	}

	body := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: security.NormalizeEmail(email),
		Password:   password,
		Method:     "password",
	}
	login, resp, err := g.public.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, unavailable("submit login flow", resp, err)
	}

	session := login.GetSession()
	if session.Identity == nil {
		return nil, fmt.Errorf("%w: login session without identity", domain.ErrProviderUnavailable)
	}
	return &domain.Session{
		Identity: toDomain(session.Identity),
		Token:    login.GetSessionToken(),
	}, nil
}

// SignOut revokes the session token. An empty token is a no-op.
func (g *KratosGateway) SignOut(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	resp, err := g.public.FrontendAPI.
		PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(sessionToken)).
		Execute()
	if err != nil {
		// Already revoked or unknown token.
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil
		}
		return unavailable("logout", resp, err)
	}
	return nil
}

// GetByEmail returns the identity whose password credential identifier is the normalized email.
// Returns domain.ErrNotFound when none exists.
func (g *KratosGateway) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	identities, resp, err := g.admin.IdentityAPI.
		ListIdentities(ctx).
		CredentialsIdentifier(security.NormalizeEmail(email)).
		Execute()
	if err != nil {
		return nil, unavailable("list identities", resp, err)
	}
	if len(identities) == 0 {
		return nil, domain.ErrNotFound
	}
	return toDomain(&identities[0]), nil
}

// GetByID returns the identity with the given ID or domain.ErrNotFound.
func (g *KratosGateway) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	identity, resp, err := g.admin.IdentityAPI.GetIdentity(ctx, id).Execute()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, unavailable("get identity", resp, err)
	}
	return toDomain(identity), nil
}

// Delete removes the identity and everything Kratos keeps for it. Irreversible.
// Returns domain.ErrNotFound if it no longer exists.
func (g *KratosGateway) Delete(ctx context.Context, id string) error {
	resp, err := g.admin.IdentityAPI.DeleteIdentity(ctx, id).Execute()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return domain.ErrNotFound
		}
		return unavailable("delete identity", resp, err)
	}
	return nil
}

// Ready reports whether the Kratos admin API is ready to serve.
func (g *KratosGateway) Ready(ctx context.Context) error {
	_, resp, err := g.admin.MetadataAPI.IsReady(ctx).Execute()
	if err != nil {
		return unavailable("readiness", resp, err)
	}
	return nil
}

func unavailable(op string, resp *http.Response, err error) error {
	if resp != nil {
		return fmt.Errorf("%w: %s: kratos returned status %d", domain.ErrProviderUnavailable, op, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrProviderUnavailable, op, err)
}

func toDomain(k *kratos.Identity) *domain.Identity {
	out := &domain.Identity{ID: k.Id}
	if traits, ok := k.Traits.(map[string]interface{}); ok {
		if email, ok := traits["email"].(string); ok {
			out.Email = security.NormalizeEmail(email)
		}
	}
	if k.CreatedAt != nil {
		out.CreatedAt = *k.CreatedAt
	}
	for _, addr := range k.VerifiableAddresses {
		if security.NormalizeEmail(addr.Value) != out.Email || !addr.Verified {
			continue
		}
		out.EmailVerified = true
		if addr.VerifiedAt != nil {
			t := *addr.VerifiedAt
			out.EmailVerifiedAt = &t
		}
		break
	}
	return out
}
