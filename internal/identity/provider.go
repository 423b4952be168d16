package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"firebase.google.com/go/v4/auth"
	"golang.org/x/oauth2"
	"google.golang.org/api/identitytoolkit/v3"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/session"
)

const (
	passwordProvider       = "password"
	defaultFederatedID     = "google.com"
	defaultAssertionTarget = "http://localhost"
)

var errNoIDToken = errors.New("token response carried no id_token")

// AdminAuth is the part of the Firebase Admin auth client the provider uses.
// *auth.Client satisfies it.
type AdminAuth interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// Provider implements session.Provider on the Identity Toolkit REST API and
// the Firebase Admin SDK.
type Provider struct {
	rp         *identitytoolkit.RelyingpartyService
	admin      AdminAuth
	oauth      *oauth2.Config
	requestURI string
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithAdmin enables token verification and refresh-token revocation.
func WithAdmin(admin AdminAuth) ProviderOption {
	return func(p *Provider) { p.admin = admin }
}

// WithOAuth enables federated sign-in from an authorization code.
func WithOAuth(cfg *oauth2.Config) ProviderOption {
	return func(p *Provider) { p.oauth = cfg }
}

// WithRequestURI sets the continue URI sent with federated assertions.
func WithRequestURI(uri string) ProviderOption {
	return func(p *Provider) { p.requestURI = uri }
}

// NewProvider creates a Provider over svc.
func NewProvider(svc *identitytoolkit.Service, opts ...ProviderOption) *Provider {
	p := &Provider{
		rp:         svc.Relyingparty,
		requestURI: defaultAssertionTarget,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignInWithPassword verifies an email and password.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*domain.Identity, error) {
	resp, err := p.rp.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify("verify_password", err)
	}
	return &domain.Identity{
		UID:          resp.LocalId,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		Provider:     passwordProvider,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// SignUpWithPassword creates an account with displayName set on it.
func (p *Provider) SignUpWithPassword(ctx context.Context, email, password, displayName string) (*domain.Identity, error) {
	resp, err := p.rp.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify("signup_new_user", err)
	}
	name := resp.DisplayName
	if name == "" {
		name = displayName
	}
	return &domain.Identity{
		UID:          resp.LocalId,
		Email:        resp.Email,
		DisplayName:  name,
		Provider:     passwordProvider,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// SignInWithFederated verifies a federated credential. An authorization code
// is first exchanged for an ID token.
func (p *Provider) SignInWithFederated(ctx context.Context, cred session.FederatedCredential) (*domain.Identity, error) {
	const op = "verify_assertion"

	if cred.Dismissed {
		return nil, &session.Error{Kind: session.KindCancelled, Op: op}
	}
	providerID := cred.ProviderID
	if providerID == "" {
		providerID = defaultFederatedID
	}

	idToken := cred.IDToken
	if idToken == "" && cred.AccessToken == "" {
		if cred.AuthCode == "" {
			return nil, &session.Error{Kind: session.KindCancelled, Op: op}
		}
		var err error
		if idToken, err = p.exchangeCode(ctx, cred.AuthCode); err != nil {
			return nil, err
		}
	}

	form := url.Values{"providerId": {providerID}}
	if idToken != "" {
		form.Set("id_token", idToken)
	}
	if cred.AccessToken != "" {
		form.Set("access_token", cred.AccessToken)
	}
	requestURI := cred.RequestURI
	if requestURI == "" {
		requestURI = p.requestURI
	}

	resp, err := p.rp.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          form.Encode(),
		RequestUri:        requestURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(op, err)
	}
	if resp.ErrorMessage != "" {
		code := providerCode(resp.ErrorMessage)
		return nil, &session.Error{Kind: kindForCode(code, 0), Op: op, Err: errors.New(resp.ErrorMessage)}
	}

	provider := resp.ProviderId
	if provider == "" {
		provider = providerID
	}
	return &domain.Identity{
		UID:          resp.LocalId,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		Provider:     provider,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

func (p *Provider) exchangeCode(ctx context.Context, code string) (string, error) {
	const op = "exchange_code"
	if p.oauth == nil {
		return "", &session.Error{Kind: session.KindNotConfigured, Op: op}
	}
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", classify(op, err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", &session.Error{Kind: session.KindInvalidCredential, Op: op, Err: errNoIDToken}
	}
	return idToken, nil
}

// SendPasswordReset asks the identity service to email a reset link.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	_, err := p.rp.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		Kind:        "identitytoolkit#relyingparty",
		RequestType: "PASSWORD_RESET",
		Email:       email,
	}).Context(ctx).Do()
	return classify("get_oob_code", err)
}

// SignOut revokes the user's refresh tokens when admin access is configured.
func (p *Provider) SignOut(ctx context.Context, user *domain.Identity) error {
	if p.admin == nil || user == nil || user.UID == "" {
		return nil
	}
	if err := p.admin.RevokeRefreshTokens(ctx, user.UID); err != nil {
		return classify("revoke_refresh_tokens", err)
	}
	slog.Info("Revoked refresh tokens", "user_id", user.UID)
	return nil
}

// Restore verifies a previously issued ID token and loads its user.
func (p *Provider) Restore(ctx context.Context, idToken string) (*domain.Identity, error) {
	const op = "restore"
	if p.admin == nil {
		return nil, &session.Error{Kind: session.KindNotConfigured, Op: op}
	}

	tok, err := p.admin.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, classify("verify_id_token", err)
	}
	rec, err := p.admin.GetUser(ctx, tok.UID)
	if err != nil {
		return nil, classify("get_user", err)
	}
	if rec.UserInfo == nil {
		return nil, &session.Error{Kind: session.KindUnknown, Op: op, Err: fmt.Errorf("user %s has no profile", tok.UID)}
	}

	provider := strings.TrimSpace(tok.Firebase.SignInProvider)
	if provider == "" {
		provider = passwordProvider
	}
	return &domain.Identity{
		UID:         rec.UID,
		Email:       rec.Email,
		DisplayName: rec.DisplayName,
		Provider:    provider,
		IDToken:     idToken,
	}, nil
}

// Unconfigured is the provider used when identity credentials are absent.
// Every call fails with KindNotConfigured; signing out is a no-op.
type Unconfigured struct{}

func (Unconfigured) SignInWithPassword(context.Context, string, string) (*domain.Identity, error) {
	return nil, &session.Error{Kind: session.KindNotConfigured, Op: "verify_password"}
}

func (Unconfigured) SignUpWithPassword(context.Context, string, string, string) (*domain.Identity, error) {
	return nil, &session.Error{Kind: session.KindNotConfigured, Op: "signup_new_user"}
}

func (Unconfigured) SignInWithFederated(context.Context, session.FederatedCredential) (*domain.Identity, error) {
	return nil, &session.Error{Kind: session.KindNotConfigured, Op: "verify_assertion"}
}

func (Unconfigured) SendPasswordReset(context.Context, string) error {
	return &session.Error{Kind: session.KindNotConfigured, Op: "get_oob_code"}
}

func (Unconfigured) SignOut(context.Context, *domain.Identity) error { return nil }

func (Unconfigured) Restore(context.Context, string) (*domain.Identity, error) {
	return nil, &session.Error{Kind: session.KindNotConfigured, Op: "restore"}
}

var (
	_ session.Provider = (*Provider)(nil)
	_ session.Provider = Unconfigured{}
)
