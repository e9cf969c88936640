package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/pipeline"
)

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWTAuthenticator([]byte("test-secret"))
	tok, err := j.IssueToken("practitioner-1", []string{"clinician"}, map[string]string{"tenant": "acme"}, time.Unix(1700000000, 0), time.Hour)
	require.NoError(t, err)

	a, err := j.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "practitioner-1", a.Subject)
	require.True(t, a.HasRole("clinician"))
	v, ok := a.Property("tenant")
	require.True(t, ok)
	require.Equal(t, "acme", v)
}

func TestJWTVerifyRejectsGarbage(t *testing.T) {
	j := NewJWTAuthenticator([]byte("test-secret"))
	_, err := j.Verify("not-a-jwt")
	require.Error(t, err)
}

func TestJWTAuthenticationPluginRejectsMissingHeader(t *testing.T) {
	j := NewJWTAuthenticator([]byte("s"))
	p := j.AuthenticationPlugin()
	req := &pipeline.Request{Params: map[string]string{}}
	err := p.Run(context.Background(), req)
	require.Error(t, err)
}

func TestJWTAuthenticationPluginAcceptsValidBearerToken(t *testing.T) {
	j := NewJWTAuthenticator([]byte("s"))
	tok, err := j.IssueToken("sub", []string{"admin"}, nil, time.Unix(1700000000, 0), time.Hour)
	require.NoError(t, err)

	p := j.AuthenticationPlugin()
	req := &pipeline.Request{Params: map[string]string{"__authorization_header__": "Bearer " + tok}}
	require.NoError(t, p.Run(context.Background(), req))

	a, ok := req.Authorization.(Authorization)
	require.True(t, ok)
	require.True(t, a.HasRole("admin"))
}

func TestStaticTokenAuthenticatorAcceptsKnownToken(t *testing.T) {
	s := NewStaticTokenAuthenticator(map[string]Authorization{
		"dev-token": {Subject: "dev", Roles: []string{"tester"}},
	})
	p := s.AuthenticationPlugin()
	req := &pipeline.Request{Params: map[string]string{"__authorization_header__": "Bearer dev-token"}}
	require.NoError(t, p.Run(context.Background(), req))
	a := req.Authorization.(Authorization)
	require.Equal(t, "dev", a.Subject)
}

func TestStaticTokenAuthenticatorRejectsUnknownToken(t *testing.T) {
	s := NewStaticTokenAuthenticator(map[string]Authorization{"dev-token": {Subject: "dev"}})
	p := s.AuthenticationPlugin()
	req := &pipeline.Request{Params: map[string]string{"__authorization_header__": "Bearer nope"}}
	require.Error(t, p.Run(context.Background(), req))
}

func TestRolePolicyAllowsUnlistedInteractionByDefault(t *testing.T) {
	policy := RolePolicy{AllowedRoles: map[model.Interaction][]string{
		model.InteractionDelete: {"admin"},
	}}
	require.True(t, policy.Allows(model.InteractionRead, []string{"clinician"}))
}

func TestRolePolicyDeniesInteractionWithoutMatchingRole(t *testing.T) {
	policy := RolePolicy{AllowedRoles: map[model.Interaction][]string{
		model.InteractionDelete: {"admin"},
	}}
	require.False(t, policy.Allows(model.InteractionDelete, []string{"clinician"}))
	require.True(t, policy.Allows(model.InteractionDelete, []string{"admin"}))
}

func TestAuthorizationPluginForbidsWithoutEstablishedAuthorization(t *testing.T) {
	p := AuthorizationPlugin(RolePolicy{})
	req := &pipeline.Request{Interaction: model.InteractionRead}
	err := p.Run(context.Background(), req)
	require.Error(t, err)
	fe, ok := err.(*model.Error)
	require.True(t, ok)
	require.Equal(t, model.IssueForbidden, fe.Code)
}

func TestAuthorizationPluginEnforcesRolePolicy(t *testing.T) {
	p := AuthorizationPlugin(RolePolicy{AllowedRoles: map[model.Interaction][]string{
		model.InteractionDelete: {"admin"},
	}})
	req := &pipeline.Request{
		Interaction:   model.InteractionDelete,
		Authorization: Authorization{Roles: []string{"clinician"}},
	}
	require.Error(t, p.Run(context.Background(), req))

	req.Authorization = Authorization{Roles: []string{"admin"}}
	require.NoError(t, p.Run(context.Background(), req))
}

func TestAuthorizationCacheRoundTrip(t *testing.T) {
	c := NewAuthorizationCache()
	_, ok := c.Read("tok")
	require.False(t, ok)
	c.Write("tok", Authorization{Subject: "x"})
	a, ok := c.Read("tok")
	require.True(t, ok)
	require.Equal(t, "x", a.Subject)
}
