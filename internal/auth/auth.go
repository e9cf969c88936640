// Package auth implements the Authentication and Authorization stages of
// the Plugin Orchestrator (C8): verifying the caller's bearer token and
// deciding, from the resulting Authorization, whether the caller's roles
// permit the interaction in progress.
//
// Grounded on core/access: Authorization/AuthorizationCache keep that
// file's sync.RWMutex token-keyed cache shape, generalized from a
// resource-id/uuid-keyed permission model to the simpler tenant+role
// model this spec calls for (§4.8's Authentication/Authorization stages
// say nothing about per-resource-instance scoping). The bearer-token
// verification itself is grounded on golang-jwt/jwt/v4, the same library
// core/access.jwt.go configures. The magic-token dev/test path is
// adapted from core/access.backdoor.go's static Backdoors map.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/pipeline"
)

// Authorization is the caller identity and role set an Authentication
// plugin establishes and an Authorization plugin consults.
type Authorization struct {
	Subject    string
	Roles      []string
	Properties map[string]string
}

// HasRole reports whether role is among the caller's roles.
func (a Authorization) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Property returns a named property and whether it was present.
func (a Authorization) Property(key string) (string, bool) {
	v, ok := a.Properties[key]
	return v, ok
}

// AuthorizationCache memoizes the Authorization a bearer token resolved
// to, keyed by the raw token string, so that repeated requests bearing
// the same token skip re-verification. Mirrors core/access.
// AuthorizationCache's sync.RWMutex map shape.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]Authorization
}

// NewAuthorizationCache constructs an empty cache.
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]Authorization)}
}

// Read returns the cached Authorization for token, if any.
func (c *AuthorizationCache) Read(token string) (Authorization, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	a, ok := c.cache[token]
	return a, ok
}

// Write stores a's Authorization under token.
func (c *AuthorizationCache) Write(token string, a Authorization) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[token] = a
}

// Claims is the JWT claim set this server expects, the same
// RegisteredClaims embedding core/access.jwt.go uses plus the roles this
// spec's Authorization carries.
type Claims struct {
	jwt.RegisteredClaims
	Roles      []string          `json:"roles,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value, mirroring core/access.backdoor.go's header parsing.
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// JWTAuthenticator verifies bearer tokens signed with a shared HMAC
// secret, grounded on core/access.jwt.go's jwt.ParseWithClaims usage.
type JWTAuthenticator struct {
	secret []byte
	cache  *AuthorizationCache
}

// NewJWTAuthenticator constructs a verifier for tokens signed with
// secret.
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, cache: NewAuthorizationCache()}
}

// Verify parses and validates a JWT, returning the Authorization its
// claims describe.
func (j *JWTAuthenticator) Verify(tokenString string) (Authorization, error) {
	if cached, ok := j.cache.Read(tokenString); ok {
		return cached, nil
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return Authorization{}, model.ErrUnauthenticated("invalid bearer token")
	}

	a := Authorization{Subject: claims.Subject, Roles: claims.Roles, Properties: claims.Properties}
	j.cache.Write(tokenString, a)
	return a, nil
}

// AuthenticationPlugin builds the StageAuthentication pipeline.Plugin
// that verifies the request's bearer token and attaches the resulting
// Authorization to the request for later stages to read.
func (j *JWTAuthenticator) AuthenticationPlugin() pipeline.Plugin {
	return pipeline.Plugin{
		Name:  "jwt-bearer",
		Stage: pipeline.StageAuthentication,
		Mode:  pipeline.Sync,
		Run: func(ctx context.Context, req *pipeline.Request) error {
			header, _ := req.Params["__authorization_header__"]
			token, ok := bearerToken(header)
			if !ok {
				return model.ErrUnauthenticated("missing bearer token")
			}
			a, err := j.Verify(token)
			if err != nil {
				return err
			}
			req.Authorization = a
			return nil
		},
	}
}

// StaticTokenAuthenticator authenticates against a fixed, in-memory table
// of magic tokens, adapted from core/access.backdoor.go's
// BackdoorMiddlewareBuilder for development and test environments where
// standing up a JWT issuer is unwarranted. Never wired into a production
// deployment's plugin set.
type StaticTokenAuthenticator struct {
	tokens map[string]Authorization
}

// NewStaticTokenAuthenticator builds an authenticator over tokens, a
// magic-string -> Authorization table.
func NewStaticTokenAuthenticator(tokens map[string]Authorization) *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{tokens: tokens}
}

// AuthenticationPlugin builds the StageAuthentication pipeline.Plugin
// that accepts only the configured magic tokens, using constant-time
// comparison to avoid a timing side-channel.
func (s *StaticTokenAuthenticator) AuthenticationPlugin() pipeline.Plugin {
	return pipeline.Plugin{
		Name:  "static-token",
		Stage: pipeline.StageAuthentication,
		Mode:  pipeline.Sync,
		Run: func(ctx context.Context, req *pipeline.Request) error {
			header, _ := req.Params["__authorization_header__"]
			token, ok := bearerToken(header)
			if !ok {
				return model.ErrUnauthenticated("missing bearer token")
			}
			for known, a := range s.tokens {
				if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
					req.Authorization = a
					return nil
				}
			}
			return model.ErrUnauthenticated("unrecognized bearer token")
		},
	}
}

// RolePolicy decides which roles may perform an interaction against a
// resource type. A nil or empty allow-list for an interaction means any
// authenticated caller may perform it.
type RolePolicy struct {
	// AllowedRoles maps interaction -> roles permitted to perform it.
	// "*" matches every interaction not otherwise listed.
	AllowedRoles map[model.Interaction][]string
}

// Allows reports whether any of roles satisfies policy for interaction.
func (p RolePolicy) Allows(interaction model.Interaction, roles []string) bool {
	allowed, ok := p.AllowedRoles[interaction]
	if !ok {
		allowed, ok = p.AllowedRoles["*"]
	}
	if !ok || len(allowed) == 0 {
		return true
	}
	for _, want := range allowed {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

// AuthorizationPlugin builds the StageAuthorization pipeline.Plugin that
// enforces policy against the Authorization the Authentication stage
// attached to req.
func AuthorizationPlugin(policy RolePolicy) pipeline.Plugin {
	return pipeline.Plugin{
		Name:  "role-policy",
		Stage: pipeline.StageAuthorization,
		Mode:  pipeline.Sync,
		Run: func(ctx context.Context, req *pipeline.Request) error {
			a, ok := req.Authorization.(Authorization)
			if !ok {
				return model.ErrForbidden("no authorization established")
			}
			if !policy.Allows(req.Interaction, a.Roles) {
				return model.ErrForbidden(fmt.Sprintf("role(s) %v not permitted to %s %s",
					a.Roles, req.Interaction, req.ResourceType))
			}
			return nil
		},
	}
}

// IssueToken signs a token for subject with roles and properties, valid
// for ttl. Used by tests and by administrative tooling that mints
// service-account tokens; not part of the request-time verification path.
func (j *JWTAuthenticator) IssueToken(subject string, roles []string, properties map[string]string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Roles:      roles,
		Properties: properties,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}
