// Package httpapi is the HTTP framing layer spec.md §1 calls an external
// collaborator: it maps the version-prefixed URL surface of §6 onto the
// core components (C1-C13), translating typed model.Error values into
// OperationOutcome bodies and the HTTP status §6 assigns them.
//
// Grounded on core/backend.go's route registration (one handler per
// verb/path pair on a *mux.Router, a tenant header resolved once per
// request, CORS wired with gorilla/handlers) and on core/access's
// pattern of threading an Authorization through request context.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/fhircore/server/internal/bundle"
	"github.com/fhircore/server/internal/conformance"
	"github.com/fhircore/server/internal/guard"
	"github.com/fhircore/server/internal/httpclient"
	"github.com/fhircore/server/internal/logger"
	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/operations"
	"github.com/fhircore/server/internal/pipeline"
	"github.com/fhircore/server/internal/resources"
	"github.com/fhircore/server/internal/schemarouter"
	"github.com/fhircore/server/internal/search"
	"github.com/fhircore/server/internal/searchparams"
	"github.com/fhircore/server/internal/storage"
	"github.com/fhircore/server/internal/tenant"
	"github.com/fhircore/server/internal/validation"
)

// TenantHeader is the header multi-tenant deployments require on every
// request (§6 - "Tenant header").
const TenantHeader = "Fhircore-Tenant"

// engineKey identifies one lazily-built storage.Engine, keyed by the
// schema it lives in and its resource type, since the Schema Router (C5)
// only caches *dbx.DB handles, not storage engines.
type engineKey struct {
	schema       string
	resourceType string
}

// Server wires the core components into an HTTP surface.
type Server struct {
	Resources       *resources.Registry
	SearchParams    *searchparams.Registry
	Tenants         *tenant.Resolver
	Guard           *guard.Guard
	Schemas         *schemarouter.Router
	Translator      *search.Translator
	Operations      *operations.Dispatcher
	Conformance     *conformance.Generator
	Validator       *validation.Facade // nil disables structural validation
	Pipeline        *pipeline.Orchestrator
	DefaultVersion  model.Version
	MultiTenant     bool

	engines map[engineKey]*storage.Engine
	router  *mux.Router
}

// NewServer constructs a Server. Pipeline may be nil, in which case
// requests run the core handler directly with no plugin stages.
func NewServer(resourceRegistry *resources.Registry, paramRegistry *searchparams.Registry, tenants *tenant.Resolver, schemas *schemarouter.Router, ops *operations.Dispatcher, validator *validation.Facade, orchestrator *pipeline.Orchestrator, defaultVersion model.Version, multiTenant bool) *Server {
	return &Server{
		Resources:      resourceRegistry,
		SearchParams:   paramRegistry,
		Tenants:        tenants,
		Guard:          guard.New(resourceRegistry),
		Schemas:        schemas,
		Translator:     search.New(paramRegistry),
		Operations:     ops,
		Conformance:    conformance.New(resourceRegistry, paramRegistry, ops),
		Validator:      validator,
		Pipeline:       orchestrator,
		DefaultVersion: defaultVersion,
		MultiTenant:    multiTenant,
		engines:        make(map[engineKey]*storage.Engine),
	}
}

func (s *Server) engineFor(cfg resources.Config) (*storage.Engine, error) {
	db, err := s.Schemas.For(cfg)
	if err != nil {
		return nil, err
	}
	key := engineKey{schema: db.Schema, resourceType: cfg.ResourceType}
	if e, ok := s.engines[key]; ok {
		return e, nil
	}
	e := storage.New(db, cfg.ResourceType)
	if err := e.EnsureTable(context.Background()); err != nil {
		return nil, err
	}
	s.engines[key] = e
	return e, nil
}

// Router builds (once) the gorilla/mux router serving every path in §6's
// URL surface, wrapped with request-id tagging. The Bundle Processor
// (C10) replays entries back through this same router, so it is built
// once and reused rather than rebuilt per request.
func (s *Server) Router() *mux.Router {
	if s.router != nil {
		return s.router
	}
	r := mux.NewRouter()
	logger.AddRequestID(r)

	const vType = "{v}"
	const typePattern = "{type:[A-Z][a-zA-Z]+}"
	const opPattern = "{op:\\$[a-zA-Z][a-zA-Z-]*}"

	for _, prefix := range []string{"/fhir/" + vType, "/fhir"} {
		r.HandleFunc(prefix+"/metadata", s.handleMetadata).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/"+opPattern, s.handleSystemOperation).Methods(http.MethodGet, http.MethodPost)
		r.HandleFunc(prefix, s.handleBundle).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/"+typePattern+"/_search", s.handleSearch).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/"+typePattern+"/"+opPattern, s.handleTypeOperation).Methods(http.MethodGet, http.MethodPost)
		r.HandleFunc(prefix+"/"+typePattern+"/{id}/_history/{vid}", s.handleVRead).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/"+typePattern+"/{id}/_history", s.handleHistory).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/"+typePattern+"/{id}/"+opPattern, s.handleInstanceOperation).Methods(http.MethodGet, http.MethodPost)
		r.HandleFunc(prefix+"/"+typePattern+"/{id}", s.handleRead).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/"+typePattern+"/{id}", s.handleUpdate).Methods(http.MethodPut)
		r.HandleFunc(prefix+"/"+typePattern+"/{id}", s.handlePatch).Methods(http.MethodPatch)
		r.HandleFunc(prefix+"/"+typePattern+"/{id}", s.handleDelete).Methods(http.MethodDelete)
		r.HandleFunc(prefix+"/"+typePattern, s.handleSearch).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/"+typePattern, s.handleCreate).Methods(http.MethodPost)
	}

	s.router = r
	return r
}

// Handler returns the fully wrapped http.Handler, CORS included, per
// SPEC_FULL.md's domain-stack wiring of gorilla/handlers.
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", TenantHeader, "If-Match"}),
	)(s.Router())
}

// requestContext resolves the FHIR version, tenant, and resource config
// common to nearly every handler.
type requestContext struct {
	version  model.Version
	tenantID string
	cfg      resources.Config
}

func (s *Server) resolveVersion(r *http.Request) (model.Version, error) {
	code, ok := mux.Vars(r)["v"]
	if !ok || code == "" {
		return s.DefaultVersion, nil
	}
	v, ok := model.ParseVersion(code)
	if !ok {
		return "", model.ErrUnsupportedVersion("", model.Version(code))
	}
	return v, nil
}

func (s *Server) resolveTenant(r *http.Request) (string, error) {
	if !s.MultiTenant {
		return "default", nil
	}
	externalID := r.Header.Get(TenantHeader)
	if externalID == "" {
		return "", model.ErrMissingTenantHeader()
	}
	t, err := s.Tenants.Resolve(r.Context(), externalID)
	if err != nil {
		return "", err
	}
	return t.InternalID, nil
}

func (s *Server) resolveRequest(r *http.Request, resourceType string, interaction model.Interaction) (requestContext, error) {
	version, err := s.resolveVersion(r)
	if err != nil {
		return requestContext{}, err
	}
	cfg, err := s.Guard.Check(resourceType, version, interaction)
	if err != nil {
		return requestContext{}, err
	}
	tenantID, err := s.resolveTenant(r)
	if err != nil {
		return requestContext{}, err
	}
	return requestContext{version: version, tenantID: tenantID, cfg: cfg}, nil
}

// execute runs core through the pipeline orchestrator (or directly when
// none is configured), with Authorization seeded from the request's
// bearer header so Authentication plugins can read it.
func (s *Server) execute(r *http.Request, rc requestContext, resourceID string, interaction model.Interaction, body []byte, core func(ctx context.Context, req *pipeline.Request) error) (*pipeline.Request, error) {
	req := &pipeline.Request{
		TenantID:     rc.tenantID,
		ResourceType: rc.cfg.ResourceType,
		ResourceID:   resourceID,
		Version:      rc.version,
		Interaction:  interaction,
		Params:       map[string]string{"__authorization_header__": r.Header.Get("Authorization")},
		Body:         body,
	}
	if s.Pipeline == nil {
		return req, core(r.Context(), req)
	}
	return req, s.Pipeline.Execute(r.Context(), req, core)
}

func pathVar(r *http.Request, name string) string { return mux.Vars(r)[name] }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rlog := logger.FromContext(r.Context())
	fe, ok := err.(*model.Error)
	if !ok {
		rlog.Errorf("unclassified error: %v", err)
		fe = model.ErrInternal(err.Error())
	}
	rlog.Warnf("request failed: %s", fe.Error())
	writeJSON(w, fe.HTTPStatus(), model.NewOutcome(fe.Issue()))
}

func rowHeaders(w http.ResponseWriter, row model.Row) {
	w.Header().Set("ETag", row.ETag())
	w.Header().Set("Last-Modified", row.LastUpdated.UTC().Format(http.TimeFormat))
}

// ifMatchVersionID parses the numeric version carried by a weak ETag in
// the If-Match header. That number is the row's VersionNumber (the
// externally-visible, per-resource version identity), not the table-wide
// VersionID despite the header's own "ETag" framing in §6.
func ifMatchVersionID(r *http.Request) *int64 {
	v := r.Header.Get("If-Match")
	v = strings.TrimPrefix(v, `W/`)
	v = strings.Trim(v, `"`)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
