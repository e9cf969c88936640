// Command fhirserver-lambda serves an httpapi.Server router behind API
// Gateway, built from the same core components (C1-C13) as cmd/fhirserver.
// Its init() loads an empty resource and search-parameter configuration
// and registers no operations and no pipeline plugins, so every resource
// type is unknown to it until that configuration is filled in.
//
// Grounded on aws-lambda-go's lambda.Start entry point convention; the
// API-Gateway-proxy-event <-> net/http translation below mirrors
// internal/httpclient's in-process request replay (build an
// *http.Request, run it through the router with an httptest.Recorder,
// read back the recorded response) rather than pulling in a third-party
// adapter.
package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/fhircore/server/internal/config"
	"github.com/fhircore/server/internal/dbx"
	"github.com/fhircore/server/internal/httpapi"
	"github.com/fhircore/server/internal/kvstore"
	"github.com/fhircore/server/internal/logger"
	"github.com/fhircore/server/internal/operations"
	"github.com/fhircore/server/internal/pipeline"
	"github.com/fhircore/server/internal/resources"
	"github.com/fhircore/server/internal/schemarouter"
	"github.com/fhircore/server/internal/searchparams"
	"github.com/fhircore/server/internal/tenant"
	"github.com/fhircore/server/internal/validation"
)

var handler http.Handler

func init() {
	logger.InitLogger(logrus.InfoLevel)
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	sharedDB, err := dbx.OpenWithSchema(cfg.Postgres, cfg.PostgresPassword, cfg.Schema)
	if err != nil {
		panic(err)
	}

	resourceRegistry, err := resources.Load([]byte(`[]`))
	if err != nil {
		panic(err)
	}
	paramRegistry, err := searchparams.Load([]byte(`[]`), nil, resourceRegistry)
	if err != nil {
		panic(err)
	}
	kv, err := kvstore.New(sharedDB)
	if err != nil {
		panic(err)
	}
	tenants := tenant.New(kv.Accessor("tenant"))
	schemas := schemarouter.New(cfg.Schema, func(schema string) (*dbx.DB, error) {
		return dbx.OpenWithSchema(cfg.Postgres, cfg.PostgresPassword, schema)
	})

	var validator *validation.Facade
	server := httpapi.NewServer(resourceRegistry, paramRegistry, tenants, schemas, operations.New(), validator, pipeline.New(), cfg.DefaultFHIRVersion(), cfg.MultiTenant)
	handler = server.Handler()
}

func invoke(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, req.Path, bytes.NewReader([]byte(req.Body)))
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	q := httpReq.URL.Query()
	for k, v := range req.QueryStringParameters {
		q.Set(k, v)
	}
	httpReq.URL.RawQuery = q.Encode()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httpReq)
	res := rec.Result()

	respHeaders := map[string]string{}
	for k := range res.Header {
		respHeaders[k] = res.Header.Get(k)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: res.StatusCode,
		Headers:    respHeaders,
		Body:       rec.Body.String(),
	}, nil
}

func main() {
	lambda.Start(invoke)
}
