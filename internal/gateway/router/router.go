// Package router wires every pipeline endpoint and its middleware.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/approval"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	gwhandler "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/gateway/middleware"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/middleware"
)

// Deps are the handlers and policies the router mounts.
type Deps struct {
	Uploads       *ingesthandler.Handler
	Process       *dispatcher.Handler
	Notifications http.Handler
	Approval      *approval.Handler
	API           *gwhandler.Handler
	Health        *health.Checker

	Authenticator    gwmw.Authenticator
	Limiter          *ratelimit.Limiter
	DefaultRateLimit int
	CORS             gwmw.CORSConfig
	Metrics          *metrics.Metrics
	RequestTimeout   time.Duration
}

// New builds the pipeline HTTP handler.
//
// Route table:
//
//	POST   /api/v1/documents/upload        session
//	POST   /api/v1/forms/upload            session
//	GET    /api/v1/documents               session
//	GET    /api/v1/documents/{id}          session
//	DELETE /api/v1/documents/{id}          session
//	GET    /api/v1/forms                   session
//	GET    /api/v1/forms/{id}              session
//	GET    /api/v1/forms/{id}/matches      session
//	POST   /api/v1/forms/approve-matches   session
//	GET    /api/v1/variables               session
//	POST   /api/v1/documents/process       shared secret
//	POST   /api/v1/forms/process           shared secret
//	POST   /api/v1/ocr/notifications       none
//	GET    /health/live, /health/ready     none
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → Timeout → mux, plus Auth → RateLimit on
//	session routes.
func New(d Deps) http.Handler {
	session := func(h http.Handler) http.Handler {
		h = gwmw.RateLimit(d.Limiter, d.DefaultRateLimit)(h)
		return gwmw.Auth(d.Authenticator)(h)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())

	for _, kind := range []model.Kind{model.KindDocument, model.KindForm} {
		base := "/api/v1/" + kind.Table()
		mux.Handle("POST "+base+"/upload", session(d.Uploads.Upload(kind)))
		mux.Handle("GET "+base, session(d.API.ListEntities(kind)))
		mux.Handle("GET "+base+"/{id}", session(d.API.GetEntity(kind)))
		mux.Handle("GET "+base+"/{id}/download", session(d.API.Download(kind)))
		mux.Handle("POST "+base+"/process", d.Process.Process(kind))
	}
	mux.Handle("DELETE /api/v1/documents/{id}", session(http.HandlerFunc(d.API.DeleteDocument)))
	mux.Handle("GET /api/v1/forms/{id}/matches", session(http.HandlerFunc(d.API.ReviewMatches)))
	mux.Handle("POST /api/v1/forms/approve-matches", session(http.HandlerFunc(d.Approval.ApproveMatches)))
	mux.Handle("GET /api/v1/variables", session(http.HandlerFunc(d.API.ListVariables)))

	mux.Handle("POST /api/v1/ocr/notifications", d.Notifications)

	var chain http.Handler = mux
	if d.RequestTimeout > 0 {
		chain = pkgmw.Timeout(d.RequestTimeout)(chain)
	}
	chain = gwmw.CORS(d.CORS)(chain)
	if d.Metrics != nil {
		chain = pkgmw.Metrics(d.Metrics)(chain)
	}
	return pkgmw.RequestID(chain)
}
