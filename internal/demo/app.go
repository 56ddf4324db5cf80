package demo

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	weave "github.com/glimte/weave-go"
	"github.com/glimte/weave-go/aspect"
	"github.com/glimte/weave-go/contracts"
	"github.com/glimte/weave-go/health"
	"github.com/glimte/weave-go/metrics"
)

// Namespace prefixes every demo call site
const Namespace = "demo"

//go:embed rules.yaml
var defaultRules []byte

// Configure registers the demo rules on w
func Configure(w *weave.Weaver) error {
	return w.LoadRules(bytes.NewReader(defaultRules))
}

// App serves the demo HTTP API. Every handler routes its work through the weaver.
type App struct {
	weaver *weave.Weaver
	users  UserService
	logger *slog.Logger
	router *httprouter.Router
}

// NewApp creates the application and its routes
func NewApp(w *weave.Weaver, users UserService, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		weaver: w,
		users:  users,
		logger: logger,
		router: httprouter.New(),
	}

	a.router.GET("/hi", a.hi)
	a.router.GET("/ping", a.ping)
	a.router.GET("/users/:id", a.user)
	a.router.GET("/metrics", a.metricsSummary)
	return a
}

// MountHealth serves registry under /health, /health/live and /health/ready
func (a *App) MountHealth(registry *health.Registry, timeout time.Duration) {
	a.router.Handler(http.MethodGet, "/health", health.NewHandler(registry, timeout))
	a.router.HandlerFunc(http.MethodGet, "/health/live", health.LivenessHandler())
	a.router.HandlerFunc(http.MethodGet, "/health/ready", health.ReadinessHandler(registry, timeout))
}

// ServeHTTP implements http.Handler
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) hi(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("name")
	site := contracts.NewCallSite(Namespace+".App.hi",
		contracts.Arg{Name: "name", Type: "string", Value: name},
	).WithAnnotations("RequireName").WithReturns("string")

	result, err := a.weaver.Call(r.Context(), site, func(ctx context.Context) (any, error) {
		return "Hello " + name, nil
	})
	a.respond(w, result, err)
}

func (a *App) ping(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	site := contracts.NewCallSite(Namespace + ".App.ping").WithReturns("string")

	result, err := a.weaver.Call(r.Context(), site, func(ctx context.Context) (any, error) {
		return "Pong", nil
	})
	a.respond(w, result, err)
}

func (a *App) user(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name, err := a.users.GetName(r.Context(), params.ByName("id"))
	a.respond(w, name, err)
}

func (a *App) metricsSummary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	collector, ok := a.weaver.Metrics().(*metrics.SimpleCollector)
	if !ok {
		writeJSON(w, http.StatusNotFound, message("metrics are not collected in process"))
		return
	}
	writeJSON(w, http.StatusOK, collector.Summary())
}

func (a *App) respond(w http.ResponseWriter, result any, err error) {
	if err != nil {
		var typeErr *weave.ResultTypeError
		if errors.As(err, &typeErr) {
			result = typeErr.Result
		} else {
			a.fail(w, err)
			return
		}
	}

	switch v := result.(type) {
	case aspect.Rejection:
		writeJSON(w, v.Status, v)
	case nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, v)
	}
}

func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, message(ErrUserNotFound.Error()))
	case errors.Is(err, aspect.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, message("request timed out"))
	default:
		a.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, message("internal error"))
	}
}

func message(text string) map[string]string {
	return map[string]string{"message": text}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
