package workflow

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stupidking717/kerdar-sub000/pkg/config"
)

// WorkflowRepo abstracts workflow persistence for testability.
type WorkflowRepo interface {
	Get(ctx context.Context, id string) (*Workflow, error)
	SaveStaticData(ctx context.Context, id string, data map[string]any) error
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
}

// Service wires together the repository and executor for the workflow domain.
type Service struct {
	repo     WorkflowRepo
	executor *Executor
	defaults Options
}

// NewService creates a Service with a PostgreSQL repository, which also
// serves as the credential store.
func NewService(pool *pgxpool.Pool, cfg *config.Config) (*Service, error) {
	repo := NewRepository(pool)
	executor := NewExecutor(NewRegistry(),
		WithCredentialStore(repo.Credentials()),
		WithRateLimit(cfg.OutboundRateLimit),
		WithDefaultNodeTimeout(cfg.NodeTimeout),
	)
	defaults := Options{
		MaxConcurrency: cfg.MaxConcurrency,
		Env:            cfg.ExpressionEnv(),
	}
	return &Service{repo: repo, executor: executor, defaults: defaults}, nil
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")

	executions := parentRouter.PathPrefix("/executions").Subrouter()
	executions.StrictSlash(false)
	executions.Use(jsonMiddleware)

	executions.HandleFunc("", s.HandleExecuteInline).Methods("POST")
	executions.HandleFunc("/{id}", s.HandleGetExecution).Methods("GET")
}
