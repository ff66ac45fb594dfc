package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oscmail/automailer/internal/config"
	"github.com/oscmail/automailer/internal/dispatch"
	"github.com/oscmail/automailer/internal/logger"
	"github.com/oscmail/automailer/internal/service"
)

// Mailer is the workflow the HTTP layer exposes.
type Mailer interface {
	ProcessSpreadsheet(ctx context.Context, id string) (*service.ProcessResult, error)
	SendEmails(ctx context.Context, req service.SendRequest) (*dispatch.Result, error)
	VerifyAttendance(code string) error
	ServiceAccount() string
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	mailer Mailer
	rdb    HealthChecker
	log    *logger.Logger
	cfg    *config.Config
}

// New creates a new Handler instance
func New(mailer Mailer, rdb HealthChecker, log *logger.Logger, cfg *config.Config) *Handler {
	return &Handler{
		mailer: mailer,
		rdb:    rdb,
		log:    log,
		cfg:    cfg,
	}
}

// errorResponse is the flat error envelope used by every endpoint.
type errorResponse struct {
	Error          string   `json:"error"`
	Code           string   `json:"code"`
	Details        string   `json:"details,omitempty"`
	MissingColumns []string `json:"missingColumns,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	return json.NewDecoder(r.Body).Decode(v)
}
