package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
)

// StartJobRequest is the body of POST /jobs
type StartJobRequest struct {
	URL string `json:"url" validate:"required,url"`
	Max *int   `json:"max,omitempty" validate:"omitempty,min=1"`
}

// StartJobResponse is the body of a 202 from POST /jobs
type StartJobResponse struct {
	JobID string `json:"jobId"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts the first failed rule into a ValidationError
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewValidationError("body", err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperrors.NewValidationError(fe.Field(), "is required")
	case "url":
		return apperrors.NewValidationError(fe.Field(), "must be an absolute URL")
	case "min":
		return apperrors.NewValidationError(fe.Field(), "must be a positive integer")
	default:
		return apperrors.NewValidationError(fe.Field(), "failed rule "+fe.Tag())
	}
}

// handleStartJob handles POST /jobs - start a lead acquisition job
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondServiceError(w, r, validationError(err))
		return
	}

	target := 0
	if req.Max != nil {
		target = *req.Max
	}

	jobID, err := s.jobs.StartJob(r.Context(), req.URL, target)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).WithField("jobId", jobID).Info("Job accepted")
	respondJSON(w, http.StatusAccepted, StartJobResponse{JobID: jobID})
}

// handleGetJob handles GET /jobs/{id} - current job snapshot
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, job)
}

// handleCancelJob handles DELETE /jobs/active - best effort cancel, always 200
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.CancelJob(r.Context()); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Cancel reported an error")
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
