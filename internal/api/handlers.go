// File: internal/api/handlers.go
// Description: Endpoint handlers. Request bodies are decoded strictly: unknown
// JSON keys are rejected, which is what keeps payment data out of the checkout
// payload at the schema level rather than by convention.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// statusFor maps stage error codes to HTTP statuses.
var statusFor = map[schemas.ErrorCode]int{
	schemas.CodePlanningFailed:   http.StatusUnprocessableEntity,
	schemas.CodeUnknownSite:      http.StatusUnprocessableEntity,
	schemas.CodeUnsupportedSite:  http.StatusUnprocessableEntity,
	schemas.CodeSessionExpired:   http.StatusNotFound,
	schemas.CodeSessionBusy:      http.StatusConflict,
	schemas.CodeInvalidIndex:     http.StatusBadRequest,
	schemas.CodeExtractionFailed: http.StatusBadGateway,
	schemas.CodeSelectionFailed:  http.StatusBadGateway,
	schemas.CodeCheckoutFailed:   http.StatusBadGateway,

	schemas.CodeBrowserUnavailable: http.StatusServiceUnavailable,
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.orch.Sessions()),
	})
}

func (s *Server) handlePlanAndSearch(w http.ResponseWriter, r *http.Request) {
	var req schemas.PlanAndSearchRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		s.writeError(w, schemas.NewStageError(schemas.CodePlanningFailed, "user_request is required"))
		return
	}

	resp, err := s.orch.PlanAndSearch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req schemas.ChooseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}

	resp, err := s.orch.Choose(r.Context(), sessionID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req schemas.CheckoutRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}

	resp, err := s.orch.Checkout(r.Context(), sessionID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Sessions())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if err := s.orch.CloseSession(r.Context(), sessionID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionIDParam reads the mandatory session_id query parameter.
func sessionIDParam(r *http.Request) (string, error) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		return "", schemas.NewStageError(schemas.CodeSessionExpired, "session_id query parameter is required")
	}
	return sessionID, nil
}

// decode strictly unmarshals the request body into v.
func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response.", zap.Error(err))
	}
}

// writeBadRequest rejects a body that failed strict decoding. Unknown keys
// land here too, which is how payment fields in a checkout payload bounce.
func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, schemas.ErrorEnvelope{
		Error: schemas.ErrorDetail{Code: "InvalidRequest", Message: err.Error()},
	})
}

// writeError renders the structured error envelope. Errors without a stage
// code (context cancellation, transport surprises) map to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var se *schemas.StageError
	if !errors.As(err, &se) {
		s.logger.Error("Unclassified error reached the HTTP layer.", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, schemas.ErrorEnvelope{
			Error: schemas.ErrorDetail{Code: "Internal", Message: "internal error"},
		})
		return
	}

	status, ok := statusFor[se.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, schemas.ErrorEnvelope{
		Error: schemas.ErrorDetail{Code: se.Code, Message: se.Message},
	})
}
