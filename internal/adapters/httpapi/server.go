// Package httpapi exposes the blood bank service over JSON HTTP.
package httpapi

import (
	"bloodbank/internal/core"
	"bloodbank/pkg/domain"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// RequestIDHeader carries the correlation id of each HTTP exchange.
const RequestIDHeader = "X-Request-ID"

// Handler routes HTTP calls to a core.Service.
type Handler struct {
	svc     *core.Service
	logger  core.Logger
	metrics http.Handler
	path    string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger logs one line per HTTP request.
func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetricsHandler mounts handler at path, typically promhttp output.
func WithMetricsHandler(path string, handler http.Handler) Option {
	return func(h *Handler) {
		if handler != nil && path != "" {
			h.metrics = handler
			h.path = path
		}
	}
}

// NewRouter builds the mux router for svc.
func NewRouter(svc *core.Service, opts ...Option) *mux.Router {
	h := &Handler{svc: svc, logger: nopLogger{}}
	for _, opt := range opts {
		opt(h)
	}

	router := mux.NewRouter()
	router.Use(h.requestID, h.logging)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	api := router.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.HandleFunc("/patients", h.registerPatient).Methods(http.MethodPost)
	api.HandleFunc("/patients/{id}", h.getPatient).Methods(http.MethodGet)
	api.HandleFunc("/patients/{id}", h.updatePatient).Methods(http.MethodPut)
	api.HandleFunc("/donations", h.recordDonation).Methods(http.MethodPost)
	api.HandleFunc("/distributions", h.createDistribution).Methods(http.MethodPost)
	api.HandleFunc("/distributions", h.listDistributions).Methods(http.MethodGet)
	api.HandleFunc("/inventory", h.outstandingInventory).Methods(http.MethodGet)
	api.HandleFunc("/inventory/summary", h.inventorySummary).Methods(http.MethodGet)
	api.HandleFunc("/requests/single", h.submitSingle).Methods(http.MethodPost)
	api.HandleFunc("/requests/mci", h.submitMCI).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", h.getRequest).Methods(http.MethodGet)
	api.HandleFunc("/rejections", h.listRejections).Methods(http.MethodGet)
	api.HandleFunc("/rejections/{id}", h.getRejection).Methods(http.MethodGet)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if h.metrics != nil {
		router.Handle(h.path, h.metrics).Methods(http.MethodGet)
	}
	return router
}

func (h *Handler) registerPatient(w http.ResponseWriter, r *http.Request) {
	var patient core.Patient
	if !decode(w, r, &patient) {
		return
	}
	created, err := h.svc.RegisterPatient(r.Context(), patient)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	patient, err := h.svc.GetPatient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

type patientUpdate struct {
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	Birthday    *time.Time `json:"birthday"`
	BloodType   *string    `json:"blood_type"`
	Smokes      *bool      `json:"smokes"`
	PhoneNumber *string    `json:"phone_number"`
}

func (h *Handler) updatePatient(w http.ResponseWriter, r *http.Request) {
	var body patientUpdate
	if !decode(w, r, &body) {
		return
	}
	updated, err := h.svc.UpdatePatient(r.Context(), mux.Vars(r)["id"], func(p *core.Patient) error {
		if body.FirstName != nil {
			p.FirstName = *body.FirstName
		}
		if body.LastName != nil {
			p.LastName = *body.LastName
		}
		if body.Birthday != nil {
			p.Birthday = *body.Birthday
		}
		if body.BloodType != nil {
			bt, err := domain.ParseBloodType(*body.BloodType)
			if err != nil {
				return err
			}
			p.BloodType = bt
		}
		if body.Smokes != nil {
			p.Smokes = *body.Smokes
		}
		if body.PhoneNumber != nil {
			if *body.PhoneNumber == "" {
				p.PhoneNumber = nil
			} else {
				p.PhoneNumber = body.PhoneNumber
			}
		}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) recordDonation(w http.ResponseWriter, r *http.Request) {
	var donation core.Donation
	if !decode(w, r, &donation) {
		return
	}
	created, err := h.svc.RecordDonation(r.Context(), donation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) createDistribution(w http.ResponseWriter, r *http.Request) {
	var distribution core.Distribution
	if !decode(w, r, &distribution) {
		return
	}
	created, err := h.svc.CreateDistribution(r.Context(), distribution)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listDistributions(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListDistributions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) outstandingInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer, got %q", domain.ErrInvalidRequest, raw))
			return
		}
		limit = n
	}
	out, err := h.svc.OutstandingInventory(r.Context(), queryBloodType(q.Get("blood_type")), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) inventorySummary(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.InventorySummary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type singleRequestBody struct {
	PatientID string `json:"patient_id"`
	BloodType string `json:"blood_type"`
	Units     int    `json:"units"`
}

type mciRequestBody struct {
	DistributionID string `json:"distribution_id"`
	Units          int    `json:"units"`
}

type requestResponse struct {
	Request   core.Request    `json:"request"`
	Issuances []core.Issuance `json:"issuances"`
}

func (h *Handler) submitSingle(w http.ResponseWriter, r *http.Request) {
	var body singleRequestBody
	if !decode(w, r, &body) {
		return
	}
	outcome, err := h.svc.SubmitSingleRequest(r.Context(), core.SingleRequest{
		PatientID: body.PatientID,
		BloodType: core.BloodType(body.BloodType),
		Units:     body.Units,
	})
	h.writeOutcome(w, r, outcome, err)
}

func (h *Handler) submitMCI(w http.ResponseWriter, r *http.Request) {
	var body mciRequestBody
	if !decode(w, r, &body) {
		return
	}
	outcome, err := h.svc.SubmitMCIRequest(r.Context(), core.MCIRequest{
		DistributionID: body.DistributionID,
		Units:          body.Units,
	})
	h.writeOutcome(w, r, outcome, err)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, outcome core.RequestOutcome, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestResponse{Request: outcome.Request, Issuances: nonNil(outcome.Issuances)})
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	request, issuances, err := h.svc.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{Request: request, Issuances: nonNil(issuances)})
}

func (h *Handler) listRejections(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListRejections(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) getRejection(w http.ResponseWriter, r *http.Request) {
	rejection, err := h.svc.GetRejection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rejection)
}

// queryBloodType restores the '+' that form decoding turns into a space.
func queryBloodType(raw string) core.BloodType {
	raw = strings.TrimLeft(raw, " ")
	if trimmed := strings.TrimRight(raw, " "); trimmed != raw {
		raw = trimmed + "+"
	}
	return core.BloodType(raw)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Error:   http.StatusText(http.StatusMethodNotAllowed),
		Details: fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path),
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Details: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start),
			"request_id", w.Header().Get(RequestIDHeader),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
