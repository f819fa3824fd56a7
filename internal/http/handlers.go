package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
)

type Server struct {
	logger *slog.Logger
	disp   *dispatch.Dispatcher
	avail  geo.Availability
	reg    *registry.Registry
	kafka  *ingest.KafkaProducer // optional; nil means direct index updates only
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, disp *dispatch.Dispatcher, avail geo.Availability, reg *registry.Registry, kafka *ingest.KafkaProducer) *Server {
	s := &Server{
		logger: logger,
		disp:   disp,
		avail:  avail,
		reg:    reg,
		kafka:  kafka,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/reject", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/driver/{id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/passenger/{id}", s.handlePassengerWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequestBody struct {
	PassengerID string       `json:"passenger_id"`
	Pickup      models.Coord `json:"pickup"`
	Destination models.Coord `json:"destination"`
	Seats       int          `json:"seats"`
	RequestedAt time.Time    `json:"requested_at"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	id, err := s.disp.CreateRequest(r.Context(), dispatch.CreateParams{
		PassengerID: body.PassengerID,
		Pickup:      body.Pickup,
		Destination: body.Destination,
		Seats:       body.Seats,
		RequestedAt: body.RequestedAt,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.disp.Request(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type acceptBody struct {
	DriverID  string `json:"driver_id"`
	VehicleID string `json:"vehicle_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	err := s.disp.Accept(r.Context(), mux.Vars(r)["id"], body.DriverID, body.VehicleID)
	writeAcceptResult(w, err)
}

func writeAcceptResult(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}
	code := acceptErrorCode(err)
	switch code {
	case "unknown_request":
		writeError(w, http.StatusNotFound, code)
	case "internal":
		writeError(w, http.StatusInternalServerError, code)
	default:
		writeError(w, http.StatusConflict, code)
	}
}

func acceptErrorCode(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrAlreadyTaken):
		return "already_taken"
	case errors.Is(err, dispatch.ErrCapacity):
		return "capacity_error"
	case errors.Is(err, dispatch.ErrUnknownRequest):
		return "unknown_request"
	case errors.Is(err, dispatch.ErrInvalidState):
		return "invalid_state"
	default:
		return "internal"
	}
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	if err := s.disp.Reject(r.Context(), mux.Vars(r)["id"], body.DriverID); err != nil {
		if errors.Is(err, dispatch.ErrUnknownRequest) {
			writeError(w, http.StatusNotFound, "unknown_request")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.disp.Cancel(r.Context(), mux.Vars(r)["id"])
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, dispatch.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, "unknown_request")
	case errors.Is(err, dispatch.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state")
	default:
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	loc.Online = true
	if loc.Updated.IsZero() {
		loc.Updated = time.Now()
	}
	// publish to kafka if configured; the consumer folds it into redis
	if s.kafka != nil {
		if err := s.kafka.PublishLocation(loc); err != nil {
			s.logger.Warn("location publish failed", "driver_id", loc.DriverID, "error", err)
		}
	}
	if err := s.avail.UpdateLocation(r.Context(), loc); err != nil {
		s.logger.Warn("availability update failed", "driver_id", loc.DriverID, "error", err)
	}
	observability.LocationReports.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func newID() string { return uuid.NewString() }
