package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"ride-tracker/internal/identity-service/core/domain/dto"
	"ride-tracker/internal/mylogger"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Config struct {
	JWTSecret   string
	AuthTimeout time.Duration
	Sim         SimConfig
}

// Server is a local stand-in for the booking backend: the REST endpoints the
// identity manager calls plus the ride and notification sockets.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	reg    *Registry
	dis    *Dispatcher
	auth   *Authenticator
	sim    *driverSim
	mylog  mylogger.Logger

	mu    sync.Mutex
	rides map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func New(cfg Config, log mylogger.Logger) *Server {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.Sim.StepInterval <= 0 {
		cfg.Sim = DefaultSimConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry()
	auth := NewAuthenticator(cfg.JWTSecret)
	dis := NewDispatcher(reg, auth, cfg.AuthTimeout, log)

	return &Server{
		ctx:    ctx,
		cancel: cancel,
		reg:    reg,
		dis:    dis,
		auth:   auth,
		sim:    &driverSim{cfg: cfg.Sim, reg: reg, pub: dis, mylog: log},
		mylog:  log,
		rides:  make(map[string]context.CancelFunc),
	}
}

func (s *Server) Authenticator() *Authenticator { return s.auth }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/rides", func(r chi.Router) {
		r.Post("/quick-book/", s.quickBook)
		r.Get("/{rideID}/realtime-status/", s.realtimeStatus)
		r.Post("/{rideID}/cancel/", s.cancelRide)
	})
	r.Get("/ws/ride/{rideID}/", s.dis.RideSocket)
	r.Get("/ws/notifications/", s.dis.NotificationSocket)
	return r
}

// Close stops every running simulation and drops every socket.
func (s *Server) Close() {
	s.cancel()
	s.dis.CloseAll()
	s.wg.Wait()
}

func (s *Server) quickBook(w http.ResponseWriter, r *http.Request) {
	log := s.mylog.Action("quick_book")

	var req dto.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	if req.PickupLocation.Latitude == 0 && req.PickupLocation.Longitude == 0 {
		writeError(w, http.StatusBadRequest, "PICKUP_REQUIRED", "pickup_location is required")
		return
	}

	pickup := Location{Latitude: req.PickupLocation.Latitude, Longitude: req.PickupLocation.Longitude}
	dest := Location{Latitude: pickup.Latitude + 0.02, Longitude: pickup.Longitude + 0.02}
	if req.DestinationLocation != nil {
		dest = Location{Latitude: req.DestinationLocation.Latitude, Longitude: req.DestinationLocation.Longitude}
	}

	ride := s.reg.Create(pickup, dest, req.VehicleType, req.PassengerCount)
	s.startSimulation(ride.ID)
	log.Info("ride booked", "ride_id", ride.ID, "estimated_fare", ride.EstimatedFare)

	fare, eta := ride.EstimatedFare, ride.ETAMinutes
	writeData(w, http.StatusCreated, dto.CreateBookingResponse{
		RideID:        ride.ID,
		Status:        ride.Status,
		EstimatedFare: &fare,
		ETAMinutes:    &eta,
	})
}

func (s *Server) realtimeStatus(w http.ResponseWriter, r *http.Request) {
	ride, ok := s.reg.Get(chi.URLParam(r, "rideID"))
	if !ok {
		writeError(w, http.StatusNotFound, "RIDE_NOT_FOUND", "ride not found")
		return
	}

	resp := dto.RealtimeStatusResponse{
		RideID:      ride.ID,
		Status:      ride.Status,
		IsActive:    ride.IsActive(),
		IsCompleted: ride.Status == StatusCompleted,
		LastUpdated: dto.Timestamp{Time: ride.UpdatedAt},
	}
	if ride.DriverLocation != nil {
		resp.DriverLocation = &dto.LocationDto{Latitude: ride.DriverLocation.Latitude, Longitude: ride.DriverLocation.Longitude}
	}
	if ride.IsActive() {
		eta := ride.ETAMinutes
		resp.ETAMinutes = &eta
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) cancelRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideID")
	log := s.mylog.Action("cancel_ride").With("ride_id", rideID)

	var req dto.CancelBookingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if _, ok := s.reg.Get(rideID); !ok {
		writeError(w, http.StatusNotFound, "RIDE_NOT_FOUND", "ride not found")
		return
	}
	ride, ok := s.reg.Update(rideID, func(r *Ride) { r.Status = StatusCancelled })
	if !ok {
		writeError(w, http.StatusConflict, "RIDE_FINISHED", "ride already finished")
		return
	}
	s.stopSimulation(rideID)

	s.dis.Publish(rideID, websocketdto.MessageTypeRideStatusUpdate, websocketdto.RideStatusPayload{
		RideID:  rideID,
		Status:  StatusCancelled,
		Message: req.Reason,
	})
	s.dis.Notify(websocketdto.NotificationPayload{Title: "Ride cancelled", Body: req.Reason, Level: "warning"})
	log.Info("ride cancelled", "reason", req.Reason)

	writeData(w, http.StatusOK, dto.CancelBookingResponse{
		RideID:      ride.ID,
		Status:      ride.Status,
		CancelledAt: dto.Timestamp{Time: ride.UpdatedAt},
	})
}

func (s *Server) startSimulation(rideID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.rides[rideID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.stopSimulation(rideID)
		s.sim.run(ctx, rideID)
	}()
}

func (s *Server) stopSimulation(rideID string) {
	s.mu.Lock()
	cancel, ok := s.rides[rideID]
	delete(s.rides, rideID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "cannot encode response")
		return
	}
	writeEnvelope(w, status, dto.Envelope{Success: true, Data: raw})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeEnvelope(w, status, dto.Envelope{Success: false, Error: msg, ErrorCode: code})
}

func writeEnvelope(w http.ResponseWriter, status int, env dto.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
