package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ride-tracker/internal/identity-service/core/domain/model"
	"ride-tracker/internal/identity-service/core/myerrors"
	"ride-tracker/internal/identity-service/core/ports"
	"ride-tracker/internal/mylogger"

	"golang.org/x/sync/singleflight"
)

const DefaultCurrentKey = "current_ride_id"

// ensureKey is shared by every EnsureValidRideID caller; there is one
// logical booking session per manager.
const ensureKey = "ensure_valid_ride_id"

// IdentityManager owns the current ride reference: it hydrates it from the
// key-value store once, keeps it in memory and decides when it must be replaced.
type IdentityManager struct {
	mylog mylogger.Logger
	api   ports.IBookingAPI
	store ports.IKeyValueStore
	cache ports.IStatusCache
	key   string
	now   func() time.Time

	mu       sync.Mutex
	current  model.RideReference
	hydrated bool

	ensure singleflight.Group
}

func NewIdentityManager(
	log mylogger.Logger,
	api ports.IBookingAPI,
	store ports.IKeyValueStore,
	cache ports.IStatusCache,
	key string,
) *IdentityManager {
	if key == "" {
		key = DefaultCurrentKey
	}
	if log == nil {
		log = mylogger.Nop()
	}
	return &IdentityManager{
		mylog: log,
		api:   api,
		store: store,
		cache: cache,
		key:   key,
		now:   time.Now,
	}
}

// GetCurrentRideID returns the in-memory reference, loading it from the store
// on first use. A store read failure is logged and treated as no ride.
func (im *IdentityManager) GetCurrentRideID(ctx context.Context) model.RideReference {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.hydrated {
		return im.current
	}

	im.hydrated = true
	val, ok, err := im.store.Get(ctx, im.key)
	if err != nil {
		im.mylog.Action("GetCurrentRideID").Error("cannot read stored ride id", err, "key", im.key)
		return ""
	}
	if ok {
		im.current = model.RideReference(val)
	}
	return im.current
}

// SetCurrentRideID replaces the reference and persists it. An empty ref
// removes the stored key. Store failures are logged, never returned.
func (im *IdentityManager) SetCurrentRideID(ctx context.Context, ref model.RideReference) {
	log := im.mylog.Action("SetCurrentRideID")

	// the store write stays under mu so memory and store agree on the last writer
	im.mu.Lock()
	defer im.mu.Unlock()
	im.current = ref
	im.hydrated = true

	if ref == "" {
		if err := im.store.Remove(ctx, im.key); err != nil {
			log.Error("cannot remove stored ride id", err, "key", im.key)
		}
		return
	}
	if err := im.store.Set(ctx, im.key, ref.String()); err != nil {
		log.Error("cannot persist ride id", err, "key", im.key, "ride_id", ref)
	}
}

// IsRideValid asks the booking API for the ride's realtime status. It always
// goes to the network; the fetched status is written to the status cache.
func (im *IdentityManager) IsRideValid(ctx context.Context, ref model.RideReference) model.ValidationResult {
	log := im.mylog.Action("IsRideValid").With("ride_id", ref)

	if ref == "" {
		return model.ValidationResult{Reason: model.ReasonNoCurrentRide, NewRideNeeded: true}
	}

	st, err := im.api.GetRealtimeStatus(ctx, ref)
	switch {
	case errors.Is(err, myerrors.ErrRideNotFound):
		log.Info("ride not found on server")
		return model.ValidationResult{Reason: model.ReasonRideNotFound, NewRideNeeded: true}
	case errors.Is(err, myerrors.ErrMalformedResponse):
		log.Error("cannot interpret ride status", err)
		return model.ValidationResult{Reason: model.ReasonValidationError}
	case err != nil:
		log.Warn("status check failed", "error", err)
		return model.ValidationResult{Reason: model.ReasonStatusCheckFailed}
	}

	im.cache.Put(ctx, ref, model.StatusEntry{Status: st.Status, LastChecked: im.now()})

	if !st.IsActive || st.IsCompleted {
		return model.ValidationResult{Reason: model.ReasonRideCompletedOrInactive, NewRideNeeded: true}
	}
	if model.IsTerminalStatus(st.Status) {
		return model.ValidationResult{Reason: model.StatusReason(st.Status), NewRideNeeded: true}
	}
	return model.ValidationResult{Valid: true}
}

// InitializeQuickRide books a new ride and makes it the current one.
func (im *IdentityManager) InitializeQuickRide(ctx context.Context, params model.BookingParams) (model.QuickRide, error) {
	log := im.mylog.Action("InitializeQuickRide")

	if !params.HasPickup() {
		return model.QuickRide{}, myerrors.ErrPickupRequired
	}
	params = params.WithDefaults()

	ride, err := im.api.CreateBooking(ctx, params)
	if err != nil {
		log.Error("cannot create booking", err)
		return model.QuickRide{}, fmt.Errorf("create booking: %w", err)
	}
	if ride.RideID == "" {
		log.Error("booking created without ride id", myerrors.ErrMalformedResponse)
		return model.QuickRide{}, fmt.Errorf("create booking: %w", myerrors.ErrMalformedResponse)
	}

	im.SetCurrentRideID(ctx, ride.RideID)
	if ride.Status != "" {
		im.cache.Put(ctx, ride.RideID, model.StatusEntry{Status: ride.Status, LastChecked: im.now()})
	}
	log.Info("ride booked", "ride_id", ride.RideID, "status", ride.Status)
	return ride, nil
}

// EnsureValidRideID returns a ride id that currently refers to an active
// booking, booking a new one from params when allowed. Overlapping calls share
// one execution and one result. The shared run is detached from any single
// caller's cancellation and is bounded by the booking client's timeout; each
// caller still stops waiting when its own ctx is done.
func (im *IdentityManager) EnsureValidRideID(ctx context.Context, params *model.BookingParams) (model.EnsureResult, error) {
	runCtx := context.WithoutCancel(ctx)
	ch := im.ensure.DoChan(ensureKey, func() (any, error) {
		return im.ensureValid(runCtx, params)
	})

	select {
	case <-ctx.Done():
		return model.EnsureResult{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			im.mylog.Action("EnsureValidRideID").Debug("joined in-flight call")
		}
		if res.Err != nil {
			return model.EnsureResult{}, res.Err
		}
		return res.Val.(model.EnsureResult), nil
	}
}

func (im *IdentityManager) ensureValid(ctx context.Context, params *model.BookingParams) (model.EnsureResult, error) {
	log := im.mylog.Action("EnsureValidRideID")

	ref := im.GetCurrentRideID(ctx)
	if ref == "" {
		if !params.HasPickup() {
			return model.EnsureResult{}, myerrors.ErrNoRide
		}
		return im.bookReplacement(ctx, *params)
	}

	res := im.IsRideValid(ctx, ref)
	if res.Valid {
		return model.EnsureResult{RideID: ref}, nil
	}

	if res.NewRideNeeded {
		log.Info("current ride is no longer usable", "ride_id", ref, "reason", res.Reason)
		im.SetCurrentRideID(ctx, "")
		if params.HasPickup() {
			return im.bookReplacement(ctx, *params)
		}
	}
	return model.EnsureResult{}, &myerrors.ValidationError{Reason: string(res.Reason)}
}

func (im *IdentityManager) bookReplacement(ctx context.Context, params model.BookingParams) (model.EnsureResult, error) {
	ride, err := im.InitializeQuickRide(ctx, params)
	if err != nil {
		return model.EnsureResult{}, err
	}
	return model.EnsureResult{RideID: ride.RideID, IsNew: true}, nil
}

// OnAppResume re-validates the current ride and clears it when the server
// says it is gone. Transient failures keep the reference.
func (im *IdentityManager) OnAppResume(ctx context.Context) model.ValidationResult {
	log := im.mylog.Action("OnAppResume")

	ref := im.GetCurrentRideID(ctx)
	if ref == "" {
		return model.ValidationResult{Reason: model.ReasonNoCurrentRide}
	}

	res := im.IsRideValid(ctx, ref)
	if res.NewRideNeeded {
		log.Info("clearing ride invalidated while suspended", "ride_id", ref, "reason", res.Reason)
		im.SetCurrentRideID(ctx, "")
	}
	return res
}

func (im *IdentityManager) OnAppTerminate(ctx context.Context) {
	im.mylog.Action("OnAppTerminate").Debug("terminating", "ride_id", im.GetCurrentRideID(ctx))
}

// CancelCurrentRide cancels the current booking on the server and forgets it.
// A ride the server no longer knows is forgotten as well.
func (im *IdentityManager) CancelCurrentRide(ctx context.Context, reason string) error {
	log := im.mylog.Action("CancelCurrentRide")

	ref := im.GetCurrentRideID(ctx)
	if ref == "" {
		return myerrors.ErrNoRide
	}

	err := im.api.CancelBooking(ctx, ref, reason)
	if err != nil && !errors.Is(err, myerrors.ErrRideNotFound) {
		log.Error("cannot cancel booking", err, "ride_id", ref)
		return fmt.Errorf("cancel booking %s: %w", ref, err)
	}

	im.cache.Put(ctx, ref, model.StatusEntry{Status: "cancelled", LastChecked: im.now()})
	im.SetCurrentRideID(ctx, "")
	log.Info("ride cancelled", "ride_id", ref)
	return nil
}

// RideStatus serves the ride's status from the cache while it is fresh and
// fetches it otherwise.
func (im *IdentityManager) RideStatus(ctx context.Context, ref model.RideReference) (model.StatusEntry, error) {
	if ref == "" {
		return model.StatusEntry{}, myerrors.ErrNoRide
	}
	if entry, ok := im.cache.Get(ctx, ref); ok {
		return entry, nil
	}

	st, err := im.api.GetRealtimeStatus(ctx, ref)
	if err != nil {
		return model.StatusEntry{}, fmt.Errorf("fetch status of %s: %w", ref, err)
	}
	entry := model.StatusEntry{Status: st.Status, LastChecked: im.now()}
	im.cache.Put(ctx, ref, entry)
	return entry, nil
}

// HandleRideStatusPush records a status pushed over the realtime channel and
// clears the current ride if that status is terminal. It reports whether the
// current ride was cleared.
func (im *IdentityManager) HandleRideStatusPush(ctx context.Context, rideID model.RideReference, status string) bool {
	if rideID == "" || strings.TrimSpace(status) == "" {
		return false
	}
	im.cache.Put(ctx, rideID, model.StatusEntry{Status: status, LastChecked: im.now()})

	if !model.IsTerminalStatus(status) || im.GetCurrentRideID(ctx) != rideID {
		return false
	}
	im.mylog.Action("HandleRideStatusPush").Info("ride reached terminal status", "ride_id", rideID, "status", status)
	im.SetCurrentRideID(ctx, "")
	return true
}
