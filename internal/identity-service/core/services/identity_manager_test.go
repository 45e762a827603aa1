package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ride-tracker/internal/identity-service/core/domain/model"
	"ride-tracker/internal/identity-service/core/myerrors"
	"ride-tracker/internal/mylogger"

	"github.com/stretchr/testify/require"
)

type fakeBookingAPI struct {
	mu          sync.Mutex
	statusCalls int
	createCalls int
	cancelCalls int

	status    model.RealtimeStatus
	statusErr error
	createID  model.RideReference
	createErr error
	cancelErr error
	// gate, when set, blocks CreateBooking until it is closed.
	gate    chan struct{}
	entered atomic.Int32
	seen    model.BookingParams
}

func (f *fakeBookingAPI) CreateBooking(ctx context.Context, p model.BookingParams) (model.QuickRide, error) {
	f.entered.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return model.QuickRide{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.seen = p
	if f.createErr != nil {
		return model.QuickRide{}, f.createErr
	}
	return model.QuickRide{RideID: f.createID, Status: "REQUESTED"}, nil
}

func (f *fakeBookingAPI) GetRealtimeStatus(_ context.Context, id model.RideReference) (model.RealtimeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return model.RealtimeStatus{}, f.statusErr
	}
	st := f.status
	st.RideID = id
	return st, nil
}

func (f *fakeBookingAPI) CancelBooking(context.Context, model.RideReference, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeBookingAPI) calls() (status, create int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.createCalls
}

type mapStore struct {
	mu      sync.Mutex
	data    map[string]string
	gets    int
	failGet bool
	failSet bool
}

func newMapStore(kv ...string) *mapStore {
	s := &mapStore{data: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		s.data[kv[i]] = kv[i+1]
	}
	return s
}

func (s *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failGet {
		return "", false, errors.New("disk i/o error")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errors.New("disk full")
	}
	s.data[key] = value
	return nil
}

func (s *mapStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStore) Close() error { return nil }

func (s *mapStore) value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

var activeStatus = model.RealtimeStatus{Status: "IN_PROGRESS", IsActive: true}

func pickupParams() *model.BookingParams {
	return &model.BookingParams{Pickup: &model.Location{Lat: 1, Lng: 1}}
}

func newTestIdentity(api *fakeBookingAPI, store *mapStore) *IdentityManager {
	return NewIdentityManager(mylogger.Nop(), api, store, NewMemoryStatusCache(time.Minute), "")
}

func TestColdStartBooksNewRide(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{createID: "abc"}
	store := newMapStore()
	im := newTestIdentity(api, store)

	require.Equal(t, model.RideReference(""), im.GetCurrentRideID(ctx))

	res, err := im.EnsureValidRideID(ctx, pickupParams())
	require.NoError(t, err)
	require.Equal(t, model.EnsureResult{RideID: "abc", IsNew: true}, res)
	require.Equal(t, model.RideReference("abc"), im.GetCurrentRideID(ctx))

	stored, ok := store.value(DefaultCurrentKey)
	require.True(t, ok)
	require.Equal(t, "abc", stored)

	require.Equal(t, model.DefaultVehicleType, api.seen.VehicleType)
	require.Equal(t, model.DefaultPassengerCount, api.seen.PassengerCount)
}

func TestEnsureWithoutRideOrPickup(t *testing.T) {
	im := newTestIdentity(&fakeBookingAPI{}, newMapStore())

	_, err := im.EnsureValidRideID(context.Background(), nil)
	require.ErrorIs(t, err, myerrors.ErrNoRide)

	_, err = im.EnsureValidRideID(context.Background(), &model.BookingParams{VehicleType: "xl"})
	require.ErrorIs(t, err, myerrors.ErrNoRide)
}

func TestEnsureKeepsValidRide(t *testing.T) {
	api := &fakeBookingAPI{status: activeStatus, createID: "new"}
	im := newTestIdentity(api, newMapStore(DefaultCurrentKey, "r-1"))

	res, err := im.EnsureValidRideID(context.Background(), pickupParams())
	require.NoError(t, err)
	require.Equal(t, model.EnsureResult{RideID: "r-1"}, res)

	status, create := api.calls()
	require.Equal(t, 1, status)
	require.Zero(t, create)
}

func TestEnsureReplacesFinishedRide(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{status: model.RealtimeStatus{Status: "COMPLETED", IsCompleted: true}, createID: "r-2"}
	im := newTestIdentity(api, newMapStore(DefaultCurrentKey, "r-1"))

	res, err := im.EnsureValidRideID(ctx, pickupParams())
	require.NoError(t, err)
	require.Equal(t, model.EnsureResult{RideID: "r-2", IsNew: true}, res)
	require.Equal(t, res.RideID, im.GetCurrentRideID(ctx))
}

func TestEnsureReportsReasonWhenNoReplacementPossible(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{statusErr: &myerrors.APIError{StatusCode: 404, Message: "not found"}}
	store := newMapStore(DefaultCurrentKey, "gone")
	im := newTestIdentity(api, store)

	_, err := im.EnsureValidRideID(ctx, nil)
	var verr *myerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, string(model.ReasonRideNotFound), verr.Reason)
	require.EqualError(t, err, "ride validation failed: ride_not_found")

	require.Equal(t, model.RideReference(""), im.GetCurrentRideID(ctx))
	_, ok := store.value(DefaultCurrentKey)
	require.False(t, ok)
}

func TestEnsureKeepsRideOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{statusErr: errors.New("executing request: connection reset"), createID: "dup"}
	im := newTestIdentity(api, newMapStore(DefaultCurrentKey, "r-1"))

	_, err := im.EnsureValidRideID(ctx, pickupParams())
	var verr *myerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, string(model.ReasonStatusCheckFailed), verr.Reason)

	require.Equal(t, model.RideReference("r-1"), im.GetCurrentRideID(ctx))
	_, create := api.calls()
	require.Zero(t, create)
}

func TestIsRideValidTerminalStatuses(t *testing.T) {
	for _, status := range []string{"completed", "CANCELLED", "Expired", "failed"} {
		t.Run(status, func(t *testing.T) {
			api := &fakeBookingAPI{status: model.RealtimeStatus{Status: status, IsActive: true}}
			im := newTestIdentity(api, newMapStore())

			res := im.IsRideValid(context.Background(), "r-1")
			require.False(t, res.Valid)
			require.True(t, res.NewRideNeeded)
		})
	}
}

func TestIsRideValidReasons(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeBookingAPI
		want model.ValidationResult
	}{
		{
			name: "active",
			api:  &fakeBookingAPI{status: activeStatus},
			want: model.ValidationResult{Valid: true},
		},
		{
			name: "inactive",
			api:  &fakeBookingAPI{status: model.RealtimeStatus{Status: "IN_PROGRESS"}},
			want: model.ValidationResult{Reason: model.ReasonRideCompletedOrInactive, NewRideNeeded: true},
		},
		{
			name: "terminal status",
			api:  &fakeBookingAPI{status: model.RealtimeStatus{Status: "Cancelled", IsActive: true}},
			want: model.ValidationResult{Reason: "ride_status_cancelled", NewRideNeeded: true},
		},
		{
			name: "not found code",
			api:  &fakeBookingAPI{statusErr: &myerrors.APIError{StatusCode: 400, Code: myerrors.ErrorCodeRideNotFound}},
			want: model.ValidationResult{Reason: model.ReasonRideNotFound, NewRideNeeded: true},
		},
		{
			name: "server error",
			api:  &fakeBookingAPI{statusErr: &myerrors.APIError{StatusCode: 503, Message: "unavailable"}},
			want: model.ValidationResult{Reason: model.ReasonStatusCheckFailed},
		},
		{
			name: "malformed payload",
			api:  &fakeBookingAPI{statusErr: myerrors.ErrMalformedResponse},
			want: model.ValidationResult{Reason: model.ReasonValidationError},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := newTestIdentity(tt.api, newMapStore())
			require.Equal(t, tt.want, im.IsRideValid(context.Background(), "r-1"))
		})
	}
}

func TestIsRideValidAlwaysHitsNetwork(t *testing.T) {
	api := &fakeBookingAPI{status: activeStatus}
	im := newTestIdentity(api, newMapStore())

	first := im.IsRideValid(context.Background(), "r-1")
	second := im.IsRideValid(context.Background(), "r-1")
	require.Equal(t, first, second)

	status, _ := api.calls()
	require.Equal(t, 2, status)
}

func TestResumeClearsStaleRide(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{status: model.RealtimeStatus{Status: "COMPLETED", IsActive: false, IsCompleted: true}}
	im := newTestIdentity(api, newMapStore(DefaultCurrentKey, "xyz"))

	res := im.OnAppResume(ctx)
	require.False(t, res.Valid)
	require.Equal(t, model.RideReference(""), im.GetCurrentRideID(ctx))
}

func TestResumeKeepsRideOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{statusErr: errors.New("timeout")}
	im := newTestIdentity(api, newMapStore(DefaultCurrentKey, "xyz"))

	res := im.OnAppResume(ctx)
	require.Equal(t, model.ReasonStatusCheckFailed, res.Reason)
	require.Equal(t, model.RideReference("xyz"), im.GetCurrentRideID(ctx))
}

func TestHydratesOnce(t *testing.T) {
	ctx := context.Background()
	store := newMapStore(DefaultCurrentKey, "r-9")
	im := newTestIdentity(&fakeBookingAPI{}, store)

	require.Equal(t, model.RideReference("r-9"), im.GetCurrentRideID(ctx))
	require.NoError(t, store.Set(ctx, DefaultCurrentKey, "changed-behind-our-back"))
	require.Equal(t, model.RideReference("r-9"), im.GetCurrentRideID(ctx))
	require.Equal(t, 1, store.gets)
}

func TestStoreFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	store.failGet = true
	store.failSet = true
	im := newTestIdentity(&fakeBookingAPI{}, store)

	require.Equal(t, model.RideReference(""), im.GetCurrentRideID(ctx))
	im.SetCurrentRideID(ctx, "r-1")
	require.Equal(t, model.RideReference("r-1"), im.GetCurrentRideID(ctx))
}

func TestInitializeQuickRideRequiresPickup(t *testing.T) {
	api := &fakeBookingAPI{createID: "r-1"}
	im := newTestIdentity(api, newMapStore())

	_, err := im.InitializeQuickRide(context.Background(), model.BookingParams{})
	require.ErrorIs(t, err, myerrors.ErrPickupRequired)
	_, create := api.calls()
	require.Zero(t, create)
}

func TestInitializeQuickRideFailureKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{createErr: &myerrors.APIError{StatusCode: 409, Message: "passenger already has an active ride"}}
	im := newTestIdentity(api, newMapStore(DefaultCurrentKey, "r-1"))

	_, err := im.InitializeQuickRide(ctx, *pickupParams())
	var apiErr *myerrors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 409, apiErr.StatusCode)
	require.Equal(t, model.RideReference("r-1"), im.GetCurrentRideID(ctx))
}

func TestConcurrentEnsureBooksOnce(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{createID: "shared", gate: make(chan struct{})}
	im := newTestIdentity(api, newMapStore())

	const callers = 8
	var (
		wg      sync.WaitGroup
		started atomic.Int32
		results = make([]model.EnsureResult, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Add(1)
			results[i], errs[i] = im.EnsureValidRideID(ctx, pickupParams())
		}(i)
	}

	require.Eventually(t, func() bool { return started.Load() == callers }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	_, create := api.calls()
	require.Equal(t, 1, create)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, model.RideReference("shared"), results[i].RideID)
	}
}

func TestEnsureSurvivesFirstCallerCancelling(t *testing.T) {
	api := &fakeBookingAPI{createID: "shared", gate: make(chan struct{})}
	store := newMapStore()
	im := newTestIdentity(api, store)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := im.EnsureValidRideID(firstCtx, pickupParams())
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return api.entered.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		res model.EnsureResult
		err error
	}
	second := make(chan result, 1)
	go func() {
		res, err := im.EnsureValidRideID(context.Background(), pickupParams())
		second <- result{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(api.gate)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, model.RideReference("shared"), got.res.RideID)
	require.True(t, got.res.IsNew)

	_, create := api.calls()
	require.Equal(t, 1, create)
	v, ok := store.value(DefaultCurrentKey)
	require.True(t, ok)
	require.Equal(t, "shared", v)
}

func TestCancelCurrentRide(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{}
	store := newMapStore(DefaultCurrentKey, "r-1")
	im := newTestIdentity(api, store)

	require.NoError(t, im.CancelCurrentRide(ctx, "changed plans"))
	require.Equal(t, model.RideReference(""), im.GetCurrentRideID(ctx))
	_, ok := store.value(DefaultCurrentKey)
	require.False(t, ok)

	require.ErrorIs(t, im.CancelCurrentRide(ctx, ""), myerrors.ErrNoRide)
}

func TestCancelCurrentRideKeepsRideOnFailure(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{cancelErr: &myerrors.APIError{StatusCode: 500, Message: "boom"}}
	im := newTestIdentity(api, newMapStore(DefaultCurrentKey, "r-1"))

	require.Error(t, im.CancelCurrentRide(ctx, ""))
	require.Equal(t, model.RideReference("r-1"), im.GetCurrentRideID(ctx))
}

func TestRideStatusUsesFreshCache(t *testing.T) {
	ctx := context.Background()
	api := &fakeBookingAPI{status: activeStatus}
	im := newTestIdentity(api, newMapStore())

	_ = im.IsRideValid(ctx, "r-1")
	entry, err := im.RideStatus(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, "IN_PROGRESS", entry.Status)

	status, _ := api.calls()
	require.Equal(t, 1, status)

	_, err = im.RideStatus(ctx, "r-2")
	require.NoError(t, err)
	status, _ = api.calls()
	require.Equal(t, 2, status)
}

func TestHandleRideStatusPush(t *testing.T) {
	ctx := context.Background()
	im := newTestIdentity(&fakeBookingAPI{}, newMapStore(DefaultCurrentKey, "r-1"))

	require.False(t, im.HandleRideStatusPush(ctx, "r-1", "EN_ROUTE"))
	require.False(t, im.HandleRideStatusPush(ctx, "other", "COMPLETED"))
	require.Equal(t, model.RideReference("r-1"), im.GetCurrentRideID(ctx))

	require.True(t, im.HandleRideStatusPush(ctx, "r-1", "COMPLETED"))
	require.Equal(t, model.RideReference(""), im.GetCurrentRideID(ctx))

	entry, err := im.RideStatus(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", entry.Status)
}
