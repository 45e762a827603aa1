package sandbox

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRequested  = "REQUESTED"
	StatusMatched    = "MATCHED"
	StatusEnRoute    = "EN_ROUTE"
	StatusArrived    = "ARRIVED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

const (
	baseFare       = 500 // base
	ratePerKm      = 100 // 100₸/km
	ratePerMin     = 50  // 50₸/min
	avgSpeedKmh    = 30
	defaultVehicle = "standard"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Ride is the sandbox's view of one booking.
type Ride struct {
	ID             string
	PassengerID    string
	VehicleType    string
	PassengerCount int
	Pickup         Location
	Destination    Location
	Status         string
	DriverID       string
	DriverLocation *Location
	EstimatedFare  float64
	ETAMinutes     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r Ride) IsActive() bool {
	return r.Status != StatusCompleted && r.Status != StatusCancelled
}

type Registry struct {
	mu    sync.RWMutex
	rides map[string]*Ride
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{rides: make(map[string]*Ride), now: time.Now}
}

func (reg *Registry) Create(pickup, destination Location, vehicle string, passengers int) Ride {
	if vehicle == "" {
		vehicle = defaultVehicle
	}
	if passengers <= 0 {
		passengers = 1
	}
	km := distance(pickup, destination) / 1000
	minutes := math.Ceil(km / avgSpeedKmh * 60)

	now := reg.now()
	r := &Ride{
		ID:             "ride_" + uuid.NewString()[:8],
		VehicleType:    vehicle,
		PassengerCount: passengers,
		Pickup:         pickup,
		Destination:    destination,
		Status:         StatusRequested,
		EstimatedFare:  math.Round(baseFare + km*ratePerKm + minutes*ratePerMin),
		ETAMinutes:     minutes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.rides[r.ID] = r
	return *r
}

func (reg *Registry) Get(id string) (Ride, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rides[id]
	if !ok {
		return Ride{}, false
	}
	return *r, true
}

// Update applies fn to a live copy of the ride. Finished rides are left alone
// and reported with ok=false.
func (reg *Registry) Update(id string, fn func(*Ride)) (Ride, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rides[id]
	if !ok || !r.IsActive() {
		return Ride{}, false
	}
	fn(r)
	r.UpdatedAt = reg.now()
	return *r, true
}
