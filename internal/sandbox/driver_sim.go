package sandbox

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"ride-tracker/internal/mylogger"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
)

type SimConfig struct {
	StepInterval time.Duration
	SpeedMps     float64
	MatchDelay   time.Duration
	StopDelay    time.Duration
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		StepInterval: 3 * time.Second,
		SpeedMps:     500,
		MatchDelay:   2 * time.Second,
		StopDelay:    2 * time.Second,
	}
}

type publisher interface {
	Publish(rideID, msgType string, data any)
	Notify(data websocketdto.NotificationPayload)
}

// driverSim plays one driver through a ride: match, drive to pickup, drive to
// destination, complete. Cancelling ctx stops it wherever it is.
type driverSim struct {
	cfg   SimConfig
	reg   *Registry
	pub   publisher
	mylog mylogger.Logger
}

func (d *driverSim) run(ctx context.Context, rideID string) {
	log := d.mylog.Action("driver_sim").With("ride_id", rideID)

	if !sleep(ctx, d.cfg.MatchDelay) {
		return
	}
	ride, ok := d.reg.Get(rideID)
	if !ok {
		return
	}

	start := Location{Latitude: ride.Pickup.Latitude + 0.01, Longitude: ride.Pickup.Longitude + 0.01}
	driverID := fmt.Sprintf("driver_%03d", rand.Intn(1000))
	if ride, ok = d.setStatus(rideID, StatusMatched, func(r *Ride) {
		r.DriverID = driverID
		r.DriverLocation = &start
	}); !ok {
		return
	}
	eta := ride.ETAMinutes
	d.pub.Publish(rideID, websocketdto.MessageTypeDriverAssigned, websocketdto.DriverAssignedPayload{
		RideID: rideID,
		DriverInfo: websocketdto.DriverInfo{
			DriverID: driverID,
			Name:     "Sandbox Driver",
			Rating:   4.8,
			Vehicle:  websocketdto.Vehicle{Make: "Toyota", Model: "Camry", Color: "White", Plate: "KZ 777 ABC"},
		},
		ETAMinutes: &eta,
	})
	log.Info("driver assigned", "driver_id", driverID)

	if _, ok = d.setStatus(rideID, StatusEnRoute, nil); !ok {
		return
	}
	if !d.moveToTarget(ctx, rideID, start, ride.Pickup) {
		return
	}
	if _, ok = d.setStatus(rideID, StatusArrived, nil); !ok || !sleep(ctx, d.cfg.StopDelay) {
		return
	}
	if _, ok = d.setStatus(rideID, StatusInProgress, nil); !ok {
		return
	}
	if !d.moveToTarget(ctx, rideID, ride.Pickup, ride.Destination) {
		return
	}

	final, ok := d.reg.Get(rideID)
	if !ok {
		return
	}
	d.pub.Publish(rideID, websocketdto.MessageTypeFareUpdate, websocketdto.FarePayload{
		RideID:   rideID,
		Fare:     final.EstimatedFare,
		Currency: "KZT",
		Reason:   "final",
	})
	if _, ok = d.setStatus(rideID, StatusCompleted, nil); ok {
		d.pub.Notify(websocketdto.NotificationPayload{Title: "Ride completed", Body: "Thanks for riding with us", Level: "info"})
		log.Info("ride completed")
	}
}

func (d *driverSim) setStatus(rideID, status string, mutate func(*Ride)) (Ride, bool) {
	ride, ok := d.reg.Update(rideID, func(r *Ride) {
		r.Status = status
		if mutate != nil {
			mutate(r)
		}
	})
	if !ok {
		return Ride{}, false
	}
	d.pub.Publish(rideID, websocketdto.MessageTypeRideStatusUpdate, websocketdto.RideStatusPayload{
		RideID: rideID,
		Status: status,
	})
	return ride, true
}

// moveToTarget walks the driver in equal steps and publishes every position.
// It reports false if the ride was stopped on the way.
func (d *driverSim) moveToTarget(ctx context.Context, rideID string, current, target Location) bool {
	stepDistance := d.cfg.SpeedMps * d.cfg.StepInterval.Seconds()
	totalDistance := distance(current, target)

	steps := 1
	if stepDistance > 0 && totalDistance > stepDistance {
		steps = int(totalDistance / stepDistance)
	}
	dLat := (target.Latitude - current.Latitude) / float64(steps)
	dLng := (target.Longitude - current.Longitude) / float64(steps)

	ticker := time.NewTicker(d.cfg.StepInterval)
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		pos := Location{Latitude: current.Latitude + dLat*float64(i), Longitude: current.Longitude + dLng*float64(i)}
		if i == steps {
			pos = target
		}
		if _, ok := d.reg.Update(rideID, func(r *Ride) { r.DriverLocation = &pos }); !ok {
			return false
		}
		d.pub.Publish(rideID, websocketdto.MessageTypeDriverLocation, locationPayload(rideID, pos))
	}
	return true
}

func locationPayload(rideID string, pos Location) websocketdto.LocationPayload {
	return websocketdto.LocationPayload{
		RideID:         rideID,
		Location:       &websocketdto.Location{Lat: pos.Latitude, Lng: pos.Longitude},
		SpeedKmh:       45.0,
		HeadingDegrees: 90.0,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// distance calculates the haversine distance between two coordinates in meters
func distance(a, b Location) float64 {
	const R = 6371000 // Earth radius in meters
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1)*math.Cos(lat2)
	return 2 * R * math.Asin(math.Sqrt(h))
}
