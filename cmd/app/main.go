package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ride-tracker/internal/app"
	"ride-tracker/internal/config"
	idmodel "ride-tracker/internal/identity-service/core/domain/model"
	"ride-tracker/internal/mylogger"
	"ride-tracker/internal/tracking-service/core/domain/model"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
)

const usage = `usage: app <command> [flags]

commands:
  track    ensure a valid ride (booking one if needed) and follow it live
  status   print the current ride and its status
  cancel   cancel the current ride`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "track":
		err = runTrack(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "cancel":
		err = runCancel(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.NewFromYAML(path)
	}
	return config.New()
}

func setup(ctx context.Context, configPath string) (*app.App, mylogger.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	appLogger, err := mylogger.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		return nil, nil, err
	}
	return a, appLogger, nil
}

func runTrack(args []string) error {
	trackCmd := flag.NewFlagSet("track", flag.ExitOnError)
	configPath := trackCmd.String("config", "", "path to YAML config (env only when empty)")
	pickupLat := trackCmd.Float64("pickup-lat", 0, "pickup latitude, required to book a new ride")
	pickupLng := trackCmd.Float64("pickup-lng", 0, "pickup longitude")
	destLat := trackCmd.Float64("dest-lat", 0, "destination latitude")
	destLng := trackCmd.Float64("dest-lng", 0, "destination longitude")
	vehicle := trackCmd.String("vehicle", idmodel.DefaultVehicleType, "vehicle type")
	passengers := trackCmd.Int("passengers", idmodel.DefaultPassengerCount, "passenger count")
	ship := trackCmd.String("ship", "", "track a ship schedule id instead of a taxi ride")
	notifications := trackCmd.Bool("notifications", false, "follow the notification channel only")
	trackCmd.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, appLogger, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	done := make(chan struct{}, 1)
	mylog := appLogger.Action("track")
	a.Tracking.SetHandlers(trackHandlers(mylog, done))

	switch {
	case *notifications:
		if err := a.Tracking.Connect(ctx, model.NotificationsTarget()); err != nil {
			return err
		}
	case *ship != "":
		if err := a.Tracking.Connect(ctx, model.ShipTarget(*ship)); err != nil {
			return err
		}
		a.Tracking.StartLocationUpdates(0)
		a.Tracking.StartStatusSync(0)
	default:
		a.Resume(ctx)

		var params *idmodel.BookingParams
		if *pickupLat != 0 || *pickupLng != 0 {
			params = &idmodel.BookingParams{
				Pickup:         &idmodel.Location{Lat: *pickupLat, Lng: *pickupLng},
				VehicleType:    *vehicle,
				PassengerCount: *passengers,
			}
			if *destLat != 0 || *destLng != 0 {
				params.Destination = &idmodel.Location{Lat: *destLat, Lng: *destLng}
			}
		}
		res, err := a.StartTracking(ctx, params)
		if err != nil {
			return err
		}
		mylog.Info("tracking ride", "ride_id", res.RideID, "new", res.IsNew)
	}
	defer a.StopTracking()

	select {
	case <-ctx.Done():
		mylog.Info("interrupted")
	case <-done:
	}
	return nil
}

// trackHandlers logs every tracking event and signals done once the ride
// reaches a terminal status or reconnecting gives up.
func trackHandlers(mylog mylogger.Logger, done chan<- struct{}) model.Handlers {
	return model.Handlers{
		OnConnect: func() { mylog.Info("connected") },
		OnDisconnect: func(code int, reason string) {
			mylog.Info("disconnected", "code", code, "reason", reason)
		},
		OnReconnecting: func(attempt int, delay time.Duration) {
			mylog.Warn("reconnecting", "attempt", attempt, "delay", delay.String())
		},
		OnError: func(err error) {
			mylog.Error("tracking failed", err)
			signalDone(done)
		},
		OnRideStatusUpdate: func(ev websocketdto.Event) {
			st, ok := ev.RideStatus()
			if !ok {
				return
			}
			mylog.Info("ride status", "ride_id", st.RideID, "status", st.Status)
			if idmodel.IsTerminalStatus(st.Status) {
				signalDone(done)
			}
		},
		OnTaxiUpdate: func(ev websocketdto.Event) {
			if st, ok := ev.RideStatus(); ok {
				mylog.Info("taxi update", "status", st.Status)
			}
		},
		OnShipUpdate: func(ev websocketdto.Event) {
			if st, ok := ev.RideStatus(); ok {
				mylog.Info("ship update", "status", st.Status)
			}
		},
		OnLocationUpdate: func(ev websocketdto.Event) {
			if loc, ok := ev.Location(); ok {
				mylog.Info("location", "lat", loc.Latitude, "lng", loc.Longitude)
			}
		},
		OnDriverAssigned: func(ev websocketdto.Event) {
			var p websocketdto.DriverAssignedPayload
			if err := ev.Decode(&p); err == nil {
				mylog.Info("driver assigned", "driver", p.DriverInfo.Name, "plate", p.DriverInfo.Vehicle.Plate)
			}
		},
		OnFareUpdate: func(ev websocketdto.Event) {
			var p websocketdto.FarePayload
			if err := ev.Decode(&p); err == nil {
				mylog.Info("fare", "fare", p.Fare, "currency", p.Currency)
			}
		},
		OnNotification: func(ev websocketdto.Event) {
			var p websocketdto.NotificationPayload
			if err := ev.Decode(&p); err == nil {
				mylog.Info("notification", "title", p.Title, "body", p.Body)
			}
		},
		OnEmergencyAlert: func(ev websocketdto.Event) {
			mylog.Warn("emergency alert", "payload", string(ev.Data))
		},
		OnSystemMessage: func(ev websocketdto.Event) {
			mylog.Info("system message", "payload", string(ev.Data))
		},
	}
}

func runStatus(args []string) error {
	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := statusCmd.String("config", "", "path to YAML config")
	statusCmd.Parse(args)

	ctx := context.Background()
	a, _, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ref := a.Identity.GetCurrentRideID(ctx)
	if ref == "" {
		fmt.Println("no current ride")
		return nil
	}
	entry, err := a.Identity.RideStatus(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Printf("ride %s: %s (checked %s)\n", ref, entry.Status, entry.LastChecked.Format(time.RFC3339))
	return nil
}

func runCancel(args []string) error {
	cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
	configPath := cancelCmd.String("config", "", "path to YAML config")
	reason := cancelCmd.String("reason", "", "cancellation reason")
	cancelCmd.Parse(args)

	ctx := context.Background()
	a, _, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ref := a.Identity.GetCurrentRideID(ctx)
	if err := a.Identity.CancelCurrentRide(ctx, *reason); err != nil {
		return err
	}
	fmt.Printf("ride %s cancelled\n", ref)
	return nil
}

func signalDone(done chan<- struct{}) {
	select {
	case done <- struct{}{}:
	default:
	}
}
