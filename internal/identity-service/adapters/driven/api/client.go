package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ride-tracker/internal/identity-service/core/domain/dto"
	"ride-tracker/internal/identity-service/core/domain/model"
	"ride-tracker/internal/identity-service/core/myerrors"
	"ride-tracker/internal/identity-service/core/ports"
	"ride-tracker/internal/mylogger"
)

const maxBodySize = 1 << 20

type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	InsecureTLS bool
}

// Client talks to the booking REST API. Every response is a
// {success, data, error, error_code} envelope.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	mylog   mylogger.Logger
}

var _ ports.IBookingAPI = (*Client)(nil)

func NewClient(cfg Config, log mylogger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		mylog:   log,
	}
}

func (c *Client) CreateBooking(ctx context.Context, params model.BookingParams) (model.QuickRide, error) {
	if !params.HasPickup() {
		return model.QuickRide{}, myerrors.ErrPickupRequired
	}
	req := dto.CreateBookingRequest{
		PickupLocation: toDto(*params.Pickup),
		VehicleType:    params.VehicleType,
		PassengerCount: params.PassengerCount,
	}
	if params.Destination != nil {
		d := toDto(*params.Destination)
		req.DestinationLocation = &d
	}

	var resp dto.CreateBookingResponse
	if err := c.do(ctx, http.MethodPost, "/api/rides/quick-book/", req, &resp); err != nil {
		return model.QuickRide{}, err
	}
	return model.QuickRide{
		RideID:        model.RideReference(resp.RideID),
		Status:        resp.Status,
		EstimatedFare: resp.EstimatedFare,
		ETAMinutes:    resp.ETAMinutes,
	}, nil
}

func (c *Client) GetRealtimeStatus(ctx context.Context, rideID model.RideReference) (model.RealtimeStatus, error) {
	var resp dto.RealtimeStatusResponse
	path := "/api/rides/" + url.PathEscape(rideID.String()) + "/realtime-status/"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return model.RealtimeStatus{}, err
	}

	st := model.RealtimeStatus{
		RideID:      model.RideReference(resp.RideID),
		Status:      resp.Status,
		ETAMinutes:  resp.ETAMinutes,
		IsActive:    resp.IsActive,
		IsCompleted: resp.IsCompleted,
		LastUpdated: resp.LastUpdated.Time,
	}
	if st.RideID == "" {
		st.RideID = rideID
	}
	if resp.DriverLocation != nil {
		st.DriverLocation = &model.Location{Lat: resp.DriverLocation.Latitude, Lng: resp.DriverLocation.Longitude}
	}
	return st, nil
}

func (c *Client) CancelBooking(ctx context.Context, rideID model.RideReference, reason string) error {
	path := "/api/rides/" + url.PathEscape(rideID.String()) + "/cancel/"
	return c.do(ctx, http.MethodPost, path, dto.CancelBookingRequest{Reason: reason}, nil)
}

// do sends body as JSON and decodes the envelope's data into out. A
// success=false envelope or a non-2xx status becomes *myerrors.APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	log := c.mylog.Action("booking_api").With("method", method, "path", path)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	log.Debug("response received", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	var env dto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &myerrors.APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%w: %v", myerrors.ErrMalformedResponse, err)
	}

	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &myerrors.APIError{StatusCode: resp.StatusCode, Code: env.ErrorCode, Message: msg, Enveloped: true}
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: empty data", myerrors.ErrMalformedResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Join(myerrors.ErrMalformedResponse, err)
	}
	return nil
}

func toDto(l model.Location) dto.LocationDto {
	return dto.LocationDto{Latitude: l.Lat, Longitude: l.Lng}
}
