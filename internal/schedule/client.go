package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUpstream is a transient scheduling-service failure (5xx or
	// network). Retry policy belongs to the caller: a booking call is
	// not idempotent, so nothing here retries.
	ErrUpstream = errors.New("scheduling service unavailable")

	// ErrRejected means the scheduling service refused the request
	// itself (4xx other than auth).
	ErrRejected = errors.New("scheduling service rejected request")

	// ErrUnauthorized means the bearer credential was not accepted.
	ErrUnauthorized = errors.New("scheduling service rejected credential")
)

const requestTimeout = 10 * time.Second

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Availability struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

type AvailabilityRequest struct {
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type AppointmentRequest struct {
	PatientName     string `json:"patient_name"`
	PatientPhone    string `json:"patient_phone,omitempty"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type Appointment struct {
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Summary string    `json:"summary"`
	Status  string    `json:"status"`
}

// Client talks to the external scheduling service with a bearer
// credential per call. Responses are decoded into the types above and
// nothing else, so upstream details never reach the agent.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) CheckAvailability(
	ctx context.Context,
	bearer string,
	req AvailabilityRequest,
) (*Availability, error) {
	var out Availability
	if err := c.do(ctx, bearer, http.MethodPost, "/v1/availability/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAppointment(
	ctx context.Context,
	bearer string,
	req AppointmentRequest,
) (*Appointment, error) {
	var out Appointment
	if err := c.do(ctx, bearer, http.MethodPost, "/v1/events", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpcomingAppointments(
	ctx context.Context,
	bearer string,
	hoursAhead int,
) ([]Appointment, error) {
	path := "/v1/events/upcoming"
	if hoursAhead > 0 {
		path += "?hours_ahead=" + strconv.Itoa(hoursAhead)
	}
	var out struct {
		Appointments []Appointment `json:"appointments"`
	}
	if err := c.do(ctx, bearer, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Appointments, nil
}

func (c *Client) do(
	ctx context.Context,
	bearer string,
	method string,
	path string,
	body any,
	out any,
) error {
	target := strings.TrimSuffix(c.baseURL, "/") + path

	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("schedule: encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, &payload)
	if err != nil {
		return fmt.Errorf("schedule: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	// Bodies of failed responses are dropped on purpose: the error
	// surface carries only the status class, never upstream details.
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	return nil
}
