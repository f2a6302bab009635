package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"calendar-proxy/internal/identity"
	"calendar-proxy/internal/logger"
	"calendar-proxy/internal/refresher"
	"calendar-proxy/internal/schedule"
	"calendar-proxy/internal/session"
	"calendar-proxy/internal/vault"
)

// Operation names the proxied calls an agent may request.
type Operation string

const (
	OpCheckAvailability    Operation = "check_availability"
	OpCreateAppointment    Operation = "create_appointment"
	OpUpcomingAppointments Operation = "upcoming_appointments"
)

var (
	// ErrUnauthorized means the session token failed verification.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReauthorizationRequired means the custody-held credential is
	// gone or revoked; the doctor has to reconnect the calendar. This
	// is recoverable by re-authorizing, not by retrying.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrValidation means the request parameters were malformed.
	ErrValidation = errors.New("invalid parameters")

	// ErrUnknownOperation means the operation name is not proxied.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Status is the caller-facing connection summary. It carries no secret
// material.
type Status struct {
	Connected         bool   `json:"connected"`
	Email             string `json:"email,omitempty"`
	CalendarAccountID string `json:"calendar_account_id,omitempty"`
	CredentialState   string `json:"credential_state"`
}

// Dispatcher is the one component facing both trust domains: it verifies
// the agent's session token, resolves the identity's custody-held
// credential, and forwards the call upstream with that credential as a
// bearer. The credential never appears in anything returned from here.
type Dispatcher struct {
	issuer     *session.Issuer
	refresher  *refresher.Refresher
	identities identity.Store
	vault      *vault.Vault
	upstream   *schedule.Client
}

func New(
	issuer *session.Issuer,
	r *refresher.Refresher,
	identities identity.Store,
	v *vault.Vault,
	upstream *schedule.Client,
) *Dispatcher {
	return &Dispatcher{
		issuer:     issuer,
		refresher:  r,
		identities: identities,
		vault:      v,
		upstream:   upstream,
	}
}

// Dispatch runs the per-call state machine: verify the session, resolve
// a fresh credential, forward upstream, sanitize the outcome.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	token string,
	op Operation,
	params json.RawMessage,
) (any, error) {

	identityID, err := d.issuer.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	cred, err := d.refresher.EnsureFresh(ctx, identityID)
	if err != nil {
		return nil, d.credentialError(identityID, err)
	}

	result, err := d.forward(ctx, cred.AccessSecret, op, params)
	if err != nil {
		return nil, d.upstreamError(ctx, identityID, err)
	}
	return result, nil
}

func (d *Dispatcher) forward(
	ctx context.Context,
	accessSecret string,
	op Operation,
	params json.RawMessage,
) (any, error) {

	switch op {
	case OpCheckAvailability:
		var req schedule.AvailabilityRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.Date == "" {
			return nil, fmt.Errorf("%w: date is required", ErrValidation)
		}
		return d.upstream.CheckAvailability(ctx, accessSecret, req)

	case OpCreateAppointment:
		var req schedule.AppointmentRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.PatientName == "" || req.Date == "" || req.Time == "" {
			return nil, fmt.Errorf("%w: patient_name, date and time are required", ErrValidation)
		}
		return d.upstream.CreateAppointment(ctx, accessSecret, req)

	case OpUpcomingAppointments:
		var req struct {
			HoursAhead int `json:"hours_ahead"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return d.upstream.UpcomingAppointments(ctx, accessSecret, req.HoursAhead)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
}

// Status reports the connection state without calling upstream.
func (d *Dispatcher) Status(ctx context.Context, token string) (*Status, error) {
	identityID, err := d.issuer.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	ident, err := d.identities.GetByID(ctx, identityID)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: identity missing", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: loading identity: %w", err)
	}

	st := &Status{
		Connected:       ident.CredentialState == identity.StateValid,
		CredentialState: string(ident.CredentialState),
	}
	if st.Connected {
		st.Email = ident.Email
		st.CalendarAccountID = ident.CalendarAccountID
	}
	return st, nil
}

// Disconnect revokes the custody-held credential. The identity and its
// appointment history stay.
func (d *Dispatcher) Disconnect(ctx context.Context, token string) error {
	identityID, err := d.issuer.Verify(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if err := d.vault.MarkRevoked(ctx, identityID); err != nil {
		return fmt.Errorf("dispatch: disconnecting: %w", err)
	}
	logger.Info("calendar disconnected", map[string]any{
		"identity_id": identityID,
	})
	return nil
}

func (d *Dispatcher) credentialError(identityID string, err error) error {
	if errors.Is(err, vault.ErrCredentialRevoked) || errors.Is(err, vault.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
	}
	logger.Error("credential resolution failed", map[string]any{
		"identity_id": identityID,
		"error":       err.Error(),
	})
	return err
}

// upstreamError translates scheduling-service failures. An upstream
// credential rejection despite a fresh-looking credential means the
// grant died out-of-band, so the vault is marked revoked too.
func (d *Dispatcher) upstreamError(ctx context.Context, identityID string, err error) error {
	switch {
	case errors.Is(err, schedule.ErrUnauthorized):
		if revokeErr := d.vault.MarkRevoked(ctx, identityID); revokeErr != nil {
			logger.Error("failed to mark credential revoked", map[string]any{
				"identity_id": identityID,
				"error":       revokeErr.Error(),
			})
		}
		return fmt.Errorf("%w: upstream rejected credential", ErrReauthorizationRequired)
	case errors.Is(err, schedule.ErrRejected):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return err
	}
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
