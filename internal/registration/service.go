package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/dronefleet-core/internal/credential"
	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
)

// NotificationChannel is the notifier channel registration events go to.
const NotificationChannel = "registrations"

// statusPathFormat is appended to the service base URL for status checks.
const statusPathFormat = "/api/v1/drones/registration/%s/status"

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notifier broadcasts events to interested clients.
type Notifier interface {
	Broadcast(channel string, payload any)
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// CredentialIssuer produces broker credentials for a drone ID.
type CredentialIssuer interface {
	Issue(deviceID string) (credential.Credentials, error)
}

// Options configure the Service.
type Options struct {
	// TopicNamespace is the first segment of every drone topic.
	TopicNamespace string

	// BrokerURL is the broker address handed to drones.
	BrokerURL string

	// BaseURL prefixes the status check URL returned by Submit.
	BaseURL string

	// RotateSecretOnStatus issues a fresh secret on every status poll of an
	// approved request. When false credentials are handed out once.
	RotateSecretOnStatus bool

	DefaultPageSize int
	MaxPageSize     int
}

// Service runs the registration workflow.
//
// Thread Safety: all methods are safe for concurrent use; consistency under
// concurrent approvals comes from the conditional updates in the Repository.
type Service struct {
	requests Repository
	drones   device.Repository
	tx       TxRunner
	issuer   CredentialIssuer
	notifier Notifier
	topics   mqtt.Topics
	opts     Options
	logger   Logger
	now      func() time.Time
}

// NewService creates the registration workflow. notifier may be nil.
func NewService(requests Repository, drones device.Repository, tx TxRunner, issuer CredentialIssuer, notifier Notifier, opts Options) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	return &Service{
		requests: requests,
		drones:   drones,
		tx:       tx,
		issuer:   issuer,
		notifier: notifier,
		topics:   mqtt.Topics{Namespace: opts.TopicNamespace},
		opts:     opts,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Submit records a new PENDING request.
//
// Returns:
//   - ErrInvalidInput if the submission fails validation
//   - ErrDuplicateSerial if the serial is pending, approved or already a drone
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	sub.SerialNumber = strings.TrimSpace(sub.SerialNumber)
	sub.Model = strings.TrimSpace(sub.Model)
	if err := ValidateSubmission(sub); err != nil {
		return nil, err
	}

	active, err := s.requests.ExistsActiveBySerial(ctx, sub.SerialNumber)
	if err != nil {
		return nil, err
	}
	isDrone, err := s.drones.ExistsBySerialNumber(ctx, sub.SerialNumber)
	if err != nil {
		return nil, err
	}
	if active || isDrone {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSerial, sub.SerialNumber)
	}

	req := &Request{
		ID:           uuid.NewString(),
		SerialNumber: sub.SerialNumber,
		Model:        sub.Model,
		Notes:        sub.Notes,
		Status:       StatusPending,
		RequestedAt:  s.now(),
	}
	// The partial unique index catches a concurrent submit that passed the
	// checks above.
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("registration submitted", "request_id", req.ID, "serial_number", req.SerialNumber, "model", req.Model)
	s.notify(NotificationNew, req)

	return &SubmitResult{
		RequestID:      req.ID,
		Message:        "Your registration request has been received and is pending approval. Please check the status periodically.",
		StatusCheckURL: strings.TrimRight(s.opts.BaseURL, "/") + fmt.Sprintf(statusPathFormat, req.ID),
	}, nil
}

// GetStatus returns the current view of a request. For an approved request
// the view carries credentials with a freshly generated secret whose hash
// replaces the stored one, so the previous secret stops working. With
// RotateSecretOnStatus disabled only the first poll after approval gets
// credentials.
func (s *Service) GetStatus(ctx context.Context, requestID string) (*StatusView, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	view := viewOf(req)
	if req.Status != StatusApproved {
		return &view, nil
	}

	drone, err := s.drones.GetByRegistrationRequestID(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("loading drone for approved request %s: %w", req.ID, err)
	}

	creds, err := s.issuer.Issue(drone.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing credentials: %w", err)
	}

	issuedAt := s.now()
	if s.opts.RotateSecretOnStatus {
		if err := s.drones.ReplaceSecretHash(ctx, drone.ID, creds.SecretHash, issuedAt); err != nil {
			return nil, err
		}
	} else {
		won, err := s.drones.ClaimFirstIssue(ctx, drone.ID, creds.SecretHash, issuedAt)
		if err != nil {
			return nil, err
		}
		if !won {
			view.Message += " Credentials have already been issued."
			return &view, nil
		}
	}

	s.logger.Info("credentials issued", "request_id", req.ID, "drone_id", drone.ID, "username", drone.MQTTUsername)

	view.Credentials = &Credentials{
		BrokerURL:      drone.MQTTBrokerURL,
		Username:       drone.MQTTUsername,
		Password:       creds.Secret,
		TelemetryTopic: drone.TelemetryTopic,
		CommandTopic:   drone.CommandTopic,
	}
	return &view, nil
}

// ListRequests returns one page of requests, newest first. An empty status
// lists all requests. page is zero-based; size is clamped to the configured
// maximum and defaults when not positive.
func (s *Service) ListRequests(ctx context.Context, status Status, page, size int) (*Page[StatusView], error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = s.opts.DefaultPageSize
	}
	if size > s.opts.MaxPageSize {
		size = s.opts.MaxPageSize
	}

	requests, total, err := s.requests.List(ctx, status, size, page*size)
	if err != nil {
		return nil, err
	}

	items := make([]StatusView, 0, len(requests))
	for i := range requests {
		items = append(items, viewOf(&requests[i]))
	}

	return &Page[StatusView]{
		Items:      items,
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// ProcessAdminAction approves or rejects a PENDING request.
//
// Returns:
//   - ErrInvalidInput for an unknown action
//   - ErrNotFound if the request does not exist
//   - ErrInvalidState if the request is no longer PENDING
func (s *Service) ProcessAdminAction(ctx context.Context, action AdminAction) (*ActionResult, error) {
	if err := validateAction(action); err != nil {
		return nil, err
	}

	req, err := s.requests.GetByID(ctx, action.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, req.ID, req.Status)
	}

	result := &ActionResult{RequestID: req.ID, Action: action.Action}
	processedAt := s.now()

	switch action.Action {
	case ActionApprove:
		droneID, err := s.approve(ctx, req, processedAt)
		if err != nil {
			return nil, err
		}
		result.DroneID = droneID
		result.Message = "Registration request approved successfully. Drone ID: " + droneID
	case ActionReject:
		if err := s.requests.Reject(ctx, req.ID, action.RejectionReason, processedAt); err != nil {
			return nil, err
		}
		result.Message = "Registration request rejected."
	}

	updated, err := s.requests.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("registration processed", "request_id", req.ID, "action", string(action.Action), "drone_id", result.DroneID)
	s.notify(NotificationUpdate, updated)

	return result, nil
}

// approve creates the drone and marks the request APPROVED in one transaction.
func (s *Service) approve(ctx context.Context, req *Request, processedAt time.Time) (string, error) {
	droneID := uuid.NewString()

	// The secret is discarded; the drone receives one on its next status poll.
	creds, err := s.issuer.Issue(droneID)
	if err != nil {
		return "", fmt.Errorf("issuing credentials: %w", err)
	}

	drone := &device.Drone{
		ID:                    droneID,
		SerialNumber:          req.SerialNumber,
		Model:                 req.Model,
		RegistrationRequestID: req.ID,
		MQTTBrokerURL:         s.opts.BrokerURL,
		MQTTUsername:          creds.Username,
		MQTTSecretHash:        creds.SecretHash,
		TelemetryTopic:        s.topics.Telemetry(droneID),
		CommandTopic:          s.topics.Commands(droneID),
		CurrentStatus:         device.StatusOffline,
		ApprovedAt:            processedAt,
	}

	err = s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.requests.ApproveTx(ctx, tx, req.ID, droneID, processedAt); err != nil {
			return err
		}
		return s.drones.CreateTx(ctx, tx, drone)
	})
	if errors.Is(err, device.ErrDroneExists) {
		return "", fmt.Errorf("%w: %w", ErrDuplicateSerial, err)
	}
	if err != nil {
		return "", err
	}
	return droneID, nil
}

func (s *Service) notify(kind NotificationType, req *Request) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(NotificationChannel, Notification{
		Type:         kind,
		RequestID:    req.ID,
		SerialNumber: req.SerialNumber,
		Model:        req.Model,
		Status:       req.Status,
		RequestedAt:  req.RequestedAt,
		ProcessedAt:  req.ProcessedAt,
	})
}

func viewOf(req *Request) StatusView {
	return StatusView{
		RequestID:    req.ID,
		SerialNumber: req.SerialNumber,
		Model:        req.Model,
		Status:       req.Status,
		RequestedAt:  req.RequestedAt,
		ProcessedAt:  req.ProcessedAt,
		DroneID:      req.DroneID,
		AdminNotes:   req.AdminNotes,
		Message:      statusMessage(req),
	}
}

func statusMessage(req *Request) string {
	switch req.Status {
	case StatusPending:
		return "Your registration request is pending approval from an administrator."
	case StatusApproved:
		return "Your registration request has been approved. Your drone ID is " + req.DroneID + "."
	case StatusRejected:
		return "Your registration request has been rejected."
	default:
		return "Current status: " + string(req.Status)
	}
}
