// Package notify fans user-facing notifications out to the messaging
// backbone. Delivery itself (mail, SMS, push) is owned by downstream
// consumers of the topics; this module only guarantees the event gets onto
// the broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	appointmentservice "docflow/internal/appointment/service"
	"docflow/pkg/requestcontext"
)

// Publisher is the broker surface the dispatcher writes to.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Topics consumed by the delivery workers.
const (
	TopicEmail        = "docflow.notifications.email"
	TopicAppointments = "docflow.notifications.appointments"
)

// Dispatcher turns domain events into broker messages.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewDispatcher(publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, logger: logger}
}

type emailMessage struct {
	To        string    `json:"to"`
	Template  string    `json:"template"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SendVerificationEmail queues the verification code for delivery.
func (d *Dispatcher) SendVerificationEmail(ctx context.Context, email, code string) error {
	payload, err := json.Marshal(emailMessage{
		To:        email,
		Template:  "verification_code",
		Code:      code,
		CreatedAt: requestcontext.Now(ctx),
	})
	if err != nil {
		return fmt.Errorf("marshal email message: %w", err)
	}
	if err := d.publisher.Publish(ctx, TopicEmail, email, payload); err != nil {
		return fmt.Errorf("publish email message: %w", err)
	}
	d.logger.DebugContext(ctx, "verification email queued")
	return nil
}

type appointmentMessage struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	ClinicName    string    `json:"clinic_name,omitempty"`
	Event         string    `json:"event"`
	StartsAt      time.Time `json:"starts_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// AppointmentConfirmed queues the confirmation event. The payload carries
// operational metadata only, never patient identity or clinical content.
func (d *Dispatcher) AppointmentConfirmed(ctx context.Context, notice appointmentservice.ConfirmationNotice) error {
	payload, err := json.Marshal(appointmentMessage{
		AppointmentID: notice.AppointmentID.String(),
		TenantID:      notice.TenantID.String(),
		ClinicName:    notice.ClinicName,
		Event:         "confirmed",
		StartsAt:      notice.StartsAt,
		CreatedAt:     requestcontext.Now(ctx),
	})
	if err != nil {
		return fmt.Errorf("marshal appointment message: %w", err)
	}
	if err := d.publisher.Publish(ctx, TopicAppointments, notice.AppointmentID.String(), payload); err != nil {
		return fmt.Errorf("publish appointment message: %w", err)
	}
	d.logger.DebugContext(ctx, "appointment confirmation queued",
		"appointment_id", notice.AppointmentID.String())
	return nil
}
