package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"catalog-import-service/internal/models"
)

// Subjects for import lifecycle events
const (
	SubjectImportStarted   = "import.started"
	SubjectImportValidated = "import.validated"
	SubjectImportCompleted = "import.completed"
	SubjectImportFailed    = "import.failed"
	SubjectImportCancelled = "import.cancelled"
)

// ImportEvent is the audit-trail payload published on job lifecycle changes
type ImportEvent struct {
	EventID    string            `json:"eventId"`
	EventType  string            `json:"eventType"`
	JobID      string            `json:"jobId"`
	TenantID   string            `json:"tenantId"`
	Filename   string            `json:"filename"`
	Mode       models.ImportMode `json:"mode"`
	Status     models.JobStatus  `json:"status"`
	Summary    *models.JSON      `json:"summary,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Publisher pushes import lifecycle events to NATS for the audit trail
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS. NATS_URL must be set by the caller's
// environment; a connection failure is returned so the service can choose
// to continue without event publishing.
func NewPublisher(logger *logrus.Logger) (*Publisher, error) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("catalog-import-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{
		conn:   conn,
		logger: logger.WithField("component", "import-events"),
	}, nil
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// PublishJobLifecycle publishes the event matching the job's current status
func (p *Publisher) PublishJobLifecycle(ctx context.Context, job *models.ImportJob) {
	var subject string
	switch job.Status {
	case models.JobStatusPending, models.JobStatusValidating:
		subject = SubjectImportStarted
	case models.JobStatusValidated:
		subject = SubjectImportValidated
	case models.JobStatusCompleted:
		subject = SubjectImportCompleted
	case models.JobStatusFailed:
		subject = SubjectImportFailed
	case models.JobStatusCancelled:
		subject = SubjectImportCancelled
	default:
		return
	}

	event := ImportEvent{
		EventID:    uuid.New().String(),
		EventType:  subject,
		JobID:      job.ID.String(),
		TenantID:   job.TenantID,
		Filename:   job.Filename,
		Mode:       job.Mode,
		Status:     job.Status,
		Summary:    job.Summary,
		OccurredAt: time.Now(),
	}

	// Publish asynchronously to not block the pipeline
	go func() {
		data, err := json.Marshal(event)
		if err != nil {
			p.logger.WithError(err).Error("Failed to marshal import event")
			return
		}
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.WithFields(logrus.Fields{
				"eventType": subject,
				"jobId":     event.JobID,
				"tenantId":  event.TenantID,
			}).WithError(err).Error("Failed to publish import event")
			return
		}
		p.logger.WithFields(logrus.Fields{
			"eventType": subject,
			"jobId":     event.JobID,
			"tenantId":  event.TenantID,
		}).Info("Import event published")
	}()
}
