package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jwalitptl/caregem-api/internal/email"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type DeviceLookup interface {
	Lookup(ctx context.Context, imei string) (*model.Pairing, error)
	CarersToNotify(ctx context.Context, imei string) ([]*model.NotifyTarget, error)
}

type Directory interface {
	PHIMany(ctx context.Context, externalIDs []string) (map[string]*model.PHI, error)
}

type ReadingsConfig struct {
	Attempts   int
	RetryDelay time.Duration
}

// ReadingsConsumer fans device readings out to the alert receivers of the
// paired patient.
type ReadingsConsumer struct {
	reader    MessageReader
	devices   DeviceLookup
	directory Directory
	events    event.Emitter
	mailer    email.Service
	config    ReadingsConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewReadingsConsumer(
	reader MessageReader,
	devices DeviceLookup,
	directory Directory,
	events event.Emitter,
	mailer email.Service,
	config ReadingsConfig,
	metrics *metrics.Metrics,
	logger *logger.Logger,
) *ReadingsConsumer {
	if config.Attempts <= 0 {
		config.Attempts = 3
	}
	if mailer == nil {
		mailer = email.NewNopService()
	}
	return &ReadingsConsumer{
		reader:    reader,
		devices:   devices,
		directory: directory,
		events:    events,
		mailer:    mailer,
		config:    config,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run consumes until ctx is done. Every message is committed once handled;
// a reading that still fails after the retries is counted and skipped.
func (c *ReadingsConsumer) Run(ctx context.Context) error {
	c.logger.Info("starting readings consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch reading: %w", err)
		}

		outcome, err := c.handleWithRetry(ctx, msg)
		if err != nil {
			c.logger.Error(err, "reading dropped", "partition", msg.Partition, "offset", msg.Offset)
		}
		c.metrics.ReadingsConsumed.WithLabelValues(outcome).Inc()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit reading: %w", err)
		}
	}
}

func (c *ReadingsConsumer) handleWithRetry(ctx context.Context, msg kafka.Message) (string, error) {
	var (
		outcome string
		err     error
	)
	for i := 0; i < c.config.Attempts; i++ {
		outcome, err = c.Handle(ctx, msg.Value)
		if err == nil || errors.CodeOf(err) != errors.ErrTransient {
			break
		}
		select {
		case <-ctx.Done():
			return "failed", ctx.Err()
		case <-time.After(c.config.RetryDelay * time.Duration(i+1)):
		}
	}
	if err != nil {
		return "failed", err
	}
	return outcome, nil
}

// Handle processes one encoded reading and names the outcome.
func (c *ReadingsConsumer) Handle(ctx context.Context, value []byte) (string, error) {
	var reading model.Reading
	if err := json.Unmarshal(value, &reading); err != nil || reading.IMEI == "" {
		c.logger.Warn("malformed reading skipped")
		return "invalid", nil
	}

	pairing, err := c.devices.Lookup(ctx, reading.IMEI)
	if errors.CodeOf(err) == errors.ErrNotFound {
		c.logger.Debug("reading from unpaired device", "imei", reading.IMEI)
		return "unpaired", nil
	}
	if err != nil {
		return "", err
	}

	targets, err := c.devices.CarersToNotify(ctx, reading.IMEI)
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		return "no_receivers", nil
	}

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ExternalID)
	}
	recipients := c.emails(ctx, ids)

	alert := model.ReadingAlert{
		Reading:           reading,
		PatientInternalID: pairing.PatientInternalID,
		Recipients:        ids,
	}
	if err := c.events.Emit(ctx, model.EventReadingAlert, alert); err != nil {
		return "", err
	}

	c.notify(ctx, reading, recipients)
	return "alerted", nil
}

// emails hydrates recipient addresses. The alert event is written even when
// the PHI store is unavailable.
func (c *ReadingsConsumer) emails(ctx context.Context, externalIDs []string) []string {
	records, err := c.directory.PHIMany(ctx, externalIDs)
	if err != nil {
		c.logger.Warn("could not load alert recipients", "error", err.Error())
		return nil
	}
	var out []string
	for _, id := range externalIDs {
		if phi, ok := records[id]; ok && phi.Email != "" {
			out = append(out, phi.Email)
		}
	}
	return out
}

func (c *ReadingsConsumer) notify(ctx context.Context, reading model.Reading, recipients []string) {
	if len(recipients) == 0 {
		return
	}
	subject := fmt.Sprintf("CareGem alert: %s reading", strings.ReplaceAll(reading.ReadingType, "_", " "))
	body := fmt.Sprintf("A %s reading of %g was recorded at %s.\nSign in to CareGem to review it.",
		reading.ReadingType, reading.Value, reading.ObservedAt.UTC().Format(time.RFC3339))

	if err := c.mailer.SendCustom(ctx, recipients, subject, body); err != nil {
		c.metrics.AlertsSent.WithLabelValues("email", "error").Inc()
		c.logger.Error(err, "alert email failed", "recipients", len(recipients))
		return
	}
	c.metrics.AlertsSent.WithLabelValues("email", "success").Inc()
}
