package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type auditRepository struct{ s *Store }

func (r *auditRepository) Create(ctx context.Context, e *model.AuditEntry) error {
	return r.s.do("CreateAudit", func(d *state) error {
		d.rowSeq++
		e.ID = d.rowSeq
		if e.UTCTimestamp.IsZero() {
			e.UTCTimestamp = now()
		}
		d.audit = append(d.audit, *e)
		return nil
	})
}

func (r *auditRepository) List(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	err := r.s.do("ListAudit", func(d *state) error {
		for i := len(d.audit) - 1; i >= 0; i-- {
			e := d.audit[i]
			if (f.ActorID != "" && e.Actor.ID != f.ActorID) ||
				(f.ActorOrg != 0 && e.Actor.Org != f.ActorOrg) ||
				(f.TargetID != "" && e.TargetID != f.TargetID) ||
				(f.Action != "" && e.Action != f.Action) ||
				(f.From != nil && e.UTCTimestamp.Before(*f.From)) ||
				(f.To != nil && !e.UTCTimestamp.Before(*f.To)) {
				continue
			}
			out = append(out, &e)
		}
		page := f.Pagination.Normalize()
		start := page.Offset()
		if start >= len(out) {
			out = nil
			return nil
		}
		end := start + page.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
		return nil
	})
	return out, err
}

type changeLogRepository struct{ s *Store }

func (r *changeLogRepository) Append(ctx context.Context, e *model.ChangeLogEntry) error {
	return r.s.do("AppendChangeLog", func(d *state) error {
		version := 0
		for _, row := range d.changeLog {
			if row.ExternalID == e.ExternalID && row.Version > version {
				version = row.Version
			}
		}
		d.rowSeq++
		e.ID = d.rowSeq
		e.Version = version + 1
		if e.UTCTimestamp.IsZero() {
			e.UTCTimestamp = now()
		}
		d.changeLog = append(d.changeLog, *e)
		return nil
	})
}

func (r *changeLogRepository) List(ctx context.Context, externalID string) ([]*model.ChangeLogEntry, error) {
	var out []*model.ChangeLogEntry
	err := r.s.do("ListChangeLog", func(d *state) error {
		for _, row := range d.changeLog {
			if row.ExternalID == externalID {
				row := row
				out = append(out, &row)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
		return nil
	})
	return out, err
}

type callRepository struct{ s *Store }

func (r *callRepository) Create(ctx context.Context, c *model.CallRecord) error {
	return r.s.do("CreateCall", func(d *state) error {
		d.rowSeq++
		c.ID = d.rowSeq
		d.calls[c.ID] = *c
		return nil
	})
}

func (r *callRepository) Get(ctx context.Context, id int64) (*model.CallRecord, error) {
	var out *model.CallRecord
	err := r.s.do("GetCall", func(d *state) error {
		c, ok := d.calls[id]
		if !ok {
			return errors.NotFound("call record", nil)
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *callRepository) Update(ctx context.Context, c *model.CallRecord) error {
	return r.s.do("UpdateCall", func(d *state) error {
		cur, ok := d.calls[c.ID]
		if !ok {
			return errors.NotFound("call record", nil)
		}
		cur.EndTimestamp, cur.Duration, cur.Status, cur.Notes = c.EndTimestamp, c.Duration, c.Status, c.Notes
		d.calls[c.ID] = cur
		return nil
	})
}

func (r *callRepository) ListByPatient(ctx context.Context, patientInternalID int64) ([]*model.CallRecord, error) {
	var out []*model.CallRecord
	err := r.s.do("ListCalls", func(d *state) error {
		for _, c := range d.calls {
			if c.PatientInternalID == patientInternalID && c.Status != model.CallDeleted {
				c := c
				out = append(out, &c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartTimestamp.After(out[j].StartTimestamp) })
		return nil
	})
	return out, err
}

type chatRepository struct{ s *Store }

func (r *chatRepository) GetChannel(ctx context.Context, id int64) (*model.ChatChannel, error) {
	var out *model.ChatChannel
	err := r.s.do("GetChannel", func(d *state) error {
		ch, ok := d.channels[id]
		if !ok {
			return errors.NotFound("chat channel", nil)
		}
		out = &ch
		return nil
	})
	return out, err
}

func (r *chatRepository) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	return r.s.do("CreateMessage", func(d *state) error {
		d.rowSeq++
		m.ID = d.rowSeq
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now()
		}
		d.messages = append(d.messages, *m)
		return nil
	})
}

func (r *chatRepository) ListMessages(ctx context.Context, channelID int64, page model.Pagination) ([]*model.ChatMessage, error) {
	var out []*model.ChatMessage
	err := r.s.do("ListMessages", func(d *state) error {
		for _, m := range d.messages {
			if m.ChannelID == channelID {
				m := m
				out = append(out, &m)
			}
		}
		page = page.Normalize()
		start := page.Offset()
		if start >= len(out) {
			out = nil
			return nil
		}
		end := start + page.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
		return nil
	})
	return out, err
}

type clinicalRepository struct{ s *Store }

func (r *clinicalRepository) LabData(ctx context.Context, patientInternalID int64) ([]*model.LabResult, error) {
	var out []*model.LabResult
	err := r.s.do("LabData", func(d *state) error {
		for _, l := range d.labs {
			if l.PatientInternalID == patientInternalID {
				l := l
				out = append(out, &l)
			}
		}
		return nil
	})
	return out, err
}

func (r *clinicalRepository) Symptoms(ctx context.Context, patientInternalID int64) ([]*model.SymptomSurvey, error) {
	var out []*model.SymptomSurvey
	err := r.s.do("Symptoms", func(d *state) error {
		for _, s := range d.symptoms {
			if s.PatientInternalID == patientInternalID {
				s := s
				out = append(out, &s)
			}
		}
		return nil
	})
	return out, err
}

func (r *clinicalRepository) AddDiagnoses(ctx context.Context, diagnoses []*model.Diagnosis) error {
	return r.s.do("AddDiagnoses", func(d *state) error {
		for _, dx := range diagnoses {
			dx.CreatedAt = now()
			replaced := false
			for i, cur := range d.diagnoses {
				if cur.PatientInternalID == dx.PatientInternalID && cur.ICD10Code == dx.ICD10Code {
					dx.ID = cur.ID
					d.diagnoses[i].Description = dx.Description
					replaced = true
					break
				}
			}
			if !replaced {
				d.rowSeq++
				dx.ID = d.rowSeq
				d.diagnoses = append(d.diagnoses, *dx)
			}
		}
		return nil
	})
}

func (r *clinicalRepository) Diagnoses(ctx context.Context, patientInternalID int64) ([]*model.Diagnosis, error) {
	var out []*model.Diagnosis
	err := r.s.do("Diagnoses", func(d *state) error {
		for _, dx := range d.diagnoses {
			if dx.PatientInternalID == patientInternalID {
				dx := dx
				out = append(out, &dx)
			}
		}
		return nil
	})
	return out, err
}

func (r *clinicalRepository) BillingLog(ctx context.Context, f model.BillingFilter) ([]*model.BillingEntry, error) {
	var out []*model.BillingEntry
	err := r.s.do("BillingLog", func(d *state) error {
		allowed := map[int64]bool{}
		for _, id := range f.PatientIDs {
			allowed[id] = true
		}
		for _, b := range d.billing {
			if b.Status != model.BillingApproved || b.OrgID != f.OrgID {
				continue
			}
			if f.PatientIDs != nil && !allowed[b.PatientInternalID] {
				continue
			}
			if (f.From != nil && b.ServiceDate.Before(*f.From)) || (f.To != nil && !b.ServiceDate.Before(*f.To)) {
				continue
			}
			b := b
			out = append(out, &b)
		}
		return nil
	})
	return out, err
}

type outboxRepository struct{ s *Store }

func (r *outboxRepository) Create(ctx context.Context, e *model.OutboxEvent) error {
	return r.s.do("CreateOutbox", func(d *state) error {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Status = string(model.OutboxStatusPending)
		e.CreatedAt = now()
		e.UpdatedAt = e.CreatedAt
		d.outbox = append(d.outbox, *e)
		return nil
	})
}

func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var out []*model.OutboxEvent
	err := r.s.do("GetPendingEvents", func(d *state) error {
		for _, e := range d.outbox {
			if e.Status == string(model.OutboxStatusPending) && len(out) < limit {
				e := e
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	return r.s.do("UpdateOutboxStatus", func(d *state) error {
		for i := range d.outbox {
			if d.outbox[i].ID != id {
				continue
			}
			e := &d.outbox[i]
			e.Status = string(status)
			e.ErrorMessage = errMsg
			e.UpdatedAt = now()
			switch status {
			case model.OutboxStatusFailed:
				e.RetryCount++
			case model.OutboxStatusProcessed:
				t := e.UpdatedAt
				e.ProcessedAt = &t
			}
			return nil
		}
		return nil
	})
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.s.do("DeleteProcessedBefore", func(d *state) error {
		kept := d.outbox[:0]
		for _, e := range d.outbox {
			if e.Status == string(model.OutboxStatusProcessed) && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		d.outbox = kept
		return nil
	})
	return n, err
}
