package tenancy

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/repositories/office"
	"github.com/Ramsey-B/clover/internal/repositories/staff"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Coordinator applies the cascading side effects of an approved office
// withdrawal. Hard deletion after the grace period belongs to a
// separate sweep process, never to this component.
type Coordinator struct {
	offices     *office.Repository
	staff       *staff.Repository
	audit       *audit.Writer
	gracePeriod time.Duration
	logger      ectologger.Logger
}

// NewCoordinator creates a withdrawal coordinator. gracePeriod is the
// window between soft deletion and eligibility for hard deletion.
func NewCoordinator(offices *office.Repository, staffRepo *staff.Repository, auditWriter *audit.Writer, gracePeriod time.Duration, logger ectologger.Logger) *Coordinator {
	return &Coordinator{
		offices:     offices,
		staff:       staffRepo,
		audit:       auditWriter,
		gracePeriod: gracePeriod,
		logger:      logger,
	}
}

// WithdrawTx withdraws an office on the caller's transaction: the
// office is soft deleted with purge_after set, every staff member under
// it is soft deleted, and one summary audit entry records the cascade.
func (c *Coordinator) WithdrawTx(ctx context.Context, tx database.Tx, actor models.Actor, officeID uuid.UUID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "tenancy.Coordinator.WithdrawTx")
	defer span.End()

	now := time.Now().UTC()
	purgeAfter := now.Add(c.gracePeriod)

	if err := c.offices.SoftDeleteTx(ctx, tx, officeID, now, purgeAfter); err != nil {
		return err
	}

	staffCount, err := c.staff.SoftDeleteByOfficeTx(ctx, tx, officeID, now)
	if err != nil {
		return err
	}

	metrics.OfficesWithdrawn.Inc()
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"office_id":   officeID,
		"staff_count": staffCount,
		"purge_after": purgeAfter,
	}).Info("Office withdrawn")

	return c.audit.RecordTx(ctx, tx, audit.Event{
		Actor:      actor,
		Action:     models.AuditActionOfficeWithdrawn,
		TargetType: "office",
		TargetID:   officeID,
		OfficeID:   officeID,
		Details: map[string]any{
			"staff_deleted": staffCount,
			"purge_after":   purgeAfter,
			"reason":        reason,
		},
	})
}
