package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	"github.com/broadbandx/billing/internal/clock"
	"github.com/broadbandx/billing/internal/config"
	invoicedomain "github.com/broadbandx/billing/internal/invoice/domain"
	"github.com/broadbandx/billing/internal/invoice/format"
	journaldomain "github.com/broadbandx/billing/internal/journal/domain"
	obsmetrics "github.com/broadbandx/billing/internal/observability/metrics"
	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	"github.com/broadbandx/billing/internal/proration"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const day = 24 * time.Hour

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
	policy  *config.BillingPolicyHolder

	planSvc   plandomain.Service
	changeSvc planchangedomain.Service
	adjSvc    adjustmentdomain.Service
	journal   journaldomain.Service
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
	Policy  *config.BillingPolicyHolder

	PlanSvc   plandomain.Service
	ChangeSvc planchangedomain.Service
	AdjSvc    adjustmentdomain.Service
	Journal   journaldomain.Service
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("invoice.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
		policy:  p.Policy,

		planSvc:   p.PlanSvc,
		changeSvc: p.ChangeSvc,
		adjSvc:    p.AdjSvc,
		journal:   p.Journal,
	}
}

func (s *Service) Assemble(ctx context.Context, req invoicedomain.AssembleRequest) (*invoicedomain.Invoice, error) {
	start := req.PeriodStart.UTC()
	end := req.PeriodEnd.UTC()
	totalDays := wholeDays(start, end)
	if totalDays <= 0 {
		return nil, invoicedomain.ErrEmptyPeriod
	}

	segments, err := s.changeSvc.FindInPeriod(ctx, req.SubscriptionID, start, end)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, invoicedomain.ErrNoPlanCoverage
	}

	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		invoice = &invoicedomain.Invoice{
			ID:             s.genID.Generate(),
			SubscriptionID: req.SubscriptionID,
			CustomerID:     req.CustomerID,
			PeriodStart:    start,
			PeriodEnd:      end,
			Status:         invoicedomain.InvoiceStatusDraft,
			Metadata:       datatypes.JSONMap{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		var lines []invoicedomain.LineItem
		for _, segment := range segments {
			segStart := segment.EffectiveFrom
			if segStart.Before(start) {
				segStart = start
			}
			segEnd := end
			if segment.EffectiveTo != nil && segment.EffectiveTo.Before(end) {
				segEnd = *segment.EffectiveTo
			}
			days := wholeDays(segStart, segEnd)
			if days <= 0 {
				continue
			}

			plan, err := s.planSvc.GetByID(ctx, segment.NewPlanID.String())
			if err != nil {
				return err
			}
			charge, err := proration.SegmentCharge(plan.MonthlyPriceCents, days, totalDays)
			if err != nil {
				return err
			}
			lines = append(lines, invoicedomain.LineItem{
				ID:             s.genID.Generate(),
				InvoiceID:      invoice.ID,
				Type:           invoicedomain.LineTypeSubscription,
				Description:    fmt.Sprintf("%s (%s to %s)", plan.Name, segStart.Format("2006-01-02"), segEnd.Format("2006-01-02")),
				Quantity:       1,
				UnitPriceCents: charge,
				TotalCents:     charge,
				Taxable:        true,
				PeriodStart:    &segStart,
				PeriodEnd:      &segEnd,
				CreatedAt:      now,
			})
		}
		if len(lines) == 0 {
			return invoicedomain.ErrNoPlanCoverage
		}

		pending, err := s.adjSvc.ListPending(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		for i := range pending {
			adjustment := pending[i]
			lines = append(lines, invoicedomain.LineItem{
				ID:             s.genID.Generate(),
				InvoiceID:      invoice.ID,
				Type:           invoicedomain.LineTypeAdjustment,
				Description:    adjustment.Reason,
				Quantity:       1,
				UnitPriceCents: adjustment.AmountCents,
				TotalCents:     adjustment.AmountCents,
				AdjustmentID:   &adjustment.ID,
				CreatedAt:      now,
			})
			if err := s.adjSvc.ApplyToInvoice(ctx, tx, adjustment.ID, invoice.ID); err != nil {
				return err
			}
		}

		for i := range lines {
			lines[i].LineNumber = i + 1
		}
		invoice.SubtotalCents, invoice.TaxCents, invoice.TotalCents = s.totals(lines)

		if err := tx.WithContext(ctx).Create(invoice).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Create(&lines).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice assembled",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.Int64("total_cents", invoice.TotalCents),
	)
	return invoice, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, []invoicedomain.LineItem, error) {
	return s.getByID(ctx, s.db, id)
}

func (s *Service) AddLineItem(ctx context.Context, invoiceID snowflake.ID, line invoicedomain.LineItem) (*invoicedomain.Invoice, error) {
	var invoice *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, lines, err := s.getByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if loaded.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrImmutable
		}

		now := s.clock.Now()
		line.ID = s.genID.Generate()
		line.InvoiceID = invoiceID
		line.LineNumber = len(lines) + 1
		line.CreatedAt = now
		if line.Quantity == 0 {
			line.Quantity = 1
		}
		if line.TotalCents == 0 {
			line.TotalCents = line.UnitPriceCents * line.Quantity
		}
		if err := tx.WithContext(ctx).Create(&line).Error; err != nil {
			return err
		}

		subtotal, tax, total := s.totals(append(lines, line))
		result := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status = ?", invoiceID, invoicedomain.InvoiceStatusDraft).
			Updates(map[string]any{
				"subtotal_cents": subtotal,
				"tax_cents":      tax,
				"total_cents":    total,
				"updated_at":     now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return invoicedomain.ErrImmutable
		}
		loaded.SubtotalCents, loaded.TaxCents, loaded.TotalCents = subtotal, tax, total
		invoice = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) Finalize(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, _, err := s.getByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if loaded.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrNotDraft
		}

		now := s.clock.Now()
		seq, err := s.nextSequence(ctx, tx, now.Year())
		if err != nil {
			return err
		}
		number, err := format.Number(format.DefaultNumberTemplate, now, seq)
		if err != nil {
			return err
		}

		dueAt := now.Add(time.Duration(s.policy.Get().InvoiceDueDays) * day)
		result := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status = ?", id, invoicedomain.InvoiceStatusDraft).
			Updates(map[string]any{
				"status":     invoicedomain.InvoiceStatusFinal,
				"number":     number,
				"issued_at":  now,
				"due_at":     dueAt,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return invoicedomain.ErrNotDraft
		}

		// A zero invoice moves no money and would post an empty entry.
		if loaded.SubtotalCents != 0 || loaded.TaxCents != 0 {
			_, err = s.journal.Post(ctx, tx, journaldomain.BillingEntry(
				loaded.CustomerID, loaded.ID, loaded.SubtotalCents, loaded.TaxCents, now,
			))
			if err != nil {
				return err
			}
		}

		loaded.Status = invoicedomain.InvoiceStatusFinal
		loaded.Number = &number
		loaded.IssuedAt = &now
		loaded.DueAt = &dueAt
		invoice = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceFinalized()
	s.log.Info("invoice finalized",
		zap.String("invoice_id", id.String()),
		zap.Stringp("number", invoice.Number),
	)
	return invoice, nil
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, paymentReference string) (*invoicedomain.Invoice, error) {
	reference := strings.TrimSpace(paymentReference)
	var invoice *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, _, err := s.getByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if loaded.Status != invoicedomain.InvoiceStatusFinal {
			return invoicedomain.ErrNotFinal
		}

		now := s.clock.Now()
		result := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status = ?", id, invoicedomain.InvoiceStatusFinal).
			Updates(map[string]any{
				"status":            invoicedomain.InvoiceStatusPaid,
				"paid_at":           now,
				"payment_reference": reference,
				"updated_at":        now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return invoicedomain.ErrNotFinal
		}

		if loaded.TotalCents != 0 {
			_, err = s.journal.Post(ctx, tx, journaldomain.PaymentEntry(
				loaded.CustomerID, loaded.ID, loaded.TotalCents, now,
			))
			if err != nil {
				return err
			}
		}

		loaded.Status = invoicedomain.InvoiceStatusPaid
		loaded.PaidAt = &now
		loaded.PaymentReference = &reference
		invoice = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice paid",
		zap.String("invoice_id", id.String()),
		zap.String("payment_reference", reference),
	)
	return invoice, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, _, err := s.getByID(ctx, tx, id)
		if err != nil {
			return err
		}
		switch loaded.Status {
		case invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusFinal:
		default:
			return invoicedomain.ErrImmutable
		}

		result := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status = ?", id, loaded.Status).
			Updates(map[string]any{
				"status":     invoicedomain.InvoiceStatusCancelled,
				"updated_at": s.clock.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return invoicedomain.ErrImmutable
		}

		// A finalized invoice already hit the books: net it out with a
		// reversal instead of touching the posted entry.
		if loaded.Status == invoicedomain.InvoiceStatusFinal {
			entry, err := s.journal.FindBySource(ctx, journaldomain.SourceTypeInvoice, id)
			if err != nil {
				return err
			}
			if entry != nil {
				if _, err := s.journal.Reverse(ctx, tx, entry.ID, reason); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Service) getByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, []invoicedomain.LineItem, error) {
	var invoice invoicedomain.Invoice
	err := db.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, invoicedomain.ErrNotFound
		}
		return nil, nil, err
	}

	var lines []invoicedomain.LineItem
	if err := db.WithContext(ctx).Where("invoice_id = ?", id).Order("line_number").Find(&lines).Error; err != nil {
		return nil, nil, err
	}
	return &invoice, lines, nil
}

// nextSequence bumps the per-year counter inside the caller's transaction,
// so two concurrent finalizes cannot take the same number. Ensuring the row
// exists first keeps the bump a plain locked UPDATE, which every supported
// dialect can do.
func (s *Service) nextSequence(ctx context.Context, tx *gorm.DB, year int) (int64, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&invoicedomain.InvoiceSequence{Year: year}).Error
	if err != nil {
		return 0, err
	}

	result := tx.WithContext(ctx).Model(&invoicedomain.InvoiceSequence{}).
		Where("year = ?", year).
		Update("next_number", gorm.Expr("next_number + 1"))
	if result.Error != nil {
		return 0, result.Error
	}

	var seq invoicedomain.InvoiceSequence
	if err := tx.WithContext(ctx).First(&seq, "year = ?", year).Error; err != nil {
		return 0, err
	}
	return seq.NextNumber, nil
}

// totals taxes the taxable service charges only: goodwill and refund
// adjustments are untaxed and do not shrink the tax base, so a credit-heavy
// invoice still owes tax on the period's service.
func (s *Service) totals(lines []invoicedomain.LineItem) (subtotal, tax, total int64) {
	var taxable int64
	for _, line := range lines {
		subtotal += line.TotalCents
		if line.Taxable {
			taxable += line.TotalCents
		}
	}
	rate := s.policy.Get().TaxRateBasisPoints
	if rate > 0 && taxable > 0 {
		tax = proration.RoundHalfAway(float64(taxable) * float64(rate) / 10000.0)
	}
	return subtotal, tax, subtotal + tax
}

func wholeDays(start, end time.Time) int {
	return int(end.Sub(start) / day)
}
