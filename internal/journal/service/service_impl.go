package service

import (
	"context"
	"fmt"
	"time"

	"github.com/broadbandx/billing/internal/clock"
	journaldomain "github.com/broadbandx/billing/internal/journal/domain"
	obsmetrics "github.com/broadbandx/billing/internal/observability/metrics"
	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p Params) journaldomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("journal.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Post(ctx context.Context, tx *gorm.DB, req journaldomain.PostRequest) (*journaldomain.JournalEntry, error) {
	if req.SourceType == "" || req.SourceID == 0 {
		return nil, journaldomain.ErrInvalidSource
	}
	if err := journaldomain.ValidateBalanced(req.Lines); err != nil {
		// An imbalanced set can only come from a hand-built request, the
		// factories are balanced by construction. Log loudly.
		s.log.Error("rejected journal entry",
			zap.String("source_type", string(req.SourceType)),
			zap.String("source_id", req.SourceID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	transactionDate := req.TransactionDate
	if transactionDate.IsZero() {
		transactionDate = s.clock.Now()
	}

	var entry *journaldomain.JournalEntry
	write := func(tx *gorm.DB) error {
		// Idempotency: one entry per (source_type, source_id).
		existing, err := s.findBySource(ctx, tx, req.SourceType, req.SourceID)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		number, err := s.nextEntryNumber(ctx, tx)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		entry = &journaldomain.JournalEntry{
			ID:              s.genID.Generate(),
			EntryNumber:     number,
			Type:            req.Type,
			SourceType:      req.SourceType,
			SourceID:        req.SourceID,
			CustomerID:      req.CustomerID,
			Status:          journaldomain.EntryStatusPosted,
			TransactionDate: transactionDate.UTC(),
			Memo:            req.Memo,
			CreatedAt:       now,
		}
		if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
			return err
		}

		lines := make([]journaldomain.JournalLine, 0, len(req.Lines))
		for _, line := range req.Lines {
			lines = append(lines, journaldomain.JournalLine{
				ID:          s.genID.Generate(),
				EntryID:     entry.ID,
				Account:     line.Account,
				DebitCents:  line.DebitCents,
				CreditCents: line.CreditCents,
				CreatedAt:   now,
			})
		}
		return tx.WithContext(ctx).Create(&lines).Error
	}

	var err error
	if tx != nil {
		err = write(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(write)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.IncJournalEntryPosted(string(req.Type))
	s.log.Info("journal entry posted",
		zap.Int64("entry_number", entry.EntryNumber),
		zap.String("type", string(req.Type)),
		zap.String("source_id", req.SourceID.String()),
	)
	return entry, nil
}

func (s *Service) Reverse(ctx context.Context, tx *gorm.DB, entryID snowflake.ID, reason string) (*journaldomain.JournalEntry, error) {
	var reversal *journaldomain.JournalEntry
	write := func(tx *gorm.DB) error {
		original, lines, err := s.getByID(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if original.Status != journaldomain.EntryStatusPosted {
			return journaldomain.ErrNotPosted
		}
		if original.ReversedByEntryID != nil {
			return journaldomain.ErrAlreadyReversed
		}

		number, err := s.nextEntryNumber(ctx, tx)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		reversal = &journaldomain.JournalEntry{
			ID:              s.genID.Generate(),
			EntryNumber:     number,
			Type:            journaldomain.EntryTypeReversal,
			SourceType:      journaldomain.SourceTypeReversal,
			SourceID:        original.ID,
			CustomerID:      original.CustomerID,
			Status:          journaldomain.EntryStatusPosted,
			TransactionDate: now,
			Memo:            reason,
			ReversesEntryID: &original.ID,
			CreatedAt:       now,
		}
		if err := tx.WithContext(ctx).Create(reversal).Error; err != nil {
			return err
		}

		swapped := make([]journaldomain.JournalLine, 0, len(lines))
		for _, line := range lines {
			swapped = append(swapped, journaldomain.JournalLine{
				ID:          s.genID.Generate(),
				EntryID:     reversal.ID,
				Account:     line.Account,
				DebitCents:  line.CreditCents,
				CreditCents: line.DebitCents,
				CreatedAt:   now,
			})
		}
		if err := tx.WithContext(ctx).Create(&swapped).Error; err != nil {
			return err
		}

		// Reversal linkage is the only permitted write to a posted entry.
		return tx.WithContext(ctx).Model(&journaldomain.JournalEntry{}).
			Where("id = ? AND status = ?", original.ID, journaldomain.EntryStatusPosted).
			Updates(map[string]any{
				"status":               journaldomain.EntryStatusReversed,
				"reversed_by_entry_id": reversal.ID,
			}).Error
	}

	var err error
	if tx != nil {
		err = write(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(write)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.IncJournalEntryReversed()
	s.log.Info("journal entry reversed",
		zap.String("entry_id", entryID.String()),
		zap.String("reversal_id", reversal.ID.String()),
		zap.String("reason", reason),
	)
	return reversal, nil
}

func (s *Service) GetByID(ctx context.Context, entryID snowflake.ID) (*journaldomain.JournalEntry, []journaldomain.JournalLine, error) {
	return s.getByID(ctx, s.db, entryID)
}

func (s *Service) FindBySource(ctx context.Context, sourceType journaldomain.SourceType, sourceID snowflake.ID) (*journaldomain.JournalEntry, error) {
	return s.findBySource(ctx, s.db, sourceType, sourceID)
}

func (s *Service) TrialBalance(ctx context.Context, start, end time.Time) ([]journaldomain.AccountBalance, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: trial balance window is empty", errdefs.ErrValidation)
	}
	var balances []journaldomain.AccountBalance
	err := s.db.WithContext(ctx).Raw(
		`SELECT l.account,
		        COALESCE(SUM(l.debit_cents), 0) AS debit_cents,
		        COALESCE(SUM(l.credit_cents), 0) AS credit_cents
		 FROM journal_lines l
		 JOIN journal_entries e ON e.id = l.entry_id
		 WHERE e.status IN (?, ?)
		   AND e.transaction_date >= ? AND e.transaction_date < ?
		 GROUP BY l.account
		 ORDER BY l.account`,
		journaldomain.EntryStatusPosted,
		journaldomain.EntryStatusReversed,
		start.UTC(),
		end.UTC(),
	).Scan(&balances).Error
	return balances, err
}

func (s *Service) getByID(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (*journaldomain.JournalEntry, []journaldomain.JournalLine, error) {
	var entry journaldomain.JournalEntry
	err := db.WithContext(ctx).First(&entry, "id = ?", entryID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, journaldomain.ErrEntryNotFound
		}
		return nil, nil, err
	}

	var lines []journaldomain.JournalLine
	if err := db.WithContext(ctx).Where("entry_id = ?", entryID).Order("id").Find(&lines).Error; err != nil {
		return nil, nil, err
	}
	return &entry, lines, nil
}

func (s *Service) findBySource(ctx context.Context, tx *gorm.DB, sourceType journaldomain.SourceType, sourceID snowflake.ID) (*journaldomain.JournalEntry, error) {
	var entries []journaldomain.JournalEntry
	err := tx.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// nextEntryNumber bumps the counter row inside the caller's transaction.
// The UPDATE takes the row lock, so two concurrent posts cannot pick the
// same number.
func (s *Service) nextEntryNumber(ctx context.Context, tx *gorm.DB) (int64, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&journaldomain.JournalSequence{ID: 1}).Error
	if err != nil {
		return 0, err
	}

	result := tx.WithContext(ctx).Model(&journaldomain.JournalSequence{}).
		Where("id = ?", 1).
		Update("next_number", gorm.Expr("next_number + 1"))
	if result.Error != nil {
		return 0, result.Error
	}

	var seq journaldomain.JournalSequence
	if err := tx.WithContext(ctx).First(&seq, "id = ?", 1).Error; err != nil {
		return 0, err
	}
	return seq.NextNumber, nil
}
