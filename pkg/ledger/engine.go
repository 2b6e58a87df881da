package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/proofpulse/evidence-ledger/pkg/canonical"
	"github.com/proofpulse/evidence-ledger/pkg/ha"
)

// DefaultVerifyAllConcurrency bounds parallel chain verification in VerifyAll.
const DefaultVerifyAllConcurrency = 8

const repairSavepoint = "ledger_repair_row"

// Engine owns append, verify and repair for every chain. It is the only
// writer of chainIndex, prevHash and eventHash.
type Engine struct {
	store  *EventStore
	locker ha.ChainLocker
	now    func() time.Time
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithChainLocker sets the pair-scoped lock. The default is ha.ChainLockAuto
// for the store's dialect.
func WithChainLocker(l ha.ChainLocker) EngineOption {
	return func(e *Engine) { e.locker = l }
}

// WithClock overrides time.Now for report timestamps and repair markers.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over store.
func NewEngine(store *EventStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		// Auto mode cannot fail.
		e.locker, _ = ha.NewChainLocker(store.DB(), ha.ChainLockAuto)
	}
	return e
}

// Append validates ev, assigns the next chainIndex of its pair and stores it
// with its chain hashes. Either the complete row is written or nothing is.
func (e *Engine) Append(ctx context.Context, ev EvidenceEvent) (*AppendResult, error) {
	ev, err := ev.Normalize()
	if err != nil {
		return nil, err
	}
	payload, err := canonical.Canonicalize(ev.Payload)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Reason: "not a canonicalizable value", Err: err}
	}

	var result *AppendResult
	err = e.locker.WithChainLock(ctx, e.store.DB(), ChainKey(ev.ProjectID, ev.ArtifactID), func(tx *gorm.DB) error {
		store := e.store.withTx(tx)

		exists, err := store.EventExists(ctx, ev.EventID)
		if err != nil {
			return err
		}
		if exists {
			return &ConflictError{EventID: ev.EventID}
		}

		head, err := store.Head(ctx, ev.ProjectID, ev.ArtifactID)
		if err != nil {
			return err
		}
		var (
			index    int64
			prevHash *string
		)
		if head != nil {
			index = head.ChainIndex + 1
			prevHash = ptr(head.EventHash)
		}

		form, err := CanonicalEventForm(ev.SchemaVersion, ev.EventID, ev.ProjectID, ev.ArtifactID, ev.Source, ev.Timestamp, ev.Type, ev.Payload)
		if err != nil {
			return &ValidationError{Field: "event", Reason: "canonical form failed", Err: err}
		}
		var prev string
		if prevHash != nil {
			prev = *prevHash
		}
		rec := &EventRecord{
			EventID:       ev.EventID,
			SchemaVersion: ev.SchemaVersion,
			ProjectID:     ev.ProjectID,
			ArtifactID:    ev.ArtifactID,
			ChainIndex:    index,
			Source:        ev.Source,
			Type:          ev.Type,
			Timestamp:     ev.Timestamp,
			Payload:       payload,
			PrevHash:      prevHash,
			EventHash:     ChainHash(prev, form),
		}
		if err := store.Insert(ctx, rec); err != nil {
			return err
		}

		result = &AppendResult{
			EventID:    rec.EventID,
			ChainIndex: rec.ChainIndex,
			PrevHash:   rec.PrevHash,
			EventHash:  rec.EventHash,
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// The failed insert may have aborted the transaction, so the cause
		// is looked up after it has ended.
		return nil, e.duplicateCause(ctx, ev, err)
	}
	if err != nil {
		return nil, classify("append", err)
	}

	e.logger.Info("event appended",
		"projectId", ev.ProjectID,
		"artifactId", ev.ArtifactID,
		"eventId", result.EventID,
		"chainIndex", result.ChainIndex)
	return result, nil
}

// duplicateCause tells an eventId collision, which is a ConflictError, from
// a lost race for the next chainIndex. The latter means another writer
// appended to the pair without sharing the chain lock; the event was not
// stored and is reported as a StorageFault so the client retries it.
func (e *Engine) duplicateCause(ctx context.Context, ev EvidenceEvent, insertErr error) error {
	exists, err := e.store.EventExists(ctx, ev.EventID)
	if err != nil {
		return &StorageFault{Op: "append", Err: err}
	}
	if exists {
		return &ConflictError{EventID: ev.EventID}
	}
	e.logger.Error("chain position taken by a concurrent writer; check the chain lock mode",
		"projectId", ev.ProjectID,
		"artifactId", ev.ArtifactID,
		"eventId", ev.EventID)
	return &StorageFault{Op: "append", Err: fmt.Errorf("chain position already taken: %w", insertErr)}
}

// Head returns the last event of a chain, or a NotFoundError.
func (e *Engine) Head(ctx context.Context, projectID, artifactID string) (*ChainHead, error) {
	rec, err := e.store.Head(ctx, projectID, artifactID)
	if err != nil {
		return nil, &StorageFault{Op: "head", Err: err}
	}
	if rec == nil {
		return nil, chainNotFound(projectID, artifactID)
	}
	return &ChainHead{
		ProjectID:  rec.ProjectID,
		ArtifactID: rec.ArtifactID,
		ChainIndex: rec.ChainIndex,
		EventHash:  rec.EventHash,
	}, nil
}

// Verify walks a chain from index 0 and stops at the first row whose
// prevHash or eventHash disagrees with the recomputed value. The only error
// it returns is a StorageFault; tampering is reported in the VerifyReport.
func (e *Engine) Verify(ctx context.Context, projectID, artifactID string) (*VerifyReport, error) {
	rows, err := e.store.LoadChain(ctx, projectID, artifactID)
	if err != nil {
		return nil, &StorageFault{Op: "verify", Err: err}
	}
	return e.verifyRows(projectID, artifactID, rows), nil
}

func (e *Engine) verifyRows(projectID, artifactID string, rows []EventRecord) *VerifyReport {
	report := &VerifyReport{
		ProjectID:   projectID,
		ArtifactID:  artifactID,
		ComputedAt:  e.now().UTC(),
		TotalEvents: int64(len(rows)),
	}
	if len(rows) == 0 {
		report.Reason = ReasonNoChain
		return report
	}

	expectedPrev := ""
	for i := range rows {
		row := &rows[i]
		if row.ChainIndex != int64(i) {
			report.FirstMismatchIndex = ptr(int64(i))
			report.Reason = ReasonVerificationError
			report.Detail = fmt.Sprintf("chainIndex gap: expected %d, found %d", i, row.ChainIndex)
			return report
		}

		if stored := row.prevHashOrEmpty(); stored != expectedPrev {
			report.FirstMismatchIndex = ptr(row.ChainIndex)
			report.Reason = ReasonPrevHashMismatch
			report.StoredPrevHash = ptr(stored)
			report.ExpectedPrevHash = ptr(expectedPrev)
			return report
		}

		expected, err := recomputeHash(row, expectedPrev)
		if err != nil {
			report.FirstMismatchIndex = ptr(row.ChainIndex)
			report.Reason = ReasonVerificationError
			report.Detail = err.Error()
			return report
		}
		if expected != row.EventHash {
			report.FirstMismatchIndex = ptr(row.ChainIndex)
			report.Reason = ReasonEventHashMismatch
			report.StoredEventHash = ptr(row.EventHash)
			report.ExpectedEventHash = ptr(expected)
			return report
		}
		expectedPrev = row.EventHash
	}

	head := rows[len(rows)-1]
	report.Valid = true
	report.HeadChainIndex = ptr(head.ChainIndex)
	report.HeadHash = head.EventHash
	return report
}

// recomputeHash derives a row's eventHash from its stored content and the
// given prevHash.
func recomputeHash(row *EventRecord, prevHash string) (string, error) {
	payload, err := canonical.Parse([]byte(row.Payload))
	if err != nil {
		return "", fmt.Errorf("stored payload of chainIndex %s: %w", formatIndex(row.ChainIndex), err)
	}
	form, err := CanonicalEventForm(row.SchemaVersion, row.EventID, row.ProjectID, row.ArtifactID, row.Source, row.Timestamp, row.Type, payload)
	if err != nil {
		return "", err
	}
	return ChainHash(prevHash, form), nil
}

// Repair recomputes prevHash and eventHash for every row of a chain from
// the stored event content, rewriting rows whose stored values differ. It
// never touches chainIndex, eventId or event content. A repair marker is
// recorded in the same transaction. If a row cannot be recomputed, rows
// before it stay rewritten and a RepairError is returned.
func (e *Engine) Repair(ctx context.Context, projectID, artifactID, actor string) (*RepairResult, error) {
	var (
		rewritten int
		repairID  string
		repairErr error
	)
	err := e.locker.WithChainLock(ctx, e.store.DB(), ChainKey(projectID, artifactID), func(tx *gorm.DB) error {
		store := e.store.withTx(tx)

		rows, err := store.LoadChain(ctx, projectID, artifactID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return chainNotFound(projectID, artifactID)
		}
		previousHead := rows[len(rows)-1].EventHash

		prev := ""
		for i := range rows {
			row := &rows[i]
			hash, err := recomputeHash(row, prev)
			if err != nil {
				repairErr = &RepairError{Index: row.ChainIndex, Err: err}
				return nil
			}
			if hash != row.EventHash || row.prevHashOrEmpty() != prev {
				var prevPtr *string
				if i > 0 {
					prevPtr = ptr(prev)
				}
				// A failed statement aborts a postgres transaction, so each
				// rewrite runs under a savepoint and only the failed one is
				// undone before the earlier rewrites commit.
				if err := tx.SavePoint(repairSavepoint).Error; err != nil {
					return err
				}
				if err := store.UpdateIntegrity(ctx, row.EventID, prevPtr, hash); err != nil {
					if rbErr := tx.RollbackTo(repairSavepoint).Error; rbErr != nil {
						return errors.Join(err, rbErr)
					}
					repairErr = &RepairError{Index: row.ChainIndex, Err: &StorageFault{Op: "repair", Err: err}}
					return nil
				}
				rewritten++
			}
			prev = hash
		}

		marker := &RepairRecord{
			ID:               uuid.NewString(),
			ProjectID:        projectID,
			ArtifactID:       artifactID,
			RepairedAt:       NormalizeTimestamp(e.now()),
			RepairedBy:       actor,
			RowsRewritten:    rewritten,
			PreviousHeadHash: previousHead,
			HeadChainIndex:   rows[len(rows)-1].ChainIndex,
			HeadHash:         prev,
		}
		if err := store.InsertRepair(ctx, marker); err != nil {
			return err
		}
		repairID = marker.ID
		return nil
	})
	if err != nil {
		return nil, classify("repair", err)
	}
	if repairErr != nil {
		e.logger.Error("chain repair stopped",
			"projectId", projectID,
			"artifactId", artifactID,
			"rowsRewritten", rewritten,
			"error", repairErr)
		return nil, repairErr
	}

	e.logger.Warn("chain repaired; earlier attestations for this chain are invalid",
		"projectId", projectID,
		"artifactId", artifactID,
		"rowsRewritten", rewritten,
		"repairedBy", actor)

	report, err := e.Verify(ctx, projectID, artifactID)
	if err != nil {
		return nil, err
	}
	return &RepairResult{
		RepairID:      repairID,
		RowsRewritten: rewritten,
		Warning:       RepairWarning,
		Report:        report,
	}, nil
}

// LatestRepair returns the newest repair that rewrote rows, or nil.
func (e *Engine) LatestRepair(ctx context.Context, projectID, artifactID string) (*RepairRecord, error) {
	rec, err := e.store.LatestRepair(ctx, projectID, artifactID)
	if err != nil {
		return nil, &StorageFault{Op: "latest repair", Err: err}
	}
	return rec, nil
}

// ListChains summarizes every stored chain.
func (e *Engine) ListChains(ctx context.Context) ([]ChainSummary, error) {
	chains, err := e.store.ListChains(ctx)
	if err != nil {
		return nil, &StorageFault{Op: "list chains", Err: err}
	}
	return chains, nil
}

// VerifyAll verifies every chain with at most concurrency chains in flight.
// Reports are returned in ListChains order.
func (e *Engine) VerifyAll(ctx context.Context, concurrency int) ([]*VerifyReport, error) {
	chains, err := e.ListChains(ctx)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = DefaultVerifyAllConcurrency
	}

	reports := make([]*VerifyReport, len(chains))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, c := range chains {
		g.Go(func() error {
			report, err := e.Verify(gctx, c.ProjectID, c.ArtifactID)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// GetEvent returns one stored event by id.
func (e *Engine) GetEvent(ctx context.Context, eventID string) (*StoredEvent, error) {
	rec, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, &StorageFault{Op: "get event", Err: err}
	}
	if rec == nil {
		return nil, &NotFoundError{Resource: "event", ID: eventID}
	}
	return newStoredEvent(rec), nil
}

// ListEvents returns one page of a chain's events.
func (e *Engine) ListEvents(ctx context.Context, projectID, artifactID string, pageSize int, pageToken string) (*EventPage, error) {
	rows, next, err := e.store.ListEvents(ctx, projectID, artifactID, pageSize, pageToken)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, &StorageFault{Op: "list events", Err: err}
	}
	page := &EventPage{Items: make([]*StoredEvent, 0, len(rows)), NextPageToken: next, Size: len(rows)}
	for i := range rows {
		page.Items = append(page.Items, newStoredEvent(&rows[i]))
	}
	return page, nil
}

// Ping checks that the database answers.
func (e *Engine) Ping(ctx context.Context) error {
	sqlDB, err := e.store.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// classify passes ledger errors through and wraps anything else, such as a
// driver, lock or commit failure, as a StorageFault.
func classify(op string, err error) error {
	var (
		verr *ValidationError
		cerr *ConflictError
		nerr *NotFoundError
		serr *StorageFault
	)
	switch {
	case errors.As(err, &verr):
		return verr
	case errors.As(err, &cerr):
		return cerr
	case errors.As(err, &nerr):
		return nerr
	case errors.As(err, &serr):
		return serr
	default:
		return &StorageFault{Op: op, Err: err}
	}
}
