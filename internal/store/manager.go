package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var noOpLogger = zap.NewNop()

// ReadyState tracks the lifecycle of the local database handle.
type ReadyState int

const (
	StateUninitialized ReadyState = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s ReadyState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config wires the Manager dependencies.
type Config struct {
	// Open creates the database handle. It runs at most once.
	Open   func() (*gorm.DB, error)
	Clock  func() time.Time
	Logger *zap.Logger
}

// Manager is the single gateway to the local mirror.
type Manager struct {
	open   func() (*gorm.DB, error)
	clock  func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	state    ReadyState
	db       *gorm.DB
	initErr  error
	initDone chan struct{}
}

// ScanFilter narrows a collection scan.
type ScanFilter struct {
	UserID            string
	AthleteID         string
	IncludeTombstones bool
}

// NewManager constructs an uninitialized Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Open == nil {
		return nil, newError(opNewManager, "missing_opener", errMissingOpener)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Manager{open: cfg.Open, clock: clock, logger: logger}, nil
}

// State returns the current readiness state.
func (m *Manager) State() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureReady opens the database once. Concurrent callers share the same
// initialization; a cancelled context abandons the wait but not the open.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateFailed:
		err := m.initErr
		m.mu.Unlock()
		return err
	case StateUninitialized:
		m.state = StateInitializing
		m.initDone = make(chan struct{})
		go m.initialize(m.initDone)
	}
	done := m.initDone
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReady {
		return nil
	}
	return m.initErr
}

func (m *Manager) initialize(done chan struct{}) {
	defer close(done)
	db, err := m.openSafely()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateFailed
		m.initErr = newError(opEnsureReady, "open_failed", err)
		m.logError(opEnsureReady, "open_failed", err)
		return
	}
	m.db = db
	m.state = StateReady
	m.logger.Info("local store ready")
}

func (m *Manager) openSafely() (db *gorm.DB, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			db = nil
			err = fmt.Errorf("database opener panicked: %v", recovered)
		}
	}()
	db, err = m.open()
	if err == nil && db == nil {
		err = errors.New("database opener returned no handle")
	}
	return db, err
}

// Close releases the underlying connection if it was opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Now exposes the Manager clock so callers share one notion of time.
func (m *Manager) Now() time.Time {
	return m.clock().UTC()
}

func (m *Manager) handle(ctx context.Context) (*gorm.DB, error) {
	if err := m.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return m.db.WithContext(ctx), nil
}

func checkKey(operation string, collection Collection, id string) error {
	if !collection.Valid() {
		return newError(operation, "unknown_collection", ErrUnknownCollection)
	}
	if id == "" {
		return newError(operation, "missing_record_id", errMissingRecordID)
	}
	return nil
}

// Get returns the stored record, including tombstones.
func (m *Manager) Get(ctx context.Context, collection Collection, id string) (Record, error) {
	if err := checkKey(opGet, collection, id); err != nil {
		return Record{}, err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return Record{}, err
	}
	record, found, err := loadRecord(db, collection, id)
	if err != nil {
		m.logError(opGet, "select_failed", err, zap.String("collection", collection.String()), zap.String("record_id", id))
		return Record{}, newError(opGet, "select_failed", err)
	}
	if !found {
		return Record{}, newError(opGet, "not_found", ErrNotFound)
	}
	return record, nil
}

// Put stores a record without touching the outbox.
func (m *Manager) Put(ctx context.Context, collection Collection, record Record) error {
	if err := checkKey(opPut, collection, record.ID); err != nil {
		return err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return err
	}
	if err := writeRecord(db, collection, record); err != nil {
		m.logError(opPut, "write_failed", err, zap.String("collection", collection.String()), zap.String("record_id", record.ID))
		return newError(opPut, "write_failed", err)
	}
	return nil
}

// Delete physically removes a record. Outbox entries are left untouched.
func (m *Manager) Delete(ctx context.Context, collection Collection, id string) error {
	if err := checkKey(opDelete, collection, id); err != nil {
		return err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return err
	}
	if err := deleteRecord(db, collection, id); err != nil {
		m.logError(opDelete, "delete_failed", err, zap.String("collection", collection.String()), zap.String("record_id", id))
		return newError(opDelete, "delete_failed", err)
	}
	return nil
}

// ListKeys returns every record id in the collection, tombstones included.
func (m *Manager) ListKeys(ctx context.Context, collection Collection) ([]string, error) {
	if !collection.Valid() {
		return nil, newError(opListKeys, "unknown_collection", ErrUnknownCollection)
	}
	db, err := m.handle(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	if err := db.Model(&RecordRow{}).
		Where("collection = ?", collection.String()).
		Order("record_id ASC").
		Pluck("record_id", &keys).Error; err != nil {
		m.logError(opListKeys, "select_failed", err, zap.String("collection", collection.String()))
		return nil, newError(opListKeys, "select_failed", err)
	}
	return keys, nil
}

// Scan returns records of a collection ordered by creation time.
func (m *Manager) Scan(ctx context.Context, collection Collection, filter ScanFilter) ([]Record, error) {
	if !collection.Valid() {
		return nil, newError(opScan, "unknown_collection", ErrUnknownCollection)
	}
	db, err := m.handle(ctx)
	if err != nil {
		return nil, err
	}
	query := db.Where("collection = ?", collection.String())
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.AthleteID != "" {
		query = query.Where("athlete_id = ?", filter.AthleteID)
	}
	if !filter.IncludeTombstones {
		query = query.Where("deleted_at_ms IS NULL")
	}
	var rows []RecordRow
	if err := query.Order("created_at_ms ASC").Order("record_id ASC").Find(&rows).Error; err != nil {
		m.logError(opScan, "select_failed", err, zap.String("collection", collection.String()))
		return nil, newError(opScan, "select_failed", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := fromRow(row)
		if err != nil {
			m.logError(opScan, "decode_failed", err, zap.String("collection", collection.String()), zap.String("record_id", row.RecordID))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// PutPending stores a record and enqueues its outbox entry atomically.
func (m *Manager) PutPending(ctx context.Context, collection Collection, record Record) (OutboxEntry, error) {
	if err := checkKey(opPutPending, collection, record.ID); err != nil {
		return OutboxEntry{}, err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return OutboxEntry{}, err
	}
	var entry OutboxEntry
	txErr := db.Transaction(func(tx *gorm.DB) error {
		if err := writeRecord(tx, collection, record); err != nil {
			return err
		}
		created, err := m.enqueue(tx, collection, record)
		if err != nil {
			return err
		}
		entry = created
		return nil
	})
	if txErr != nil {
		m.logError(opPutPending, "transaction_failed", txErr, zap.String("collection", collection.String()), zap.String("record_id", record.ID))
		return OutboxEntry{}, newError(opPutPending, "transaction_failed", txErr)
	}
	return entry, nil
}

// Modify reads a record, applies fn and writes the result with a fresh
// outbox entry in one transaction.
func (m *Manager) Modify(ctx context.Context, collection Collection, id string, fn func(current Record) (Record, error)) (Record, error) {
	if err := checkKey(opModify, collection, id); err != nil {
		return Record{}, err
	}
	if fn == nil {
		return Record{}, newError(opModify, "missing_modifier", errors.New("modifier is required"))
	}
	db, err := m.handle(ctx)
	if err != nil {
		return Record{}, err
	}
	var (
		result   Record
		rejected error
	)
	txErr := db.Transaction(func(tx *gorm.DB) error {
		current, found, err := loadRecord(tx, collection, id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		next, err := fn(current.Clone())
		if err != nil {
			rejected = err
			return err
		}
		next.ID = id
		if err := writeRecord(tx, collection, next); err != nil {
			return err
		}
		if _, err := m.enqueue(tx, collection, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	switch {
	case txErr == nil:
		return result, nil
	case rejected != nil:
		return Record{}, rejected
	case errors.Is(txErr, ErrNotFound):
		return Record{}, newError(opModify, "not_found", txErr)
	default:
		m.logError(opModify, "transaction_failed", txErr,
			zap.String("collection", collection.String()),
			zap.String("record_id", id))
		return Record{}, newError(opModify, "transaction_failed", txErr)
	}
}

func (m *Manager) enqueue(tx *gorm.DB, collection Collection, record Record) (OutboxEntry, error) {
	op := OpUpsert
	if record.IsTombstone() {
		op = OpDelete
	}
	entry := OutboxEntry{
		Collection:       collection.String(),
		RecordID:         record.ID,
		UserID:           record.UserID,
		Op:               op,
		EnqueuedAtMillis: m.clock().UTC().UnixMilli(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return OutboxEntry{}, err
	}
	return entry, nil
}

func loadRecord(db *gorm.DB, collection Collection, id string) (Record, bool, error) {
	var row RecordRow
	err := db.Where("collection = ? AND record_id = ?", collection.String(), id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	record, err := fromRow(row)
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func writeRecord(db *gorm.DB, collection Collection, record Record) error {
	row, err := toRow(collection, record)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func deleteRecord(db *gorm.DB, collection Collection, id string) error {
	return db.Where("collection = ? AND record_id = ?", collection.String(), id).Delete(&RecordRow{}).Error
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	if m == nil || m.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	m.logger.Error("store operation failed", allFields...)
}
