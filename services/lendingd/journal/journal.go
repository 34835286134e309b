package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"peerlend/core/events"
	telemetry "peerlend/observability/otel"
)

const defaultListLimit = 100

// Record is one committed ledger event. Sequence is assigned in emission order
// and ID is a blake3 digest over the sequence and event contents.
type Record struct {
	ID         string    `gorm:"primaryKey;size:64"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;size:64;not null"`
	PoolID     string    `gorm:"index;size:66"`
	LoanID     string    `gorm:"index;size:20"`
	Attributes string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName pins the table name across drivers.
func (Record) TableName() string { return "ledger_events" }

// Decode returns the record's attribute map.
func (r Record) Decode() (map[string]string, error) {
	out := map[string]string{}
	if r.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, fmt.Errorf("journal: decode attributes of %s: %w", r.ID, err)
	}
	return out, nil
}

// Open connects to the journal database for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", driver)
	}
}

// Journal persists rendered ledger events. It implements events.Emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	next uint64
}

// New migrates the schema and resumes numbering after the last stored record.
func New(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Record
	next := uint64(1)
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load cursor: %w", err)
	}
	if last.ID != "" {
		next = last.Sequence + 1
	}
	return &Journal{db: db, logger: logger, now: time.Now, next: next}, nil
}

// Emit implements events.Emitter. Events that cannot be rendered are skipped.
// Storage failures are logged; the ledger has already committed.
func (j *Journal) Emit(evt events.Event) {
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Warn("journal append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores evt and returns the resulting record.
func (j *Journal) Append(ctx context.Context, evt events.Event) (*Record, error) {
	renderable, ok := evt.(events.Renderable)
	if !ok {
		return nil, nil
	}
	rendered := renderable.Event()
	if rendered == nil {
		return nil, nil
	}
	ctx, span := telemetry.Tracer("lendingd/journal").Start(ctx, "journal.append")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", rendered.Type))
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	record := &Record{
		Sequence:   j.next,
		Type:       rendered.Type,
		PoolID:     rendered.Attribute("poolId"),
		LoanID:     rendered.Attribute("loanId"),
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	record.ID = RecordID(record.Sequence, rendered.Type, rendered.Attributes)
	if err := j.db.WithContext(ctx).Create(record).Error; err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("journal.sequence", int64(record.Sequence)))
	j.next++
	return record, nil
}

// RecordID hashes the sequence, type and attributes (sorted by key).
func RecordID(sequence uint64, eventType string, attrs map[string]string) string {
	hasher := blake3.New(32, nil)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	hasher.Write(seq[:])
	hasher.Write([]byte(eventType))
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		hasher.Write([]byte{0})
		hasher.Write([]byte(key))
		hasher.Write([]byte{'='})
		hasher.Write([]byte(attrs[key]))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Query filters List results. Zero values match everything.
type Query struct {
	Type   string
	PoolID string
	LoanID string
	After  uint64
	Limit  int
}

// List returns records in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	tx := j.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", q.After)
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.PoolID != "" {
		tx = tx.Where("pool_id = ?", q.PoolID)
	}
	if q.LoanID != "" {
		tx = tx.Where("loan_id = ?", q.LoanID)
	}
	var out []Record
	if err := tx.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
