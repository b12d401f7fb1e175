package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrAlreadyReviewed is returned when a reviewer outcome was already
// attached to a decision entry.
var ErrAlreadyReviewed = errors.New("store: decision already reviewed")

// Database wraps the GORM DB handle and exposes the decision log
// repository. Appends are safe for concurrent writers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed decision log at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&DecisionEntry{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendDecision inserts an immutable decision entry. Entries are never
// updated or deleted through this path.
func (d *Database) AppendDecision(e *DecisionEntry) error {
	if e == nil {
		return errors.New("decision entry is nil")
	}
	if strings.TrimSpace(e.EventID) == "" {
		return errors.New("decision entry missing event id")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(e).Error
}

// DecisionQuery encapsulates filters and pagination for listing
// decision entries.
type DecisionQuery struct {
	IssueKey    string
	Department  string
	Action      string
	PendingOnly bool
	Offset      int
	Limit       int
}

// ListDecisions returns entries ordered by descending timestamp,
// applying optional filters.
func (d *Database) ListDecisions(opts DecisionQuery) ([]DecisionEntry, int64, error) {
	base := d.gorm.Model(&DecisionEntry{})
	if key := strings.TrimSpace(opts.IssueKey); key != "" {
		base = base.Where("issue_key = ?", key)
	}
	if dept := strings.TrimSpace(opts.Department); dept != "" {
		base = base.Where("department = ?", dept)
	}
	if action := strings.TrimSpace(opts.Action); action != "" {
		base = base.Where("action = ?", action)
	}
	if opts.PendingOnly {
		base = base.Where("action = ? AND reviewed_at IS NULL", ActionHumanReview)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := base.Order("timestamp DESC").Offset(opts.Offset)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var rows []DecisionEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// LatestForTicket returns the most recent decision for a ticket.
func (d *Database) LatestForTicket(ticketID string) (*DecisionEntry, error) {
	var entry DecisionEntry
	err := d.gorm.Where("ticket_id = ?", ticketID).
		Order("timestamp DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetDecision fetches a decision entry by event id.
func (d *Database) GetDecision(eventID string) (*DecisionEntry, error) {
	var entry DecisionEntry
	if err := d.gorm.First(&entry, "event_id = ?", eventID).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// AttachReview appends the reviewer outcome to a pending entry. The
// original decision fields are never rewritten, and a second review of
// the same entry is rejected.
func (d *Database) AttachReview(eventID, reviewer, note string) error {
	if strings.TrimSpace(reviewer) == "" {
		return errors.New("reviewer id required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	result := d.gorm.Model(&DecisionEntry{}).
		Where("event_id = ? AND reviewed_at IS NULL", eventID).
		Updates(map[string]any{
			"reviewed_by": strings.TrimSpace(reviewer),
			"reviewed_at": &now,
			"review_note": strings.TrimSpace(note),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var entry DecisionEntry
		if err := d.gorm.First(&entry, "event_id = ?", eventID).Error; err != nil {
			return err
		}
		return ErrAlreadyReviewed
	}
	return nil
}

// CountPendingReview returns the number of entries awaiting a reviewer.
func (d *Database) CountPendingReview() (int64, error) {
	var count int64
	err := d.gorm.Model(&DecisionEntry{}).
		Where("action = ? AND reviewed_at IS NULL", ActionHumanReview).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_decision_entries_ticket_ts ON decision_entries(ticket_id, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_decision_entries_pending ON decision_entries(action, reviewed_at)",
		"CREATE INDEX IF NOT EXISTS idx_decision_entries_department_ts ON decision_entries(department, timestamp)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
