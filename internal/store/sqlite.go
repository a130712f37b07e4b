package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/finpilot/orchestrator/internal/domain"
)

// SQLiteStore implements Store using SQLite. Timestamps are stored as
// ISO-8601 UTC text so lexicographic order equals chronological order, and
// each table's rowid serves as the write sequence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			metadata TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS agent_profiles (
			agent_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			configuration TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_project ON agent_profiles(project_id)`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
			memory_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			task_id TEXT,
			memory_type TEXT NOT NULL,
			content TEXT NOT NULL,
			namespace TEXT NOT NULL DEFAULT 'default',
			metadata TEXT,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_run ON memory_entries(run_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_project_ns ON memory_entries(project_id, namespace, ts)`,
		`CREATE TABLE IF NOT EXISTS compliance_events (
			event_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			outcome TEXT NOT NULL,
			risk_score REAL NOT NULL,
			details TEXT,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compliance_run ON compliance_events(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS payment_requests (
			request_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			request_type TEXT NOT NULL,
			amount TEXT,
			currency TEXT,
			status TEXT NOT NULL,
			request_payload TEXT,
			response_payload TEXT,
			linked_memory_ids TEXT,
			linked_compliance_ids TEXT,
			metadata TEXT,
			ts TEXT NOT NULL,
			UNIQUE(request_id, status)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_run ON payment_requests(run_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_request ON payment_requests(request_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsConflict reports whether err is a primary-key or unique-constraint
// collision. A retried write with a pre-generated id lands here, which the
// caller treats as an already-acknowledged success.
func IsConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	metadata, _ := json.Marshal(run.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, project_id, agent_id, status, started_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ProjectID, run.AgentID, run.Status, domain.FormatTime(run.StartedAt), string(metadata))
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	var startedAt string
	var completedAt, metadata, errData sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, project_id, agent_id, status, started_at, completed_at, metadata, error FROM runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.ProjectID, &run.AgentID, &run.Status, &startedAt, &completedAt, &metadata, &errData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt, _ = domain.ParseTime(startedAt)
	if completedAt.Valid {
		t, perr := domain.ParseTime(completedAt.String)
		if perr == nil {
			run.CompletedAt = &t
		}
	}
	if metadata.Valid && metadata.String != "null" {
		json.Unmarshal([]byte(metadata.String), &run.Metadata)
	}
	if errData.Valid && errData.String != "" {
		run.Error = json.RawMessage(errData.String)
	}
	return &run, nil
}

// UpdateRunStatus advances a run's status. Terminal statuses also set
// completed_at; a run already terminal is never rewritten.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errData json.RawMessage) error {
	var completedAt sql.NullString
	if status == domain.RunStatusCompleted || status == domain.RunStatusFailed {
		completedAt = sql.NullString{String: domain.FormatTime(domain.Now()), Valid: true}
	}
	var errStr sql.NullString
	if len(errData) > 0 {
		errStr = sql.NullString{String: string(errData), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = COALESCE(?, completed_at), error = COALESCE(?, error)
		 WHERE run_id = ? AND status NOT IN ('COMPLETED', 'FAILED')`,
		status, completedAt, errStr, runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s is missing or already terminal", runID)
	}
	return nil
}

// ListRuns lists runs for a project, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, projectID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM runs WHERE project_id = ? ORDER BY started_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]domain.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run != nil {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

// CreateAgentProfile registers an agent profile.
func (s *SQLiteStore) CreateAgentProfile(ctx context.Context, profile *domain.AgentProfile) error {
	configuration, _ := json.Marshal(profile.Configuration)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_profiles (agent_id, project_id, name, role, configuration, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		profile.AgentID, profile.ProjectID, profile.Name, profile.Role, string(configuration), domain.FormatTime(profile.CreatedAt))
	return err
}

func scanProfile(row interface{ Scan(...any) error }) (*domain.AgentProfile, error) {
	var p domain.AgentProfile
	var configuration sql.NullString
	var createdAt string
	err := row.Scan(&p.Seq, &p.AgentID, &p.ProjectID, &p.Name, &p.Role, &configuration, &createdAt)
	if err != nil {
		return nil, err
	}
	if configuration.Valid && configuration.String != "null" {
		json.Unmarshal([]byte(configuration.String), &p.Configuration)
	}
	p.CreatedAt, _ = domain.ParseTime(createdAt)
	return &p, nil
}

const profileColumns = `rowid, agent_id, project_id, name, role, configuration, created_at`

// GetAgentProfile retrieves a profile by agent ID.
func (s *SQLiteStore) GetAgentProfile(ctx context.Context, agentID string) (*domain.AgentProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM agent_profiles WHERE agent_id = ?`, agentID)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return profile, err
}

// ListAgentProfiles lists profiles for a project in registration order.
func (s *SQLiteStore) ListAgentProfiles(ctx context.Context, projectID string) ([]domain.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM agent_profiles WHERE project_id = ? ORDER BY rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.AgentProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// CreateMemoryEntry appends a memory entry.
func (s *SQLiteStore) CreateMemoryEntry(ctx context.Context, entry *domain.MemoryEntry) error {
	metadata, _ := json.Marshal(entry.Metadata)
	var taskID sql.NullString
	if entry.TaskID != "" {
		taskID = sql.NullString{String: entry.TaskID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (memory_id, project_id, run_id, agent_id, task_id, memory_type, content, namespace, metadata, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.MemoryID, entry.ProjectID, entry.RunID, entry.AgentID, taskID, entry.MemoryType,
		entry.Content, entry.Namespace, string(metadata), domain.FormatTime(entry.Timestamp))
	return err
}

const memoryColumns = `rowid, memory_id, project_id, run_id, agent_id, task_id, memory_type, content, namespace, metadata, ts`

func scanMemoryEntry(row interface{ Scan(...any) error }) (*domain.MemoryEntry, error) {
	var e domain.MemoryEntry
	var taskID, metadata sql.NullString
	var ts string
	err := row.Scan(&e.Seq, &e.MemoryID, &e.ProjectID, &e.RunID, &e.AgentID, &taskID,
		&e.MemoryType, &e.Content, &e.Namespace, &metadata, &ts)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		e.TaskID = taskID.String
	}
	if metadata.Valid && metadata.String != "null" {
		json.Unmarshal([]byte(metadata.String), &e.Metadata)
	}
	e.Timestamp, _ = domain.ParseTime(ts)
	return &e, nil
}

// GetMemoryEntry retrieves a memory entry by ID.
func (s *SQLiteStore) GetMemoryEntry(ctx context.Context, memoryID string) (*domain.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_entries WHERE memory_id = ?`, memoryID)
	entry, err := scanMemoryEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// ListMemoryEntries lists memory entries matching the filter, with the total
// count before pagination.
func (s *SQLiteStore) ListMemoryEntries(ctx context.Context, filter MemoryFilter, page Page) ([]domain.MemoryEntry, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, filter.Namespace)
	}
	if filter.MemoryType != "" {
		where = append(where, "memory_type = ?")
		args = append(args, filter.MemoryType)
	}
	if len(filter.MemoryIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filter.MemoryIDs))
		where = append(where, fmt.Sprintf("memory_id IN (%s)", placeholders[:len(placeholders)-1]))
		for _, id := range filter.MemoryIDs {
			args = append(args, id)
		}
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if page.Ascending {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM memory_entries WHERE %s ORDER BY ts %s, rowid %s`,
		memoryColumns, clause, order, order)
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []domain.MemoryEntry
	for rows.Next() {
		e, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

// CreateComplianceEvent appends a compliance event.
func (s *SQLiteStore) CreateComplianceEvent(ctx context.Context, event *domain.ComplianceEvent) error {
	details, _ := json.Marshal(event.Details)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_events (event_id, project_id, run_id, agent_id, event_type, outcome, risk_score, details, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.ProjectID, event.RunID, event.AgentID, event.EventType,
		event.Outcome, event.RiskScore, string(details), domain.FormatTime(event.Timestamp))
	return err
}

const complianceColumns = `rowid, event_id, project_id, run_id, agent_id, event_type, outcome, risk_score, details, ts`

func scanComplianceEvent(row interface{ Scan(...any) error }) (*domain.ComplianceEvent, error) {
	var e domain.ComplianceEvent
	var details sql.NullString
	var ts string
	err := row.Scan(&e.Seq, &e.EventID, &e.ProjectID, &e.RunID, &e.AgentID,
		&e.EventType, &e.Outcome, &e.RiskScore, &details, &ts)
	if err != nil {
		return nil, err
	}
	if details.Valid && details.String != "null" {
		json.Unmarshal([]byte(details.String), &e.Details)
	}
	e.Timestamp, _ = domain.ParseTime(ts)
	return &e, nil
}

// ListComplianceEvents lists a run's compliance events in chronological
// order.
func (s *SQLiteStore) ListComplianceEvents(ctx context.Context, runID string) ([]domain.ComplianceEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+complianceColumns+` FROM compliance_events WHERE run_id = ? ORDER BY ts ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ComplianceEvent
	for rows.Next() {
		e, err := scanComplianceEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// CreatePaymentRequest appends a payment request snapshot.
func (s *SQLiteStore) CreatePaymentRequest(ctx context.Context, request *domain.PaymentRequest) error {
	requestPayload, _ := json.Marshal(request.RequestPayload)
	responsePayload, _ := json.Marshal(request.ResponsePayload)
	linkedMemory, _ := json.Marshal(request.LinkedMemoryIDs)
	linkedCompliance, _ := json.Marshal(request.LinkedComplianceIDs)
	metadata, _ := json.Marshal(request.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_requests (request_id, project_id, run_id, agent_id, task_id, request_type, amount, currency,
		 status, request_payload, response_payload, linked_memory_ids, linked_compliance_ids, metadata, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.RequestID, request.ProjectID, request.RunID, request.AgentID, request.TaskID,
		request.RequestType, request.Amount, request.Currency, request.Status,
		string(requestPayload), string(responsePayload), string(linkedMemory), string(linkedCompliance),
		string(metadata), domain.FormatTime(request.Timestamp))
	return err
}

const paymentColumns = `rowid, request_id, project_id, run_id, agent_id, task_id, request_type, amount, currency,
	status, request_payload, response_payload, linked_memory_ids, linked_compliance_ids, metadata, ts`

func scanPaymentRequest(row interface{ Scan(...any) error }) (*domain.PaymentRequest, error) {
	var r domain.PaymentRequest
	var amount, currency, requestPayload, responsePayload, linkedMemory, linkedCompliance, metadata sql.NullString
	var ts string
	err := row.Scan(&r.Seq, &r.RequestID, &r.ProjectID, &r.RunID, &r.AgentID, &r.TaskID,
		&r.RequestType, &amount, &currency, &r.Status, &requestPayload, &responsePayload,
		&linkedMemory, &linkedCompliance, &metadata, &ts)
	if err != nil {
		return nil, err
	}
	if amount.Valid {
		r.Amount = amount.String
	}
	if currency.Valid {
		r.Currency = currency.String
	}
	if requestPayload.Valid && requestPayload.String != "null" {
		json.Unmarshal([]byte(requestPayload.String), &r.RequestPayload)
	}
	if responsePayload.Valid && responsePayload.String != "null" {
		json.Unmarshal([]byte(responsePayload.String), &r.ResponsePayload)
	}
	if linkedMemory.Valid && linkedMemory.String != "null" {
		json.Unmarshal([]byte(linkedMemory.String), &r.LinkedMemoryIDs)
	}
	if linkedCompliance.Valid && linkedCompliance.String != "null" {
		json.Unmarshal([]byte(linkedCompliance.String), &r.LinkedComplianceIDs)
	}
	if metadata.Valid && metadata.String != "null" {
		json.Unmarshal([]byte(metadata.String), &r.Metadata)
	}
	r.Timestamp, _ = domain.ParseTime(ts)
	return &r, nil
}

// GetPaymentRequest retrieves the latest snapshot for a request ID.
func (s *SQLiteStore) GetPaymentRequest(ctx context.Context, requestID string) (*domain.PaymentRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_requests WHERE request_id = ? ORDER BY rowid DESC LIMIT 1`, requestID)
	request, err := scanPaymentRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return request, err
}

// ListPaymentRequests lists a run's payment request snapshots in
// chronological order.
func (s *SQLiteStore) ListPaymentRequests(ctx context.Context, runID string) ([]domain.PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_requests WHERE run_id = ? ORDER BY ts ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.PaymentRequest
	for rows.Next() {
		r, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}
