package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/logging"
)

const reportsTable = "reports"

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var reportColumns = []string{
	"id", "raw_text", "image_mime_type", "image_data",
	"source_platform", "source_post_id", "source_author", "source_url",
	"processed_text", "is_help_request", "urgency", "confidence", "categories",
	"help_type", "extracted_details", "processing_status", "processing_errors",
	"created_at", "updated_at", "version",
}

// PostgresRepository stores reports in PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool, logger logging.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool:   pool,
		logger: logger.With(logging.F("component", "report_repository")),
	}
}

// FindByID retrieves a report by ID.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("report %s: %w", id, rferrors.ErrNotFound)
	}

	query, args, err := psql.Select(reportColumns...).From(reportsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	report, err := scanReport(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, rferrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// Save inserts a new report or performs a versioned update.
func (r *PostgresRepository) Save(ctx context.Context, report *Report) (*Report, error) {
	if report.ID == "" {
		return r.insert(ctx, report)
	}
	return r.update(ctx, report)
}

func (r *PostgresRepository) insert(ctx context.Context, report *Report) (*Report, error) {
	stored := report.Clone()
	stored.ID = uuid.New().String()
	stored.Version = 1

	query, args, err := buildInsert(stored)
	if err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, query, args...).Scan(&stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("report from %s post %s: %w", stored.Source.Platform, stored.Source.PostID, rferrors.ErrAlreadyExists)
		}
		r.logger.Error("Failed to create report", logging.Err(err), logging.F("platform", string(stored.Source.Platform)))
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	r.logger.Debug("Report created", logging.F("report_id", stored.ID))
	return stored, nil
}

func (r *PostgresRepository) update(ctx context.Context, report *Report) (*Report, error) {
	query, args, err := buildUpdate(report)
	if err != nil {
		return nil, err
	}

	stored, err := scanReport(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, report.ID); findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("report %s at version %d: %w", report.ID, report.Version, rferrors.ErrConflict)
	}
	if err != nil {
		r.logger.Error("Failed to update report", logging.Err(err), logging.F("report_id", report.ID))
		return nil, fmt.Errorf("failed to update report: %w", err)
	}
	return stored, nil
}

// Find lists reports matching f.
func (r *PostgresRepository) Find(ctx context.Context, f Filter, opts FindOptions) ([]*Report, error) {
	query, args, err := buildFind(f, opts)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// Count returns the number of reports matching f.
func (r *PostgresRepository) Count(ctx context.Context, f Filter) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From(reportsTable).Where(filterCondition(f)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var n int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return n, nil
}

// DeleteMany removes reports matching f.
func (r *PostgresRepository) DeleteMany(ctx context.Context, f Filter) (int, error) {
	query, args, err := psql.Delete(reportsTable).Where(filterCondition(f)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reports: %w", err)
	}
	r.logger.Info("Reports deleted", logging.F("count", tag.RowsAffected()))
	return int(tag.RowsAffected()), nil
}

// Claim performs a conditional status transition in a single statement.
func (r *PostgresRepository) Claim(ctx context.Context, id string, from ...ProcessingStatus) (*Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("report %s: %w", id, rferrors.ErrNotFound)
	}

	query, args, err := buildClaim(id, from)
	if err != nil {
		return nil, err
	}

	report, err := scanReport(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		current, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("report %s is %s: %w", id, current.ProcessingStatus, rferrors.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim report: %w", err)
	}
	return report, nil
}

// Stats aggregates counts with one grouped query.
func (r *PostgresRepository) Stats(ctx context.Context) (*Stats, error) {
	query, args, err := psql.
		Select("COALESCE(urgency, '')", "processing_status", "is_help_request", "COUNT(*)").
		From(reportsTable).
		GroupBy("urgency", "processing_status", "is_help_request").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := NewStats()
	for rows.Next() {
		var (
			urgency, status string
			help            bool
			n               int
		)
		if err := rows.Scan(&urgency, &status, &help, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Add(Urgency(urgency), ProcessingStatus(status), help, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats: %w", err)
	}
	return stats, nil
}

// filterCondition translates f into a WHERE clause.
func filterCondition(f Filter) sq.And {
	cond := sq.And{}
	if f.Status != "" {
		cond = append(cond, sq.Eq{"processing_status": string(f.Status)})
	}
	if f.Urgency != "" {
		cond = append(cond, sq.Eq{"urgency": string(f.Urgency)})
	}
	if f.Platform != "" {
		cond = append(cond, sq.Eq{"source_platform": string(f.Platform)})
	}
	if f.HelpType != HelpTypeNone {
		cond = append(cond, sq.Eq{"help_type": string(f.HelpType)})
	}
	if f.HighPriority {
		cond = append(cond, sq.Eq{"urgency": string(UrgencyHigh), "is_help_request": true})
	}
	if f.SourcePostID != "" {
		cond = append(cond, sq.Eq{"source_post_id": f.SourcePostID})
	}
	if !f.UpdatedBefore.IsZero() {
		cond = append(cond, sq.Lt{"updated_at": f.UpdatedBefore})
	}
	return cond
}

func buildFind(f Filter, opts FindOptions) (string, []interface{}, error) {
	order := "created_at DESC, id DESC"
	if opts.Sort == SortCreatedAtAsc {
		order = "created_at ASC, id ASC"
	}

	b := psql.Select(reportColumns...).From(reportsTable).Where(filterCondition(f)).OrderBy(order)
	if opts.Skip > 0 {
		b = b.Offset(uint64(opts.Skip))
	}
	if opts.Limit > 0 {
		b = b.Limit(uint64(opts.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build query: %w", err)
	}
	return query, args, nil
}

func buildInsert(r *Report) (string, []interface{}, error) {
	values, err := reportValues(r)
	if err != nil {
		return "", nil, err
	}

	cols := make([]string, 0, len(values)+1)
	vals := make([]interface{}, 0, len(values)+1)
	cols = append(cols, "id")
	vals = append(vals, r.ID)
	for _, c := range reportColumns {
		if v, ok := values[c]; ok {
			cols = append(cols, c)
			vals = append(vals, v)
		}
	}
	cols = append(cols, "version")
	vals = append(vals, r.Version)

	query, args, err := psql.Insert(reportsTable).
		Columns(cols...).
		Values(vals...).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build insert: %w", err)
	}
	return query, args, nil
}

func buildUpdate(r *Report) (string, []interface{}, error) {
	values, err := reportValues(r)
	if err != nil {
		return "", nil, err
	}

	b := psql.Update(reportsTable)
	for _, c := range reportColumns {
		if v, ok := values[c]; ok {
			b = b.Set(c, v)
		}
	}
	query, args, err := b.
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": r.ID, "version": r.Version}).
		Suffix("RETURNING " + joinColumns()).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build update: %w", err)
	}
	return query, args, nil
}

func buildClaim(id string, from []ProcessingStatus) (string, []interface{}, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		if s != StatusProcessing {
			allowed = append(allowed, string(s))
		}
	}

	query, args, err := psql.Update(reportsTable).
		Set("processing_status", string(StatusProcessing)).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "processing_status": allowed}).
		Suffix("RETURNING " + joinColumns()).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build claim: %w", err)
	}
	return query, args, nil
}

// reportValues maps the mutable columns of r to their stored values.
func reportValues(r *Report) (map[string]interface{}, error) {
	detailsJSON, err := json.Marshal(r.ExtractedDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extracted_details: %w", err)
	}
	errorsJSON, err := json.Marshal(r.ProcessingErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processing_errors: %w", err)
	}

	categories := r.Classification.Categories
	if categories == nil {
		categories = []string{}
	}

	var mimeType *string
	var imageData []byte
	if r.Image != nil {
		mimeType = &r.Image.MimeType
		imageData = r.Image.Data
	}

	return map[string]interface{}{
		"raw_text":          r.RawText,
		"image_mime_type":   mimeType,
		"image_data":        imageData,
		"source_platform":   string(r.Source.Platform),
		"source_post_id":    nullIfEmpty(r.Source.PostID),
		"source_author":     nullIfEmpty(r.Source.Author),
		"source_url":        nullIfEmpty(r.Source.URL),
		"processed_text":    nullIfEmpty(r.ProcessedText),
		"is_help_request":   r.Classification.IsHelpRequest,
		"urgency":           nullIfEmpty(string(r.Classification.Urgency)),
		"confidence":        r.Classification.Confidence,
		"categories":        categories,
		"help_type":         nullIfEmpty(string(r.ExtractedDetails.HelpType)),
		"extracted_details": detailsJSON,
		"processing_status": string(r.ProcessingStatus),
		"processing_errors": errorsJSON,
	}, nil
}

func joinColumns() string {
	return strings.Join(reportColumns, ", ")
}

// scanReport scans one row in reportColumns order.
func scanReport(row pgx.Row) (*Report, error) {
	var (
		r                                  Report
		mimeType, postID, author, url      *string
		processedText, urgency, helpType   *string
		imageData, detailsJSON, errorsJSON []byte
		platform, status                   string
		createdAt, updatedAt               time.Time
	)

	err := row.Scan(
		&r.ID, &r.RawText, &mimeType, &imageData,
		&platform, &postID, &author, &url,
		&processedText, &r.Classification.IsHelpRequest, &urgency, &r.Classification.Confidence, &r.Classification.Categories,
		&helpType, &detailsJSON, &status, &errorsJSON,
		&createdAt, &updatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &r.ExtractedDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extracted_details: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &r.ProcessingErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal processing_errors: %w", err)
		}
	}

	if mimeType != nil {
		r.Image = &ImageSource{MimeType: *mimeType, Data: imageData}
	}
	r.Source = Source{
		Platform: Platform(platform),
		PostID:   derefString(postID),
		Author:   derefString(author),
		URL:      derefString(url),
	}
	r.ProcessedText = derefString(processedText)
	r.Classification.Urgency = Urgency(derefString(urgency))
	r.ExtractedDetails.HelpType = HelpType(derefString(helpType))
	r.ProcessingStatus = ProcessingStatus(status)
	r.CreatedAt = createdAt.UTC()
	r.UpdatedAt = updatedAt.UTC()
	if r.Classification.Categories == nil {
		r.Classification.Categories = []string{}
	}
	if r.ProcessingErrors == nil {
		r.ProcessingErrors = []ProcessingError{}
	}
	return &r, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
