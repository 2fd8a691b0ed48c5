package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}

	// Create tables if they don't exist
	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			filename TEXT,
			storage_path TEXT,
			duration REAL DEFAULT 0,
			fps REAL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT,
			progress TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sheets (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			title TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sheet_id TEXT NOT NULL,
			plan_number INTEGER NOT NULL,
			order_index INTEGER NOT NULL,
			start_timecode TEXT NOT NULL,
			end_timecode TEXT NOT NULL,
			plan_type TEXT,
			description TEXT,
			dialogues TEXT,
			UNIQUE(sheet_id, plan_number)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMP
		)
	`)
	return err
}

// CreateVideo inserts a new video row.
func (s *SQLiteDB) CreateVideo(v Video) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO videos (id, user_id, filename, storage_path, duration, fps, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.UserID, v.Filename, v.StoragePath, v.Duration, v.Fps, string(v.Status), v.ErrorMessage, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create video: %v", err)
	}
	return nil
}

// GetVideo fetches a video row by id.
func (s *SQLiteDB) GetVideo(id string) (*Video, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, filename, storage_path, duration, fps, status, error_message, created_at, completed_at
		FROM videos WHERE id = ?`, id)
	return scanVideo(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	var status string
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&v.ID, &v.UserID, &v.Filename, &v.StoragePath, &v.Duration, &v.Fps,
		&status, &errMsg, &v.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan video: %v", err)
	}
	v.Status = VideoStatus(status)
	v.ErrorMessage = errMsg.String
	if completedAt.Valid {
		v.CompletedAt = &completedAt.Time
	}
	return &v, nil
}

// ListVideos returns videos newest first.
func (s *SQLiteDB) ListVideos(limit, offset int) ([]Video, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, filename, storage_path, duration, fps, status, error_message, created_at, completed_at
		FROM videos ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %v", err)
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

// UpdateVideoStatus sets the video status and error message.
func (s *SQLiteDB) UpdateVideoStatus(id string, status VideoStatus, errorMsg string) error {
	res, err := s.db.Exec(`UPDATE videos SET status = ?, error_message = ? WHERE id = ?`,
		string(status), errorMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update video status: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkVideoCompleted sets the completed status and stamps the time.
func (s *SQLiteDB) MarkVideoCompleted(id string) error {
	res, err := s.db.Exec(`UPDATE videos SET status = ?, error_message = '', completed_at = ? WHERE id = ?`,
		string(StatusCompleted), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark video completed: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStaleProcessingVideos returns processing videos not updated since
// the cutoff. Every progress save stamps updatedAt, so that is the
// staleness signal; created_at only covers videos that never got a
// progress document. The maintenance cron requeues them.
func (s *SQLiteDB) GetStaleProcessingVideos(cutoff time.Time) ([]Video, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, filename, storage_path, duration, fps, status, error_message, created_at, completed_at
		FROM videos WHERE status = ?`, string(StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale videos: %v", err)
	}
	defer rows.Close()

	var processing []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		processing = append(processing, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var videos []Video
	for _, v := range processing {
		lastTouched := v.CreatedAt
		if doc, err := s.GetProgress(v.ID); err == nil && !doc.UpdatedAt.IsZero() {
			lastTouched = doc.UpdatedAt
		}
		if lastTouched.Before(cutoff) {
			videos = append(videos, v)
		}
	}
	return videos, nil
}

// DeleteVideo removes the video, its sheet and all sheet entries.
func (s *SQLiteDB) DeleteVideo(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %v", err)
	}
	defer tx.Rollback()

	var sheetID string
	err = tx.QueryRow(`SELECT id FROM sheets WHERE video_id = ?`, id).Scan(&sheetID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to look up sheet: %v", err)
	}
	if sheetID != "" {
		if _, err := tx.Exec(`DELETE FROM entries WHERE sheet_id = ?`, sheetID); err != nil {
			return fmt.Errorf("failed to delete entries: %v", err)
		}
		if _, err := tx.Exec(`DELETE FROM sheets WHERE id = ?`, sheetID); err != nil {
			return fmt.Errorf("failed to delete sheet: %v", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM videos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete video: %v", err)
	}
	return tx.Commit()
}

// TryInitProgress installs the initial progress document iff the video
// is marked processing and has no document yet. The conditional update
// is the initialization lock: exactly one worker wins the race.
func (s *SQLiteDB) TryInitProgress(videoID string, doc *ProgressDocument) (bool, error) {
	payload, err := marshalProgress(doc)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(`
		UPDATE videos SET progress = ?
		WHERE id = ? AND status = ? AND progress IS NULL`,
		payload, videoID, string(StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to init progress: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read init result: %v", err)
	}
	return n == 1, nil
}

// GetProgress loads the progress document, or ErrNotFound when the
// video has none.
func (s *SQLiteDB) GetProgress(videoID string) (*ProgressDocument, error) {
	var payload sql.NullString
	err := s.db.QueryRow(`SELECT progress FROM videos WHERE id = ?`, videoID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %v", err)
	}
	if !payload.Valid || payload.String == "" {
		return nil, ErrNotFound
	}
	var doc ProgressDocument
	if err := json.Unmarshal([]byte(payload.String), &doc); err != nil {
		return nil, fmt.Errorf("progress document unreadable: %v", err)
	}
	return &doc, nil
}

// SaveProgress overwrites the progress document.
func (s *SQLiteDB) SaveProgress(videoID string, doc *ProgressDocument) error {
	payload, err := marshalProgress(doc)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE videos SET progress = ? WHERE id = ?`, payload, videoID)
	if err != nil {
		return fmt.Errorf("failed to save progress: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalProgress(doc *ProgressDocument) (string, error) {
	doc.UpdatedAt = time.Now()
	if doc.ProcessingVersion == 0 {
		doc.ProcessingVersion = CurrentProcessingVersion
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode progress: %v", err)
	}
	return string(payload), nil
}

// UpdateChunkStatus transitions one chunk keyed by its expected prior
// status. A mismatched prior status aborts with ErrConcurrentTransition.
func (s *SQLiteDB) UpdateChunkStatus(videoID string, chunkIndex int, from, to ChunkStatus, errorMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transition: %v", err)
	}
	defer tx.Rollback()

	var payload sql.NullString
	err = tx.QueryRow(`SELECT progress FROM videos WHERE id = ?`, videoID).Scan(&payload)
	if err == sql.ErrNoRows || (err == nil && !payload.Valid) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load progress: %v", err)
	}

	var doc ProgressDocument
	if err := json.Unmarshal([]byte(payload.String), &doc); err != nil {
		return fmt.Errorf("progress document unreadable: %v", err)
	}

	chunk := doc.Chunk(chunkIndex)
	if chunk == nil {
		return fmt.Errorf("chunk %d not in progress document", chunkIndex)
	}
	if chunk.Status != from {
		return fmt.Errorf("chunk %d is %s, expected %s: %w", chunkIndex, chunk.Status, from, ErrConcurrentTransition)
	}
	chunk.Status = to
	chunk.ErrorMessage = errorMsg
	if to == ChunkProcessing {
		chunk.Attempts++
		doc.CurrentChunk = chunkIndex
	}
	doc.CompletedChunks = doc.CountByStatus(ChunkCompleted)

	updated, err := marshalProgress(&doc)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE videos SET progress = ? WHERE id = ?`, updated, videoID); err != nil {
		return fmt.Errorf("failed to store transition: %v", err)
	}
	return tx.Commit()
}

// CreateSheet creates the sheet for a video, or returns the existing
// sheet id: creation is idempotent per video.
func (s *SQLiteDB) CreateSheet(sheet Sheet) (string, error) {
	if sheet.ID == "" {
		sheet.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`INSERT INTO sheets (id, video_id, user_id, title) VALUES (?, ?, ?, ?)`,
		sheet.ID, sheet.VideoID, sheet.UserID, sheet.Title)
	if err != nil {
		if isUniqueViolation(err) {
			existing, err := s.GetSheetByVideo(sheet.VideoID)
			if err != nil {
				return "", err
			}
			return existing.ID, nil
		}
		return "", fmt.Errorf("failed to create sheet: %v", err)
	}
	return sheet.ID, nil
}

// GetSheetByVideo fetches the sheet belonging to a video.
func (s *SQLiteDB) GetSheetByVideo(videoID string) (*Sheet, error) {
	var sheet Sheet
	err := s.db.QueryRow(`SELECT id, video_id, user_id, title FROM sheets WHERE video_id = ?`, videoID).
		Scan(&sheet.ID, &sheet.VideoID, &sheet.UserID, &sheet.Title)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sheet: %v", err)
	}
	return &sheet, nil
}

// InsertEntries appends sheet entries. Unique-key violations mean
// another worker already inserted the same plan numbers; those rows are
// logged and skipped rather than rolled back.
func (s *SQLiteDB) InsertEntries(entries []Entry) error {
	for _, e := range entries {
		_, err := s.db.Exec(`
			INSERT INTO entries (sheet_id, plan_number, order_index, start_timecode, end_timecode, plan_type, description, dialogues)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.SheetID, e.PlanNumber, e.OrderIndex, e.StartTimecode, e.EndTimecode, e.PlanType, e.Description, e.Dialogues)
		if err != nil {
			if isUniqueViolation(err) {
				log.Printf("[Database] Entry (%s, %d) already inserted by another worker, skipping",
					e.SheetID, e.PlanNumber)
				continue
			}
			return fmt.Errorf("failed to insert entry: %v", err)
		}
	}
	return nil
}

// GetLastPlanNumber returns the highest plan number on the sheet, 0 for
// an empty sheet.
func (s *SQLiteDB) GetLastPlanNumber(sheetID string) (int, error) {
	var last sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(plan_number) FROM entries WHERE sheet_id = ?`, sheetID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to read last plan number: %v", err)
	}
	return int(last.Int64), nil
}

// ListEntries returns all sheet entries in order index order.
func (s *SQLiteDB) ListEntries(sheetID string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, sheet_id, plan_number, order_index, start_timecode, end_timecode, plan_type, description, dialogues
		FROM entries WHERE sheet_id = ? ORDER BY order_index`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %v", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var planType, description, dialogues sql.NullString
		if err := rows.Scan(&e.ID, &e.SheetID, &e.PlanNumber, &e.OrderIndex,
			&e.StartTimecode, &e.EndTimecode, &planType, &description, &dialogues); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %v", err)
		}
		e.PlanType = planType.String
		e.Description = description.String
		e.Dialogues = dialogues.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Rows deleted per statement during duplicate cleanup.
const deleteBatchSize = 100

// DeleteEntries removes entries by id, in batches.
func (s *SQLiteDB) DeleteEntries(ids []int64) error {
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		query := `DELETE FROM entries WHERE id IN (?` + repeatPlaceholder(len(batch)-1) + `)`
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		if _, err := s.db.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to delete entry batch: %v", err)
		}
	}
	return nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ",?"
	}
	return out
}

// RenumberEntries rewrites planNumber and orderIndex contiguously from 1
// in order index order. A two-phase update avoids transient unique-key
// collisions.
func (s *SQLiteDB) RenumberEntries(sheetID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin renumber: %v", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM entries WHERE sheet_id = ? ORDER BY order_index`, sheetID)
	if err != nil {
		return fmt.Errorf("failed to list entries for renumber: %v", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan entry id: %v", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate entries: %v", err)
	}

	// Phase one: move everything out of the positive range.
	for i, id := range ids {
		if _, err := tx.Exec(`UPDATE entries SET plan_number = ? WHERE id = ?`, -(i + 1), id); err != nil {
			return fmt.Errorf("failed to stage renumber: %v", err)
		}
	}
	// Phase two: assign final numbers.
	for i, id := range ids {
		if _, err := tx.Exec(`UPDATE entries SET plan_number = ?, order_index = ? WHERE id = ?`, i+1, i+1, id); err != nil {
			return fmt.Errorf("failed to renumber entry: %v", err)
		}
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// Close closes the underlying handle.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
