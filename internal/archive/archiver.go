// Package archive moves finished print jobs out of the live queue into
// monthly sqlite files sealed with a passphrase.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/utils"
)

const sealedExt = ".sealed"

var (
	ErrNoPassphrase    = errors.New("passphrase not set")
	ErrArchiveNotFound = errors.New("archive not found")
	ErrInvalidName     = errors.New("invalid archive name")
)

type Archiver struct {
	jobs        *db.JobOperations
	runs        *db.ArchiveOperations
	archivePath string
	archiveDays int
	passphrase  string
	stopCh      chan struct{}
	mu          sync.Mutex
	now         func() time.Time
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	DateRange string    `json:"date_range"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
	Passphrase  string
}

func NewArchiver(store *db.DB, config ArchiveConfig) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}

	if err := os.MkdirAll(config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		jobs:        db.NewJobOperations(store),
		runs:        db.NewArchiveOperations(store),
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		passphrase:  config.Passphrase,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}, nil
}

func (a *Archiver) Start() {
	go a.runDailyArchive()
}

func (a *Archiver) Stop() {
	close(a.stopCh)
}

func (a *Archiver) runDailyArchive() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if !a.HasPassphrase() {
				continue
			}
			if n, err := a.RunArchive(context.Background()); err != nil {
				log.Printf("[archive] run failed: %v", err)
			} else if n > 0 {
				log.Printf("[archive] archived %d job(s)", n)
			}
		}
	}
}

// RunArchive moves done and dead-lettered jobs older than the retention
// window into this month's archive and removes them from the queue.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.passphrase == "" {
		return 0, ErrNoPassphrase
	}

	now := a.now().UTC()
	cutoff := now.AddDate(0, 0, -a.archiveDays)

	jobs, err := a.jobs.JobsForArchival(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	name := fmt.Sprintf("archive_%s.db%s", now.Format("2006_01"), sealedExt)
	sealedPath := filepath.Join(a.archivePath, name)

	if err := a.appendToArchive(ctx, sealedPath, jobs); err != nil {
		return 0, err
	}

	if _, err := a.jobs.DeleteArchived(ctx, cutoff); err != nil {
		return 0, err
	}

	if err := a.runs.RecordRun(ctx, &db.ArchiveRun{ArchiveFile: name, JobCount: len(jobs), ArchivedAt: now}); err != nil {
		return 0, err
	}

	return len(jobs), nil
}

// appendToArchive opens the sealed archive (or starts a new one), adds jobs
// and seals it again in place.
func (a *Archiver) appendToArchive(ctx context.Context, sealedPath string, jobs []*db.PrintJob) error {
	tmp, err := os.CreateTemp(a.archivePath, "archive-*.db")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if sealed, err := os.ReadFile(sealedPath); err == nil {
		plain, err := utils.OpenWithPassphrase(sealed, a.passphrase)
		if err != nil {
			return fmt.Errorf("failed to open existing archive: %w", err)
		}
		if err := os.WriteFile(tmpPath, plain, 0600); err != nil {
			return fmt.Errorf("failed to write temp archive: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read existing archive: %w", err)
	}

	archiveDB, err := openArchiveDB(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create archive database: %w", err)
	}

	if err := insertJobs(ctx, archiveDB, jobs, a.now().UTC()); err != nil {
		archiveDB.Close()
		return err
	}
	if err := archiveDB.Close(); err != nil {
		return fmt.Errorf("failed to close archive database: %w", err)
	}

	plain, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to read archive database: %w", err)
	}
	sealed, err := utils.SealWithPassphrase(plain, a.passphrase)
	if err != nil {
		return fmt.Errorf("failed to seal archive: %w", err)
	}

	out := sealedPath + ".tmp"
	if err := os.WriteFile(out, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return os.Rename(out, sealedPath)
}

func openArchiveDB(path string) (*sql.DB, error) {
	adb, err := sql.Open(db.DriverSQLite, path)
	if err != nil {
		return nil, err
	}

	_, err = adb.Exec(`
		CREATE TABLE IF NOT EXISTS print_jobs (
			id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			kind TEXT NOT NULL,
			order_id TEXT,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT,
			submitted_by_id TEXT,
			submitted_by_name TEXT,
			claimed_by TEXT,
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_jobs_completed_at ON print_jobs(completed_at);
		CREATE INDEX IF NOT EXISTS idx_archive_jobs_order ON print_jobs(order_id);
	`)
	if err != nil {
		adb.Close()
		return nil, err
	}

	return adb, nil
}

func insertJobs(ctx context.Context, adb *sql.DB, jobs []*db.PrintJob, now time.Time) error {
	tx, err := adb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, job := range jobs {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO print_jobs (id, document, kind, order_id, status, attempts, last_error, submitted_by_id, submitted_by_name, claimed_by, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, job.ID, job.Document, job.Kind, job.OrderID, string(job.Status), job.Attempts, job.LastError,
			job.SubmittedByID, job.SubmittedByName, job.ClaimedBy, job.CreatedAt, job.CompletedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert job to archive: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, now); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

func (a *Archiver) resolve(filename string) (string, error) {
	if filename == "" || filepath.Base(filename) != filename || !strings.HasSuffix(filename, sealedExt) {
		return "", ErrInvalidName
	}
	path := filepath.Join(a.archivePath, filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrArchiveNotFound
		}
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}
	return path, nil
}

func (a *Archiver) jobCounts(ctx context.Context) map[string]int {
	counts := make(map[string]int)
	runs, err := a.runs.ListRuns(ctx, 1000)
	if err != nil {
		return counts
	}
	for _, r := range runs {
		counts[r.ArchiveFile] += r.JobCount
	}
	return counts
}

func describe(name string, info os.FileInfo, counts map[string]int) *ArchiveFile {
	datePart := strings.TrimSuffix(strings.TrimPrefix(name, "archive_"), ".db"+sealedExt)
	return &ArchiveFile{
		Filename:  name,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
		JobCount:  counts[name],
		DateRange: datePart,
	}
}

func (a *Archiver) ListArchives(ctx context.Context) ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	counts := a.jobCounts(ctx)
	archives := []*ArchiveFile{}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), sealedExt) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		archives = append(archives, describe(file.Name(), info, counts))
	}
	return archives, nil
}

func (a *Archiver) GetArchiveInfo(ctx context.Context, filename string) (*ArchiveFile, error) {
	path, err := a.resolve(filename)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	return describe(filename, info, a.jobCounts(ctx)), nil
}

// DecryptArchive writes the plain sqlite database of filename to outputPath.
func (a *Archiver) DecryptArchive(filename, outputPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.passphrase == "" {
		return ErrNoPassphrase
	}
	path, err := a.resolve(filename)
	if err != nil {
		return err
	}

	sealed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	plain, err := utils.OpenWithPassphrase(sealed, a.passphrase)
	if err != nil {
		return fmt.Errorf("failed to decrypt archive: %w", err)
	}
	return os.WriteFile(outputPath, plain, 0600)
}

func (a *Archiver) DeleteArchive(filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, err := a.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

func (a *Archiver) SetPassphrase(passphrase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.passphrase = passphrase
}

func (a *Archiver) HasPassphrase() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.passphrase != ""
}

func (a *Archiver) SetArchiveDays(days int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archiveDays = days
}

func (a *Archiver) GetArchiveDays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archiveDays
}

func (a *Archiver) GetArchivePath() string {
	return a.archivePath
}
