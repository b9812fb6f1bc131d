package reqrecord

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/francistor/acnetd/core"
)

const (
	BIGQUERY_RECORD_COUNT_THRESHOLD    = 500
	BIGQUERY_RECORD_WRITE_TIME_MILLIS  = 500
	BIGQUERY_BACKUP_CHECK_TIME_SECONDS = 60
)

// Abstraction of the bigquery table inserter, replaced in tests
type inserter interface {
	Put(ctx context.Context, src interface{}) error
}

// Writes records to BigQuery
// If unavailability of the database lasts longer than the configured time
// the records are written in a backup file. Backup files are processed periodically
type BigQueryRecordWriter struct {

	// This channel will receive the records to write
	recordChan chan *Record

	// To signal that we have finished processing records
	doneChan chan struct{}

	// To stop the backup processing loop
	backupDoneChan chan struct{}

	// Google data
	client   *bigquery.Client
	inserter inserter

	// Unavailability for this time does not lead to backing up the records
	glitchTime time.Duration

	// Name of the file where the records will be written in case of database unavailability
	backupFileName string

	// For sending periodic signals to empty batch
	ticker *time.Ticker
}

// Builds a writer for the specified dataset and table, using the credentials in the
// ACNET_CLOUD_CREDENTIALS file or the application default credentials
func NewBigQueryRecordWriter(datasetName string, tableName string, glitchSeconds int, backupFileName string) (*BigQueryRecordWriter, error) {

	ctx := context.Background()

	clientOptions, projectId, err := core.GetGoogleAccessData(ctx)
	if err != nil {
		return nil, err
	}

	// Create the bigquery client. It will not report any errors until really used
	var client *bigquery.Client
	if clientOptions == nil {
		client, err = bigquery.NewClient(ctx, projectId)
	} else {
		client, err = bigquery.NewClient(ctx, projectId, clientOptions)
	}
	if err != nil {
		return nil, fmt.Errorf("could not create bigquery client: %w", err)
	}

	// Try to get table metadata to verify that the provided configuration is correct
	table := client.Dataset(datasetName).Table(tableName)
	if _, err = table.Metadata(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("bigquery table not available: %s.%s.%s: %w", projectId, datasetName, tableName, err)
	}

	w, err := newBigQueryRecordWriter(table.Inserter(), glitchSeconds, backupFileName)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.client = client

	return w, nil
}

func newBigQueryRecordWriter(ins inserter, glitchSeconds int, backupFileName string) (*BigQueryRecordWriter, error) {

	// Check backup file location
	if err := os.MkdirAll(filepath.Dir(backupFileName), 0770); err != nil {
		return nil, fmt.Errorf("could not create directory %s: %w", filepath.Dir(backupFileName), err)
	}

	w := BigQueryRecordWriter{
		recordChan:     make(chan *Record, RECORD_BUFFER_SIZE),
		doneChan:       make(chan struct{}),
		backupDoneChan: make(chan struct{}),
		inserter:       ins,
		glitchTime:     time.Duration(glitchSeconds) * time.Second,
		backupFileName: backupFileName,
		ticker:         time.NewTicker(BIGQUERY_RECORD_WRITE_TIME_MILLIS * time.Millisecond),
	}

	// Rename an old backup file if exists, so that it is processed
	os.Rename(w.backupFileName, fmt.Sprintf("%s.%d.w", w.backupFileName, time.Now().UnixMilli()))

	go w.eventLoop()
	go w.processBackupFiles()

	return &w, nil
}

// Call when sure that no more write operations will be invoked
func (w *BigQueryRecordWriter) Close() {

	w.ticker.Stop()
	close(w.backupDoneChan)

	// Consume all the pending records in the buffer and wait here
	close(w.recordChan)
	<-w.doneChan

	if w.client != nil {
		w.client.Close()
	}
}

// Queues the record for writing
func (w *BigQueryRecordWriter) WriteRecord(r *Record) {
	if r == nil {
		return
	}
	w.recordChan <- r
}

// Event processing loop
func (w *BigQueryRecordWriter) eventLoop() {

	var batch []*Record
	var lastWritten = time.Now()
	var lastError time.Time
	var hasBackup bool

loop:
	for {
		select {
		case <-w.ticker.C:
			// Nothing to do, just check if batch must be written

		case r, ok := <-w.recordChan:
			if !ok {
				break loop
			}
			batch = append(batch, r)
		}

		if len(batch) == 0 {
			continue
		}

		if len(batch) > BIGQUERY_RECORD_COUNT_THRESHOLD || time.Since(lastWritten).Milliseconds() > BIGQUERY_RECORD_WRITE_TIME_MILLIS {

			if err := w.sendToBigQuery(batch); err != nil {
				core.GetLogger().Errorf("bigquery writer error: %s", err)

				// Only if we are outside the glitch interval, backup the records
				if !lastError.IsZero() && time.Since(lastError) > w.glitchTime {
					core.GetLogger().Errorf("backing up request records")
					if err := w.backup(batch); err != nil {
						panic(err)
					}
					hasBackup = true
					batch = nil
				}

				if lastError.IsZero() {
					lastError = time.Now()
				}

			} else {
				batch = nil

				// Move backup file so that it is processed, if just recovered from an error
				if hasBackup {
					os.Rename(w.backupFileName, fmt.Sprintf("%s.%d.w", w.backupFileName, time.Now().UnixMilli()))
				}
				hasBackup = false
				lastError = time.Time{}
			}
			lastWritten = time.Now()
		}
	}

	// Write the remaining records
	if len(batch) > 0 {
		if err := w.sendToBigQuery(batch); err != nil {
			core.GetLogger().Errorf("bigquery writer error: %s. Records sent to backup", err)
			if err := w.backup(batch); err != nil {
				core.GetLogger().Errorf("could not write backup file: %s", err)
			}
		}
	}

	close(w.doneChan)
}

// Appends the records to the backup file
func (w *BigQueryRecordWriter) backup(batch []*Record) error {
	file, err := os.OpenFile(w.backupFileName, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return fmt.Errorf("could not open %s due to %w", w.backupFileName, err)
	}
	defer file.Close()

	for _, r := range batch {
		if _, err := file.WriteString(r.String()); err != nil {
			return fmt.Errorf("file write error. Filename: %s error: %w", w.backupFileName, err)
		}
	}
	return nil
}

// Sends the contents of the batch to bigquery
func (w *BigQueryRecordWriter) sendToBigQuery(batch []*Record) error {
	if w.inserter == nil {
		return errors.New("no bigquery inserter")
	}
	err := w.inserter.Put(context.Background(), batch)

	// Add the details of the api error
	var googleError *googleapi.Error
	if errors.As(err, &googleError) {
		return fmt.Errorf("bigquery api error %d (%s): %w", googleError.Code, googleError.Message, err)
	}
	return err
}

// Processes the backup files (the ones with names terminating in ".w")
func (w *BigQueryRecordWriter) processBackupFiles() {

	for {
		files, err := os.ReadDir(filepath.Dir(w.backupFileName))
		if err != nil {
			core.GetLogger().Errorf("could not list files in %s", filepath.Dir(w.backupFileName))
		}

		for _, file := range files {
			if strings.HasSuffix(file.Name(), ".w") {
				w.processBackupFile(file.Name())
			}
		}

		select {
		case <-w.backupDoneChan:
			return
		case <-time.After(BIGQUERY_BACKUP_CHECK_TIME_SECONDS * time.Second):
		}
	}
}

// Inserts the contents of the backup file into Bigquery, and deletes
// the file if successful
func (w *BigQueryRecordWriter) processBackupFile(fileName string) error {

	var batch []*Record

	fullFileName := filepath.Join(filepath.Dir(w.backupFileName), fileName)
	core.GetLogger().Debugf("processing backup file %s", fullFileName)

	file, err := os.Open(fullFileName)
	if err != nil {
		core.GetLogger().Errorf("could not open %s", fullFileName)
		return err
	}
	defer file.Close()

	// One record per line
	fileScanner := bufio.NewScanner(file)
	for fileScanner.Scan() {
		if r, err := NewRecordFromString(fileScanner.Text()); err == nil {
			batch = append(batch, r)
		} else {
			core.GetLogger().Warnf("discarding bad record in %s: %s", fullFileName, err)
		}
	}

	if len(batch) == 0 {
		return os.Remove(fullFileName)
	}

	if err := w.sendToBigQuery(batch); err != nil {
		core.GetLogger().Errorf("error processing backup file %s", fullFileName)
		return err
	}

	return os.Remove(fullFileName)
}
