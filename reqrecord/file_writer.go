package reqrecord

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	RECORD_BUFFER_SIZE = 1000
)

// Writes records to files rotating by date
// The date in the name of the file follows the creation date. Dates of the records stored
// may span a longer time than implied in the file name.
type FileRecordWriter struct {

	// This channel will receive the records to write
	recordChan chan *Record

	// To signal that we have finished processing records
	doneChan chan struct{}

	// Timestamp in unix seconds for the currently being used file
	currentFileTimestamp int64

	// For sanity check
	currentFileName string

	// The file in use now
	file *os.File

	// Writer configuration
	rotateSeconds  int64
	filePath       string
	fileNameFormat string
}

// Builds a writer. The fileNameFormat is a time layout
func NewFileRecordWriter(filePath string, fileNameFormat string, rotateSeconds int64) (*FileRecordWriter, error) {

	if err := os.MkdirAll(filePath, 0770); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", filePath, err)
	}

	w := FileRecordWriter{
		recordChan:     make(chan *Record, RECORD_BUFFER_SIZE),
		doneChan:       make(chan struct{}),
		rotateSeconds:  rotateSeconds,
		filePath:       filePath,
		fileNameFormat: fileNameFormat,
	}

	if err := w.rotateFile(); err != nil {
		return nil, err
	}

	go w.eventLoop()

	return &w, nil
}

func (w *FileRecordWriter) eventLoop() {

	for r := range w.recordChan {

		// Check if we must rotate
		if time.Now().Unix() >= w.currentFileTimestamp+w.rotateSeconds {
			if err := w.rotateFile(); err != nil {
				panic("while rotating: " + err.Error())
			}
		}

		if _, err := w.file.WriteString(r.String()); err != nil {
			panic("file write error. Filename: " + w.file.Name() + " error: " + err.Error())
		}
	}

	close(w.doneChan)
}

// Queues the record for writing
func (w *FileRecordWriter) WriteRecord(r *Record) {
	if r == nil {
		return
	}
	w.recordChan <- r
}

// Must be called in the eventLoop, or before starting it
func (w *FileRecordWriter) rotateFile() error {

	if w.file != nil {
		w.file.Close()
	}

	fileName := filepath.Join(w.filePath, time.Now().Format(w.fileNameFormat)+".txt")
	// Sanity check
	if fileName == w.currentFileName {
		return fmt.Errorf("file name not changed when rotating: %s", fileName)
	}

	file, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return fmt.Errorf("could not create %s due to %w", fileName, err)
	}
	w.file = file
	w.currentFileName = fileName
	w.currentFileTimestamp = time.Now().Unix()

	return nil
}

// Call when sure that no more write operations will be invoked
func (w *FileRecordWriter) Close() {
	close(w.recordChan)

	// Consume all the pending records in the buffer
	<-w.doneChan

	w.file.Close()
}
