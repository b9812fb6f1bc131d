package reqrecord

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

func testRecord(id uint16) *Record {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &Record{
		Id:         id,
		Task:       "CLIENT",
		TaskId:     3,
		RemoteNode: "CLX01",
		RemoteTask: "RETDAT",
		Outcome:    OutcomeTimeout,
		Start:      start,
		End:        start.Add(2 * time.Second),
		Replies:    4,
	}
}

func TestRecordString(t *testing.T) {
	r := testRecord(7)
	line := r.String()
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Fatalf("record is not a single line: %s", line)
	}

	parsed, err := NewRecordFromString(strings.TrimSpace(line))
	if err != nil {
		t.Fatalf("could not parse record: %s", err)
	}
	if *parsed != *r {
		t.Fatalf("parsed record %v is not the original %v", parsed, r)
	}
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileRecordWriter(dir, "requests_20060102", 3600)
	if err != nil {
		t.Fatalf("could not create file writer: %s", err)
	}
	for i := 0; i < 10; i++ {
		w.WriteRecord(testRecord(uint16(i)))
	}
	w.WriteRecord(nil)
	w.Close()

	files, _ := os.ReadDir(dir)
	if len(files) != 1 {
		t.Fatalf("%d files written", len(files))
	}

	file, err := os.Open(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatalf("could not open records file: %s", err)
	}
	defer file.Close()

	var n int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		r, err := NewRecordFromString(scanner.Text())
		if err != nil {
			t.Fatalf("bad record in file: %s", err)
		}
		if r.Id != uint16(n) {
			t.Fatalf("record %d has id %d", n, r.Id)
		}
		n++
	}
	if n != 10 {
		t.Fatalf("%d records in file", n)
	}
}

// Inserter that fails on demand and keeps the records received
type fakeInserter struct {
	sync.Mutex
	fail    bool
	records []*Record
}

func (f *fakeInserter) Put(ctx context.Context, src interface{}) error {
	f.Lock()
	defer f.Unlock()
	if f.fail {
		return errors.New("bigquery unavailable")
	}
	f.records = append(f.records, src.([]*Record)...)
	return nil
}

func (f *fakeInserter) setFail(fail bool) {
	f.Lock()
	defer f.Unlock()
	f.fail = fail
}

func (f *fakeInserter) count() int {
	f.Lock()
	defer f.Unlock()
	return len(f.records)
}

func TestBigQueryWriterBackup(t *testing.T) {
	dir := t.TempDir()
	backupFileName := filepath.Join(dir, "backup", "records.bak")

	ins := &fakeInserter{fail: true}
	w, err := newBigQueryRecordWriter(ins, 0, backupFileName)
	if err != nil {
		t.Fatalf("could not create writer: %s", err)
	}

	for i := 0; i < 3; i++ {
		w.WriteRecord(testRecord(uint16(i)))
	}

	// Errors persist beyond the glitch time, so records go to backup
	time.Sleep(3500 * time.Millisecond)
	if _, err := os.Stat(backupFileName); err != nil {
		t.Fatalf("backup file not written: %s", err)
	}

	// Recover
	ins.setFail(false)
	w.WriteRecord(testRecord(10))
	time.Sleep(1500 * time.Millisecond)
	if ins.count() != 1 {
		t.Fatalf("%d records inserted after recovery", ins.count())
	}

	// The backup file is renamed for processing
	files, _ := os.ReadDir(filepath.Dir(backupFileName))
	var pending string
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".w") {
			pending = f.Name()
		}
	}
	if pending == "" {
		t.Fatalf("backup file not renamed")
	}

	if err := w.processBackupFile(pending); err != nil {
		t.Fatalf("error processing backup file: %s", err)
	}
	if ins.count() != 4 {
		t.Fatalf("%d records inserted after processing backup", ins.count())
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(backupFileName), pending)); err == nil {
		t.Fatalf("backup file not removed")
	}

	w.Close()
}

type apiErrorInserter struct{}

func (apiErrorInserter) Put(ctx context.Context, src interface{}) error {
	return &googleapi.Error{Code: 404, Message: "table not found"}
}

func TestBigQueryApiError(t *testing.T) {
	w, err := newBigQueryRecordWriter(apiErrorInserter{}, 60, filepath.Join(t.TempDir(), "records.bak"))
	if err != nil {
		t.Fatalf("could not create writer: %s", err)
	}
	defer w.Close()

	err = w.sendToBigQuery([]*Record{testRecord(1)})
	var googleError *googleapi.Error
	if !errors.As(err, &googleError) || googleError.Code != 404 {
		t.Fatalf("api error not kept: %v", err)
	}
	if !strings.Contains(err.Error(), "table not found") {
		t.Fatalf("api error details not reported: %s", err)
	}
}
