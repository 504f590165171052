package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"lendingScope/internal/model"
)

func TestJsonlArchiveAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	archive := NewJsonlArchive(path)

	first := []model.EventRecord{{TxHash: "0x1", EventType: model.KindSigned, SubjectID: "a", Payload: json.RawMessage(`{"lender":"0xa"}`)}}
	second := []model.EventRecord{{TxHash: "0x2", EventType: model.KindCancelled, SubjectID: "a", Payload: json.RawMessage(`{}`)}}
	if err := archive.PutRecords(first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := archive.PutRecords(second); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if err := archive.PutRecords(nil); err != nil {
		t.Fatalf("put empty: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.EventRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec model.EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, rec)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].TxHash != "0x1" || got[1].EventType != model.KindCancelled {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestJSONLWriterTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decoded.jsonl")

	w, err := CreateJSONL(path, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w, err = CreateJSONL(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "{\"n\":2}\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}
