package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/util"
	"strings"
	"testing"
)

func TestExportCSV(t *testing.T) {
	db, repo := newSessionRepo(t)
	session := seedSession(t, db, model.StatusReady)
	agg := NewAggregatorService(db)
	marks := 1.5
	q1 := questionByNumber(t, db, session.ID, 1)
	if _, _, err := agg.ApplyMarkUpdate(context.Background(), session.ID, MarkUpdate{QuestionID: q1.ID, ObtainedMarks: &marks}); err != nil {
		t.Fatalf("update marks: %v", err)
	}

	file, err := NewExportService(repo).Export(context.Background(), session.ID, ExportCSV)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if file.ContentType != util.MimeCSV || !strings.HasSuffix(file.Filename, ".csv") {
		t.Fatalf("file meta: got %s %s", file.ContentType, file.Filename)
	}
	if !bytes.HasPrefix(file.Data, []byte("\ufeff")) {
		t.Fatalf("csv must start with a UTF-8 BOM")
	}

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(file.Data, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// 空行被 csv.Reader 跳过: 3 行摘要 + 表头 + 3 题
	if len(records) != 7 {
		t.Fatalf("records: want=7 got=%d", len(records))
	}
	if records[0][0] != "GradeGlide Export" || records[1][1] != "Asha" {
		t.Fatalf("preamble: got %v %v", records[0], records[1])
	}
	if got := strings.Join(records[2], ","); got != "Subject,Physics,Total,10,Obtained,1.5" {
		t.Fatalf("summary row: got %q", got)
	}
	if records[3][0] != "Q#" {
		t.Fatalf("header: got %v", records[3])
	}
	if records[4][4] != "1.5" || records[5][4] != "" {
		t.Fatalf("obtained column: got %q and %q", records[4][4], records[5][4])
	}
	if !strings.Contains(records[6][1], "R1=4Ω, R2=6Ω") {
		t.Fatalf("question text with comma should survive quoting, got %q", records[6][1])
	}
}

func TestExportJSON(t *testing.T) {
	db, repo := newSessionRepo(t)
	session := seedSession(t, db, model.StatusReady)

	file, err := NewExportService(repo).Export(context.Background(), session.ID, ExportJSON)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if file.Filename != "session_"+session.ID[:8]+".json" {
		t.Fatalf("filename: got %s", file.Filename)
	}

	var doc struct {
		Student    string  `json:"student"`
		Status     string  `json:"status"`
		TotalMarks float64 `json:"totalMarks"`
		Questions  []struct {
			Question      int      `json:"question"`
			ObtainedMarks *float64 `json:"obtainedMarks"`
			Confidence    string   `json:"confidence"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(file.Data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Student != "Asha" || doc.Status != "ready" || doc.TotalMarks != 10 {
		t.Fatalf("header fields: got %+v", doc)
	}
	if len(doc.Questions) != 3 || doc.Questions[0].Question != 1 {
		t.Fatalf("questions: got %+v", doc.Questions)
	}
	if doc.Questions[1].ObtainedMarks != nil || doc.Questions[1].Confidence != "low" {
		t.Fatalf("ungraded question should export null/low, got %+v", doc.Questions[1])
	}
}

func TestExportUnknownSession(t *testing.T) {
	_, repo := newSessionRepo(t)
	if _, err := NewExportService(repo).Export(context.Background(), "missing", ExportJSON); !errors.Is(err, util.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound got %v", err)
	}
}
