package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/util"
	"strconv"
)

const (
	ExportJSON = "json"
	ExportCSV  = "csv"
)

var csvHeader = []string{"Q#", "Question", "Type", "Max Marks", "Obtained Marks", "Confidence", "AI Remark"}

// ExportFile 导出结果，直接作为附件返回
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

type exportQuestion struct {
	Question      int                `json:"question"`
	QuestionText  string             `json:"questionText"`
	Type          model.QuestionType `json:"type"`
	MaxMarks      float64            `json:"maxMarks"`
	ObtainedMarks *float64           `json:"obtainedMarks"`
	Confidence    model.Confidence   `json:"confidence"`
	AIRemark      string             `json:"aiRemark"`
}

type exportDocument struct {
	Student       string           `json:"student"`
	RollNo        string           `json:"rollNo"`
	Subject       string           `json:"subject"`
	ExamTitle     string           `json:"examTitle"`
	Status        string           `json:"status"`
	TotalMarks    float64          `json:"totalMarks"`
	ObtainedMarks float64          `json:"obtainedMarks"`
	Questions     []exportQuestion `json:"questions"`
}

type ExportService struct {
	SessionRepo *repository.SessionRepository
}

func NewExportService(sessionRepo *repository.SessionRepository) *ExportService {
	return &ExportService{SessionRepo: sessionRepo}
}

func (s *ExportService) Export(ctx context.Context, sessionID, format string) (*ExportFile, error) {
	session, err := s.SessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if format == ExportCSV {
		return ExportSessionCSV(session)
	}
	return ExportSessionJSON(session)
}

func exportName(session *model.GradingSession, ext string) string {
	id := session.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("session_%s.%s", id, ext)
}

func ExportSessionJSON(session *model.GradingSession) (*ExportFile, error) {
	doc := exportDocument{
		Student:       session.StudentName,
		RollNo:        session.RollNo,
		Subject:       session.Subject,
		ExamTitle:     session.ExamTitle,
		Status:        string(session.Status),
		TotalMarks:    session.TotalMarks,
		ObtainedMarks: session.ObtainedMarks,
		Questions:     make([]exportQuestion, 0, len(session.Questions)),
	}
	for _, q := range session.Questions {
		row := exportQuestion{
			Question:     q.Number,
			QuestionText: q.QuestionText,
			Type:         q.QuestionType,
			MaxMarks:     q.MaxMarks,
			Confidence:   model.ConfidenceLow,
		}
		if q.Result != nil {
			row.ObtainedMarks = q.Result.ObtainedMarks
			row.Confidence = q.Result.Confidence
			row.AIRemark = q.Result.AIRemark
		}
		doc.Questions = append(doc.Questions, row)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		Filename:    exportName(session, ExportJSON),
		ContentType: util.MimeJSON,
		Data:        data,
	}, nil
}

// ExportSessionCSV 带 UTF-8 BOM 便于 Excel 打开，表头前有三行摘要和一个空行
func ExportSessionCSV(session *model.GradingSession) (*ExportFile, error) {
	var buf bytes.Buffer
	buf.WriteString("\ufeff")

	w := csv.NewWriter(&buf)
	rows := [][]string{
		{"GradeGlide Export"},
		{"Student", session.StudentName},
		{"Subject", session.Subject, "Total", formatFloat(session.TotalMarks), "Obtained", formatFloat(session.ObtainedMarks)},
		{},
		csvHeader,
	}
	for _, q := range session.Questions {
		obtained, confidence, remark := "", string(model.ConfidenceLow), ""
		if q.Result != nil {
			obtained = util.FormatMarks(q.Result.ObtainedMarks)
			confidence = string(q.Result.Confidence)
			remark = q.Result.AIRemark
		}
		rows = append(rows, []string{
			strconv.Itoa(q.Number),
			q.QuestionText,
			string(q.QuestionType),
			formatFloat(q.MaxMarks),
			obtained,
			confidence,
			remark,
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}

	return &ExportFile{
		Filename:    exportName(session, ExportCSV),
		ContentType: util.MimeCSV,
		Data:        buf.Bytes(),
	}, nil
}

func formatFloat(v float64) string {
	return util.FormatMarks(&v)
}
