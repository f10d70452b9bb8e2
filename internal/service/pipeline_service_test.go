package service

import (
	"bytes"
	"context"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/testutil"
	"strings"
	"testing"

	"gorm.io/gorm"
)

const gradedReply = "```json\n" + `{
  "obtained_marks": 1,
  "confidence": "high",
  "ai_remark": "Good attempt.",
  "steps": [{"step_key": "a", "obtained_marks": 1, "ai_status": "correct", "ai_note": "formula stated"}]
}` + "\n```"

type pipelineFixture struct {
	db       *gorm.DB
	storage  StorageProvider
	pipeline *PipelineService
}

func newPipelineFixture(t *testing.T, rasterizer PageRasterizer, ocr OCREngine, client ModelClient) *pipelineFixture {
	t.Helper()
	db := testutil.NewDB(t)
	storage := newTestStorage(t)
	sessions := repository.NewSessionRepository(db)
	keys := repository.NewAnswerKeyRepository(db)
	p := NewPipelineService(
		db,
		sessions,
		keys,
		NewAggregatorService(db),
		storage,
		rasterizer,
		NewRegionDetector(ocr),
		NewGraderService(modelsWith(client)),
		2,
	)
	return &pipelineFixture{db: db, storage: storage, pipeline: p}
}

// uploadedSession 模拟上传：原件写入存储，会话处于 processing
func (f *pipelineFixture) uploadedSession(t *testing.T, answerKeyID *string) *model.GradingSession {
	t.Helper()
	session := &model.GradingSession{
		StudentName:    "Ravi",
		RollNo:         "7",
		Subject:        "Physics",
		ExamTitle:      "Mid Term",
		Status:         model.StatusProcessing,
		SourceFilename: "sheet.png",
		AnswerKeyID:    answerKeyID,
	}
	if err := f.db.Create(session).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	session.SourcePath = session.ID + "/original.png"
	data := pngBytes(t, blankPage(100, 200))
	if _, err := f.storage.Upload(context.Background(), session.SourcePath, bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		t.Fatalf("store source: %v", err)
	}
	if err := f.db.Model(session).Update("source_path", session.SourcePath).Error; err != nil {
		t.Fatalf("update source path: %v", err)
	}
	return session
}

func TestPipelineWithoutOCROrModelProducesReviewableSession(t *testing.T) {
	f := newPipelineFixture(t, &fakeRasterizer{pages: 1}, nil, nil)
	session := f.uploadedSession(t, nil)

	if err := f.pipeline.Handle(context.Background(), Job{SessionID: session.ID}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored := reloadSession(t, f.db, session.ID)
	if stored.Status != model.StatusReady {
		t.Fatalf("status: want=ready got=%s (%s)", stored.Status, stored.ErrorMessage)
	}
	if stored.TotalMarks != 10 || stored.ObtainedMarks != 0 {
		t.Fatalf("marks: want=0/10 got=%v/%v", stored.ObtainedMarks, stored.TotalMarks)
	}

	detail, err := repository.NewSessionRepository(f.db).FindDetail(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("FindDetail: %v", err)
	}
	if len(detail.Questions) != 3 {
		t.Fatalf("questions: want=3 got=%d", len(detail.Questions))
	}
	if len(detail.Images) != 1 || detail.Images[0].PageNumber != 1 {
		t.Fatalf("images: want one page got %+v", detail.Images)
	}

	for _, q := range detail.Questions {
		if q.Result == nil || q.Result.ObtainedMarks != nil {
			t.Fatalf("q%d: want empty marks got %+v", q.Number, q.Result)
		}
		if q.Result.Confidence != model.ConfidenceLow || q.Result.AIRemark != RemarkNoModel {
			t.Fatalf("q%d: want low confidence fallback got %s %q", q.Number, q.Result.Confidence, q.Result.AIRemark)
		}
		// 演示区域的转写文本
		if q.Result.Transcript == "" {
			t.Fatalf("q%d: transcript should come from the demo regions", q.Number)
		}
		for _, s := range q.Steps {
			if s.AIStatus != model.StepLowConfidence || s.ObtainedMarks != nil {
				t.Fatalf("q%d step %s: want low_confidence/nil got %s/%v", q.Number, s.StepKey, s.AIStatus, s.ObtainedMarks)
			}
		}
	}

	q2 := detail.Questions[1]
	if len(q2.Steps) != 4 || q2.Steps[0].StepKey != "a" || q2.Steps[3].StepKey != "d" {
		t.Fatalf("q2 steps out of order: %+v", q2.Steps)
	}
	if bbox := q2.BBox.Data(); bbox.Y != 30 || bbox.H != 43 {
		t.Fatalf("q2 bbox: want y=30 h=43 got %+v", bbox)
	}
}

func TestPipelineGradesWithModel(t *testing.T) {
	f := newPipelineFixture(t, &fakeRasterizer{pages: 1}, nil, &fakeModel{reply: gradedReply})
	session := f.uploadedSession(t, nil)

	if err := f.pipeline.Process(context.Background(), session.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	stored := reloadSession(t, f.db, session.ID)
	if stored.Status != model.StatusReady {
		t.Fatalf("status: want=ready got=%s", stored.Status)
	}
	// q1 取题目分 1；q2、q3 只有步骤 a 得 1 分
	if stored.ObtainedMarks != 3 {
		t.Fatalf("obtained: want=3 got=%v", stored.ObtainedMarks)
	}

	q2 := questionByNumber(t, f.db, session.ID, 2)
	if q2.Result.Confidence != model.ConfidenceHigh {
		t.Fatalf("q2 confidence: want=high got=%s", q2.Result.Confidence)
	}
	if a := q2.StepByRef("a"); a.AIStatus != model.StepCorrect || a.ObtainedMarks == nil || *a.ObtainedMarks != 1 {
		t.Fatalf("q2 step a: %+v", a)
	}
	if b := q2.StepByRef("b"); b.AIStatus != model.StepLowConfidence || b.ObtainedMarks != nil {
		t.Fatalf("q2 step b should await review: %+v", b)
	}
}

func TestPipelineUsesAnswerKeyScheme(t *testing.T) {
	f := newPipelineFixture(t, &fakeRasterizer{pages: 2}, &fakeOCR{
		words: []Word{{Text: "Q1", Confidence: 95, Top: 10}},
		text:  "V = IR",
	}, nil)

	key := &model.AnswerKey{
		Title:   "Quiz",
		Subject: "Physics",
		Questions: []model.AnswerKeyQuestion{
			{Number: 1, QuestionType: model.ShortAnswer, QuestionText: "State Ohm's law.", MaxMarks: 4},
		},
	}
	if err := f.db.Create(key).Error; err != nil {
		t.Fatalf("create key: %v", err)
	}
	session := f.uploadedSession(t, &key.ID)

	if err := f.pipeline.Process(context.Background(), session.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	stored := reloadSession(t, f.db, session.ID)
	if stored.TotalMarks != 4 {
		t.Fatalf("total marks: want=4 got=%v", stored.TotalMarks)
	}

	var count int64
	f.db.Model(&model.Question{}).Where("session_id = ?", session.ID).Count(&count)
	if count != 1 {
		t.Fatalf("questions: want=1 got=%d", count)
	}

	// 两页都出现 Q1 时以后一页为准
	q1 := questionByNumber(t, f.db, session.ID, 1)
	if q1.PageNumber != 2 {
		t.Fatalf("page: want=2 got=%d", q1.PageNumber)
	}
	if q1.Result.Transcript != "V = IR" {
		t.Fatalf("transcript: want=%q got=%q", "V = IR", q1.Result.Transcript)
	}
}

func TestPipelineWholePageFallbackKeepsAnchoredQuestion(t *testing.T) {
	ocr := &pagedOCR{
		pages: [][]Word{
			{
				{Text: "Q1", Confidence: 95, Top: 10},
				{Text: "Q2", Confidence: 95, Top: 80},
				{Text: "Q3", Confidence: 95, Top: 150},
			},
			{{Text: "continued", Confidence: 90, Top: 20}},
		},
		text: "answer text",
	}
	f := newPipelineFixture(t, &fakeRasterizer{pages: 2}, ocr, nil)
	session := f.uploadedSession(t, nil)

	if err := f.pipeline.Handle(context.Background(), Job{SessionID: session.ID}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	q1 := questionByNumber(t, f.db, session.ID, 1)
	if q1.PageNumber != 1 {
		t.Fatalf("q1 page: want=1 got=%d", q1.PageNumber)
	}
	// 页高 200：Q1 从 5px 到 75px
	if bbox := q1.BBox.Data(); bbox.Y != 2.5 || bbox.H != 35 {
		t.Fatalf("q1 bbox: want y=2.5 h=35 got %+v", bbox)
	}
	for _, n := range []int{2, 3} {
		if q := questionByNumber(t, f.db, session.ID, n); q.PageNumber != 1 {
			t.Fatalf("q%d page: want=1 got=%d", n, q.PageNumber)
		}
	}
}

func TestPipelineWholePageFallbackFillsGap(t *testing.T) {
	ocr := &pagedOCR{
		pages: [][]Word{
			{{Text: "intro", Confidence: 90, Top: 20}},
			{{Text: "Q2", Confidence: 95, Top: 10}},
		},
		text: "answer text",
	}
	f := newPipelineFixture(t, &fakeRasterizer{pages: 2}, ocr, nil)
	session := f.uploadedSession(t, nil)

	if err := f.pipeline.Process(context.Background(), session.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	q1 := questionByNumber(t, f.db, session.ID, 1)
	if q1.PageNumber != 1 {
		t.Fatalf("q1 page: want=1 got=%d", q1.PageNumber)
	}
	if bbox := q1.BBox.Data(); bbox.Y != 0 || bbox.H != 100 {
		t.Fatalf("q1 bbox: want whole page got %+v", bbox)
	}
	if q2 := questionByNumber(t, f.db, session.ID, 2); q2.PageNumber != 2 {
		t.Fatalf("q2 page: want=2 got=%d", q2.PageNumber)
	}
}

func TestPipelineFailureMarksSessionError(t *testing.T) {
	f := newPipelineFixture(t, &fakeRasterizer{err: errRasterize}, nil, nil)
	session := f.uploadedSession(t, nil)

	if err := f.pipeline.Handle(context.Background(), Job{SessionID: session.ID}); err == nil {
		t.Fatalf("Handle: expected error, got nil")
	}

	stored := reloadSession(t, f.db, session.ID)
	if stored.Status != model.StatusError {
		t.Fatalf("status: want=error got=%s", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "pdftoppm exploded") {
		t.Fatalf("error message should carry the cause, got %q", stored.ErrorMessage)
	}

	var images int64
	f.db.Model(&model.AnswerSheetImage{}).Where("session_id = ?", session.ID).Count(&images)
	if images != 0 {
		t.Fatalf("no page rows expected after failure, got %d", images)
	}
}

func TestPipelineOCRFailureIsFatal(t *testing.T) {
	f := newPipelineFixture(t, &fakeRasterizer{pages: 1}, &fakeOCR{wordErr: errRasterize}, nil)
	session := f.uploadedSession(t, nil)

	if err := f.pipeline.Handle(context.Background(), Job{SessionID: session.ID}); err == nil {
		t.Fatalf("Handle: expected error, got nil")
	}
	if got := reloadSession(t, f.db, session.ID).Status; got != model.StatusError {
		t.Fatalf("status: want=error got=%s", got)
	}
}

func TestPipelineSkipsSettledAndMissingSessions(t *testing.T) {
	f := newPipelineFixture(t, &fakeRasterizer{pages: 1}, nil, nil)

	if err := f.pipeline.Process(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("missing session should be a no-op, got %v", err)
	}

	session := seedSession(t, f.db, model.StatusCompleted)
	if err := f.pipeline.Process(context.Background(), session.ID); err != nil {
		t.Fatalf("completed session should be skipped, got %v", err)
	}
	if got := reloadSession(t, f.db, session.ID).Status; got != model.StatusCompleted {
		t.Fatalf("status: want=completed got=%s", got)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	f := newPipelineFixture(t, &fakeRasterizer{pages: 1}, nil, nil)
	pending := seedSession(t, f.db, model.StatusPending)
	processing := seedSession(t, f.db, model.StatusProcessing)
	ready := seedSession(t, f.db, model.StatusReady)

	n, err := f.pipeline.RecoverInterrupted(context.Background())
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if n != 2 {
		t.Fatalf("recovered: want=2 got=%d", n)
	}
	for _, id := range []string{pending.ID, processing.ID} {
		if got := reloadSession(t, f.db, id).Status; got != model.StatusError {
			t.Fatalf("%s: want=error got=%s", id, got)
		}
	}
	if got := reloadSession(t, f.db, ready.ID).Status; got != model.StatusReady {
		t.Fatalf("ready session must be untouched, got %s", got)
	}
}
