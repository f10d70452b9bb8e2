package service

import (
	"bytes"
	"context"
	"errors"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/testutil"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeModel struct {
	reply string
	err   error

	mu      sync.Mutex
	prompts []string
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Generate(ctx context.Context, prompt string, images ...ImagePart) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeModel) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func modelsWith(client ModelClient) *ModelProvider {
	return NewModelProvider(client, 5*time.Second)
}

type fakeOCR struct {
	words   []Word
	text    string
	wordErr error
}

func (f *fakeOCR) Name() string { return "fake" }

func (f *fakeOCR) Words(ctx context.Context, img image.Image) ([]Word, error) {
	return f.words, f.wordErr
}

func (f *fakeOCR) Text(ctx context.Context, img image.Image) (string, error) {
	return f.text, nil
}

// pagedOCR 按调用顺序为每一页返回不同的词框
type pagedOCR struct {
	mu    sync.Mutex
	pages [][]Word
	calls int
	text  string
}

func (f *pagedOCR) Name() string { return "paged" }

func (f *pagedOCR) Words(ctx context.Context, img image.Image) ([]Word, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var words []Word
	if f.calls < len(f.pages) {
		words = f.pages[f.calls]
	}
	f.calls++
	return words, nil
}

func (f *pagedOCR) Text(ctx context.Context, img image.Image) (string, error) {
	return f.text, nil
}

type fakeRasterizer struct {
	pages int
	err   error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, filename string, data []byte) ([]Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	pages := make([]Page, 0, f.pages)
	for i := 1; i <= f.pages; i++ {
		pages = append(pages, Page{Number: i, Image: blankPage(100, 200)})
	}
	return pages, nil
}

var errRasterize = errors.New("pdftoppm exploded")

func blankPage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestStorage(t *testing.T) StorageProvider {
	t.Helper()
	return &LocalStorageProvider{Config: &config.StorageConfig{Type: "local", LocalPath: t.TempDir()}}
}

// seedSession 按默认方案写入一份会话，题目均为待复核
func seedSession(t *testing.T, db *gorm.DB, status model.SessionStatus) *model.GradingSession {
	t.Helper()

	scheme := model.DefaultScheme()
	session := &model.GradingSession{
		StudentName: "Asha",
		RollNo:      "12",
		Subject:     "Physics",
		ExamTitle:   "Unit Test",
		TotalMarks:  model.SchemeTotal(scheme),
		Status:      status,
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}

	for _, sq := range scheme {
		q := buildQuestion(session.ID, sq, nil, FallbackGrading(sq, RemarkNoModel, noteNoModel))
		if err := db.Create(q).Error; err != nil {
			t.Fatalf("create question %d: %v", sq.Number, err)
		}
	}
	return session
}

func questionByNumber(t *testing.T, db *gorm.DB, sessionID string, number int) model.Question {
	t.Helper()
	var q model.Question
	err := db.Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		Preload("Result").
		Where("session_id = ? AND number = ?", sessionID, number).
		First(&q).Error
	if err != nil {
		t.Fatalf("load question %d: %v", number, err)
	}
	return q
}

func reloadSession(t *testing.T, db *gorm.DB, id string) model.GradingSession {
	t.Helper()
	var s model.GradingSession
	if err := db.Where("id = ?", id).First(&s).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	return s
}

func newSessionRepo(t *testing.T) (*gorm.DB, *repository.SessionRepository) {
	t.Helper()
	db := testutil.NewDB(t)
	return db, repository.NewSessionRepository(db)
}

func bboxOf(b model.BBox) datatypes.JSONType[model.BBox] {
	return datatypes.NewJSONType(b)
}
