package service

import (
	"context"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/pkg/logger"
	"io"
	"time"

	"go.uber.org/zap"
)

// 题目在批改界面上的展示状态
const (
	StatusCorrect   = "correct"
	StatusPartial   = "partial"
	StatusIncorrect = "incorrect"
)

const recentSessionCount = 5

// DeriveStatus 未评分视为 partial，0 分 incorrect，满分 correct
func DeriveStatus(obtained *float64, maxMarks float64) string {
	switch {
	case obtained == nil:
		return StatusPartial
	case *obtained == 0:
		return StatusIncorrect
	case *obtained >= maxMarks:
		return StatusCorrect
	default:
		return StatusPartial
	}
}

type StepView struct {
	ID            string           `json:"id"`
	StepKey       string           `json:"stepKey"`
	Label         string           `json:"label"`
	MaxMarks      float64          `json:"maxMarks"`
	ObtainedMarks *float64         `json:"obtainedMarks"`
	AIStatus      model.StepStatus `json:"aiStatus"`
	AINote        string           `json:"aiNote"`
	Overridden    bool             `json:"overridden"`
}

type QuestionView struct {
	ID            string             `json:"id"`
	Number        int                `json:"number"`
	Question      string             `json:"question"`
	QuestionType  model.QuestionType `json:"questionType"`
	MaxMarks      float64            `json:"maxMarks"`
	ObtainedMarks *float64           `json:"obtainedMarks"`
	AIRemark      string             `json:"aiRemark"`
	Status        string             `json:"status"`
	Confidence    model.Confidence   `json:"confidence"`
	PageNumber    int                `json:"pageNumber"`
	BBox          model.BBox         `json:"bbox"`
	Transcript    string             `json:"transcript"`
	IsFinalised   bool               `json:"isFinalised"`
	Overridden    bool               `json:"overridden"`
	Steps         []StepView         `json:"steps"`
}

type PageView struct {
	PageNumber int    `json:"pageNumber"`
	URL        string `json:"url"`
}

// SessionDetail 批改界面所需的完整会话
type SessionDetail struct {
	ID             string              `json:"id"`
	StudentName    string              `json:"studentName"`
	RollNo         string              `json:"rollNo"`
	Subject        string              `json:"subject"`
	ExamTitle      string              `json:"examTitle"`
	TotalMarks     float64             `json:"totalMarks"`
	ObtainedMarks  float64             `json:"obtainedMarks"`
	Status         model.SessionStatus `json:"status"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
	AnswerKeyID    *string             `json:"answerKeyId"`
	AnswerSheetURL *string             `json:"answerSheetUrl"`
	Pages          []PageView          `json:"pages"`
	Questions      []QuestionView      `json:"questions"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// SessionSummary 列表项
type SessionSummary struct {
	ID            string              `json:"id"`
	StudentName   string              `json:"studentName"`
	RollNo        string              `json:"rollNo"`
	Subject       string              `json:"subject"`
	ExamTitle     string              `json:"examTitle"`
	TotalMarks    float64             `json:"totalMarks"`
	ObtainedMarks float64             `json:"obtainedMarks"`
	Status        model.SessionStatus `json:"status"`
	CreatedAt     time.Time           `json:"createdAt"`
}

type DashboardStats struct {
	TotalPapersGraded int64            `json:"totalPapersGraded"`
	Completed         int64            `json:"completed"`
	Processing        int64            `json:"processing"`
	UniqueSubjects    int64            `json:"uniqueSubjects"`
	RecentSessions    []SessionSummary `json:"recentSessions"`
}

type SessionService struct {
	SessionRepo *repository.SessionRepository
	Storage     StorageProvider
}

func NewSessionService(sessionRepo *repository.SessionRepository, storage StorageProvider) *SessionService {
	return &SessionService{SessionRepo: sessionRepo, Storage: storage}
}

func ToSummary(s model.GradingSession) SessionSummary {
	return SessionSummary{
		ID:            s.ID,
		StudentName:   s.StudentName,
		RollNo:        s.RollNo,
		Subject:       s.Subject,
		ExamTitle:     s.ExamTitle,
		TotalMarks:    s.TotalMarks,
		ObtainedMarks: s.ObtainedMarks,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
	}
}

// ToQuestionView 缺失或越界的 bbox 用按题号的条带代替
func ToQuestionView(q model.Question) QuestionView {
	bbox := q.BBox.Data()
	if bbox.Validate() != nil || (bbox.W == 0 && bbox.H == 0) {
		bbox = model.FallbackBBox(q.Number)
	}

	v := QuestionView{
		ID:           q.ID,
		Number:       q.Number,
		Question:     q.QuestionText,
		QuestionType: q.QuestionType,
		MaxMarks:     q.MaxMarks,
		Confidence:   model.ConfidenceLow,
		PageNumber:   q.PageNumber,
		BBox:         bbox,
		Steps:        make([]StepView, 0, len(q.Steps)),
	}
	if r := q.Result; r != nil {
		v.ObtainedMarks = r.ObtainedMarks
		v.AIRemark = r.AIRemark
		v.Confidence = r.Confidence
		v.Transcript = r.Transcript
		v.IsFinalised = r.IsFinalised
		v.Overridden = r.Overridden
	}
	v.Status = DeriveStatus(v.ObtainedMarks, q.MaxMarks)

	for _, s := range q.Steps {
		v.Steps = append(v.Steps, StepView{
			ID:            s.ID,
			StepKey:       s.StepKey,
			Label:         s.Label,
			MaxMarks:      s.MaxMarks,
			ObtainedMarks: s.ObtainedMarks,
			AIStatus:      s.AIStatus,
			AINote:        s.AINote,
			Overridden:    s.Overridden,
		})
	}
	return v
}

func ToSessionDetail(s *model.GradingSession) *SessionDetail {
	d := &SessionDetail{
		ID:            s.ID,
		StudentName:   s.StudentName,
		RollNo:        s.RollNo,
		Subject:       s.Subject,
		ExamTitle:     s.ExamTitle,
		TotalMarks:    s.TotalMarks,
		ObtainedMarks: s.ObtainedMarks,
		Status:        s.Status,
		ErrorMessage:  s.ErrorMessage,
		AnswerKeyID:   s.AnswerKeyID,
		Pages:         make([]PageView, 0, len(s.Images)),
		Questions:     make([]QuestionView, 0, len(s.Questions)),
		CreatedAt:     s.CreatedAt,
	}
	for _, img := range s.Images {
		d.Pages = append(d.Pages, PageView{PageNumber: img.PageNumber, URL: img.URL})
	}
	if len(d.Pages) > 0 {
		url := d.Pages[0].URL
		d.AnswerSheetURL = &url
	}
	for _, q := range s.Questions {
		d.Questions = append(d.Questions, ToQuestionView(q))
	}
	return d
}

func (s *SessionService) Get(ctx context.Context, id string) (*SessionDetail, error) {
	session, err := s.SessionRepo.FindDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToSessionDetail(session), nil
}

func (s *SessionService) List(ctx context.Context, page, limit int) ([]SessionSummary, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	sessions, total, err := s.SessionRepo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, ToSummary(sess))
	}
	return out, total, nil
}

func (s *SessionService) Stats(ctx context.Context) (*DashboardStats, error) {
	stats, err := s.SessionRepo.Stats(ctx, recentSessionCount)
	if err != nil {
		return nil, err
	}
	out := &DashboardStats{
		TotalPapersGraded: stats.Total,
		Completed:         stats.Completed,
		Processing:        stats.Processing,
		UniqueSubjects:    stats.UniqueSubjects,
		RecentSessions:    make([]SessionSummary, 0, len(stats.Recent)),
	}
	for _, r := range stats.Recent {
		out.RecentSessions = append(out.RecentSessions, ToSummary(r))
	}
	return out, nil
}

// Delete 删库成功后再清理存储，清理失败只记日志
func (s *SessionService) Delete(ctx context.Context, id string) error {
	session, images, err := s.SessionRepo.Delete(ctx, id)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(images)+1)
	for _, img := range images {
		keys = append(keys, img.FilePath)
	}
	if session.SourcePath != "" {
		keys = append(keys, session.SourcePath)
	}
	for _, key := range keys {
		if err := s.Storage.Delete(ctx, key); err != nil {
			logger.Log.Warn("Stored file cleanup failed",
				zap.String("session_id", id),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	logger.Log.Info("Session deleted", zap.String("session_id", id), zap.Int("pages", len(images)))
	return nil
}

// OpenPage 读取存储中的页面图片，调用方负责关闭
func (s *SessionService) OpenPage(ctx context.Context, sessionID string, page int) (io.ReadCloser, *model.AnswerSheetImage, error) {
	if _, err := s.SessionRepo.FindByID(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	img, err := s.SessionRepo.FindImage(ctx, sessionID, page)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.Storage.Open(ctx, img.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return rc, img, nil
}
