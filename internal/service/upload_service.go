package service

import (
	"bytes"
	"context"
	"fmt"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/logger"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultStudentName = "Unknown Student"
	defaultRollNo      = "—"
	defaultSubject     = "Physics"
	defaultExamTitle   = "Uploaded Exam"
)

// UploadRequest multipart 表单中的可选元数据
type UploadRequest struct {
	StudentName string `form:"student_name"`
	RollNo      string `form:"roll_no"`
	Subject     string `form:"subject"`
	ExamTitle   string `form:"exam_title"`
	AnswerKeyID string `form:"answer_key_id"`
}

type UploadService struct {
	SessionRepo *repository.SessionRepository
	KeyRepo     *repository.AnswerKeyRepository
	Aggregator  *AggregatorService
	Storage     StorageProvider
	Queue       JobQueue
	MaxBytes    int64
}

func NewUploadService(
	sessionRepo *repository.SessionRepository,
	keyRepo *repository.AnswerKeyRepository,
	aggregator *AggregatorService,
	storage StorageProvider,
	queue JobQueue,
	maxUploadMB int,
) *UploadService {
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}
	return &UploadService{
		SessionRepo: sessionRepo,
		KeyRepo:     keyRepo,
		Aggregator:  aggregator,
		Storage:     storage,
		Queue:       queue,
		MaxBytes:    int64(maxUploadMB) << 20,
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// ValidateSheet 扩展名白名单 + 大小上限
func (s *UploadService) ValidateSheet(filename string, size int64) error {
	if size == 0 {
		return util.ErrEmptyUpload
	}
	if !util.HasAllowedExt(filename, util.AllowedSheetExtensions) {
		return fmt.Errorf("%w: %q", util.ErrUnsupportedFileType, util.Ext(filename))
	}
	if s.MaxBytes > 0 && size > s.MaxBytes {
		return fmt.Errorf("%w: limit is %d MB", util.ErrFileTooLarge, s.MaxBytes>>20)
	}
	return nil
}

// CreateSession 保存原件、建会话并入队，立即返回 processing 状态的会话
func (s *UploadService) CreateSession(ctx context.Context, req UploadRequest, filename string, data []byte) (*model.GradingSession, error) {
	if err := s.ValidateSheet(filename, int64(len(data))); err != nil {
		return nil, err
	}

	subject := orDefault(req.Subject, defaultSubject)
	examTitle := orDefault(req.ExamTitle, defaultExamTitle)
	totalMarks := model.SchemeTotal(model.DefaultScheme())

	var answerKeyID *string
	if id := strings.TrimSpace(req.AnswerKeyID); id != "" {
		key, err := s.KeyRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		answerKeyID = &key.ID
		totalMarks = key.TotalMarks()
		if strings.TrimSpace(req.Subject) == "" && key.Subject != "" {
			subject = key.Subject
		}
		if strings.TrimSpace(req.ExamTitle) == "" && key.ExamTitle != "" {
			examTitle = key.ExamTitle
		}
	}

	sessionID := model.GenerateUUID()
	sourceKey := fmt.Sprintf("%s/original%s", sessionID, util.Ext(filename))
	contentType := http.DetectContentType(data)
	if _, err := s.Storage.Upload(ctx, sourceKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	session := &model.GradingSession{
		UUIDBase:       model.UUIDBase{ID: sessionID},
		StudentName:    orDefault(req.StudentName, defaultStudentName),
		RollNo:         orDefault(req.RollNo, defaultRollNo),
		Subject:        subject,
		ExamTitle:      examTitle,
		TotalMarks:     totalMarks,
		Status:         model.StatusPending,
		SourcePath:     sourceKey,
		SourceFilename: filename,
		AnswerKeyID:    answerKeyID,
	}
	if err := s.SessionRepo.Create(ctx, session); err != nil {
		_ = s.Storage.Delete(ctx, sourceKey)
		return nil, err
	}

	if err := s.Aggregator.TransitionStatus(ctx, sessionID, model.StatusProcessing, "", model.StatusPending); err != nil {
		return nil, err
	}
	session.Status = model.StatusProcessing

	if err := s.Queue.Enqueue(ctx, Job{SessionID: sessionID}); err != nil {
		_ = s.Aggregator.TransitionStatus(context.Background(), sessionID, model.StatusError,
			"could not enqueue grading job: "+err.Error(), model.StatusProcessing)
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	logger.Log.Info("Answer sheet uploaded",
		zap.String("session_id", sessionID),
		zap.String("filename", filename),
		zap.Int("bytes", len(data)),
	)
	return session, nil
}
