package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/logger"
	"gradeglide_backend/pkg/monitoring"
	"gradeglide_backend/pkg/tracing"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// placedRegion 检测到的区域及其所在页
type placedRegion struct {
	page   int
	region Region
}

// PipelineService 栅格化 -> 区域检测 -> 逐题评分 -> 单事务落库
type PipelineService struct {
	DB          *gorm.DB
	SessionRepo *repository.SessionRepository
	KeyRepo     *repository.AnswerKeyRepository
	Aggregator  *AggregatorService
	Storage     StorageProvider
	Rasterizer  PageRasterizer
	Detector    *RegionDetector
	Grader      *GraderService
	Concurrency int
}

func NewPipelineService(
	db *gorm.DB,
	sessionRepo *repository.SessionRepository,
	keyRepo *repository.AnswerKeyRepository,
	aggregator *AggregatorService,
	storage StorageProvider,
	rasterizer PageRasterizer,
	detector *RegionDetector,
	grader *GraderService,
	concurrency int,
) *PipelineService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PipelineService{
		DB:          db,
		SessionRepo: sessionRepo,
		KeyRepo:     keyRepo,
		Aggregator:  aggregator,
		Storage:     storage,
		Rasterizer:  rasterizer,
		Detector:    detector,
		Grader:      grader,
		Concurrency: concurrency,
	}
}

// Handle 队列入口：失败时会话转为 error 并记录原因
func (p *PipelineService) Handle(ctx context.Context, job Job) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("session_id", job.SessionID))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			p.fail(job.SessionID, err)
			monitoring.PipelineRuns.WithLabelValues(string(model.StatusError)).Inc()
		}
		monitoring.PipelineDuration.Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	if err = p.Process(ctx, job.SessionID); err != nil {
		return err
	}
	monitoring.PipelineRuns.WithLabelValues(string(model.StatusReady)).Inc()
	return nil
}

func (p *PipelineService) fail(sessionID string, cause error) {
	logger.Log.Error("Pipeline failed", zap.String("session_id", sessionID), zap.Error(cause))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.Aggregator.TransitionStatus(ctx, sessionID, model.StatusError, cause.Error(),
		model.StatusPending, model.StatusProcessing)
	if err != nil && !errors.Is(err, util.ErrSessionNotFound) {
		logger.Log.Warn("Could not mark session as error", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Process 执行一次完整流水线
func (p *PipelineService) Process(ctx context.Context, sessionID string) error {
	session, err := p.SessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, util.ErrSessionNotFound) {
			// 处理前已被删除
			logger.Log.Info("Session gone before processing", zap.String("session_id", sessionID))
			return nil
		}
		return err
	}

	switch session.Status {
	case model.StatusPending:
		if err := p.Aggregator.TransitionStatus(ctx, sessionID, model.StatusProcessing, "", model.StatusPending); err != nil {
			return err
		}
	case model.StatusProcessing:
	default:
		logger.Log.Info("Skipping job for settled session",
			zap.String("session_id", sessionID),
			zap.String("status", string(session.Status)),
		)
		return nil
	}

	scheme := p.scheme(ctx, session)

	data, err := p.readSource(ctx, session.SourcePath)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	rctx, span := tracing.StartSpan(ctx, "pipeline.rasterize")
	pages, err := p.Rasterizer.Rasterize(rctx, session.SourceFilename, data)
	tracing.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("rasterize: %w", err)
	}
	if len(pages) == 0 {
		return util.ErrNoPages
	}

	images, err := p.storePages(ctx, session, pages)
	if err != nil {
		return err
	}

	regions, err := p.detect(ctx, pages)
	if err != nil {
		p.cleanupPages(images)
		return err
	}

	gradings := p.gradeAll(ctx, scheme, regions)

	if err := p.persist(ctx, session, scheme, regions, gradings, images); err != nil {
		p.cleanupPages(images)
		return fmt.Errorf("persist: %w", err)
	}

	logger.Log.Info("Session graded",
		zap.String("session_id", sessionID),
		zap.Int("pages", len(pages)),
		zap.Int("regions", len(regions)),
		zap.Int("questions", len(scheme)),
	)
	return nil
}

// scheme 有答案键用答案键，否则使用默认方案
func (p *PipelineService) scheme(ctx context.Context, session *model.GradingSession) []model.SchemeQuestion {
	if session.AnswerKeyID == nil || *session.AnswerKeyID == "" || p.KeyRepo == nil {
		return model.DefaultScheme()
	}
	key, err := p.KeyRepo.FindByID(ctx, *session.AnswerKeyID)
	if err != nil || len(key.Questions) == 0 {
		logger.Log.Warn("Answer key unavailable, using default scheme",
			zap.String("session_id", session.ID),
			zap.String("answer_key_id", *session.AnswerKeyID),
			zap.Error(err),
		)
		return model.DefaultScheme()
	}
	return key.Scheme()
}

func (p *PipelineService) readSource(ctx context.Context, key string) ([]byte, error) {
	rc, err := p.Storage.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *PipelineService) storePages(ctx context.Context, session *model.GradingSession, pages []Page) ([]model.AnswerSheetImage, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.store_pages")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	images := make([]model.AnswerSheetImage, 0, len(pages))
	for _, page := range pages {
		var buf bytes.Buffer
		if err = imaging.Encode(&buf, page.Image, imaging.PNG); err != nil {
			p.cleanupPages(images)
			return nil, fmt.Errorf("encode page %d: %w", page.Number, err)
		}
		name := fmt.Sprintf("page_%d.png", page.Number)
		key := fmt.Sprintf("%s/%s", session.ID, name)
		var url string
		url, err = p.Storage.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), util.MimePNG)
		if err != nil {
			p.cleanupPages(images)
			return nil, fmt.Errorf("store page %d: %w", page.Number, err)
		}
		images = append(images, model.AnswerSheetImage{
			SessionID:        session.ID,
			PageNumber:       page.Number,
			FilePath:         key,
			URL:              url,
			OriginalFilename: name,
		})
	}
	return images, nil
}

// cleanupPages 失败时尽力删除已上传页面
func (p *PipelineService) cleanupPages(images []model.AnswerSheetImage) {
	for _, img := range images {
		if err := p.Storage.Delete(context.Background(), img.FilePath); err != nil {
			logger.Log.Warn("Page cleanup failed", zap.String("key", img.FilePath), zap.Error(err))
		}
	}
}

// detect 每页独立检测，锚点题号重复时后出现的覆盖前面的；无锚点页的整页区域不覆盖已有题目
func (p *PipelineService) detect(ctx context.Context, pages []Page) (map[int]placedRegion, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.detect")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	out := make(map[int]placedRegion)
	for _, page := range pages {
		var regions []Region
		regions, err = p.Detector.Detect(ctx, page.Image)
		if err != nil {
			return nil, fmt.Errorf("detect regions on page %d: %w", page.Number, err)
		}
		for _, r := range regions {
			prev, ok := out[r.QNum]
			if ok && r.Fallback {
				// 无锚点的整页区域只填补空缺，不覆盖已检测到的题目
				logger.Log.Debug("Whole-page region ignored, question already placed",
					zap.Int("q_num", r.QNum),
					zap.Int("previous_page", prev.page),
					zap.Int("page", page.Number),
				)
				continue
			}
			if ok && !prev.region.Fallback {
				logger.Log.Debug("Duplicate question anchor",
					zap.Int("q_num", r.QNum),
					zap.Int("previous_page", prev.page),
					zap.Int("page", page.Number),
				)
			}
			out[r.QNum] = placedRegion{page: page.Number, region: r}
		}
	}
	return out, nil
}

// gradeAll 按题号顺序评分；Concurrency > 1 时并发，结果按下标写回保持顺序
func (p *PipelineService) gradeAll(ctx context.Context, scheme []model.SchemeQuestion, regions map[int]placedRegion) []Grading {
	ctx, span := tracing.StartSpan(ctx, "pipeline.grade")
	defer span.End()

	out := make([]Grading, len(scheme))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)
	for i, q := range scheme {
		req := GradeRequest{Question: q}
		if pr, ok := regions[q.Number]; ok {
			req.Transcript = pr.region.RawText
			req.Image = pr.region.Crop
		}
		g.Go(func() error {
			out[i] = p.Grader.Grade(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	for num := range regions {
		if !schemeHas(scheme, num) {
			logger.Log.Debug("Region without scheme question ignored", zap.Int("q_num", num))
		}
	}
	return out
}

func schemeHas(scheme []model.SchemeQuestion, number int) bool {
	for _, q := range scheme {
		if q.Number == number {
			return true
		}
	}
	return false
}

// persist 页面、题目、步骤、结果与状态在同一事务中写入
func (p *PipelineService) persist(
	ctx context.Context,
	session *model.GradingSession,
	scheme []model.SchemeQuestion,
	regions map[int]placedRegion,
	gradings []Grading,
	images []model.AnswerSheetImage,
) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.persist")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockSession(tx, session.ID)
		if err != nil {
			return err
		}
		if current.Status != model.StatusProcessing {
			return fmt.Errorf("%w: session is %s", util.ErrInvalidTransition, current.Status)
		}

		if len(images) > 0 {
			if err := tx.Create(&images).Error; err != nil {
				return err
			}
		}

		for i, sq := range scheme {
			question := buildQuestion(session.ID, sq, regions, gradings[i])
			if err := tx.Create(question).Error; err != nil {
				return fmt.Errorf("question %d: %w", sq.Number, err)
			}
		}

		if err := tx.Model(&model.GradingSession{}).
			Where("id = ?", session.ID).
			Update("total_marks", model.SchemeTotal(scheme)).Error; err != nil {
			return err
		}
		if _, err := recomputeSessionTotal(tx, session.ID); err != nil {
			return err
		}
		return transitionStatus(tx, current, model.StatusReady, "")
	})
	return err
}

// buildQuestion 组装题目及其步骤、结果；未检测到区域时使用按题号的条带
func buildQuestion(sessionID string, sq model.SchemeQuestion, regions map[int]placedRegion, grading Grading) *model.Question {
	bbox := model.FallbackBBox(sq.Number)
	page := 1
	var transcript string
	if pr, ok := regions[sq.Number]; ok {
		bbox = pr.region.BBox
		page = pr.page
		transcript = pr.region.RawText
	}

	stepGrades := make(map[string]StepGrade, len(grading.Steps))
	for _, sg := range grading.Steps {
		stepGrades[sg.Key] = sg
	}

	q := &model.Question{
		SessionID:    sessionID,
		Number:       sq.Number,
		QuestionText: sq.QuestionText,
		QuestionType: sq.QuestionType,
		MaxMarks:     sq.MaxMarks,
		PageNumber:   page,
		BBox:         datatypes.NewJSONType(bbox),
		Steps:        make([]model.QuestionStep, 0, len(sq.Steps)),
		Result: &model.GradingResult{
			ObtainedMarks: grading.ObtainedMarks,
			Confidence:    grading.Confidence,
			AIRemark:      grading.Remark,
			Transcript:    transcript,
		},
	}
	if !q.Result.Confidence.Valid() {
		q.Result.Confidence = model.ConfidenceLow
	}

	for idx, s := range sq.Steps {
		step := model.QuestionStep{
			StepKey:    s.Key,
			Label:      s.Label,
			MaxMarks:   s.MaxMarks,
			AIStatus:   model.StepLowConfidence,
			OrderIndex: idx,
		}
		if sg, ok := stepGrades[s.Key]; ok {
			step.ObtainedMarks = sg.ObtainedMarks
			step.AINote = sg.Note
			if sg.Status.Valid() {
				step.AIStatus = sg.Status
			}
		}
		q.Steps = append(q.Steps, step)
	}
	return q
}

// RecoverInterrupted 非持久队列重启后，遗留在 processing 的会话已无任务可跑
func (p *PipelineService) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := p.SessionRepo.ListByStatus(ctx, model.StatusPending, model.StatusProcessing)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range stale {
		if err := p.Aggregator.TransitionStatus(ctx, s.ID, model.StatusError, "interrupted by restart",
			model.StatusPending, model.StatusProcessing); err != nil {
			logger.Log.Warn("Recover session failed", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		logger.Log.Info("Interrupted sessions marked as error", zap.Int("count", n))
	}
	return n, nil
}
