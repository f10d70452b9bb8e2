package controller

import (
	"gradeglide_backend/internal/service"
	"gradeglide_backend/internal/util"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AnswerKeyController struct {
	AnswerKeyService *service.AnswerKeyService
	Extractor        *service.SchemeExtractor
	MaxBytes         int64
}

func NewAnswerKeyController(answerKeyService *service.AnswerKeyService, extractor *service.SchemeExtractor, maxUploadMB int) *AnswerKeyController {
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}
	return &AnswerKeyController{
		AnswerKeyService: answerKeyService,
		Extractor:        extractor,
		MaxBytes:         int64(maxUploadMB) << 20,
	}
}

// @Summary 答案键列表
// @Tags 答案键
// @Produce json
// @Success 200 {object} util.Response{data=[]service.AnswerKeySummary}
// @Router /api/answer-keys [get]
func (c *AnswerKeyController) List(ctx *gin.Context) {
	keys, err := c.AnswerKeyService.List(ctx.Request.Context())
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, keys)
}

// @Summary 保存答案键
// @Tags 答案键
// @Accept json
// @Produce json
// @Param body body service.AnswerKeyRequest true "答案键"
// @Success 201 {object} util.Response{data=service.AnswerKeyDetail}
// @Failure 400 {object} util.Response
// @Router /api/answer-keys [post]
func (c *AnswerKeyController) Create(ctx *gin.Context) {
	var req service.AnswerKeyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	key, err := c.AnswerKeyService.Create(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, key)
}

// @Summary 从文档提取答案键
// @Description 上传 PDF/DOCX/图片，返回模型提取的题目供审核，不落库；提取失败时 error 字段说明原因
// @Tags 答案键
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "评分方案文档"
// @Success 200 {object} util.Response{data=service.ExtractionResult}
// @Failure 400 {object} util.Response
// @Failure 415 {object} util.Response
// @Router /api/answer-keys/extract [post]
func (c *AnswerKeyController) Extract(ctx *gin.Context) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	if !util.HasAllowedExt(fileHeader.Filename, util.AllowedKeyExtensions) {
		util.Error(ctx, http.StatusUnsupportedMediaType,
			"Unsupported file type. Please upload a PDF, DOCX, or image.")
		return
	}
	if fileHeader.Size > c.MaxBytes {
		util.Error(ctx, http.StatusRequestEntityTooLarge, util.ErrFileTooLarge.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	result := c.Extractor.ExtractFromFile(ctx.Request.Context(), fileHeader.Filename, data)
	util.Success(ctx, result)
}

// @Summary 答案键详情
// @Tags 答案键
// @Produce json
// @Param id path string true "答案键ID"
// @Success 200 {object} util.Response{data=service.AnswerKeyDetail}
// @Failure 404 {object} util.Response
// @Router /api/answer-keys/{id} [get]
func (c *AnswerKeyController) Get(ctx *gin.Context) {
	key, err := c.AnswerKeyService.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, key)
}

// @Summary 删除答案键
// @Description 已使用该答案键的会话不受影响
// @Tags 答案键
// @Produce json
// @Param id path string true "答案键ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/answer-keys/{id} [delete]
func (c *AnswerKeyController) Delete(ctx *gin.Context) {
	if err := c.AnswerKeyService.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": true})
}
