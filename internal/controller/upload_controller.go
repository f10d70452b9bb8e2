package controller

import (
	"gradeglide_backend/internal/service"
	"gradeglide_backend/internal/util"
	"io"

	"github.com/gin-gonic/gin"
)

type UploadController struct {
	UploadService *service.UploadService
}

func NewUploadController(uploadService *service.UploadService) *UploadController {
	return &UploadController{UploadService: uploadService}
}

// UploadSheet godoc
// @Summary 上传答卷
// @Description 上传 PDF 或图片答卷，立即返回会话 ID，评分在后台进行
// @Tags 答卷
// @Accept multipart/form-data
// @Produce json
// @Param answer_sheet formData file true "答卷文件"
// @Param student_name formData string false "学生姓名"
// @Param roll_no formData string false "学号"
// @Param subject formData string false "科目"
// @Param exam_title formData string false "考试名称"
// @Param answer_key_id formData string false "答案键 ID"
// @Success 202 {object} util.Response{data=object} "已入队"
// @Failure 400 {object} util.Response
// @Failure 413 {object} util.Response
// @Failure 415 {object} util.Response
// @Router /api/upload/session [post]
func (c *UploadController) UploadSheet(ctx *gin.Context) {
	var req service.UploadRequest
	if err := ctx.ShouldBind(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	fileHeader, err := ctx.FormFile("answer_sheet")
	if err != nil {
		util.BadRequest(ctx, "answer_sheet file is required")
		return
	}
	if err := c.UploadService.ValidateSheet(fileHeader.Filename, fileHeader.Size); err != nil {
		respondError(ctx, err)
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

	session, err := c.UploadService.CreateSession(ctx.Request.Context(), req, fileHeader.Filename, data)
	if err != nil {
		respondError(ctx, err)
		return
	}

	util.Accepted(ctx, gin.H{
		"session_id": session.ID,
		"status":     session.Status,
	})
}
