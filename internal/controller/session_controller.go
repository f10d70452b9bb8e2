package controller

import (
	"fmt"
	"gradeglide_backend/internal/service"
	"gradeglide_backend/internal/util"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type SessionController struct {
	SessionService  *service.SessionService
	Aggregator      *service.AggregatorService
	ExportService   *service.ExportService
	AnnotateService *service.AnnotateService
}

func NewSessionController(
	sessionService *service.SessionService,
	aggregator *service.AggregatorService,
	exportService *service.ExportService,
	annotateService *service.AnnotateService,
) *SessionController {
	return &SessionController{
		SessionService:  sessionService,
		Aggregator:      aggregator,
		ExportService:   exportService,
		AnnotateService: annotateService,
	}
}

// @Summary 会话列表
// @Description 按创建时间倒序
// @Tags 会话
// @Produce json
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(50)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/sessions [get]
func (c *SessionController) List(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))

	sessions, total, err := c.SessionService.List(ctx.Request.Context(), page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{
		List:  sessions,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// @Summary 仪表盘统计
// @Tags 会话
// @Produce json
// @Success 200 {object} util.Response{data=service.DashboardStats}
// @Router /api/sessions/stats [get]
func (c *SessionController) Stats(ctx *gin.Context) {
	stats, err := c.SessionService.Stats(ctx.Request.Context())
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}

// @Summary 会话详情
// @Description 含题目、步骤、评分结果和页面图片
// @Tags 会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=service.SessionDetail}
// @Failure 404 {object} util.Response
// @Router /api/sessions/{id} [get]
func (c *SessionController) Get(ctx *gin.Context) {
	detail, err := c.SessionService.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// @Summary 删除会话
// @Description 级联删除题目、步骤、结果与页面文件
// @Tags 会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/sessions/{id} [delete]
func (c *SessionController) Delete(ctx *gin.Context) {
	if err := c.SessionService.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": true})
}

// @Summary 人工改分
// @Description 带 step_id 时修改步骤分（id 或 step_key），否则修改题目分；返回新的会话总分。分数须在 0 到该步骤/题目满分之间，超出范围返回 400，不做截断
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param body body service.MarkUpdate true "改分内容"
// @Success 200 {object} util.Response{data=object}
// @Failure 400 {object} util.Response "分数为负或超过满分"
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "会话已定稿"
// @Router /api/sessions/{id}/marks [patch]
func (c *SessionController) UpdateMarks(ctx *gin.Context) {
	var req service.MarkUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	total, question, err := c.Aggregator.ApplyMarkUpdate(ctx.Request.Context(), ctx.Param("id"), req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"ok":           true,
		"sessionTotal": total,
		"question":     service.ToQuestionView(*question),
	})
}

// @Summary 定稿
// @Description 锁定所有评分结果，会话状态变为 completed；可重复调用
// @Tags 会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=object}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "会话尚未评分完成"
// @Router /api/sessions/{id}/finalise [post]
func (c *SessionController) Finalise(ctx *gin.Context) {
	session, err := c.Aggregator.Finalise(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"ok": true, "status": session.Status})
}

// @Summary 导出会话
// @Tags 会话
// @Produce json
// @Produce text/csv
// @Param id path string true "会话ID"
// @Param format query string false "json 或 csv" Enums(json, csv) default(json)
// @Success 200 {file} file
// @Failure 404 {object} util.Response
// @Router /api/sessions/{id}/export [get]
func (c *SessionController) Export(ctx *gin.Context) {
	format := ctx.DefaultQuery("format", service.ExportJSON)
	if format != service.ExportJSON && format != service.ExportCSV {
		util.BadRequest(ctx, "format must be json or csv")
		return
	}

	file, err := c.ExportService.Export(ctx.Request.Context(), ctx.Param("id"), format)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Filename))
	ctx.Data(http.StatusOK, file.ContentType, file.Data)
}

func pageParam(ctx *gin.Context) (int, bool) {
	page, err := strconv.Atoi(ctx.Param("page"))
	if err != nil || page < 1 {
		util.BadRequest(ctx, "invalid page number")
		return 0, false
	}
	return page, true
}

// @Summary 页面图片
// @Tags 会话
// @Produce png
// @Param id path string true "会话ID"
// @Param page path int true "页码"
// @Success 200 {file} file
// @Failure 404 {object} util.Response
// @Router /api/sessions/{id}/pages/{page} [get]
func (c *SessionController) Page(ctx *gin.Context) {
	page, ok := pageParam(ctx)
	if !ok {
		return
	}

	rc, _, err := c.SessionService.OpenPage(ctx.Request.Context(), ctx.Param("id"), page)
	if err != nil {
		respondError(ctx, err)
		return
	}
	defer rc.Close()

	ctx.Header("Cache-Control", "private, max-age=3600")
	ctx.Header("Content-Type", util.MimePNG)
	ctx.Status(http.StatusOK)
	if _, err := io.Copy(ctx.Writer, rc); err != nil {
		_ = ctx.Error(err)
	}
}

// @Summary 标注后的页面
// @Description 在页面上画出题目区域及得分
// @Tags 会话
// @Produce png
// @Param id path string true "会话ID"
// @Param page path int true "页码"
// @Success 200 {file} file
// @Failure 404 {object} util.Response
// @Router /api/sessions/{id}/pages/{page}/annotated [get]
func (c *SessionController) AnnotatedPage(ctx *gin.Context) {
	page, ok := pageParam(ctx)
	if !ok {
		return
	}

	data, err := c.AnnotateService.AnnotatedPage(ctx.Request.Context(), ctx.Param("id"), page)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, util.MimePNG, data)
}
