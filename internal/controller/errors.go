package controller

import (
	"errors"
	"gradeglide_backend/internal/util"
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError 领域错误映射为 4xx，其余记录日志后返回 500
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrSessionNotFound),
		errors.Is(err, util.ErrQuestionNotFound),
		errors.Is(err, util.ErrStepNotFound),
		errors.Is(err, util.ErrPageNotFound),
		errors.Is(err, util.ErrAnswerKeyNotFound):
		util.NotFoundMessage(ctx, err.Error())
	case errors.Is(err, util.ErrSessionFinalised),
		errors.Is(err, util.ErrSessionNotReady),
		errors.Is(err, util.ErrInvalidTransition):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrInvalidMarks),
		errors.Is(err, util.ErrInvalidAnswerKey),
		errors.Is(err, util.ErrEmptyUpload):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrUnsupportedFileType):
		util.Error(ctx, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, util.ErrFileTooLarge):
		util.Error(ctx, http.StatusRequestEntityTooLarge, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
