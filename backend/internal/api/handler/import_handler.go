package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/service"
	"qr-attendance/backend/pkg/response"
)

// ImportHandler 批量导入 HTTP 处理器（管理员）
type ImportHandler struct {
	importSvc   service.ImportService
	maxFileSize int64
}

// NewImportHandler 创建 ImportHandler，maxFileSize<=0 时不限制
func NewImportHandler(importSvc service.ImportService, maxFileSize int64) *ImportHandler {
	return &ImportHandler{importSvc: importSvc, maxFileSize: maxFileSize}
}

// ImportStudents 从 xlsx 导入学生（multipart 字段 file），任一行无效则整体失败
// POST /api/v1/admin/students/import
func (h *ImportHandler) ImportStudents(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			response.Error(c, http.StatusRequestEntityTooLarge, 13004, "文件过大")
			return
		}
		response.BadRequest(c, 13005, "缺少上传文件")
		return
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".xlsx") {
		response.BadRequest(c, 13003, "仅支持 .xlsx 文件")
		return
	}
	if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
		response.Error(c, http.StatusRequestEntityTooLarge, 13004, "文件过大")
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, 13003, "无法读取上传文件")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.BadRequest(c, 13003, "无法读取上传文件")
		return
	}

	result, err := h.importSvc.ImportStudents(c.Request.Context(), data)
	if err != nil {
		h.handleImportError(c, err)
		return
	}
	response.Created(c, result)
}

func (h *ImportHandler) handleImportError(c *gin.Context, err error) {
	var ie *service.ImportError
	switch {
	case errors.As(err, &ie):
		response.ErrorWithData(c, http.StatusBadRequest, 13003, ie.Error(), ie.Rows)
	default:
		if !handleCommonError(c, err) {
			response.InternalError(c)
		}
	}
}
