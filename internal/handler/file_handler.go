package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"ragchat/internal/apperr"
	"ragchat/internal/middleware"
	"ragchat/internal/model"
	"ragchat/internal/service"
	"ragchat/pkg/extract"
	"ragchat/pkg/log"
	"ragchat/pkg/tasks"
)

// 在文件大小限制之外为 multipart 封装预留的空间
const formOverhead = 1 << 20

// FileHandler 负责文档的上传、列表和删除。
type FileHandler struct {
	files    service.FileService
	maxBytes int64
	tempDir  string
}

// NewFileHandler 创建一个 FileHandler。maxUploadMB 限制单个文件大小，tempDir 为空时使用系统默认目录。
func NewFileHandler(files service.FileService, maxUploadMB int64, tempDir string) *FileHandler {
	return &FileHandler{files: files, maxBytes: maxUploadMB << 20, tempDir: tempDir}
}

// Upload 处理 POST /upload，multipart 字段为 file 和 sessionId。
func (h *FileHandler) Upload(c *gin.Context) {
	const op = "handler.Upload"
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+formOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			invalidRequest(c, op, fmt.Sprintf("file exceeds the %d MB limit", h.maxBytes>>20))
			return
		}
		invalidRequest(c, op, "file is required")
		return
	}
	sessionID := strings.TrimSpace(c.PostForm("sessionId"))
	if sessionID == "" {
		invalidRequest(c, op, "sessionId is required")
		return
	}
	if fileHeader.Size > h.maxBytes {
		invalidRequest(c, op, fmt.Sprintf("file exceeds the %d MB limit", h.maxBytes>>20))
		return
	}
	fileName := filepath.Base(strings.ReplaceAll(fileHeader.Filename, "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		invalidRequest(c, op, "file name is required")
		return
	}

	mimeType := detectMIME(fileHeader)
	if !extract.Supported(mimeType) {
		writeError(c, apperr.E(apperr.CodeUnsupportedFileType, op, "only text/plain and application/pdf are supported", nil))
		return
	}

	tempPath, err := h.saveTemp(fileHeader)
	if err != nil {
		writeError(c, apperr.E(apperr.CodeInternal, op, "failed to store upload", err))
		return
	}

	chunks, err := h.files.Upload(c.Request.Context(), tasks.IngestTask{
		TempPath:  tempPath,
		MimeType:  extract.MediaType(mimeType),
		UserID:    middleware.UserID(c),
		SessionID: sessionID,
		FileName:  fileName,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "File processed and stored successfully",
		"fileName": fileName,
		"chunks":   chunks,
	})
}

// List 处理 GET /files?sessionId=。
func (h *FileHandler) List(c *gin.Context) {
	files, err := h.files.List(c.Request.Context(), middleware.UserID(c), c.Query("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if files == nil {
		files = []model.UploadedFile{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

type removeFileRequest struct {
	FileName  string `json:"fileName"`
	SessionID string `json:"sessionId"`
}

// Remove 处理 POST /files/remove。
func (h *FileHandler) Remove(c *gin.Context) {
	var req removeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "handler.RemoveFile", "invalid request body")
		return
	}

	report, err := h.files.Remove(c.Request.Context(), middleware.UserID(c), req.SessionID, req.FileName)
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{
		"message":       "File removed",
		"vectorDeleted": report.VectorDeleted,
		"recordDeleted": report.RecordDeleted,
		"objectDeleted": report.ObjectDeleted,
	}
	if !report.VectorDeleted || !report.RecordDeleted || !report.ObjectDeleted {
		body["code"] = apperr.CodePartialCleanupFailure
		body["message"] = "File removed, some cleanup is pending retry"
	}
	c.JSON(http.StatusOK, body)
}

func (h *FileHandler) saveTemp(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.tempDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	log.Debugf("[Upload] stored %s (%d bytes) at %s", fh.Filename, fh.Size, dst.Name())
	return dst.Name(), nil
}

// detectMIME 优先使用表单声明的类型，缺失或为通用类型时根据扩展名判断。
func detectMIME(fh *multipart.FileHeader) string {
	declared := extract.MediaType(fh.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".txt", ".text", ".md":
		return extract.MIMEText
	case ".pdf":
		return extract.MIMEPDF
	}
	return declared
}
