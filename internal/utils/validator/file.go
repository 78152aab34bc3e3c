package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// 错误码
const (
	CodeEmptyFile       = "EMPTY_FILE"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidMimeType = "INVALID_MIME_TYPE"
	CodeImageTooLarge   = "IMAGE_TOO_LARGE"
	CodeTooManyPages    = "TOO_MANY_PAGES"
	CodeUnreadableFile  = "UNREADABLE_FILE"
)

// FileValidator 文件验证器
type FileValidator struct {
	logger logger.Logger
	config ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64    // 最大文件大小（字节）
	AllowedTypes []string // 允许的MIME类型，支持 "image/*"
	MaxDimension int      // 图片最大边长
	MaxPageCount int      // PDF最大页数
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Pages     int    `json:"pages,omitempty"`
	Title     string `json:"title,omitempty"`
}

// File is one upload to validate. Size is the declared size, which may
// exceed len(Data) when the reader stopped at the limit.
type File struct {
	Name string
	Size int64
	Data []byte
}

// DefaultConfig returns limits suitable for the image and PDF tools.
func DefaultConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxFileSize:  50 * 1024 * 1024,
		AllowedTypes: []string{"image/*", "application/pdf"},
		MaxDimension: 12000,
		MaxPageCount: 1000,
	}
}

// NewFileValidator 创建新的文件验证器
func NewFileValidator(log logger.Logger, config *ValidatorConfig) *FileValidator {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	return &FileValidator{
		logger: log,
		config: cfg,
	}
}

// WithAllowedTypes returns a validator sharing the limits but accepting only types.
func (v *FileValidator) WithAllowedTypes(types []string) *FileValidator {
	cp := *v
	cp.config.AllowedTypes = append([]string(nil), types...)
	return &cp
}

// Config returns the effective configuration.
func (v *FileValidator) Config() ValidatorConfig {
	return v.config
}

// ValidateFile 验证单个文件
func (v *FileValidator) ValidateFile(f File) *ValidationResult {
	size := f.Size
	if size < int64(len(f.Data)) {
		size = int64(len(f.Data))
	}
	result := &ValidationResult{
		IsValid: true,
		Errors:  make([]ValidationError, 0),
		FileInfo: FileInfo{
			Filename:  f.Name,
			Size:      size,
			Extension: strings.ToLower(filepath.Ext(f.Name)),
		},
	}

	// 基本验证
	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
		return result
	}

	sum := sha256.Sum256(f.Data)
	result.FileInfo.Hash = hex.EncodeToString(sum[:])

	// MIME类型验证
	mt := mimetype.Detect(f.Data)
	result.FileInfo.MimeType = baseType(mt.String())
	if errs := v.validateMimeType(mt); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
		return result
	}

	// 根据文件类型进行特定验证
	if errs := v.performTypeSpecificValidation(f.Data, &result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	}

	if !result.IsValid {
		v.logger.Debug("File rejected",
			logger.String("filename", f.Name),
			logger.String("code", result.Errors[0].Code),
		)
	}
	return result
}

// ValidateFiles 批量验证文件，结果与输入顺序一致
func (v *FileValidator) ValidateFiles(files []File) []*ValidationResult {
	results := make([]*ValidationResult, len(files))
	var wg sync.WaitGroup

	for i, file := range files {
		wg.Add(1)
		go func(index int, file File) {
			defer wg.Done()
			results[index] = v.ValidateFile(file)
		}(i, file)
	}

	wg.Wait()
	return results
}

// 基本验证
func (v *FileValidator) performBasicValidation(info FileInfo) []ValidationError {
	var errors []ValidationError

	if info.Size == 0 {
		errors = append(errors, ValidationError{
			Code:    CodeEmptyFile,
			Message: "File is empty",
			Field:   "size",
		})
	}

	if v.config.MaxFileSize > 0 && info.Size > v.config.MaxFileSize {
		errors = append(errors, ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}

	return errors
}

// MIME类型验证
func (v *FileValidator) validateMimeType(mt *mimetype.MIME) []ValidationError {
	if Allowed(mt, v.config.AllowedTypes) {
		return nil
	}
	return []ValidationError{{
		Code:    CodeInvalidMimeType,
		Message: fmt.Sprintf("File type %s is not allowed", baseType(mt.String())),
		Field:   "mimeType",
	}}
}

// Allowed reports whether mt matches one of the patterns. A pattern is a
// full MIME type or a "type/*" wildcard; an empty list allows everything.
func Allowed(mt *mimetype.MIME, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	base := baseType(mt.String())
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if strings.HasPrefix(base, prefix+"/") {
				return true
			}
			continue
		}
		if mt.Is(p) {
			return true
		}
	}
	return false
}

// 特定类型验证
func (v *FileValidator) performTypeSpecificValidation(data []byte, info *FileInfo) []ValidationError {
	switch {
	case info.MimeType == "application/pdf":
		return v.validatePDF(data, info)
	case strings.HasPrefix(info.MimeType, "image/"):
		return v.validateImage(data, info)
	}
	return nil
}

// PDF特定验证
func (v *FileValidator) validatePDF(data []byte, info *FileInfo) []ValidationError {
	meta, err := pdfops.Inspect(data)
	if err != nil {
		return []ValidationError{{
			Code:    CodeUnreadableFile,
			Message: fmt.Sprintf("Unable to read PDF: %v", err),
		}}
	}
	info.Pages = meta.Pages
	info.Title = meta.Title

	if v.config.MaxPageCount > 0 && meta.Pages > v.config.MaxPageCount {
		return []ValidationError{{
			Code:    CodeTooManyPages,
			Message: fmt.Sprintf("PDF has %d pages, maximum is %d", meta.Pages, v.config.MaxPageCount),
			Field:   "pages",
		}}
	}
	return nil
}

// 图片特定验证
func (v *FileValidator) validateImage(data []byte, info *FileInfo) []ValidationError {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return []ValidationError{{
			Code:    CodeUnreadableFile,
			Message: fmt.Sprintf("Unable to decode image: %v", err),
		}}
	}
	info.Width = cfg.Width
	info.Height = cfg.Height

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return []ValidationError{{
			Code:    CodeUnreadableFile,
			Message: "Image has no pixels",
		}}
	}
	if v.config.MaxDimension > 0 && (cfg.Width > v.config.MaxDimension || cfg.Height > v.config.MaxDimension) {
		return []ValidationError{{
			Code:    CodeImageTooLarge,
			Message: fmt.Sprintf("Image %dx%d exceeds maximum dimension %d", cfg.Width, cfg.Height, v.config.MaxDimension),
			Field:   "dimensions",
		}}
	}
	return nil
}

func baseType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
