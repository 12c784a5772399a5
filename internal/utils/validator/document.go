package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

const sniffLen = 512

// DocumentValidator checks downloaded source documents before processing.
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// FileInfo describes a validated file.
type FileInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Hash     string `json:"hash"`
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = &ValidatorConfig{}
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 100 * 1024 * 1024
	}
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = []string{"application/pdf"}
	}

	return &DocumentValidator{
		logger: log,
		config: config,
	}
}

// ValidateFile checks size and sniffed content type of the file at path.
// Rejections wrap models.ErrInvalidDocument.
func (v *DocumentValidator) ValidateFile(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	info := &FileInfo{Path: path, Size: stat.Size()}
	if info.Size == 0 {
		return nil, fmt.Errorf("%w: empty file", models.ErrInvalidDocument)
	}
	if info.Size > v.config.MaxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds maximum of %d bytes",
			models.ErrInvalidDocument, info.Size, v.config.MaxFileSize)
	}

	mimeType, err := detectMimeType(f)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	info.MimeType = mimeType
	if !v.allowed(mimeType) {
		return nil, fmt.Errorf("%w: unsupported content type %s", models.ErrInvalidDocument, mimeType)
	}

	hash, err := calculateHash(f)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	info.Hash = hash

	v.logger.Debug("Document validated",
		logger.String("path", path),
		logger.Int64("size", info.Size),
		logger.String("hash", info.Hash),
	)
	return info, nil
}

func (v *DocumentValidator) allowed(mimeType string) bool {
	for _, t := range v.config.AllowedTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

func detectMimeType(f *os.File) (string, error) {
	buffer := make([]byte, sniffLen)
	n, err := f.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buffer[:n]), nil
}

func calculateHash(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
