package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"

	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// ReceiptStorage файловое хранилище чеков банковских переводов.
type ReceiptStorage struct {
	rootPath       string
	maxUploadBytes int64
}

func NewReceiptStorage(rootPath string, maxUploadMB int64) (*ReceiptStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &ReceiptStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save проверяет тип по содержимому (изображение или PDF) и возвращает относительный путь.
func (s *ReceiptStorage) Save(ctx context.Context, paymentID uuid.UUID, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxUploadBytes+1))
	if err != nil {
		return "", 0, fmt.Errorf("storage: ошибка чтения файла: %w", err)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return "", 0, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("размер файла превышает лимит %d байт", s.maxUploadBytes))
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", 0, apperror.New(apperror.ErrCodeValidation, "не удалось определить тип файла")
	}
	if !filetype.IsImage(data) && kind != matchers.TypePdf {
		return "", 0, apperror.New(apperror.ErrCodeValidation, "чек должен быть изображением или PDF")
	}

	dir := filepath.Join(s.rootPath, paymentID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать каталог платежа: %w", err)
	}

	fileName := fmt.Sprintf("receipt_%d.%s", time.Now().UnixNano(), kind.Extension)
	targetPath := filepath.Join(dir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	written, err := io.Copy(f, bytes.NewReader(data))
	if err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", 0, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return filepath.Join(paymentID.String(), fileName), written, nil
}

// Delete удаляет файл из хранилища.
func (s *ReceiptStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.rootPath, filepath.Clean("/"+relativePath))
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}
