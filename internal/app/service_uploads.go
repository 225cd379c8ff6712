package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"time"

	"rfphub/api/internal/store"
	"rfphub/api/internal/util"
)

const presignExpiry = 15 * time.Minute

// maxUploadBytes caps source-document uploads at 25 MB.
const maxUploadBytes = 25 << 20

func (s *Service) UploadsEnabled() bool {
	return s.storage != nil
}

// CreateUpload stores a source document in object storage and records
// its metadata.
func (s *Service) CreateUpload(ctx context.Context, session Session, filename, contentType string, size int64, reader io.Reader) (map[string]any, error) {
	if s.storage == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}
	if filename == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "filename is required", nil)
	}
	if size <= 0 || size > maxUploadBytes {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "file size must be between 1 byte and 25 MB", map[string]any{"size": size})
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := util.NewID("upl")
	objectKey := fmt.Sprintf("uploads/%s/%s", id, path.Base(filename))

	if err := s.storage.Put(ctx, objectKey, reader, size, contentType); err != nil {
		return nil, err
	}

	upload := store.Upload{
		ID:          id,
		ObjectKey:   objectKey,
		Filename:    path.Base(filename),
		ContentType: contentType,
		Size:        size,
		OwnerID:     session.UserID,
		OwnerName:   session.UserName,
	}
	if err := s.store.InsertUpload(ctx, upload); err != nil {
		return nil, err
	}

	s.audit(ctx, session, "upload.create", "upload", id, map[string]any{
		"filename": upload.Filename,
		"size":     size,
	})
	return uploadView(upload), nil
}

func (s *Service) ListUploads(ctx context.Context) ([]map[string]any, error) {
	uploads, err := s.store.ListUploads(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(uploads))
	for _, upload := range uploads {
		items = append(items, uploadView(upload))
	}
	return items, nil
}

// UploadDownloadURL returns a short-lived presigned download link.
func (s *Service) UploadDownloadURL(ctx context.Context, id string) (map[string]any, error) {
	if s.storage == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}
	upload, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	url, err := s.storage.PresignedGetURL(ctx, upload.ObjectKey, upload.Filename, presignExpiry)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        upload.ID,
		"filename":  upload.Filename,
		"url":       url,
		"expiresIn": int(presignExpiry.Seconds()),
	}, nil
}

// DeleteUpload removes the metadata row and then the stored object.
// Object removal is best-effort: the metadata delete is the source of
// truth and an orphaned object only costs bucket space.
func (s *Service) DeleteUpload(ctx context.Context, session Session, id string) error {
	upload, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return err
	}
	found, err := s.store.DeleteUpload(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Upload not found", nil)
	}
	if s.storage != nil {
		if err := s.storage.Remove(ctx, upload.ObjectKey); err != nil {
			log.Printf("storage: remove object %s: %v", upload.ObjectKey, err)
		}
	}
	s.audit(ctx, session, "upload.delete", "upload", id, map[string]any{"filename": upload.Filename})
	return nil
}

func uploadView(upload store.Upload) map[string]any {
	return map[string]any{
		"id":          upload.ID,
		"filename":    upload.Filename,
		"contentType": upload.ContentType,
		"size":        upload.Size,
		"ownerId":     upload.OwnerID,
		"ownerName":   upload.OwnerName,
		"createdAt":   upload.CreatedAt,
	}
}
