// kapchan/attachments/pipeline.go
//
// Package attachments ingests uploaded images: MIME gate, decode,
// database row, original file, and a 300x300 bounded thumbnail.
package attachments

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"path"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register webp decoder

	"kapchan/config"
	"kapchan/database"
	"kapchan/models"
)

// allowedSubtypes is the image MIME whitelist. avif is accepted at the
// gate but has no registered decoder, so it fails the decode step.
var allowedSubtypes = map[string]bool{
	"gif": true, "jpg": true, "jpeg": true, "png": true, "webp": true, "avif": true,
}

// Pipeline persists uploads for the engine. The attachments row is
// written before any file lands in storage: a crash can leave an orphan
// row, never an orphan file reachable past the access gate.
type Pipeline struct {
	DB     *database.Service
	Store  models.StorageService
	Logger *slog.Logger
}

// Ingest validates, decodes, and persists one uploaded file for the
// given post. On any failure everything written so far is rolled back
// and an error is returned; the caller owns compensating the post.
func (p *Pipeline) Ingest(file multipart.File, header *multipart.FileHeader, postID int64, maxSize int64) (*models.Attachment, error) {
	contentType := header.Header.Get("Content-Type")
	subtype, ok := strings.CutPrefix(contentType, "image/")
	if !ok || !allowedSubtypes[strings.ToLower(subtype)] {
		return nil, fmt.Errorf("%w: unsupported attachment type %q", models.ErrValidation, contentType)
	}
	if header.Size > maxSize {
		return nil, fmt.Errorf("%w: attachment exceeds %d bytes", models.ErrValidation, maxSize)
	}

	limited := &io.LimitedReader{R: file, N: maxSize + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read upload: %v", models.ErrInfra, err)
	}
	if limited.N == 0 {
		return nil, fmt.Errorf("%w: attachment exceeds %d bytes", models.ErrValidation, maxSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: attachment is empty", models.ErrValidation)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode image: %v", models.ErrValidation, err)
	}
	bounds := img.Bounds()

	name := path.Base(header.Filename)
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: attachment has no usable file name", models.ErrValidation)
	}

	att := &models.Attachment{
		ID:                postID,
		Width:             bounds.Dx(),
		Height:            bounds.Dy(),
		FileSizeBytes:     int64(len(data)),
		FileName:          name,
		FileType:          contentType,
		FileLocation:      "files/" + strconv.FormatInt(postID, 10),
		ThumbnailLocation: "thumbnails/" + strconv.FormatInt(postID, 10),
	}

	// Row first, files second.
	if err := p.DB.InsertAttachment(att); err != nil {
		return nil, err
	}

	if err := p.Store.Save(att.FileLocation, att.FileName, data, contentType); err != nil {
		p.rollbackFiles(att)
		return nil, fmt.Errorf("%w: could not persist attachment: %v", models.ErrInfra, err)
	}

	thumb := imaging.Fit(img, config.ThumbnailWidth, config.ThumbnailHeight, imaging.Lanczos)
	thumbData, err := encodeThumbnail(thumb, subtype)
	if err != nil {
		p.rollbackFiles(att)
		return nil, fmt.Errorf("%w: could not encode thumbnail: %v", models.ErrInfra, err)
	}
	if err := p.Store.Save(att.ThumbnailLocation, att.FileName, thumbData, contentType); err != nil {
		p.rollbackFiles(att)
		return nil, fmt.Errorf("%w: could not persist thumbnail: %v", models.ErrInfra, err)
	}

	return att, nil
}

// rollbackFiles undoes a partial ingest: files best effort, then the row.
func (p *Pipeline) rollbackFiles(att *models.Attachment) {
	if err := p.Store.Remove(att.FileLocation, att.FileName); err != nil {
		p.Logger.Warn("Failed to remove attachment during rollback", "post_id", att.ID, "error", err)
	}
	if err := p.Store.Remove(att.ThumbnailLocation, att.FileName); err != nil {
		p.Logger.Warn("Failed to remove thumbnail during rollback", "post_id", att.ID, "error", err)
	}
	if err := p.DB.DeleteAttachmentRow(att.ID); err != nil {
		p.Logger.Error("Failed to remove attachment row during rollback", "post_id", att.ID, "error", err)
	}
}

// encodeThumbnail keeps png and gif sources in their own format;
// everything else becomes jpeg.
func encodeThumbnail(img image.Image, subtype string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(subtype) {
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85))
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
