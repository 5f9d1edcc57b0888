package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/telemetry/metrics"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/pkg"
)

const (
	DefaultMaxFileSize = 2 << 20 // 2 MiB
	// room left in a capped multipart body for the non-file fields
	multipartOverhead = 1 << 20
	maxSlugLength     = 60
)

type StoredFile struct {
	// Path is the servable path (or URL) saved into the owning record.
	Path        string
	Name        string
	Size        int64
	ContentType string
}

type Validator struct {
	storage     Storage
	maxFileSize int64
	metrics     *metrics.Manager
	now         func() time.Time
}

func NewValidator(storage Storage, maxFileSize int64, metricsManager *metrics.Manager) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Validator{
		storage:     storage,
		maxFileSize: maxFileSize,
		metrics:     metricsManager,
		now:         time.Now,
	}
}

// ParseRequest parses url-encoded and multipart bodies into r.Form / r.MultipartForm.
// Multipart bodies are capped, so an oversized upload never gets fully read.
func (v *Validator) ParseRequest(w http.ResponseWriter, r *http.Request) error {
	if !pkg.IsMultipartRequest(r) {
		if err := r.ParseForm(); err != nil {
			return apperr.Wrap(apperr.KindValidation, err, "malformed form body")
		}
		return nil
	}

	limit := v.maxFileSize + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			return apperr.New(
				apperr.KindFileTooLarge,
				"request too large, files up to %s are accepted",
				humanize.IBytes(uint64(v.maxFileSize)),
			)
		}
		return apperr.Wrap(apperr.KindValidation, err, "malformed multipart body")
	}

	return nil
}

// Accept validates the single file a request may carry against the policy and stores it.
// Returns nil, nil if the form holds no file at all.
func (v *Validator) Accept(ctx context.Context, form *multipart.Form, policy Policy) (_ *StoredFile, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "upload.accept")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("upload.policy", policy.Name))

	if form == nil || len(form.File) == 0 {
		return nil, nil
	}

	var (
		field string
		files []*multipart.FileHeader
	)
	for f, headers := range form.File {
		for _, fh := range headers {
			field = f
			files = append(files, fh)
		}
	}

	switch {
	case len(files) == 0:
		return nil, nil
	case len(files) > 1:
		return nil, v.reject(policy, apperr.KindUploadRejected, "only one file per request is accepted, got %d", len(files))
	case field != policy.Field:
		return nil, v.reject(policy, apperr.KindUploadRejected, "unexpected file field %q, expected %q", field, policy.Field)
	}

	fh := files[0]
	if fh.Size > v.maxFileSize {
		return nil, v.reject(
			policy, apperr.KindFileTooLarge,
			"file %s is %s, files up to %s are accepted",
			fh.Filename, humanize.IBytes(uint64(fh.Size)), humanize.IBytes(uint64(v.maxFileSize)),
		)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	wantType, ok := policy.expectedMIME(ext)
	if !ok {
		return nil, v.reject(policy, apperr.KindUploadRejected, "images only: file extension %q not allowed", ext)
	}

	declaredType, _, err := mime.ParseMediaType(fh.Header.Get("Content-Type"))
	if err != nil || declaredType != wantType {
		return nil, v.reject(
			policy, apperr.KindUploadRejected,
			"images only: content type %q does not match .%s", fh.Header.Get("Content-Type"), ext,
		)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warnf("close uploaded file %s: %s", fh.Filename, err)
		}
	}()

	content, err := io.ReadAll(io.LimitReader(f, v.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}
	if int64(len(content)) > v.maxFileSize {
		return nil, v.reject(
			policy, apperr.KindFileTooLarge,
			"file %s exceeds %s", fh.Filename, humanize.IBytes(uint64(v.maxFileSize)),
		)
	}

	sniffedType := http.DetectContentType(content)
	if sniffedType != wantType {
		return nil, v.reject(policy, apperr.KindUploadRejected, "images only: file content is %q, expected %q", sniffedType, wantType)
	}

	name := v.storedName(fh.Filename, ext)
	storedPath, err := v.storage.Save(ctx, policy.Dir, name, sniffedType, bytes.NewReader(content))
	if err != nil {
		v.count(policy, "error")
		return nil, apperr.Store(err, "store uploaded file")
	}

	v.count(policy, "accepted")
	log.Debugf("upload [%s] stored: %s (%s)", policy.Name, storedPath, humanize.IBytes(uint64(len(content))))

	return &StoredFile{
		Path:        storedPath,
		Name:        name,
		Size:        int64(len(content)),
		ContentType: sniffedType,
	}, nil
}

// Discard removes a stored file whose owning record could not be written.
func (v *Validator) Discard(ctx context.Context, stored *StoredFile) {
	if stored == nil {
		return
	}
	if err := v.storage.Remove(ctx, stored.Path); err != nil {
		log.Errorf("discard upload %s: %s", stored.Path, err)
		return
	}
	log.Debugf("upload discarded: %s", stored.Path)
}

func (v *Validator) storedName(originalName, ext string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	baseSlug := slug.Make(base)
	if len(baseSlug) > maxSlugLength {
		baseSlug = strings.Trim(baseSlug[:maxSlugLength], "-")
	}
	if baseSlug == "" {
		baseSlug = "file"
	}
	return fmt.Sprintf("%d-%s-%s.%s", v.now().UnixMilli(), uuid.NewString(), baseSlug, ext)
}

func (v *Validator) reject(policy Policy, kind apperr.Kind, format string, args ...any) error {
	v.count(policy, "rejected")
	return apperr.New(kind, format, args...)
}

func (v *Validator) count(policy Policy, result string) {
	if v.metrics == nil {
		return
	}
	v.metrics.CounterUploads.WithLabelValues(policy.Name, result).Inc()
}
