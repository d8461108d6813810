package httpapi

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/MimeLyc/transcription-service/pkg/file"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

const uploadField = "audio"

var allowedMIMETypes = []string{
	"audio/mpeg",
	"audio/mp4",
	"audio/x-m4a",
	"audio/wav",
	"audio/webm",
	"video/mp4",
	"video/webm",
}

type upload struct {
	Path         string
	OriginalName string
	Size         int64
}

// multipartOverhead leaves room for boundaries and headers on top of the
// file size limit.
const multipartOverhead = 1 << 20

// receiveUpload streams the "audio" part into the upload dir. It writes the
// error response itself and returns ok=false on failure.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return upload{}, false
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "No file uploaded")
			return upload{}, false
		}
		if err != nil {
			writeUploadError(w, err)
			return upload{}, false
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		mediaType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if !slices.Contains(allowedMIMETypes, mediaType) {
			_ = part.Close()
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %q", mediaType))
			return upload{}, false
		}

		up, err := s.storeUpload(part, part.FileName())
		_ = part.Close()
		if err != nil {
			writeUploadError(w, err)
			return upload{}, false
		}
		return up, true
	}
}

func (s *Server) storeUpload(src io.Reader, originalName string) (upload, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return upload{}, fmt.Errorf("create upload dir: %w", err)
	}

	name := fmt.Sprintf("audio-%d-%d%s", time.Now().UnixMilli(), rand.Int64N(1_000_000_000), file.CleanExt(originalName))
	dst := filepath.Join(s.uploadDir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return upload{}, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(src, s.maxUploadBytes+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxUploadBytes {
		err = &http.MaxBytesError{Limit: s.maxUploadBytes}
	}
	if err != nil {
		removeUpload(dst)
		return upload{}, err
	}
	return upload{Path: dst, OriginalName: filepath.Base(originalName), Size: n}, nil
}

func writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large, limit is %d MB", maxErr.Limit>>20))
		return
	}
	log.Error("Failed to receive upload: %v", err)
	writeError(w, http.StatusInternalServerError, "Failed to receive upload")
}

func removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove upload %s: %v", path, err)
	}
}
