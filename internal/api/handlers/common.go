package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/api/types"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
)

const defaultMaxUpload = 5 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, types.APIResponse{
		Success: true,
		Data:    data,
		Meta:    &types.Meta{RequestID: middleware.GetRequestID(r.Context())},
	})
}

// writeError derives the status from the error code. Unclassified errors are
// logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := appErr.CodeOf(err)
	status := types.StatusFor(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("request failed",
			zap.String("id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, types.APIResponse{
		Success: false,
		Error:   types.FromAppError(err),
		Meta:    &types.Meta{RequestID: middleware.GetRequestID(r.Context())},
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, "invalid json")
	}
	return nil
}

// readUpload returns the named multipart file. A missing file yields nil
// data without error when optional is set.
func readUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64, optional bool) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, appErr.New(appErr.CodeInvalid, "upload too large")
			}
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid multipart form")
		}
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		if optional && errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, appErr.Validation(map[string]string{field: field + " file is required"})
	}
	defer f.Close()
	if hdr.Size > maxBytes {
		return nil, appErr.New(appErr.CodeInvalid, "upload too large")
	}
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "read upload failed")
	}
	if int64(len(data)) > maxBytes {
		return nil, appErr.New(appErr.CodeInvalid, "upload too large")
	}
	return data, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, appErr.New(appErr.CodeInvalid, "invalid "+name)
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || n <= 0 {
		return 0, appErr.New(appErr.CodeInvalid, "invalid "+name)
	}
	return n, nil
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}
