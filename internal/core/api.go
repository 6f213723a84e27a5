package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"recipebox/internal/coordinator"
	"recipebox/internal/ui"
	"strings"

	"github.com/a-h/templ"
	"github.com/google/uuid"
)

const (
	// UserHeader names the user a request acts for.
	UserHeader = "X-User-ID"

	ImagesDir  = "images"
	UploadsDir = "uploads"

	// StatusClientClosedRequest is reported when the client went away
	// before the commit finished.
	StatusClientClosedRequest = 499

	maxFormMemory = 1 << 20
	formOverhead  = 1 << 20
)

// statusFor maps an outcome kind to the HTTP status returned to the client.
func statusFor(kind coordinator.Kind) int {
	switch kind {
	case coordinator.KindSuccess:
		return http.StatusOK
	case coordinator.KindEmptyFile,
		coordinator.KindExceededMaximumSize,
		coordinator.KindInvalidExtensionOrSignature:
		return http.StatusBadRequest
	case coordinator.KindUniqueConstraintViolation,
		coordinator.KindConcurrencyConflict:
		return http.StatusConflict
	case coordinator.KindNotFound:
		return http.StatusNotFound
	case coordinator.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// newImageName returns a fresh stored name keeping the upload's extension.
func newImageName(fileName string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
}

// newTempPath returns a staging path unique to one commit attempt.
func newTempPath() string {
	return UploadsDir + "/" + uuid.NewString() + ".tmp"
}

func imagePath(name string) string {
	return ImagesDir + "/" + name
}

// validImageName rejects names that could address anything outside
// ImagesDir.
func validImageName(name string) bool {
	return name != "" &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`)
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("Failed to render response", "url", r.URL.Path, "err", err)
	}
}

func writeOutcome(w http.ResponseWriter, r *http.Request, out coordinator.Outcome) {
	render(w, r, statusFor(out.Kind), ui.Alert(out.Kind.String(), out.Message()))
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	render(w, r, status, ui.Alert("Request", message))
}

// writeFormError reports a request body that could not be parsed.
func (s *Server) writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeMessage(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("The upload exceeds %d MB.", s.policy.MaxSizeMegabytes()))
		return
	}

	slog.Debug("Unreadable form", "url", r.URL.Path, "err", err)
	writeMessage(w, r, http.StatusBadRequest, "The form could not be read.")
}
