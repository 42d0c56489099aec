package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

type uploadResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// fileIDPattern matches the uuid-plus-extension ids this package mints
// for uploads: handleFile rejects anything else before it ever reaches
// filepath.Join, so a crafted file_id like "../../etc/passwd" is turned
// away by the regexp, not by string-munging the path.
var fileIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

func validFileID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return fileIDPattern.MatchString(id) && filepath.Base(id) == id
}

// handleUpload implements POST /api/upload: a streaming upload capped
// at cfg.MaxUploadBytes, stored under cfg.UploadDir behind a minted id so
// the client-supplied filename never touches the filesystem path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.logger.Error().Err(err).Msg("upload: mkdir failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	fileID := uuid.NewString() + filepath.Ext(header.Filename)
	if !validFileID(fileID) {
		// filepath.Ext on a crafted filename could smuggle path
		// separators into the suffix; fall back to no extension.
		fileID = uuid.NewString()
	}

	dst, err := os.OpenFile(filepath.Join(s.cfg.UploadDir, fileID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.logger.Error().Err(err).Msg("upload: create failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		s.logger.Error().Err(err).Msg("upload: write failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		URL:  "/api/files/" + fileID,
		Name: header.Filename,
		Size: written,
	})
}

// handleFile implements GET /api/files/{file_id}, serving a previously
// uploaded file. The id is validated against fileIDPattern before the
// join, so no input ever walks the path outside cfg.UploadDir.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("file_id")
	if !validFileID(fileID) {
		writeError(w, http.StatusBadRequest, "invalid_file_id")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.UploadDir, fileID))
}
