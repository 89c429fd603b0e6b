package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFromFileName(t *testing.T) {
	assert.Equal(t, "mp3", formatFromFileName("song.mp3"))
	assert.Equal(t, "wav", formatFromFileName("My Track.Final.WAV"))
	assert.Equal(t, "", formatFromFileName("noextension"))
	assert.Equal(t, "", formatFromFileName("trailingdot."))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/detect", nil)
	r.RemoteAddr = "198.51.100.4:51234"
	assert.Equal(t, "198.51.100.4", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(r))
}

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeErrorCode(w, 409, "duplicate_file_name", "A file with this name already exists")

	assert.Equal(t, 409, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"duplicate_file_name"`)
}
