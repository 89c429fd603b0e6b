package engine

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EchoMark/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&config.Config{
		EngineBaseURL:       baseURL,
		EngineDetectTimeout: 2 * time.Second,
		EngineEmbedTimeout:  2 * time.Second,
	})
}

func TestDetectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect-watermark", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "http://blobs/audio_files/a.mp3", req["audioUrl"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":             "done",
			"watermark_detected": true,
			"decoded_message":    "0110100111010001",
			"confidence":         0.93,
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Detect(t.Context(), "http://blobs/audio_files/a.mp3")
	require.NoError(t, err)
	assert.True(t, res.Detected)
	assert.Equal(t, "0110100111010001", res.DecodedID)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
	assert.True(t, res.Conclusive())
}

func TestDetectLowConfidenceIsInconclusive(t *testing.T) {
	res := &DetectResult{Detected: true, Confidence: ConfidenceThreshold - 0.01}
	assert.False(t, res.Conclusive())

	res.Confidence = ConfidenceThreshold
	assert.True(t, res.Conclusive(), "threshold itself counts as conclusive")

	res = &DetectResult{Detected: false, Confidence: 0.99}
	assert.False(t, res.Conclusive())
}

func TestDetectBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "error"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Detect(t.Context(), "http://blobs/a.mp3")
	assert.ErrorIs(t, err, ErrEngine)
}

func TestDetectNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend blew up", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Detect(t.Context(), "http://blobs/a.mp3")
	assert.ErrorIs(t, err, ErrEngine)
}

func TestDetectMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Detect(t.Context(), "http://blobs/a.mp3")
	assert.ErrorIs(t, err, ErrEngine)
}

func TestDetectTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(&config.Config{
		EngineBaseURL:       srv.URL,
		EngineDetectTimeout: 50 * time.Millisecond,
		EngineEmbedTimeout:  50 * time.Millisecond,
	})
	_, err := client.Detect(t.Context(), "http://blobs/a.mp3")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDetectEngineDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 关掉再连，模拟引擎不在线

	_, err := newTestClient(srv.URL).Detect(t.Context(), "http://blobs/a.mp3")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbedSuccess(t *testing.T) {
	audio := []byte("watermarked-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/add-watermark-url", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0000111100001111", req["watermarkMessage"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "success",
			"base64_audio":    base64.StdEncoding.EncodeToString(audio),
			"decoded_message": "0000111100001111",
			"audio_info": map[string]interface{}{
				"original_sample_rate":  48000,
				"processed_sample_rate": 44100,
				"watermark_confidence":  0.98,
				"channels":              2,
				"duration_seconds":      33.4,
			},
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Embed(t.Context(), "http://blobs/a.mp3", "0000111100001111")
	require.NoError(t, err)
	assert.Equal(t, audio, res.Audio)
	assert.Equal(t, "0000111100001111", res.DecodedID)
	require.NotNil(t, res.Info)
	assert.Equal(t, 44100, res.Info.ProcessedSampleRate)
	assert.InDelta(t, 33.4, res.Info.DurationSeconds, 1e-9)
}

func TestEmbedRejectedWhenAlreadyWatermarked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error",
			"error":  "input audio is already watermarked",
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(t.Context(), "http://blobs/a.mp3", "0000111100001111")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestEmbedEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error",
			"error":  "resampling failed",
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(t.Context(), "http://blobs/a.mp3", "0000111100001111")
	assert.ErrorIs(t, err, ErrEngine)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestEmbedEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "success",
			"base64_audio": "",
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(t.Context(), "http://blobs/a.mp3", "0000111100001111")
	assert.ErrorIs(t, err, ErrEngine)
}
