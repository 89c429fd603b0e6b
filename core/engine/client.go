package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"EchoMark/config"
	"EchoMark/logger"
)

// ConfidenceThreshold is the hard cutoff below which a detect result is
// not actionable, regardless of the engine's raw detected flag.
const ConfidenceThreshold = 0.5

// Engine failure classes. Callers branch with errors.Is.
var (
	// ErrUnavailable 引擎无法连接（connection refused等）
	ErrUnavailable = errors.New("watermark engine unavailable")
	// ErrTimeout 引擎调用超时
	ErrTimeout = errors.New("watermark engine request timed out")
	// ErrEngine 引擎返回错误（非2xx、status异常或响应格式错误）
	ErrEngine = errors.New("watermark engine error")
	// ErrRejected 引擎拒绝嵌入：源音频已带有水印
	ErrRejected = errors.New("audio already carries a watermark")
)

// Client 水印引擎API客户端
// embed耗时远大于detect，因此持有两个不同超时的HTTP客户端。
type Client struct {
	baseURL      string
	detectClient *http.Client
	embedClient  *http.Client
}

// NewClient 创建新的引擎客户端，配置在进程启动时注入一次
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.EngineBaseURL, "/"),
		detectClient: &http.Client{Timeout: cfg.EngineDetectTimeout},
		embedClient:  &http.Client{Timeout: cfg.EngineEmbedTimeout},
	}
}

// DetectResult is the engine's answer for one detect call.
type DetectResult struct {
	Detected   bool
	DecodedID  string
	Confidence float64
}

// Conclusive reports whether the result may be acted upon: the engine
// both detected a watermark and is confident enough about it.
func (r *DetectResult) Conclusive() bool {
	return r.Detected && r.Confidence >= ConfidenceThreshold
}

// AudioInfo carries the engine's audio metadata from a successful embed.
type AudioInfo struct {
	OriginalSampleRate  int     `json:"original_sample_rate"`
	ProcessedSampleRate int     `json:"processed_sample_rate"`
	WatermarkConfidence float64 `json:"watermark_confidence"`
	Channels            int     `json:"channels"`
	Samples             int64   `json:"samples"`
	DurationSeconds     float64 `json:"duration_seconds"`
}

// EmbedResult is the engine's answer for one embed call: the
// watermarked audio bytes plus what the engine decoded back out of them.
type EmbedResult struct {
	Audio     []byte
	DecodedID string
	Info      *AudioInfo
}

// Detect asks the engine whether the audio at audioURL carries a
// watermark. Transport failures classify into ErrUnavailable or
// ErrTimeout; a response with status != "done" or malformed JSON
// classifies into ErrEngine.
func (c *Client) Detect(ctx context.Context, audioURL string) (*DetectResult, error) {
	reqBody := struct {
		AudioURL string `json:"audioUrl"`
	}{AudioURL: audioURL}

	var respBody struct {
		Status            string  `json:"status"`
		WatermarkDetected bool    `json:"watermark_detected"`
		DecodedMessage    string  `json:"decoded_message"`
		Confidence        float64 `json:"confidence"`
	}

	if err := c.post(ctx, c.detectClient, "/detect-watermark", reqBody, &respBody); err != nil {
		return nil, err
	}

	if respBody.Status != "done" {
		logger.Warn("[EngineDetect] 引擎返回异常状态", logger.String("status", respBody.Status))
		return nil, fmt.Errorf("%w: detect status %q", ErrEngine, respBody.Status)
	}

	return &DetectResult{
		Detected:   respBody.WatermarkDetected,
		DecodedID:  respBody.DecodedMessage,
		Confidence: respBody.Confidence,
	}, nil
}

// Embed asks the engine to embed carrierToken into the audio at
// audioURL and returns the watermarked bytes. The carrier token is the
// ledger key; the human message never travels to the engine. When the
// engine reports the source audio is already watermarked the error
// classifies into ErrRejected.
func (c *Client) Embed(ctx context.Context, audioURL, carrierToken string) (*EmbedResult, error) {
	reqBody := struct {
		AudioURL         string `json:"audioUrl"`
		WatermarkMessage string `json:"watermarkMessage"`
	}{AudioURL: audioURL, WatermarkMessage: carrierToken}

	var respBody struct {
		Status         string     `json:"status"`
		Base64Audio    string     `json:"base64_audio"`
		DecodedMessage string     `json:"decoded_message"`
		AudioInfo      *AudioInfo `json:"audio_info"`
		Error          string     `json:"error"`
	}

	if err := c.post(ctx, c.embedClient, "/add-watermark-url", reqBody, &respBody); err != nil {
		return nil, err
	}

	if respBody.Status != "success" {
		errMsg := respBody.Error
		if errMsg == "" {
			errMsg = "watermarking failed on engine"
		}
		// 引擎在嵌入阶段独立发现已有水印时单独归类
		if strings.Contains(errMsg, "already watermarked") || strings.Contains(errMsg, "already contains watermark") {
			logger.Warn("[EngineEmbed] 引擎检测到已有水印，拒绝嵌入", logger.String("audioUrl", audioURL))
			return nil, fmt.Errorf("%w: %s", ErrRejected, errMsg)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, errMsg)
	}

	audio, err := base64.StdEncoding.DecodeString(respBody.Base64Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64 audio: %v", ErrEngine, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: engine returned empty audio payload", ErrEngine)
	}

	return &EmbedResult{
		Audio:     audio,
		DecodedID: respBody.DecodedMessage,
		Info:      respBody.AudioInfo,
	}, nil
}

// post 发送JSON请求并解码响应，对传输层和HTTP层的失败进行分类
func (c *Client) post(ctx context.Context, client *http.Client, path string, reqBody, respBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request: %v", ErrEngine, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrEngine, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(path, err, time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn("[Engine] 引擎返回错误状态码",
			logger.String("path", path),
			logger.Int("statusCode", resp.StatusCode))
		return fmt.Errorf("%w: unexpected status %d: %s", ErrEngine, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrEngine, err)
	}
	return nil
}

// classifyTransportError 区分超时和连接失败
func classifyTransportError(path string, err error, elapsed time.Duration) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		logger.Warn("[Engine] 引擎调用超时",
			logger.String("path", path),
			logger.Duration("elapsed", elapsed))
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		logger.Warn("[Engine] 引擎连接被拒绝", logger.String("path", path))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Warn("[Engine] 引擎请求失败",
		logger.String("path", path),
		logger.ErrorField(err))
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
