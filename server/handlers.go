package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"EchoMark/cache"
	"EchoMark/config"
	"EchoMark/core/watermark"
	"EchoMark/logger"
	"EchoMark/model"
	"EchoMark/repository"
	"EchoMark/storage"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	userRepo      repository.UserRepository
	assetRepo     repository.AssetRepository
	watermarkRepo repository.WatermarkRepository
	downloadRepo  repository.DownloadLogRepository
	ingestor      *watermark.Ingestor
	detector      *watermark.Detector
	blobs         *storage.Client
	loginLimiter  *cache.RateLimiter
	detectLimiter *cache.RateLimiter
	cfg           *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	userRepo repository.UserRepository,
	assetRepo repository.AssetRepository,
	watermarkRepo repository.WatermarkRepository,
	downloadRepo repository.DownloadLogRepository,
	ingestor *watermark.Ingestor,
	detector *watermark.Detector,
	blobs *storage.Client,
	loginLimiter *cache.RateLimiter,
	detectLimiter *cache.RateLimiter,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		userRepo:      userRepo,
		assetRepo:     assetRepo,
		watermarkRepo: watermarkRepo,
		downloadRepo:  downloadRepo,
		ingestor:      ingestor,
		detector:      detector,
		blobs:         blobs,
		loginLimiter:  loginLimiter,
		detectLimiter: detectLimiter,
		cfg:           cfg,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Error("[API] 响应编码失败", logger.ErrorField(err))
		}
	}
}

// errorResponse is the uniform error envelope of the API.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps an error to the API error envelope. Watermark errors
// carry their own status and stable code; anything else is an opaque
// internal error.
func writeError(w http.ResponseWriter, err error) {
	var resp errorResponse
	status := http.StatusInternalServerError
	resp.Error.Code = "internal_error"
	resp.Error.Message = "Internal server error"

	if we, ok := watermark.AsError(err); ok {
		status = we.Status
		resp.Error.Code = string(we.Code)
		resp.Error.Message = we.Message
	} else {
		logger.Error("[API] 内部错误", logger.ErrorField(err))
	}
	writeJSON(w, status, resp)
}

// writeErrorCode writes the error envelope for failures that do not
// originate in the watermark workflow.
func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	writeJSON(w, status, resp)
}

// GetUserIDFromContext extracts the user ID from the request context.
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value("userID").(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetUsernameFromContext extracts the username from the request context.
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value("username").(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// currentUser loads the authenticated user for a request, or nil if
// the request is anonymous.
func (h *APIHandler) currentUser(r *http.Request) (*model.User, error) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, nil
	}
	user, err := h.userRepo.GetUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return user, nil
}

// clientIP 提取客户端IP，优先X-Forwarded-For
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// formatFromFileName returns the lowercase extension without the dot.
func formatFromFileName(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}
