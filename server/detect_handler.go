package server

import (
	"net/http"
	"strconv"

	"EchoMark/core/auth"
	"EchoMark/core/watermark"
	"EchoMark/logger"
	"EchoMark/model"
)

// DetectHandler accepts an audio file and reports whether it carries a
// registered watermark. Works for anonymous callers too; those are
// rate limited per IP.
func (h *APIHandler) DetectHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if user == nil {
		if !h.detectLimiter.Allow(r.Context(), clientIP(r)) {
			logger.Warn("[Detect] 匿名检测触发限流", logger.String("ip", clientIP(r)))
			writeError(w, watermark.ErrRateLimited())
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "Invalid multipart form or file too large")
		return
	}

	// 传了assetId则对已存储的资产原地检测，不再上传文件
	if r.FormValue("assetId") != "" {
		h.detectStoredAsset(w, r, user)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "Audio file is required in field 'file'")
		return
	}
	defer file.Close()

	resp, err := h.detector.Detect(r.Context(), &watermark.DetectRequest{
		Requester: user,
		Format:    formatFromFileName(header.Filename),
		SizeBytes: header.Size,
		Audio:     file,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// detectStoredAsset runs detection against an asset already in the blob
// store. Only the asset's owner or an admin may trigger it; an engine
// failure here is recorded on the asset row.
func (h *APIHandler) detectStoredAsset(w http.ResponseWriter, r *http.Request, user *model.User) {
	if user == nil {
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Authentication required to detect a stored asset")
		return
	}

	id, err := strconv.ParseInt(r.FormValue("assetId"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "Invalid asset ID")
		return
	}
	asset, err := h.assetRepo.GetAssetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if asset == nil || !auth.CanAccess(asset.UserID, user).Allowed() {
		writeError(w, watermark.ErrNotFound("asset"))
		return
	}

	resp, err := h.detector.Detect(r.Context(), &watermark.DetectRequest{
		Requester:      user,
		Format:         asset.Format,
		SizeBytes:      asset.SizeBytes,
		SourceLocation: asset.Location,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
