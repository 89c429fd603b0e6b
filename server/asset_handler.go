package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"EchoMark/core/auth"
	"EchoMark/core/watermark"
	"EchoMark/logger"
	"EchoMark/model"
)

// maxUploadBytes 限制上传文件大小为100MB
const maxUploadBytes = 100 << 20

// presignedURLExpiry 下载链接有效期
const presignedURLExpiry = 15 * time.Minute

// UploadAssetHandler accepts a multipart audio upload and runs it
// through the watermark pipeline.
func (h *APIHandler) UploadAssetHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "Invalid multipart form or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "Audio file is required in field 'file'")
		return
	}
	defer file.Close()

	fileName := r.FormValue("fileName")
	if fileName == "" {
		fileName = header.Filename
	}

	// 同名文件直接拒绝，让用户改名后重传
	existing, err := h.assetRepo.GetAssetByUserIDAndFileName(userID, fileName)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil {
		writeErrorCode(w, http.StatusConflict, "duplicate_file_name", "A file with this name already exists")
		return
	}

	dto, err := h.ingestor.Ingest(r.Context(), &watermark.IngestRequest{
		UserID:           userID,
		FileName:         fileName,
		Format:           formatFromFileName(fileName),
		SizeBytes:        header.Size,
		WatermarkMessage: r.FormValue("watermarkMessage"),
		Audio:            file,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto)
}

// GetMyAssetsHandler lists the authenticated user's assets.
func (h *APIHandler) GetMyAssetsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	assets, err := h.assetRepo.GetAssetsByUserID(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, watermark.NewAssetDTOList(assets, auth.AccessOwner))
}

// GetAllAssetsHandler lists assets across all users, paginated. Admin only.
func (h *APIHandler) GetAllAssetsHandler(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	includeFailed := r.URL.Query().Get("includeFailed") == "true"

	assets, err := h.assetRepo.ListAssets((page-1)*pageSize, pageSize, includeFailed)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := h.assetRepo.CountAssets(includeFailed)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":    watermark.NewAssetDTOList(assets, auth.AccessAdmin),
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// loadAssetWithAccess loads an asset and checks the requester's access.
// 不存在与无权限都返回同样的404，避免资源枚举。
func (h *APIHandler) loadAssetWithAccess(w http.ResponseWriter, r *http.Request) (*model.AudioAsset, auth.Access, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "Invalid asset ID")
		return nil, auth.AccessDenied, false
	}

	asset, err := h.assetRepo.GetAssetByID(id)
	if err != nil {
		writeError(w, err)
		return nil, auth.AccessDenied, false
	}
	if asset == nil {
		writeError(w, watermark.ErrNotFound("asset"))
		return nil, auth.AccessDenied, false
	}

	user, err := h.currentUser(r)
	if err != nil {
		writeError(w, err)
		return nil, auth.AccessDenied, false
	}
	access := auth.CanAccess(asset.UserID, user)
	if !access.Allowed() {
		writeError(w, watermark.ErrNotFound("asset"))
		return nil, auth.AccessDenied, false
	}
	return asset, access, true
}

// GetAssetHandler returns one asset. For watermarked assets the
// ledger's running detection count comes along.
func (h *APIHandler) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	asset, access, ok := h.loadAssetWithAccess(w, r)
	if !ok {
		return
	}

	dto := watermark.NewAssetDTO(asset, access)
	if asset.WatermarkID.Valid {
		rec, err := h.watermarkRepo.GetRecordByID(asset.WatermarkID.String)
		if err != nil {
			logger.Warn("[Asset] 台账查询失败", logger.ErrorField(err), logger.Int64("assetId", asset.ID))
		} else if rec != nil {
			dto.DetectionCount = &rec.DetectionCount
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// UpdateAssetHandler renames an asset.
func (h *APIHandler) UpdateAssetHandler(w http.ResponseWriter, r *http.Request) {
	asset, access, ok := h.loadAssetWithAccess(w, r)
	if !ok {
		return
	}

	var req struct {
		FileName string `json:"fileName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileName == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "fileName is required")
		return
	}

	if req.FileName != asset.FileName {
		existing, err := h.assetRepo.GetAssetByUserIDAndFileName(asset.UserID, req.FileName)
		if err != nil {
			writeError(w, err)
			return
		}
		if existing != nil {
			writeErrorCode(w, http.StatusConflict, "duplicate_file_name", "A file with this name already exists")
			return
		}
		if err := h.assetRepo.UpdateAssetFileName(asset.ID, req.FileName); err != nil {
			writeError(w, err)
			return
		}
		asset.FileName = req.FileName
	}

	logger.Info("[Asset] 重命名完成", logger.Int64("assetId", asset.ID),
		logger.String("fileName", asset.FileName))
	writeJSON(w, http.StatusOK, watermark.NewAssetDTO(asset, access))
}

// DeleteAssetHandler removes an asset and its stored audio.
func (h *APIHandler) DeleteAssetHandler(w http.ResponseWriter, r *http.Request) {
	asset, _, ok := h.loadAssetWithAccess(w, r)
	if !ok {
		return
	}

	if err := h.assetRepo.DeleteAsset(asset.ID); err != nil {
		writeError(w, err)
		return
	}

	// 对象存储清理尽力而为，失败只记日志
	locations := []string{asset.Location}
	if asset.OriginalLocation != "" && asset.OriginalLocation != asset.Location {
		locations = append(locations, asset.OriginalLocation)
	}
	for _, loc := range locations {
		key, err := h.blobs.ObjectKeyFromURL(loc)
		if err != nil {
			logger.Warn("[Asset] 无法解析对象地址", logger.String("location", loc), logger.ErrorField(err))
			continue
		}
		if err := h.blobs.Remove(r.Context(), key); err != nil {
			logger.Warn("[Asset] 对象删除失败", logger.String("objectKey", key), logger.ErrorField(err))
		}
	}

	if asset.ProcessingState == model.AssetStateCompleted {
		if err := h.userRepo.AddUsedStorage(asset.UserID, -asset.SizeBytes); err != nil {
			logger.Warn("[Asset] 用户存储用量回退失败", logger.ErrorField(err),
				logger.Int64("userId", asset.UserID))
		}
	}

	logger.Info("[Asset] 删除完成", logger.Int64("assetId", asset.ID))
	w.WriteHeader(http.StatusNoContent)
}

// DownloadAssetHandler issues a short-lived presigned URL for an asset
// and records the download.
func (h *APIHandler) DownloadAssetHandler(w http.ResponseWriter, r *http.Request) {
	asset, _, ok := h.loadAssetWithAccess(w, r)
	if !ok {
		return
	}
	if asset.ProcessingState != model.AssetStateCompleted {
		writeErrorCode(w, http.StatusConflict, "asset_not_ready", "Asset is not in a downloadable state")
		return
	}

	key, err := h.blobs.ObjectKeyFromURL(asset.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	url, err := h.blobs.PresignedDownloadURL(r.Context(), key, presignedURLExpiry)
	if err != nil {
		writeError(w, err)
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	if err := h.downloadRepo.LogDownload(&model.DownloadLog{
		AssetID:      asset.ID,
		UserID:       userID,
		DownloadType: model.DownloadTypeSingle,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		logger.Warn("[Asset] 下载日志写入失败", logger.ErrorField(err), logger.Int64("assetId", asset.ID))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":       url,
		"expiresIn": int(presignedURLExpiry.Seconds()),
	})
}
