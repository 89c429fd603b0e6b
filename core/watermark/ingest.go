package watermark

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"EchoMark/core/auth"
	"EchoMark/core/engine"
	"EchoMark/logger"
	"EchoMark/model"
	"EchoMark/repository"
	"EchoMark/storage"
)

// BlobStore is the slice of the object storage client the orchestrators need.
type BlobStore interface {
	UploadAudio(ctx context.Context, r io.Reader, size int64, folder, format string) (string, string, error)
	Remove(ctx context.Context, objectKey string) error
}

// Engine is the slice of the watermark engine client the orchestrators need.
type Engine interface {
	Detect(ctx context.Context, audioURL string) (*engine.DetectResult, error)
	Embed(ctx context.Context, audioURL, carrierToken string) (*engine.EmbedResult, error)
}

// maxMintAttempts bounds the mint-embed-register retry loop. Two random
// collisions in a row across a 16-bit space already mean the ledger is
// nearly full.
const maxMintAttempts = 3

// MinWatermarkMessageLen 低于该长度的消息不触发水印嵌入
const MinWatermarkMessageLen = 2

// IngestRequest carries one uploaded audio file into the pipeline.
// An empty WatermarkMessage means "watermark with the owner's default
// message"; a message shorter than MinWatermarkMessageLen means "store
// without watermarking".
type IngestRequest struct {
	UserID           int64
	FileName         string
	Format           string
	SizeBytes        int64
	WatermarkMessage string
	Audio            io.Reader
}

// Ingestor runs the upload pipeline: store the original, pre-check it
// for an existing watermark, embed a freshly minted carrier token,
// register the token in the ownership ledger and finalize the asset.
type Ingestor struct {
	users  repository.UserRepository
	assets repository.AssetRepository
	ledger repository.WatermarkRepository
	blobs  BlobStore
	engine Engine
}

// NewIngestor creates a new Ingestor.
func NewIngestor(users repository.UserRepository, assets repository.AssetRepository,
	ledger repository.WatermarkRepository, blobs BlobStore, eng Engine) *Ingestor {
	return &Ingestor{users: users, assets: assets, ledger: ledger, blobs: blobs, engine: eng}
}

// Ingest processes one upload end to end and returns the finalized
// asset. Every terminal failure after the asset row exists is recorded
// on that row before the error is returned, so the user can always see
// why a file failed.
func (s *Ingestor) Ingest(ctx context.Context, req *IngestRequest) (*AssetDTO, error) {
	if err := validateIngestRequest(req); err != nil {
		return nil, err
	}
	format := strings.ToLower(req.Format)

	user, err := s.users.GetUserByID(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", req.UserID, err)
	}
	if user == nil {
		return nil, ErrNotFound("user")
	}

	// 原始文件先落对象存储，失败则整个请求失败，不留资产记录
	originalURL, _, err := s.blobs.UploadAudio(ctx, req.Audio, req.SizeBytes, storage.AudioFolder, format)
	if err != nil {
		logger.Error("[Ingest] 原始文件上传失败", logger.ErrorField(err),
			logger.Int64("userId", req.UserID), logger.String("fileName", req.FileName))
		return nil, ErrUploadFailed(err)
	}

	asset := &model.AudioAsset{
		UserID:           user.ID,
		FileName:         req.FileName,
		Format:           format,
		SizeBytes:        req.SizeBytes,
		OriginalLocation: originalURL,
		Location:         originalURL,
		ProcessingState:  model.AssetStatePending,
	}
	asset.ID, err = s.assets.CreateAsset(asset)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset record: %w", err)
	}
	logger.Info("[Ingest] 资产已创建", logger.Int64("assetId", asset.ID),
		logger.Int64("userId", user.ID), logger.String("fileName", req.FileName))

	message, messageType, shouldWatermark := resolveMessage(req.WatermarkMessage, user)

	// Pre-check: ask the engine whether the file already carries a
	// watermark. The pre-check fails open, a broken engine must not
	// block plain uploads.
	if err := s.assets.MarkAssetState(asset.ID, model.AssetStateDetecting); err != nil {
		logger.Warn("[Ingest] 状态更新失败", logger.ErrorField(err), logger.Int64("assetId", asset.ID))
	}
	pre, preErr := s.engine.Detect(ctx, originalURL)
	if preErr != nil {
		logger.Warn("[Ingest] 预检失败，跳过预检继续处理", logger.ErrorField(preErr),
			logger.Int64("assetId", asset.ID))
	} else if pre.Conclusive() {
		return s.resolvePreexisting(ctx, asset, user, pre)
	}

	if !shouldWatermark {
		return s.finalizeUnwatermarked(asset, user, req.SizeBytes)
	}

	if err := s.assets.MarkAssetState(asset.ID, model.AssetStateProcessing); err != nil {
		logger.Warn("[Ingest] 状态更新失败", logger.ErrorField(err), logger.Int64("assetId", asset.ID))
	}

	token, embedRes, watermarkedURL, err := s.embedAndRegister(ctx, asset, user, originalURL, message, messageType)
	if err != nil {
		return nil, err
	}

	asset.Location = watermarkedURL
	asset.IsWatermarked = true
	asset.WatermarkID = sql.NullString{String: token, Valid: true}
	asset.WatermarkMessage = sql.NullString{String: message, Valid: true}
	asset.ProcessingState = model.AssetStateCompleted
	if embedRes.Info != nil {
		asset.Confidence = sql.NullFloat64{Float64: embedRes.Info.WatermarkConfidence, Valid: true}
		asset.SampleRate = sql.NullInt64{Int64: int64(embedRes.Info.ProcessedSampleRate), Valid: true}
		asset.Channels = sql.NullInt64{Int64: int64(embedRes.Info.Channels), Valid: true}
		asset.Duration = sql.NullFloat64{Float64: embedRes.Info.DurationSeconds, Valid: true}
	}
	if err := s.assets.FinalizeAsset(asset); err != nil {
		return nil, s.fail(asset.ID, "failed to finalize asset", fmt.Errorf("failed to finalize asset %d: %w", asset.ID, err))
	}
	asset.ProcessedAt = sql.NullTime{Time: time.Now(), Valid: true}

	s.addUsedStorage(user.ID, req.SizeBytes)

	logger.Info("[Ingest] 水印嵌入完成", logger.Int64("assetId", asset.ID),
		logger.String("watermarkId", token))
	return NewAssetDTO(asset, auth.AccessOwner), nil
}

func validateIngestRequest(req *IngestRequest) *Error {
	if req.Audio == nil || req.SizeBytes <= 0 {
		return ErrInvalidInput("audio file is required")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return ErrInvalidInput("file name is required")
	}
	if !model.IsAllowedFormat(req.Format) {
		return ErrInvalidInput("unsupported audio format: %s", req.Format)
	}
	if utf8.RuneCountInString(req.WatermarkMessage) > model.MaxWatermarkMessageLen {
		return ErrInvalidInput("watermark message exceeds %d characters", model.MaxWatermarkMessageLen)
	}
	return nil
}

// resolveMessage decides what human message the ledger will carry and
// whether embedding happens at all.
func resolveMessage(raw string, user *model.User) (message, messageType string, shouldWatermark bool) {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return fmt.Sprintf("Owner: %s (%d)", user.Username, user.ID), model.MessageTypeOwnerDefault, true
	}
	// 长度按字符数计，多字节字符同样算一个字符
	if utf8.RuneCountInString(msg) < MinWatermarkMessageLen {
		return "", "", false
	}
	return msg, model.MessageTypeUserProvided, true
}

// resolvePreexisting handles a conclusive pre-check hit: the uploaded
// file already carries a registered or unregistered watermark.
func (s *Ingestor) resolvePreexisting(ctx context.Context, asset *model.AudioAsset, user *model.User, pre *engine.DetectResult) (*AssetDTO, error) {
	rec, err := s.ledger.GetRecordByID(pre.DecodedID)
	if err != nil {
		logger.Error("[Ingest] 预检命中后台账查询失败", logger.ErrorField(err),
			logger.Int64("assetId", asset.ID), logger.String("decodedId", pre.DecodedID))
		rec = nil
	}
	if rec == nil {
		// Watermarked by someone outside this system. Refuse: we
		// cannot establish who owns it.
		appErr := ErrUnregisteredWatermark()
		return nil, s.fail(asset.ID, appErr.Message, appErr)
	}

	if rec.UserID == user.ID {
		// The owner re-uploaded an already watermarked file. Reuse
		// the existing registration instead of double watermarking.
		logger.Info("[Ingest] 检测到本人已有水印，复用台账记录",
			logger.Int64("assetId", asset.ID), logger.String("watermarkId", rec.WatermarkID))
		asset.IsWatermarked = true
		asset.WatermarkID = sql.NullString{String: rec.WatermarkID, Valid: true}
		asset.WatermarkMessage = sql.NullString{String: rec.Message, Valid: true}
		asset.ProcessingState = model.AssetStateCompleted
		asset.Confidence = sql.NullFloat64{Float64: pre.Confidence, Valid: true}
		if err := s.assets.FinalizeAsset(asset); err != nil {
			return nil, s.fail(asset.ID, "failed to finalize asset", fmt.Errorf("failed to finalize asset %d: %w", asset.ID, err))
		}
		asset.ProcessedAt = sql.NullTime{Time: time.Now(), Valid: true}
		s.addUsedStorage(user.ID, asset.SizeBytes)
		return NewAssetDTO(asset, auth.AccessOwner), nil
	}

	ownerName := "unknown"
	if owner, err := s.users.GetUserByID(rec.UserID); err == nil && owner != nil {
		ownerName = owner.Username
	}
	logger.Warn("[Ingest] 检测到他人水印，拒绝上传", logger.Int64("assetId", asset.ID),
		logger.Int64("recordOwner", rec.UserID), logger.Int64("uploader", user.ID))
	appErr := ErrForeignWatermark(ownerName)
	return nil, s.fail(asset.ID, appErr.Message, appErr)
}

// finalizeUnwatermarked completes an asset that skips embedding.
func (s *Ingestor) finalizeUnwatermarked(asset *model.AudioAsset, user *model.User, sizeBytes int64) (*AssetDTO, error) {
	asset.ProcessingState = model.AssetStateCompleted
	if err := s.assets.FinalizeAsset(asset); err != nil {
		return nil, s.fail(asset.ID, "failed to finalize asset", fmt.Errorf("failed to finalize asset %d: %w", asset.ID, err))
	}
	asset.ProcessedAt = sql.NullTime{Time: time.Now(), Valid: true}
	s.addUsedStorage(user.ID, sizeBytes)
	logger.Info("[Ingest] 资产完成，未嵌入水印", logger.Int64("assetId", asset.ID))
	return NewAssetDTO(asset, auth.AccessOwner), nil
}

// embedAndRegister runs the mint-embed-store-register loop. The ledger's
// primary key decides token uniqueness; a duplicate insert discards the
// stored blob and retries with a fresh token.
func (s *Ingestor) embedAndRegister(ctx context.Context, asset *model.AudioAsset, user *model.User,
	sourceURL, message, messageType string) (string, *engine.EmbedResult, string, error) {

	for attempt := 1; attempt <= maxMintAttempts; attempt++ {
		token, err := MintCarrierToken()
		if err != nil {
			return "", nil, "", s.fail(asset.ID, "failed to mint watermark id", fmt.Errorf("failed to mint carrier token: %w", err))
		}

		embedRes, err := s.engine.Embed(ctx, sourceURL, token)
		if err != nil {
			logger.Error("[Ingest] 引擎嵌入失败", logger.ErrorField(err),
				logger.Int64("assetId", asset.ID), logger.Int("attempt", attempt))
			if errors.Is(err, engine.ErrRejected) {
				appErr := ErrAlreadyWatermarked(err)
				return "", nil, "", s.fail(asset.ID, appErr.Message, appErr)
			}
			// 嵌入失败按水印失败对外呈现，失败原因保留引擎原文
			appErr := ErrWatermarkingFailed(err.Error(), err)
			return "", nil, "", s.fail(asset.ID, appErr.Message, appErr)
		}

		watermarkedURL, watermarkedKey, err := s.blobs.UploadAudio(ctx,
			bytes.NewReader(embedRes.Audio), int64(len(embedRes.Audio)), storage.AudioFolder, asset.Format)
		if err != nil {
			logger.Error("[Ingest] 水印文件上传失败", logger.ErrorField(err), logger.Int64("assetId", asset.ID))
			appErr := ErrWatermarkingFailed("failed to store watermarked audio", err)
			return "", nil, "", s.fail(asset.ID, appErr.Message, appErr)
		}

		rec := &model.WatermarkRecord{
			WatermarkID: token,
			AssetID:     asset.ID,
			Message:     message,
			UserID:      user.ID,
			MessageType: messageType,
		}
		if messageType == model.MessageTypeOwnerDefault {
			rec.Approved = true
			rec.ApprovedAt = sql.NullTime{Time: time.Now(), Valid: true}
		}

		err = s.ledger.CreateRecord(rec)
		if err == nil {
			return token, embedRes, watermarkedURL, nil
		}

		if removeErr := s.blobs.Remove(ctx, watermarkedKey); removeErr != nil {
			logger.Warn("[Ingest] 清理落盘水印文件失败", logger.ErrorField(removeErr),
				logger.String("objectKey", watermarkedKey))
		}
		if errors.Is(err, repository.ErrDuplicateWatermarkID) {
			logger.Warn("[Ingest] watermarkId冲突，重新生成", logger.String("watermarkId", token),
				logger.Int("attempt", attempt))
			continue
		}
		appErr := ErrWatermarkingFailed("failed to register watermark", err)
		return "", nil, "", s.fail(asset.ID, appErr.Message, appErr)
	}

	appErr := ErrWatermarkingFailed("could not mint a unique watermark id", nil)
	return "", nil, "", s.fail(asset.ID, appErr.Message, appErr)
}

// fail records the failure on the asset row, then returns err for the
// caller to propagate. Recording happens first so the row always
// explains the failure even when the response is lost.
func (s *Ingestor) fail(assetID int64, message string, err error) error {
	if markErr := s.assets.MarkAssetFailed(assetID, message); markErr != nil {
		logger.Error("[Ingest] 失败状态写入失败", logger.ErrorField(markErr), logger.Int64("assetId", assetID))
	}
	return err
}

func (s *Ingestor) addUsedStorage(userID, sizeBytes int64) {
	if err := s.users.AddUsedStorage(userID, sizeBytes); err != nil {
		logger.Warn("[Ingest] 用户存储用量更新失败", logger.ErrorField(err), logger.Int64("userId", userID))
	}
}
