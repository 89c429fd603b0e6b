package watermark

import (
	"context"
	"fmt"
	"io"
	"strings"

	"EchoMark/logger"
	"EchoMark/model"
	"EchoMark/repository"
	"EchoMark/storage"
)

// Notices returned with detection outcomes that carry no message.
const (
	NoticeNoWatermark  = "no watermark detected"
	NoticeUnregistered = "a watermark was detected but it is not registered with this service"
	NoticeForeignOwner = "this audio is watermarked and owned by another user"
)

// DetectRequest carries one audio file submitted for standalone
// watermark detection. Requester is nil for anonymous callers. When
// SourceLocation names an already stored asset the file is read in
// place instead of being staged, and an engine failure is recorded on
// that asset's row.
type DetectRequest struct {
	Requester      *model.User
	Format         string
	SizeBytes      int64
	Audio          io.Reader
	SourceLocation string
}

// Detector runs the standalone detection flow: stage the file in the
// blob store, ask the engine, resolve the decoded token against the
// ownership ledger and shape the disclosure for the requester.
type Detector struct {
	users  repository.UserRepository
	assets repository.AssetRepository
	ledger repository.WatermarkRepository
	blobs  BlobStore
	engine Engine
}

// NewDetector creates a new Detector.
func NewDetector(users repository.UserRepository, assets repository.AssetRepository,
	ledger repository.WatermarkRepository, blobs BlobStore, eng Engine) *Detector {
	return &Detector{users: users, assets: assets, ledger: ledger, blobs: blobs, engine: eng}
}

// Detect inspects one audio file for a watermark. The staged copy in
// the detect folder is removed once the engine has answered.
func (d *Detector) Detect(ctx context.Context, req *DetectRequest) (*DetectionResponse, error) {
	if !model.IsAllowedFormat(req.Format) {
		return nil, ErrInvalidInput("unsupported audio format: %s", req.Format)
	}
	format := strings.ToLower(req.Format)

	audioURL := req.SourceLocation
	if audioURL == "" {
		if req.Audio == nil || req.SizeBytes <= 0 {
			return nil, ErrInvalidInput("audio file is required")
		}
		stagedURL, stagedKey, err := d.blobs.UploadAudio(ctx, req.Audio, req.SizeBytes, storage.DetectFolder, format)
		if err != nil {
			logger.Error("[Detect] 检测文件上传失败", logger.ErrorField(err))
			return nil, ErrUploadFailed(err)
		}
		audioURL = stagedURL
		defer func() {
			if removeErr := d.blobs.Remove(ctx, stagedKey); removeErr != nil {
				logger.Warn("[Detect] 清理检测临时文件失败", logger.ErrorField(removeErr),
					logger.String("objectKey", stagedKey))
			}
		}()
	}

	res, err := d.engine.Detect(ctx, audioURL)
	if err != nil {
		logger.Error("[Detect] 引擎检测失败", logger.ErrorField(err))
		// 只有对应存量资产的地址才记录检测失败状态，暂存文件不属于任何资产
		if req.SourceLocation != "" {
			if markErr := d.assets.MarkDetectionFailedByLocation(req.SourceLocation, err.Error()); markErr != nil {
				logger.Warn("[Detect] 检测失败状态写入失败", logger.ErrorField(markErr))
			}
		}
		return nil, FromEngineError(err)
	}

	// 低置信度一律按未检出处理，阈值是硬性截断而非提示
	if !res.Detected || !res.Conclusive() {
		if res.Detected {
			logger.Info("[Detect] 检测到信号但置信度不足", logger.Float64("confidence", res.Confidence))
		}
		return &DetectionResponse{Detected: false, Confidence: res.Confidence, Notice: NoticeNoWatermark}, nil
	}

	rec, err := d.ledger.GetRecordByID(res.DecodedID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watermark %s: %w", res.DecodedID, err)
	}
	if rec == nil {
		logger.Warn("[Detect] 检测到未登记的水印", logger.String("decodedId", res.DecodedID))
		return &DetectionResponse{
			Detected:   true,
			Conclusive: true,
			Confidence: res.Confidence,
			Notice:     NoticeUnregistered,
		}, nil
	}

	count, err := d.ledger.IncrementDetectionCount(rec.WatermarkID)
	if err != nil {
		logger.Warn("[Detect] 检测计数更新失败", logger.ErrorField(err),
			logger.String("watermarkId", rec.WatermarkID))
		count = rec.DetectionCount + 1
	}

	resp := &DetectionResponse{
		Detected:   true,
		Conclusive: true,
		Confidence: res.Confidence,
		Registered: true,
	}

	requesterID := int64(0)
	isAdmin := false
	if req.Requester != nil {
		requesterID = req.Requester.ID
		isAdmin = req.Requester.IsAdmin()
	}

	if requesterID == rec.UserID || isAdmin {
		resp.Owned = requesterID == rec.UserID
		resp.Message = rec.Message
		resp.CreatedAt = &rec.CreatedAt
		resp.DetectionCount = count
		return resp, nil
	}

	ownerName := "unknown"
	if owner, err := d.users.GetUserByID(rec.UserID); err == nil && owner != nil {
		ownerName = owner.Username
	}
	resp.OwnerName = ownerName
	resp.Notice = NoticeForeignOwner
	return resp, nil
}
