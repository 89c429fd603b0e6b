package watermark

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EchoMark/core/engine"
	"EchoMark/model"
	"EchoMark/repository"
)

type detectFixture struct {
	users    *fakeUsers
	assets   *detectFakeAssets
	ledger   *fakeLedger
	blobs    *fakeBlobs
	engine   *fakeEngine
	detector *Detector
}

// detectFakeAssets records detection failure marks by location.
type detectFakeAssets struct {
	repository.AssetRepository
	detectionFailures map[string]string
}

func (f *detectFakeAssets) MarkDetectionFailedByLocation(location, errorMessage string) error {
	f.detectionFailures[location] = errorMessage
	return nil
}

func newDetectFixture() *detectFixture {
	f := &detectFixture{
		users: &fakeUsers{users: map[int64]*model.User{
			1: {ID: 1, Username: "bob", Role: model.RoleUser},
			2: {ID: 2, Username: "mallory", Role: model.RoleUser},
			3: {ID: 3, Username: "root", Role: model.RoleAdmin},
		}},
		assets: &detectFakeAssets{detectionFailures: make(map[string]string)},
		ledger: newFakeLedger(),
		blobs:  &fakeBlobs{},
		engine: &fakeEngine{},
	}
	f.detector = NewDetector(f.users, f.assets, f.ledger, f.blobs, f.engine)
	return f
}

func (f *detectFixture) registerWatermark(token string, ownerID int64, message string) {
	f.ledger.records[token] = &model.WatermarkRecord{
		WatermarkID: token,
		UserID:      ownerID,
		Message:     message,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func detectRequest(requester *model.User) *DetectRequest {
	return &DetectRequest{
		Requester: requester,
		Format:    "wav",
		SizeBytes: 512,
		Audio:     strings.NewReader("suspicious-audio"),
	}
}

func TestDetectNoWatermark(t *testing.T) {
	f := newDetectFixture()
	f.engine.detectRes = &engine.DetectResult{Detected: false, Confidence: 0.1}

	resp, err := f.detector.Detect(context.Background(), detectRequest(nil))
	require.NoError(t, err)

	assert.False(t, resp.Detected)
	assert.Equal(t, NoticeNoWatermark, resp.Notice)
	// 检测用的临时对象要清理掉
	assert.Len(t, f.blobs.removed, 1)
}

func TestDetectBelowThresholdLooksLikeNoWatermark(t *testing.T) {
	f := newDetectFixture()
	f.registerWatermark("0011001100110011", 1, "property of bob")
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0011001100110011", Confidence: 0.49}

	resp, err := f.detector.Detect(context.Background(), detectRequest(nil))
	require.NoError(t, err)

	// 0.49必须与未检出完全一致，不能泄露"有信号"
	assert.False(t, resp.Detected)
	assert.Equal(t, NoticeNoWatermark, resp.Notice)
	assert.Empty(t, resp.Message)
	assert.Empty(t, resp.OwnerName)
	assert.Zero(t, f.ledger.records["0011001100110011"].DetectionCount)
}

func TestDetectOwnerSeesMessage(t *testing.T) {
	f := newDetectFixture()
	f.registerWatermark("0011001100110011", 1, "property of bob")
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0011001100110011", Confidence: 0.95}

	resp, err := f.detector.Detect(context.Background(), detectRequest(f.users.users[1]))
	require.NoError(t, err)

	assert.True(t, resp.Conclusive)
	assert.True(t, resp.Owned)
	assert.Equal(t, "property of bob", resp.Message)
	require.NotNil(t, resp.CreatedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), *resp.CreatedAt)
	assert.Equal(t, int64(1), resp.DetectionCount)
	assert.Empty(t, resp.OwnerName)
}

func TestDetectStrangerSeesOwnerNameOnly(t *testing.T) {
	f := newDetectFixture()
	f.registerWatermark("0011001100110011", 1, "property of bob")
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0011001100110011", Confidence: 0.95}

	resp, err := f.detector.Detect(context.Background(), detectRequest(f.users.users[2]))
	require.NoError(t, err)

	assert.True(t, resp.Conclusive)
	assert.False(t, resp.Owned)
	assert.Empty(t, resp.Message, "message content is owner-only")
	assert.Nil(t, resp.CreatedAt)
	assert.Equal(t, "bob", resp.OwnerName)
	assert.Equal(t, NoticeForeignOwner, resp.Notice)
}

func TestDetectAnonymousCountsAndDiscloses(t *testing.T) {
	f := newDetectFixture()
	f.registerWatermark("0011001100110011", 1, "property of bob")
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0011001100110011", Confidence: 0.95}

	resp, err := f.detector.Detect(context.Background(), detectRequest(nil))
	require.NoError(t, err)

	assert.Empty(t, resp.Message)
	assert.Equal(t, "bob", resp.OwnerName)
	// 匿名检测同样计入检测次数
	assert.Equal(t, int64(1), f.ledger.records["0011001100110011"].DetectionCount)
}

func TestDetectAdminSeesMessage(t *testing.T) {
	f := newDetectFixture()
	f.registerWatermark("0011001100110011", 1, "property of bob")
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0011001100110011", Confidence: 0.95}

	resp, err := f.detector.Detect(context.Background(), detectRequest(f.users.users[3]))
	require.NoError(t, err)

	assert.False(t, resp.Owned)
	assert.Equal(t, "property of bob", resp.Message)
}

func TestDetectUnregisteredToken(t *testing.T) {
	f := newDetectFixture()
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "1010101010101010", Confidence: 0.9}

	resp, err := f.detector.Detect(context.Background(), detectRequest(nil))
	require.NoError(t, err)

	assert.True(t, resp.Conclusive)
	assert.False(t, resp.Registered)
	assert.Equal(t, NoticeUnregistered, resp.Notice)
}

func TestDetectEngineFailureOnStoredAssetIsRecorded(t *testing.T) {
	f := newDetectFixture()
	f.engine.detectErr = fmt.Errorf("%w: detect deadline exceeded", engine.ErrTimeout)

	req := &DetectRequest{
		Requester:      f.users.users[1],
		Format:         "wav",
		SizeBytes:      512,
		SourceLocation: "http://minio.local/echomark/audio_files/existing.wav",
	}
	_, err := f.detector.Detect(context.Background(), req)
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeEngineTimeout, appErr.Code)
	assert.Contains(t, f.assets.detectionFailures["http://minio.local/echomark/audio_files/existing.wav"],
		"detect deadline exceeded")
	assert.Zero(t, f.blobs.uploads, "stored assets are read in place")
}

func TestDetectEngineFailureOnStagedFile(t *testing.T) {
	f := newDetectFixture()
	f.engine.detectErr = fmt.Errorf("%w: detect deadline exceeded", engine.ErrTimeout)

	_, err := f.detector.Detect(context.Background(), detectRequest(nil))
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeEngineTimeout, appErr.Code)
	// 暂存文件不属于任何资产，不写检测失败状态
	assert.Empty(t, f.assets.detectionFailures)
	assert.Len(t, f.blobs.removed, 1, "staged copy is removed even on failure")
}

func TestDetectRejectsBadInput(t *testing.T) {
	f := newDetectFixture()

	req := detectRequest(nil)
	req.Format = "pdf"
	_, err := f.detector.Detect(context.Background(), req)
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidInput, appErr.Code)
	assert.Zero(t, f.blobs.uploads)
}
