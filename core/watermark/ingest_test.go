package watermark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EchoMark/core/engine"
	"EchoMark/model"
	"EchoMark/repository"
)

type fakeUsers struct {
	repository.UserRepository
	users       map[int64]*model.User
	storageAdds []int64
}

func (f *fakeUsers) GetUserByID(id int64) (*model.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) AddUsedStorage(userID, delta int64) error {
	f.storageAdds = append(f.storageAdds, delta)
	return nil
}

type fakeAssets struct {
	repository.AssetRepository
	nextID    int64
	created   []*model.AudioAsset
	states    map[int64][]string
	failures  map[int64]string
	finalized map[int64]*model.AudioAsset
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{
		states:    make(map[int64][]string),
		failures:  make(map[int64]string),
		finalized: make(map[int64]*model.AudioAsset),
	}
}

func (f *fakeAssets) CreateAsset(asset *model.AudioAsset) (int64, error) {
	f.nextID++
	f.created = append(f.created, asset)
	return f.nextID, nil
}

func (f *fakeAssets) MarkAssetState(id int64, state string) error {
	f.states[id] = append(f.states[id], state)
	return nil
}

func (f *fakeAssets) MarkAssetFailed(id int64, errorMessage string) error {
	f.failures[id] = errorMessage
	return nil
}

func (f *fakeAssets) FinalizeAsset(asset *model.AudioAsset) error {
	copied := *asset
	f.finalized[asset.ID] = &copied
	return nil
}

type fakeLedger struct {
	repository.WatermarkRepository
	records       map[string]*model.WatermarkRecord
	rejectInserts int // reject this many CreateRecord calls as duplicates
	insertErr     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]*model.WatermarkRecord)}
}

func (f *fakeLedger) CreateRecord(rec *model.WatermarkRecord) error {
	if f.rejectInserts > 0 {
		f.rejectInserts--
		return repository.ErrDuplicateWatermarkID
	}
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records[rec.WatermarkID] = rec
	return nil
}

func (f *fakeLedger) GetRecordByID(watermarkID string) (*model.WatermarkRecord, error) {
	return f.records[watermarkID], nil
}

func (f *fakeLedger) IncrementDetectionCount(watermarkID string) (int64, error) {
	rec := f.records[watermarkID]
	rec.DetectionCount++
	return rec.DetectionCount, nil
}

type fakeBlobs struct {
	uploads   int
	failAt    int // 1-based upload call to fail, 0 means never
	removed   []string
	lastByDir map[string]string
}

func (f *fakeBlobs) UploadAudio(_ context.Context, r io.Reader, size int64, folder, format string) (string, string, error) {
	f.uploads++
	if f.failAt != 0 && f.uploads == f.failAt {
		return "", "", errors.New("minio unavailable")
	}
	key := fmt.Sprintf("%s/obj-%d.%s", folder, f.uploads, format)
	if f.lastByDir == nil {
		f.lastByDir = make(map[string]string)
	}
	f.lastByDir[folder] = key
	return "http://blobs/" + key, key, nil
}

func (f *fakeBlobs) Remove(_ context.Context, objectKey string) error {
	f.removed = append(f.removed, objectKey)
	return nil
}

type fakeEngine struct {
	detectRes *engine.DetectResult
	detectErr error
	embedErr  error
	embedded  []string // carrier tokens passed to Embed
}

func (f *fakeEngine) Detect(_ context.Context, audioURL string) (*engine.DetectResult, error) {
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	if f.detectRes != nil {
		return f.detectRes, nil
	}
	return &engine.DetectResult{}, nil
}

func (f *fakeEngine) Embed(_ context.Context, audioURL, carrierToken string) (*engine.EmbedResult, error) {
	f.embedded = append(f.embedded, carrierToken)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return &engine.EmbedResult{
		Audio:     []byte("watermarked-audio"),
		DecodedID: carrierToken,
		Info: &engine.AudioInfo{
			ProcessedSampleRate: 44100,
			WatermarkConfidence: 0.97,
			Channels:            2,
			DurationSeconds:     12.5,
		},
	}, nil
}

type ingestFixture struct {
	users    *fakeUsers
	assets   *fakeAssets
	ledger   *fakeLedger
	blobs    *fakeBlobs
	engine   *fakeEngine
	ingestor *Ingestor
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		users: &fakeUsers{users: map[int64]*model.User{
			1: {ID: 1, Username: "bob", Role: model.RoleUser},
			2: {ID: 2, Username: "mallory", Role: model.RoleUser},
		}},
		assets: newFakeAssets(),
		ledger: newFakeLedger(),
		blobs:  &fakeBlobs{},
		engine: &fakeEngine{},
	}
	f.ingestor = NewIngestor(f.users, f.assets, f.ledger, f.blobs, f.engine)
	return f
}

func baseRequest() *IngestRequest {
	return &IngestRequest{
		UserID:    1,
		FileName:  "song.mp3",
		Format:    "mp3",
		SizeBytes: 1024,
		Audio:     strings.NewReader("raw-audio"),
	}
}

func TestIngestDefaultMessage(t *testing.T) {
	f := newIngestFixture()

	dto, err := f.ingestor.Ingest(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, model.AssetStateCompleted, dto.ProcessingState)
	assert.True(t, dto.IsWatermarked)
	assert.Equal(t, "Owner: bob (1)", dto.WatermarkMessage)
	assert.NotNil(t, dto.ProcessedAt)

	require.Len(t, f.engine.embedded, 1)
	token := f.engine.embedded[0]
	rec := f.ledger.records[token]
	require.NotNil(t, rec)
	assert.Equal(t, model.MessageTypeOwnerDefault, rec.MessageType)
	assert.True(t, rec.Approved)

	// 最终location指向水印版本
	assert.Contains(t, dto.URL, f.blobs.lastByDir["audio_files"])
	assert.Equal(t, []int64{1024}, f.users.storageAdds)
	assert.Equal(t, []string{model.AssetStateDetecting, model.AssetStateProcessing}, f.assets.states[1])
}

func TestIngestUserMessage(t *testing.T) {
	f := newIngestFixture()
	req := baseRequest()
	req.WatermarkMessage = "property of bob"

	dto, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "property of bob", dto.WatermarkMessage)
	rec := f.ledger.records[f.engine.embedded[0]]
	assert.Equal(t, model.MessageTypeUserProvided, rec.MessageType)
	assert.False(t, rec.Approved)
}

func TestIngestShortMessageSkipsWatermarking(t *testing.T) {
	f := newIngestFixture()
	req := baseRequest()
	req.WatermarkMessage = "x"

	dto, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.AssetStateCompleted, dto.ProcessingState)
	assert.False(t, dto.IsWatermarked)
	assert.Empty(t, f.engine.embedded)
	assert.Empty(t, f.ledger.records)
	assert.Equal(t, []int64{1024}, f.users.storageAdds)
}

func TestIngestMessageLengthCountsRunes(t *testing.T) {
	f := newIngestFixture()
	req := baseRequest()
	// 单个多字节字符仍是一个字符，低于最小长度
	req.WatermarkMessage = "中"

	dto, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, dto.IsWatermarked)
	assert.Empty(t, f.engine.embedded)

	f = newIngestFixture()
	req = baseRequest()
	req.WatermarkMessage = "中文"

	dto, err = f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, dto.IsWatermarked)
	assert.Equal(t, "中文", dto.WatermarkMessage)
}

func TestIngestRejectsBadInput(t *testing.T) {
	f := newIngestFixture()

	tests := []struct {
		name   string
		mutate func(*IngestRequest)
	}{
		{"unsupported format", func(r *IngestRequest) { r.Format = "exe" }},
		{"missing file", func(r *IngestRequest) { r.Audio = nil }},
		{"empty file name", func(r *IngestRequest) { r.FileName = "  " }},
		{"message too long", func(r *IngestRequest) { r.WatermarkMessage = strings.Repeat("a", model.MaxWatermarkMessageLen+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			_, err := f.ingestor.Ingest(context.Background(), req)
			appErr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, CodeInvalidInput, appErr.Code)
		})
	}
	assert.Zero(t, f.blobs.uploads)
}

func TestIngestOriginalUploadFailure(t *testing.T) {
	f := newIngestFixture()
	f.blobs.failAt = 1

	_, err := f.ingestor.Ingest(context.Background(), baseRequest())
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUploadFailed, appErr.Code)
	// 原始上传失败时不应留下资产记录
	assert.Empty(t, f.assets.created)
}

func TestIngestPrecheckReusesOwnWatermark(t *testing.T) {
	f := newIngestFixture()
	f.ledger.records["0000111100001111"] = &model.WatermarkRecord{
		WatermarkID: "0000111100001111",
		UserID:      1,
		Message:     "property of bob",
	}
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0000111100001111", Confidence: 0.9}

	dto, err := f.ingestor.Ingest(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.True(t, dto.IsWatermarked)
	assert.Equal(t, "property of bob", dto.WatermarkMessage)
	assert.Empty(t, f.engine.embedded, "must not embed a second watermark")
	assert.Equal(t, 1, f.blobs.uploads, "only the original upload happens")
}

func TestIngestPrecheckForeignWatermark(t *testing.T) {
	f := newIngestFixture()
	f.ledger.records["1111000011110000"] = &model.WatermarkRecord{
		WatermarkID: "1111000011110000",
		UserID:      2,
	}
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "1111000011110000", Confidence: 0.8}

	_, err := f.ingestor.Ingest(context.Background(), baseRequest())
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeForeignWatermark, appErr.Code)
	assert.Contains(t, appErr.Message, "mallory")

	// 失败原因必须落在资产记录上
	assert.Equal(t, appErr.Message, f.assets.failures[1])
	assert.Empty(t, f.engine.embedded)
}

func TestIngestPrecheckUnregisteredWatermark(t *testing.T) {
	f := newIngestFixture()
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0101010101010101", Confidence: 0.8}

	_, err := f.ingestor.Ingest(context.Background(), baseRequest())
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnregisteredWatermark, appErr.Code)
	assert.NotEmpty(t, f.assets.failures[1])
}

func TestIngestPrecheckFailsOpen(t *testing.T) {
	f := newIngestFixture()
	f.engine.detectErr = fmt.Errorf("%w: connection refused", engine.ErrUnavailable)

	dto, err := f.ingestor.Ingest(context.Background(), baseRequest())
	require.NoError(t, err, "a broken engine pre-check must not block the upload")
	assert.True(t, dto.IsWatermarked)
}

func TestIngestPrecheckBelowThreshold(t *testing.T) {
	f := newIngestFixture()
	// 检出信号但置信度低于阈值，按未检出处理
	f.engine.detectRes = &engine.DetectResult{Detected: true, DecodedID: "0000000000000001", Confidence: 0.49}

	dto, err := f.ingestor.Ingest(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.True(t, dto.IsWatermarked)
	assert.Len(t, f.engine.embedded, 1)
}

func TestIngestEmbedRejected(t *testing.T) {
	f := newIngestFixture()
	f.engine.embedErr = fmt.Errorf("%w: already watermarked", engine.ErrRejected)

	_, err := f.ingestor.Ingest(context.Background(), baseRequest())
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeAlreadyWatermarked, appErr.Code)
	assert.Equal(t, appErr.Message, f.assets.failures[1])
}

func TestIngestEmbedEngineUnavailable(t *testing.T) {
	f := newIngestFixture()
	f.engine.embedErr = fmt.Errorf("%w: connection refused", engine.ErrUnavailable)

	_, err := f.ingestor.Ingest(context.Background(), baseRequest())
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeWatermarkingFailed, appErr.Code)
	// 失败原因保留引擎原文并落在资产行上
	assert.Contains(t, appErr.Message, "connection refused")
	assert.Equal(t, appErr.Message, f.assets.failures[1])
	assert.Empty(t, f.users.storageAdds)
}

func TestIngestEmbedTimeoutKeepsEngineText(t *testing.T) {
	f := newIngestFixture()
	f.engine.embedErr = fmt.Errorf("%w: embed deadline exceeded", engine.ErrTimeout)

	_, err := f.ingestor.Ingest(context.Background(), baseRequest())
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeWatermarkingFailed, appErr.Code)
	assert.Contains(t, appErr.Message, "embed deadline exceeded")
	assert.NotContains(t, appErr.Message, "detection")
	assert.NotContains(t, f.assets.failures[1], "detection")
}

func TestIngestRemintsOnDuplicateToken(t *testing.T) {
	f := newIngestFixture()
	f.ledger.rejectInserts = 1

	dto, err := f.ingestor.Ingest(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.True(t, dto.IsWatermarked)
	assert.Len(t, f.engine.embedded, 2, "one retry after the duplicate token")
	assert.NotEqual(t, f.engine.embedded[0], f.engine.embedded[1])
	assert.Len(t, f.blobs.removed, 1, "the discarded watermarked blob gets cleaned up")
	assert.Len(t, f.ledger.records, 1)
}

func TestIngestGivesUpAfterRepeatedDuplicates(t *testing.T) {
	f := newIngestFixture()
	f.ledger.rejectInserts = maxMintAttempts

	_, err := f.ingestor.Ingest(context.Background(), baseRequest())
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeWatermarkingFailed, appErr.Code)
	assert.Len(t, f.engine.embedded, maxMintAttempts)
	assert.NotEmpty(t, f.assets.failures[1])
}

func TestIngestUnknownUser(t *testing.T) {
	f := newIngestFixture()
	req := baseRequest()
	req.UserID = 99

	_, err := f.ingestor.Ingest(context.Background(), req)
	appErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, appErr.Code)
}
