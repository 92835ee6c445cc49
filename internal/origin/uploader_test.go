package origin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvtq/streamgate/internal/config"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUploader_Upload(t *testing.T) {
	putter := &fakePutter{}
	uploader := NewUploaderWithClient(putter, "streamgate-videos", "", testLogger())

	key, err := uploader.Upload(context.Background(), "v1.mp4", "video/mp4", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.Equal(t, "v1.mp4", key)

	require.Len(t, putter.inputs, 1)
	assert.Equal(t, "streamgate-videos", *putter.inputs[0].Bucket)
	assert.Equal(t, "v1.mp4", *putter.inputs[0].Key)
	assert.Equal(t, "video/mp4", *putter.inputs[0].ContentType)
	assert.Equal(t, "bytes", putter.bodies[0])
}

func TestUploader_Upload_KeyPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "plain prefix", prefix: "videos", key: "v1.mp4", want: "videos/v1.mp4"},
		{name: "trailing slash prefix", prefix: "videos/", key: "v1.mp4", want: "videos/v1.mp4"},
		{name: "leading slash key", prefix: "videos", key: "/v1.mp4", want: "videos/v1.mp4"},
		{name: "no prefix", prefix: "", key: "v1.mp4", want: "v1.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			putter := &fakePutter{}
			uploader := NewUploaderWithClient(putter, "bucket", tt.prefix, testLogger())

			key, err := uploader.Upload(context.Background(), tt.key, "", strings.NewReader("x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestUploader_Upload_Error(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	uploader := NewUploaderWithClient(putter, "bucket", "", testLogger())

	_, err := uploader.Upload(context.Background(), "v1.mp4", "", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "put object")
}

func TestNewUploader_DisabledWithoutBucket(t *testing.T) {
	uploader, err := NewUploader(context.Background(), &config.OriginConfig{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, uploader)
}
