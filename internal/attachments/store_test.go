package attachments

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, s Store, sessionID, key string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), sessionID, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	key, err := s.Put(ctx, "sid-1", "xray.png", strings.NewReader("scan"), 4)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "attachment:sid-1:"))
	assert.Equal(t, "scan", readAll(t, s, "sid-1", key))

	_, err = s.Open(ctx, "sid-9", key)
	assert.ErrorIs(t, err, ErrForeignKey)
	assert.ErrorIs(t, s.Delete(ctx, "sid-9", key), ErrForeignKey)
	assert.Equal(t, "scan", readAll(t, s, "sid-1", key), "other sessions cannot remove it")

	require.NoError(t, s.Delete(ctx, "sid-1", key))
	_, err = s.Open(ctx, "sid-1", key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "sid-1"))
}

func TestOwns(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		key       string
		want      bool
	}{
		{"issued key", "sid-1", "attachment:sid-1:5b1c", true},
		{"other session", "sid-2", "attachment:sid-1:5b1c", false},
		{"session prefix of another", "sid", "attachment:sid:1:5b1c", false},
		{"empty session", "", "attachment::5b1c", false},
		{"bare prefix", "sid-1", "attachment:sid-1:", false},
		{"unrelated key", "sid-1", "draft:sid-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Owns(tt.sessionID, tt.key))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, time.Hour)
	exerciseStore(t, s)

	key, err := s.Put(context.Background(), "sid-2", "a.pdf", strings.NewReader("pdf"), 3)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(key))
}

// mockS3Client keeps objects in memory.
type mockS3Client struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), contentTypes: make(map[string]string)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = body
	m.contentTypes[*input.Key] = *input.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObjects(_ context.Context, input *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range input.Delete.Objects {
		delete(m.objects, *obj.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3Store(t *testing.T) {
	mock := newMockS3()
	s := NewS3Store(mock, "booking-attachments")
	exerciseStore(t, s)

	key, err := s.Put(context.Background(), "sid-3", "report.pdf", strings.NewReader("%PDF"), 4)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mock.contentTypes[key])
}
