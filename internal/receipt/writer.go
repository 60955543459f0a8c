package receipt

import (
	"bytes"
	"context"
	"fmt"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"sync"
)

// Writer buffers an object and stores it on Close.
type Writer interface {
	Write(data []byte) (int, error)
	Close() error
}

type WriterFactory interface {
	NewWriter(ctx context.Context, objectPath string) (Writer, error)
}

type S3Writer struct {
	ctx        context.Context
	client     *s3.Client
	bucket     string
	objectPath string
	buffer     bytes.Buffer
}

type S3WriterFactory struct {
	client *s3.Client
	bucket string
}

func NewS3WriterFactory(ctx context.Context, region, bucket string) (*S3WriterFactory, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &S3WriterFactory{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (f *S3WriterFactory) NewWriter(ctx context.Context, objectPath string) (Writer, error) {
	return &S3Writer{
		ctx:        ctx,
		client:     f.client,
		bucket:     f.bucket,
		objectPath: objectPath,
	}, nil
}

func (w *S3Writer) Write(data []byte) (int, error) {
	return w.buffer.Write(data)
}

func (w *S3Writer) Close() error {
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(w.objectPath),
		Body:        bytes.NewReader(w.buffer.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("unable to upload %s to S3: %w", w.objectPath, err)
	}
	return nil
}

// MemoryWriterFactory keeps objects in a map. It backs local runs without a bucket.
type MemoryWriterFactory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryWriterFactory() *MemoryWriterFactory {
	return &MemoryWriterFactory{objects: map[string][]byte{}}
}

func (f *MemoryWriterFactory) NewWriter(ctx context.Context, objectPath string) (Writer, error) {
	return &memoryWriter{factory: f, path: objectPath}, nil
}

// Object returns a stored object, or nil.
func (f *MemoryWriterFactory) Object(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path]
}

func (f *MemoryWriterFactory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type memoryWriter struct {
	factory *MemoryWriterFactory
	path    string
	buffer  bytes.Buffer
}

func (w *memoryWriter) Write(data []byte) (int, error) {
	return w.buffer.Write(data)
}

func (w *memoryWriter) Close() error {
	w.factory.mu.Lock()
	defer w.factory.mu.Unlock()
	w.factory.objects[w.path] = append([]byte(nil), w.buffer.Bytes()...)
	return nil
}
