package gcsartifacts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// Publisher кладёт готовые выписки в GCS. Ключ детерминирован по заказу,
// поэтому повторная публикация перезаписывает объект, а не плодит дубли.
type Publisher struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// New prefers ADC (GOOGLE_APPLICATION_CREDENTIALS / service account).
// For local runs explicit JSON can be provided via GCS_CREDENTIALS_JSON.
func New(ctx context.Context, bucket, publicBaseURL string) (*Publisher, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var (
		client *storage.Client
		err    error
	)
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, errors.Wrap(err, "gcs client")
	}

	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://storage.googleapis.com/%s", bucket)
	}

	return &Publisher{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	wc := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", errors.Wrap(err, "gcs write")
	}
	if err := wc.Close(); err != nil {
		return "", errors.Wrap(err, "gcs close writer")
	}

	return p.URL(key), nil
}

func (p *Publisher) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.Bucket(p.bucket).Object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "gcs attrs")
	}
	return true, nil
}

func (p *Publisher) URL(key string) string {
	return p.publicBaseURL + "/" + key
}
