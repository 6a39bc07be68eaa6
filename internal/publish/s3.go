// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package publish envia arquivos montados para armazenamento de objetos.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/nishisan-dev/n-upload/internal/config"
)

// Publisher envia o arquivo montado de um upload para um destino remoto.
type Publisher interface {
	Publish(ctx context.Context, uploadID, localPath string) (*Result, error)
}

// Result descreve o objeto criado.
type Result struct {
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	Location     string `json:"location"`
	ETag         string `json:"etag,omitempty"`
	Bytes        int64  `json:"bytes"`
	LocalRemoved bool   `json:"local_removed"`
}

// APIError é devolvido quando o endpoint S3 rejeita a requisição.
type APIError struct {
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("s3 %s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// S3Publisher envia arquivos com o multipart uploader do SDK.
type S3Publisher struct {
	client      *s3.Client
	uploader    *manager.Uploader
	fs          afero.Fs
	bucket      string
	prefix      string
	removeLocal bool
	logger      *slog.Logger
}

// NewS3Publisher cria o client S3 a partir da configuração.
// Sem access_key usa a cadeia padrão de credenciais do SDK.
func NewS3Publisher(ctx context.Context, cfg config.S3Config, fs afero.Fs, logger *slog.Logger) (*S3Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		// Endpoints S3-compatíveis nem sempre aceitam os checksums opcionais
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	partSize := cfg.PartSizeRaw
	if partSize <= 0 {
		partSize = manager.DefaultUploadPartSize
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})

	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &S3Publisher{
		client:      client,
		uploader:    uploader,
		fs:          fs,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		removeLocal: cfg.RemoveLocal,
		logger:      logger.With("component", "publish", "bucket", cfg.Bucket),
	}, nil
}

// Key devolve a chave do objeto de um upload.
func (p *S3Publisher) Key(uploadID string) string {
	if p.prefix == "" {
		return uploadID
	}
	return path.Join(p.prefix, uploadID)
}

// Publish envia localPath para {prefix}/{uploadID}. Com remove_local o arquivo local
// é removido após o upload; falha nessa remoção apenas gera um aviso.
func (p *S3Publisher) Publish(ctx context.Context, uploadID, localPath string) (*Result, error) {
	f, err := p.fs.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	key := p.Key(uploadID)
	start := time.Now()
	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return nil, classify(err)
	}
	f.Close()

	res := &Result{
		Bucket:   p.bucket,
		Key:      key,
		Location: out.Location,
		ETag:     aws.ToString(out.ETag),
		Bytes:    info.Size(),
	}

	p.logger.Info("merged file published",
		"uploadID", uploadID,
		"key", key,
		"size", humanize.IBytes(uint64(info.Size())),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if p.removeLocal {
		if err := p.fs.Remove(localPath); err != nil {
			p.logger.Warn("removing published file", "uploadID", uploadID, "path", localPath, "error", err)
		} else {
			res.LocalRemoved = true
		}
	}
	return res, nil
}

// classify transforma erros de API do S3 em *APIError.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.ErrorCode(), Message: apiErr.ErrorMessage(), Err: err}
	}
	return fmt.Errorf("uploading to s3: %w", err)
}
