package fieldcrypt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	abdmmetrics "healthid/internal/abdm/metrics"
)

// CertificateFetcher retrieves the authority's public encryption key.
type CertificateFetcher interface {
	FetchPublicKey(ctx context.Context) ([]byte, error)
}

// KeySource resolves the authority's RSA public key once per process. Sources
// are tried in order: the configured value, the key file, the remote
// certificate endpoint. A failed resolution is not cached.
type KeySource struct {
	configured string
	path       string
	fetcher    CertificateFetcher
	logger     *slog.Logger
	metrics    *abdmmetrics.Metrics

	key   atomic.Pointer[rsa.PublicKey]
	group singleflight.Group
}

// NewKeySource creates a key source. Any of configured, path or fetcher may
// be empty or nil.
func NewKeySource(configured, path string, fetcher CertificateFetcher, logger *slog.Logger, m *abdmmetrics.Metrics) *KeySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySource{
		configured: strings.TrimSpace(configured),
		path:       strings.TrimSpace(path),
		fetcher:    fetcher,
		logger:     logger,
		metrics:    m,
	}
}

var errNoKeySource = errors.New("no public key configured and no remote source available")

// PublicKey returns the cached key, resolving it on first use.
func (s *KeySource) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	if k := s.key.Load(); k != nil {
		return k, nil
	}
	// Resolution is detached from the first caller's cancellation so that a
	// single aborted request does not fail every waiter.
	ch := s.group.DoChan("public-key", func() (any, error) {
		if k := s.key.Load(); k != nil {
			return k, nil
		}
		k, err := s.resolve(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.key.Store(k)
		return k, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rsa.PublicKey), nil
	}
}

func (s *KeySource) resolve(ctx context.Context) (*rsa.PublicKey, error) {
	var errs []error

	if s.configured != "" {
		k, err := ParsePublicKey([]byte(s.configured))
		s.record(ctx, "config", err)
		if err == nil {
			return k, nil
		}
		errs = append(errs, fmt.Errorf("configured key: %w", err))
	}

	if s.path != "" {
		k, err := s.fromFile()
		s.record(ctx, "file", err)
		if err == nil {
			return k, nil
		}
		errs = append(errs, fmt.Errorf("key file: %w", err))
	}

	if s.fetcher != nil {
		raw, err := s.fetcher.FetchPublicKey(ctx)
		var k *rsa.PublicKey
		if err == nil {
			k, err = ParsePublicKey(raw)
		}
		s.record(ctx, "remote", err)
		if err == nil {
			return k, nil
		}
		errs = append(errs, fmt.Errorf("remote certificate: %w", err))
	}

	if len(errs) == 0 {
		return nil, errNoKeySource
	}
	return nil, errors.Join(errs...)
}

func (s *KeySource) fromFile() (*rsa.PublicKey, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return ParsePublicKey(data)
}

func (s *KeySource) record(ctx context.Context, source string, err error) {
	if err != nil {
		s.metrics.IncrementKeyLoad(source, "error")
		s.logger.WarnContext(ctx, "public key source failed", "source", source, "error", err)
		return
	}
	s.metrics.IncrementKeyLoad(source, "ok")
	s.logger.InfoContext(ctx, "public key loaded", "source", source)
}

// ParsePublicKey accepts a PEM block (PUBLIC KEY, CERTIFICATE or RSA PUBLIC
// KEY) or bare base64 DER in any of those encodings.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty key material")
	}

	var der []byte
	if block, _ := pem.Decode([]byte(trimmed)); block != nil {
		der = block.Bytes
	} else {
		compact := strings.Join(strings.Fields(trimmed), "")
		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			return nil, fmt.Errorf("key is neither PEM nor base64 DER: %w", err)
		}
		der = decoded
	}
	return parseDER(der)
}

func parseDER(der []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		if k, ok := pub.(*rsa.PublicKey); ok {
			return k, nil
		}
		return nil, errors.New("public key is not RSA")
	}
	if cert, err := x509.ParseCertificate(der); err == nil {
		if k, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return k, nil
		}
		return nil, errors.New("certificate key is not RSA")
	}
	if k, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return k, nil
	}
	return nil, errors.New("unrecognized public key encoding")
}
