package services

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// SigningError reports a result URL that cannot be translated into a signed
// client-facing URL.
type SigningError struct {
	URL string
	Msg string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("cannot sign %s: %s", e.URL, e.Msg)
}

// ResultSigner translates an opaque backend result URI into a time-limited
// HTTPS URL. Stateless; callers invoke it per response render.
type ResultSigner interface {
	SignURL(result uws.JobResult) (string, error)
}

type gcsResultSigner struct {
	log            *logger.Logger
	client         *storage.Client
	serviceAccount string
	lifetime       time.Duration
}

// NewGCSResultSigner signs gs:// result URIs with V4 signed URLs issued as
// the configured service account. lifetime defaults to 15 minutes.
func NewGCSResultSigner(log *logger.Logger, client *storage.Client, serviceAccount string, lifetime time.Duration) ResultSigner {
	if lifetime <= 0 {
		lifetime = 15 * time.Minute
	}
	return &gcsResultSigner{
		log:            log.With("service", "GCSResultSigner"),
		client:         client,
		serviceAccount: serviceAccount,
		lifetime:       lifetime,
	}
}

func (s *gcsResultSigner) SignURL(result uws.JobResult) (string, error) {
	bucket, key, err := splitObjectStoreURL(result.URL)
	if err != nil {
		return "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        time.Now().Add(s.lifetime),
		GoogleAccessID: s.serviceAccount,
	}
	if result.MimeType != "" {
		opts.QueryParameters = url.Values{
			"response-content-type": {result.MimeType},
		}
	}
	signed, err := s.client.Bucket(bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", result.URL, err)
	}
	return signed, nil
}

// splitObjectStoreURL accepts only gs:// URIs and returns bucket and key.
func splitObjectStoreURL(raw string) (bucket, key string, err error) {
	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", &SigningError{URL: raw, Msg: parseErr.Error()}
	}
	if u.Scheme != "gs" {
		return "", "", &SigningError{URL: raw, Msg: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", "", &SigningError{URL: raw, Msg: "missing bucket"}
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", &SigningError{URL: raw, Msg: "missing object key"}
	}
	return u.Host, key, nil
}
