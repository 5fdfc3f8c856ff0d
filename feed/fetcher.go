package feed

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/JiscSD/lightning-observation-map/s3"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/pkg/errors"
)

// Default query parameters understood by the open data file API.
const (
	DefaultDownloadType = "WEB"
	DefaultFormat       = "KMZ"
)

// DefaultMaxSize caps the archive read from the provider.
const DefaultMaxSize = 64 << 20

// Fetcher retrieves the compressed archive published by the provider.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Source describes where the archive lives. URLs with the s3 scheme are read
// from object storage, everything else is requested over HTTP.
type Source struct {
	URL           string
	Authorization string
	DownloadType  string
	Format        string
	Timeout       time.Duration
	MaxSize       int64 // bytes, DefaultMaxSize when zero
}

// New returns the fetcher that matches the scheme of the source URL.
func New(src Source, httpClient *http.Client, storage s3.ObjectStorage) (Fetcher, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, errors.Wrap(err, "feed URL cannot be parsed")
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(httpClient, src)
	case "s3":
		if storage == nil {
			return nil, errors.New("feed URL points to S3 but object storage is not configured")
		}
		return &S3Fetcher{storage: storage, uri: src.URL, timeout: src.Timeout}, nil
	default:
		return nil, errors.Errorf("unsupported feed URL scheme: %q", u.Scheme)
	}
}

// HTTPFetcher performs a single GET against the provider. It does not retry,
// the refresh schedule is the only retry policy.
type HTTPFetcher struct {
	client   *http.Client
	url      string
	redacted string
	timeout  time.Duration
	maxSize  int64
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher builds the request URL with the credential and the static
// query parameters.
func NewHTTPFetcher(client *http.Client, src Source) (*HTTPFetcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, errors.Wrap(err, "feed URL cannot be parsed")
	}
	downloadType, format := src.DownloadType, src.Format
	if downloadType == "" {
		downloadType = DefaultDownloadType
	}
	if format == "" {
		format = DefaultFormat
	}
	q := u.Query()
	q.Set("Authorization", src.Authorization)
	q.Set("downloadType", downloadType)
	q.Set("format", format)
	u.RawQuery = q.Encode()

	maxSize := src.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	redacted := *u
	redacted.RawQuery = ""

	return &HTTPFetcher{
		client:   client,
		url:      u.String(),
		redacted: redacted.String(),
		timeout:  src.Timeout,
		maxSize:  maxSize,
	}, nil
}

// Fetch downloads the archive. Only HTTP 200 is accepted.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequest("GET", f.url, nil)
	if err != nil {
		return nil, &FetchError{Err: f.redact(err)}
	}
	req = req.WithContext(ctx)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: f.redact(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	blob, err := ioutil.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, &FetchError{Err: f.redact(err)}
	}
	if int64(len(blob)) > f.maxSize {
		return nil, &FetchError{Err: errors.Errorf("archive exceeds %d bytes", f.maxSize)}
	}
	return blob, nil
}

// redact keeps the credential out of errors that end up in the logs.
func (f *HTTPFetcher) redact(err error) error {
	if uerr, ok := err.(*url.Error); ok {
		return &url.Error{Op: uerr.Op, URL: f.redacted, Err: uerr.Err}
	}
	return err
}

// S3Fetcher reads a copy of the archive kept in object storage.
type S3Fetcher struct {
	storage s3.ObjectStorage
	uri     string
	timeout time.Duration
}

var _ Fetcher = (*S3Fetcher)(nil)

func (f *S3Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	buf := aws.NewWriteAtBuffer([]byte{})
	if _, err := f.storage.Download(ctx, buf, f.uri); err != nil {
		return nil, &FetchError{Err: err}
	}
	return buf.Bytes(), nil
}
