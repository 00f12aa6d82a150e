// blobget downloads a single object over HTTP(S), S3, or Azure Blob Storage
// using chunked conditional range requests, with optional parallelism,
// resume, content validation, and client-side AES-CBC decryption.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lakefront/blobkit/download"
	"github.com/lakefront/blobkit/encryption"
	"github.com/lakefront/blobkit/internal/progressui"
	"github.com/lakefront/blobkit/transport"
	"github.com/lakefront/blobkit/transport/azureblob"
	"github.com/lakefront/blobkit/transport/httprange"
	"github.com/lakefront/blobkit/transport/s3object"
)

var (
	// Version is set at build time via -ldflags.
	Version = "dev"

	flagOutput       string
	flagConcurrency  int
	flagChunkSize    int64
	flagFirstGetSize int64
	flagOffset       int64
	flagLength       int64
	flagValidate     bool
	flagResume       bool
	flagQuiet        bool
	flagVerbose      bool
	flagKeyB64       string
	flagIVB64        string
	flagRegion       string
	flagS3AccessKey  string
	flagS3SecretKey  string
)

func main() {
	root := &cobra.Command{
		Use:   "blobget <url>",
		Short: "Download an object with chunked conditional range requests",
		Long: `blobget downloads one object from HTTP(S), S3 (s3://bucket/key), or
Azure Blob Storage (a blob URL, typically carrying a SAS token). The object
is fetched with an initial bounded range request followed by fixed-size
chunks, optionally in parallel, and written byte-exactly to the destination.`,
		Version: Version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
		SilenceUsage: true,
	}

	root.Flags().StringVarP(&flagOutput, "output", "o", "", "destination file (default: object basename)")
	root.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 1, "number of parallel chunk workers")
	root.Flags().Int64Var(&flagChunkSize, "chunk-size", 0, "chunk size in bytes after the first request")
	root.Flags().Int64Var(&flagFirstGetSize, "first-get-size", 0, "byte bound of the initial range request")
	root.Flags().Int64Var(&flagOffset, "offset", -1, "first byte of the window to download")
	root.Flags().Int64Var(&flagLength, "length", -1, "number of bytes to download from the offset")
	root.Flags().BoolVar(&flagValidate, "validate", false, "request and verify transactional MD5 per chunk")
	root.Flags().BoolVar(&flagResume, "resume", false, "resume an interrupted download if a sidecar exists")
	root.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress the progress bar")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	root.Flags().StringVar(&flagKeyB64, "key", "", "base64 AES-256 key for client-side decryption")
	root.Flags().StringVar(&flagIVB64, "iv", "", "base64 IV for client-side decryption")
	root.Flags().StringVar(&flagRegion, "region", "", "AWS region for s3:// URLs")
	root.Flags().StringVar(&flagS3AccessKey, "s3-access-key", "", "static AWS access key (default: ambient credentials)")
	root.Flags().StringVar(&flagS3SecretKey, "s3-secret-key", "", "static AWS secret key")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func run(cmd *cobra.Command, rawURL string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger()

	fetcher, objectName, err := newFetcher(ctx, rawURL, log)
	if err != nil {
		return err
	}

	dest := flagOutput
	if dest == "" {
		dest = objectName
	}
	if dest == "" || dest == "." || dest == "/" {
		return fmt.Errorf("cannot derive a destination file name from %q, use --output", rawURL)
	}

	req := download.Request{
		ChunkSize:       flagChunkSize,
		ValidateContent: flagValidate,
	}
	if flagOffset >= 0 {
		offset := flagOffset
		req.Offset = &offset
	}
	if flagLength >= 0 {
		length := flagLength
		req.Length = &length
	}

	if flagKeyB64 != "" {
		dec, derr := newDecrypter()
		if derr != nil {
			return derr
		}
		req.Decrypter = dec
	}

	reporter := progressui.New(flagConcurrency, flagQuiet)
	started := false
	req.OnProgress = func(transferred, total int64) {
		if !started {
			reporter.Start(total, path.Base(dest))
			started = true
		}
		reporter.Update(transferred)
	}

	d := download.New(fetcher, download.Options{
		ChunkSize:    flagChunkSize,
		FirstGetSize: flagFirstGetSize,
		Logger:       log,
	})

	start := time.Now()
	props, err := d.ToFile(ctx, req, dest, download.FileOptions{
		Concurrency: flagConcurrency,
		Resume:      flagResume,
	})
	if err != nil {
		if started {
			reporter.Finish()
		}
		return fmt.Errorf("download failed: %w", err)
	}
	if started {
		reporter.Finish()
	}

	log.Info().
		Str("destination", dest).
		Int64("total_size", props.TotalSize).
		Str("etag", string(props.ETag)).
		Dur("elapsed", time.Since(start)).
		Msg("download complete")
	return nil
}

// newFetcher builds the transport for the URL scheme and returns it along
// with a default destination name derived from the object path.
func newFetcher(ctx context.Context, rawURL string, log zerolog.Logger) (transport.RangeFetcher, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	switch {
	case u.Scheme == "s3":
		bucket := u.Host
		key := strings.TrimPrefix(u.Path, "/")
		if bucket == "" || key == "" {
			return nil, "", fmt.Errorf("s3 url must be s3://bucket/key, got %q", rawURL)
		}
		client, err := newS3Client(ctx)
		if err != nil {
			return nil, "", err
		}
		return s3object.New(client, bucket, key), path.Base(key), nil

	case u.Scheme == "https" && strings.Contains(u.Host, ".blob.core.windows.net"):
		// A full blob URL, normally with a SAS token in the query string.
		client, err := blob.NewClientWithNoCredential(rawURL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create blob client: %w", err)
		}
		return azureblob.New(client), path.Base(u.Path), nil

	case u.Scheme == "http" || u.Scheme == "https":
		f := httprange.New(rawURL, httprange.Options{Logger: log})
		return f, path.Base(u.Path), nil

	default:
		return nil, "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

func newS3Client(ctx context.Context) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if flagRegion != "" {
		loadOpts = append(loadOpts, config.WithRegion(flagRegion))
	}
	if flagS3AccessKey != "" && flagS3SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(flagS3AccessKey, flagS3SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func newDecrypter() (download.Decrypter, error) {
	key, err := encryption.DecodeBase64(flagKeyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid --key: %w", err)
	}
	if flagIVB64 == "" {
		return nil, fmt.Errorf("--iv is required when --key is set")
	}
	iv, err := encryption.DecodeBase64(flagIVB64)
	if err != nil {
		return nil, fmt.Errorf("invalid --iv: %w", err)
	}
	return encryption.NewDecryptor(key, iv)
}
