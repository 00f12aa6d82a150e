// Package azureblob adapts an Azure Blob Storage client to
// transport.RangeFetcher. The azblob SDK already retries transient
// failures internally, so this adapter only translates options and
// normalizes errors into transport status errors.
package azureblob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/lakefront/blobkit/transport"
)

// Fetcher performs conditional range downloads of a single blob.
type Fetcher struct {
	client *blob.Client
}

// New wraps an azblob blob client.
func New(client *blob.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch issues one DownloadStream call against the blob.
func (f *Fetcher) Fetch(ctx context.Context, opts transport.FetchOptions) (*transport.Response, error) {
	dlOpts := &blob.DownloadStreamOptions{}
	if opts.Range != nil {
		dlOpts.Range = blob.HTTPRange{
			Offset: opts.Range.Start,
			Count:  opts.Range.End - opts.Range.Start + 1,
		}
	}
	if !opts.Conditions.IsZero() {
		cond := &blob.ModifiedAccessConditions{}
		if opts.Conditions.IfMatch != "" {
			cond.IfMatch = (*azcore.ETag)(to.Ptr(string(opts.Conditions.IfMatch)))
		}
		if opts.Conditions.IfNoneMatch != "" {
			cond.IfNoneMatch = (*azcore.ETag)(to.Ptr(string(opts.Conditions.IfNoneMatch)))
		}
		dlOpts.AccessConditions = &blob.AccessConditions{ModifiedAccessConditions: cond}
	}
	if opts.TransactionalMD5 && opts.Range != nil {
		dlOpts.RangeGetContentMD5 = to.Ptr(true)
	}

	resp, err := f.client.DownloadStream(ctx, dlOpts)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return nil, &transport.StatusError{
				Status: respErr.StatusCode,
				Code:   respErr.ErrorCode,
			}
		}
		return nil, fmt.Errorf("blob download failed: %w", err)
	}

	out := &transport.Response{
		Status:     http.StatusOK,
		TotalSize:  -1,
		ContentMD5: resp.ContentMD5,
		Location:   f.client.URL(),
		Body:       resp.Body,
	}
	if opts.Range != nil {
		out.Status = http.StatusPartialContent
	}
	if resp.ContentLength != nil {
		out.ContentLength = *resp.ContentLength
	} else {
		out.ContentLength = -1
	}
	if resp.ContentRange != nil {
		out.ContentRange = *resp.ContentRange
		if _, _, total, perr := transport.ParseContentRange(*resp.ContentRange); perr == nil {
			out.TotalSize = total
		}
	} else if opts.Range == nil && resp.ContentLength != nil {
		out.TotalSize = *resp.ContentLength
	}
	if resp.ETag != nil {
		out.ETag = transport.ETag(*resp.ETag)
	}
	if resp.ContentType != nil {
		out.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		out.LastModified = *resp.LastModified
	}
	if len(resp.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(resp.Metadata))
		for k, v := range resp.Metadata {
			if v != nil {
				out.Metadata[k] = *v
			}
		}
	}
	return out, nil
}
