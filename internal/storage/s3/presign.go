package s3

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// DefaultPresignLifetime is the presigned URL lifetime when the caller does
// not choose one.
const DefaultPresignLifetime = 7 * 24 * time.Hour

// GeneratePresignedURL produces a time-limited URL for direct provider
// access. GET is the default method; ForceDownload attaches a download
// disposition to the signed response.
func (d *Driver) GeneratePresignedURL(ctx context.Context, mount *types.Mount, subPath string, opts types.PresignOptions) (*types.PresignResult, error) {
	if pathutil.IsDirRef(subPath) {
		return nil, ferrors.BadRequest("cannot presign a directory")
	}

	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = DefaultPresignLifetime
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	key := d.keyFor(subPath)
	var signedURL string

	switch method {
	case http.MethodGet:
		in := &awss3.GetObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		}
		if opts.ForceDownload {
			disposition := fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(pathutil.Basename(subPath)))
			in.ResponseContentDisposition = aws.String(disposition)
		}
		req, err := d.presign.PresignGetObject(ctx, in, awss3.WithPresignExpires(expires))
		if err != nil {
			return nil, d.translateError(err, "GeneratePresignedURL", subPath)
		}
		signedURL = req.URL
	case http.MethodPut:
		req, err := d.presign.PresignPutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		}, awss3.WithPresignExpires(expires))
		if err != nil {
			return nil, d.translateError(err, "GeneratePresignedURL", subPath)
		}
		signedURL = req.URL
	default:
		return nil, ferrors.Newf(ferrors.KindBadRequest, "unsupported presign method %q", method)
	}

	return &types.PresignResult{
		URL:       signedURL,
		Method:    method,
		ExpiresAt: d.clock().Add(expires),
	}, nil
}
