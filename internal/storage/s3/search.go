package s3

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// defaultSearchMaxResults bounds one driver search walk.
const defaultSearchMaxResults = 1000

// Search walks the whole keyspace under the mount's effective prefix,
// matching the query case-insensitively against each key's final segment.
// Hits come back raw; relevance ordering is the facade's job.
func (d *Driver) Search(ctx context.Context, mount *types.Mount, query string, opts types.SearchOptions) ([]types.SearchHit, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchMaxResults
	}
	needle := strings.ToLower(query)
	base := d.basePrefix()

	var hits []types.SearchHit
	var token *string
	for {
		out, err := d.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(base),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, d.translateError(err, "Search", query)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			name := key
			if idx := strings.LastIndex(key, "/"); idx >= 0 {
				name = key[idx+1:]
			}
			if !strings.Contains(strings.ToLower(name), needle) {
				continue
			}

			subPath := d.subPathFor(key)
			hits = append(hits, types.SearchHit{
				Name:     name,
				SubPath:  subPath,
				Path:     pathutil.Join(mount.MountPath, subPath),
				MountID:  mount.ID,
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
			if len(hits) >= maxResults {
				return hits, nil
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return hits, nil
}
