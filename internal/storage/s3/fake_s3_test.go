package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awshttp "github.com/aws/smithy-go/transport/http"
)

// fakeS3 is an in-process S3 implementation of the driver's client
// interfaces: one bucket, plain-MD5 ETags, paginated listings.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	uploads map[string]*fakeUpload

	// headErrFor injects a HEAD failure for specific keys, used to exercise
	// the 403/UnknownError fallback path.
	headErrFor map[string]error

	nextUploadID int
	callCounts   map[string]int
}

type fakeObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

type fakeUpload struct {
	key     string
	parts   map[int32][]byte
	aborted bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:    make(map[string]*fakeObject),
		uploads:    make(map[string]*fakeUpload),
		headErrFor: make(map[string]error),
		callCounts: make(map[string]int),
	}
}

func (f *fakeS3) count(op string) {
	f.callCounts[op]++
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func notFoundErr() error  { return &s3types.NotFound{} }
func noSuchKeyErr() error { return &s3types.NoSuchKey{} }

// forbiddenErr builds a response error carrying a 403, the shape providers
// that refuse HEAD produce.
func forbiddenErr() error {
	return &awshttp.ResponseError{
		Response: &awshttp.Response{Response: &http.Response{StatusCode: 403}},
		Err:      fmt.Errorf("Forbidden"),
	}
}

func (f *fakeS3) put(key string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = &fakeObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		modified:    time.Now().UTC(),
	}
}

func (f *fakeS3) sortedKeys(prefix string) []string {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListObjectsV2")

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	max := int(aws.ToInt32(in.MaxKeys))
	if max <= 0 {
		max = 1000
	}

	keys := f.sortedKeys(prefix)
	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		for i, k := range keys {
			if k > token {
				start = i
				break
			}
			start = i + 1
		}
	}

	out := &awss3.ListObjectsV2Output{}
	seenPrefixes := make(map[string]bool)
	emitted := 0
	lastKey := ""

	for _, key := range keys[start:] {
		if emitted >= max {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(lastKey)
			return out, nil
		}
		lastKey = key
		rest := key[len(prefix):]
		if delim != "" {
			if idx := strings.Index(rest, delim); idx >= 0 {
				cp := prefix + rest[:idx+1]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(cp)})
					emitted++
				}
				continue
			}
		}
		obj := f.objects[key]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
			ETag:         aws.String(etagOf(obj.data)),
		})
		emitted++
	}
	out.IsTruncated = aws.Bool(false)
	return out, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("HeadObject")

	key := aws.ToString(in.Key)
	if err, ok := f.headErrFor[key]; ok {
		return nil, err
	}
	obj, ok := f.objects[key]
	if !ok {
		return nil, notFoundErr()
	}
	return &awss3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(etagOf(obj.data)),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetObject")

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, noSuchKeyErr()
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(etagOf(obj.data)),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	f.count("PutObject")

	var data []byte
	if in.Body != nil {
		var err error
		data, err = io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
	}
	f.put(aws.ToString(in.Key), data, aws.ToString(in.ContentType))
	return &awss3.PutObjectOutput{ETag: aws.String(etagOf(data))}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	f.count("CopyObject")

	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	idx := strings.Index(source, "/")
	srcKey := source[idx+1:]

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[srcKey]
	if !ok {
		return nil, noSuchKeyErr()
	}
	f.objects[aws.ToString(in.Key)] = &fakeObject{
		data:        append([]byte(nil), obj.data...),
		contentType: obj.contentType,
		modified:    time.Now().UTC(),
	}
	return &awss3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteObject")

	delete(f.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *awss3.DeleteObjectsInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteObjects")

	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &awss3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *awss3.CreateMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateMultipartUpload")

	f.nextUploadID++
	id := fmt.Sprintf("upload-%d", f.nextUploadID)
	f.uploads[id] = &fakeUpload{
		key:   aws.ToString(in.Key),
		parts: make(map[int32][]byte),
	}
	return &awss3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

// registerPart simulates a browser uploading one part through its presigned
// URL.
func (f *fakeS3) registerPart(uploadID string, partNumber int32, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[uploadID].parts[partNumber] = append([]byte(nil), data...)
	return stripETag(etagOf(data))
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *awss3.CompleteMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CompleteMultipartUpload")

	up, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok || up.aborted {
		return nil, notFoundErr()
	}

	var data []byte
	for _, part := range in.MultipartUpload.Parts {
		data = append(data, up.parts[aws.ToInt32(part.PartNumber)]...)
	}
	f.objects[up.key] = &fakeObject{data: data, modified: time.Now().UTC()}
	delete(f.uploads, aws.ToString(in.UploadId))
	return &awss3.CompleteMultipartUploadOutput{ETag: aws.String(etagOf(data))}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *awss3.AbortMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("AbortMultipartUpload")

	up, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, notFoundErr()
	}
	up.aborted = true
	return &awss3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(ctx context.Context, in *awss3.ListMultipartUploadsInput, _ ...func(*awss3.Options)) (*awss3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListMultipartUploads")

	prefix := aws.ToString(in.Prefix)
	out := &awss3.ListMultipartUploadsOutput{}
	for id, up := range f.uploads {
		if up.aborted || !strings.HasPrefix(up.key, prefix) {
			continue
		}
		out.Uploads = append(out.Uploads, s3types.MultipartUpload{
			UploadId:  aws.String(id),
			Key:       aws.String(up.key),
			Initiated: aws.Time(time.Now().UTC()),
		})
	}
	return out, nil
}

func (f *fakeS3) ListParts(ctx context.Context, in *awss3.ListPartsInput, _ ...func(*awss3.Options)) (*awss3.ListPartsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListParts")

	up, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, notFoundErr()
	}
	out := &awss3.ListPartsOutput{}
	nums := make([]int32, 0, len(up.parts))
	for n := range up.parts {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	for _, n := range nums {
		out.Parts = append(out.Parts, s3types.Part{
			PartNumber: aws.Int32(n),
			ETag:       aws.String(etagOf(up.parts[n])),
		})
	}
	return out, nil
}

// fakePresigner signs nothing; it renders deterministic URLs so tests can
// assert shape and part numbering.
type fakePresigner struct{}

func (fakePresigner) PresignGetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://fake.s3/get/%s", aws.ToString(in.Key)),
		Method: http.MethodGet,
	}, nil
}

func (fakePresigner) PresignPutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://fake.s3/put/%s", aws.ToString(in.Key)),
		Method: http.MethodPut,
	}, nil
}

func (fakePresigner) PresignUploadPart(ctx context.Context, in *awss3.UploadPartInput, _ ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://fake.s3/part/%s?uploadId=%s&partNumber=%d",
			aws.ToString(in.Key), aws.ToString(in.UploadId), aws.ToInt32(in.PartNumber)),
		Method: http.MethodPut,
	}, nil
}
