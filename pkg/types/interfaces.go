package types

import (
	"context"
	"io"
	"time"
)

// Driver is the base contract every storage driver fulfills. Operation
// methods live on the capability interfaces below; the facade checks the
// advertised capability set before asserting an interface, so a driver that
// lacks a capability fails fast with Unimplemented before any I/O.
type Driver interface {
	Type() string
	Capabilities() CapabilitySet
	Close() error
}

// FileResponse carries a streamed download. Ownership of Body transfers to
// the caller, which must close it on every exit path.
type FileResponse struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	Disposition   string
}

// Reader is the read-side driver capability.
type Reader interface {
	ListDirectory(ctx context.Context, mount *Mount, subPath string) (*DirectoryListing, error)
	GetFileInfo(ctx context.Context, mount *Mount, subPath string) (*ObjectInfo, error)
	DownloadFile(ctx context.Context, mount *Mount, subPath string, inline bool) (*FileResponse, error)
	Search(ctx context.Context, mount *Mount, query string, opts SearchOptions) ([]SearchHit, error)
}

// Writer is the mutation-side driver capability.
type Writer interface {
	UploadFile(ctx context.Context, mount *Mount, subPath string, body io.Reader, principal Principal, opts UploadOptions) (*FileRecord, error)
	CreateDirectory(ctx context.Context, mount *Mount, subPath string) error
	RemoveItem(ctx context.Context, mount *Mount, subPath string) error
}

// Atomic is the rename/copy driver capability. Renames are emulated as
// copy-then-delete; the capability name records that the driver owns both
// ends of the operation within one storage configuration.
type Atomic interface {
	RenameItem(ctx context.Context, mount *Mount, oldSubPath, newSubPath string) error
	CopyItem(ctx context.Context, srcMount *Mount, srcSubPath string, dstMount *Mount, dstSubPath string, opts CopyOptions) (*CopyOutcome, error)
}

// Presigned is the presigned-URL driver capability.
type Presigned interface {
	GeneratePresignedURL(ctx context.Context, mount *Mount, subPath string, opts PresignOptions) (*PresignResult, error)
}

// Multipart is the frontend multipart-upload driver capability. Session
// state lives with the provider; abandoned sessions are discoverable via
// ListMultipartUploads.
type Multipart interface {
	InitMultipart(ctx context.Context, mount *Mount, subPath string, req MultipartInitRequest) (*MultipartInit, error)
	CompleteMultipart(ctx context.Context, mount *Mount, subPath string, uploadID string, parts []MultipartPart, principal Principal) (*FileRecord, error)
	AbortMultipart(ctx context.Context, mount *Mount, subPath string, uploadID string) error
	ListMultipartUploads(ctx context.Context, mount *Mount, subPath string) ([]MultipartUpload, error)
	ListMultipartParts(ctx context.Context, mount *Mount, subPath string, uploadID string) ([]MultipartPart, error)
	RefreshMultipartURLs(ctx context.Context, mount *Mount, subPath string, uploadID string, partNumbers []int32) (map[int32]string, error)
}

// MountRepository is the persistence contract for mounts.
type MountRepository interface {
	CreateMount(ctx context.Context, m *Mount) error
	UpdateMount(ctx context.Context, m *Mount) error
	DeleteMount(ctx context.Context, id string) error
	GetMount(ctx context.Context, id string) (*Mount, error)
	ListMountsByOwner(ctx context.Context, owner string) ([]*Mount, error)
	TouchMountLastUsed(ctx context.Context, id string, at time.Time) error
}

// S3ConfigRepository is the persistence contract for S3 configurations.
type S3ConfigRepository interface {
	CreateConfig(ctx context.Context, c *S3Config) error
	UpdateConfig(ctx context.Context, c *S3Config) error
	DeleteConfig(ctx context.Context, id string) error
	GetConfig(ctx context.Context, id string) (*S3Config, error)
	ListConfigs(ctx context.Context) ([]*S3Config, error)
}

// FileRepository is the persistence contract for uploaded file records.
type FileRepository interface {
	CreateFile(ctx context.Context, f *FileRecord) error
	GetFileBySlug(ctx context.Context, slug string) (*FileRecord, error)
	DeleteFilesByStoragePath(ctx context.Context, configID, storagePath string) (int, error)
}

// SecretBox decrypts configuration secrets at use time.
type SecretBox interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}
