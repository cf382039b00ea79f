// Package types defines the data model shared across the virtual filesystem
// engine: mounts, storage configurations, listings, principals, capability
// sets, and the narrow interfaces drivers and repositories implement.
package types

import (
	"fmt"
	"time"
)

// StorageTypeS3 is the only storage type supported by this engine core.
const StorageTypeS3 = "S3"

// Mount binds a logical path prefix to a storage configuration.
type Mount struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Name            string    `json:"name" validate:"required"`
	MountPath       string    `json:"mount_path" validate:"required,startswith=/"`
	StorageType     string    `json:"storage_type" validate:"required,oneof=S3"`
	StorageConfigID string    `json:"storage_config_id" validate:"required"`
	CacheTTLSeconds int       `json:"cache_ttl_seconds" validate:"gte=0"`
	SortOrder       int       `json:"sort_order"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
}

// S3Config holds the connection parameters for one S3-compatible endpoint.
// The secret key is stored encrypted in EncryptedSecretKey and decrypted only
// when a client is built.
type S3Config struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Endpoint           string `json:"endpoint" validate:"required,url"`
	Region             string `json:"region"`
	Bucket             string `json:"bucket" validate:"required"`
	AccessKeyID        string `json:"access_key_id" validate:"required"`
	EncryptedSecretKey string `json:"encrypted_secret_key"`
	PathStyle          bool   `json:"path_style"`
	RootPrefix         string `json:"root_prefix"`
	DefaultFolder      string `json:"default_folder"`
	ProviderType       string `json:"provider_type"`
	SignatureVersion   string `json:"signature_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListingItem is one entry of a directory listing.
type ListingItem struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"is_directory"`
	Size        int64     `json:"size,omitempty"`
	Modified    time.Time `json:"modified,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	MountID     string    `json:"mount_id,omitempty"`
	IsMount     bool      `json:"is_mount,omitempty"`
	IsVirtual   bool      `json:"is_virtual,omitempty"`
}

// DirectoryListing is the result of listing one directory. A virtual listing
// is synthesized from the mount table for an ancestor directory that no
// single mount covers.
type DirectoryListing struct {
	Path        string        `json:"path"`
	IsVirtual   bool          `json:"is_virtual"`
	IsRoot      bool          `json:"is_root"`
	MountID     string        `json:"mount_id,omitempty"`
	StorageType string        `json:"storage_type,omitempty"`
	Items       []ListingItem `json:"items"`
}

// ObjectInfo is metadata about one object or directory marker.
type ObjectInfo struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	Modified    time.Time         `json:"modified"`
	ETag        string            `json:"etag,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	IsDirectory bool              `json:"is_directory"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FileRecord is the row persisted for every uploaded file.
type FileRecord struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	S3URL       string    `json:"s3_url"`
	MimeType    string    `json:"mimetype"`
	Size        int64     `json:"size"`
	S3ConfigID  string    `json:"s3_config_id"`
	Slug        string    `json:"slug"`
	ETag        string    `json:"etag"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Principal identifies the already-authenticated caller of an engine
// operation: either an admin user or an API key with a restricted mount set.
type Principal struct {
	Admin bool `json:"admin"`

	// UserID is set for admin principals.
	UserID string `json:"user_id,omitempty"`

	// KeyID, PermittedMountIDs, BasePath and Permissions are set for API-key
	// principals. A nil PermittedMountIDs list permits nothing.
	KeyID             string   `json:"key_id,omitempty"`
	PermittedMountIDs []string `json:"permitted_mount_ids,omitempty"`
	BasePath          string   `json:"base_path,omitempty"`
	Permissions       []string `json:"permissions,omitempty"`
}

// AdminPrincipal builds an admin principal.
func AdminPrincipal(userID string) Principal {
	return Principal{Admin: true, UserID: userID}
}

// APIKeyPrincipal builds an API-key principal.
func APIKeyPrincipal(keyID string, mountIDs []string) Principal {
	return Principal{KeyID: keyID, PermittedMountIDs: mountIDs}
}

// OwnerTag returns the ownership string recorded on file records.
func (p Principal) OwnerTag() string {
	if p.Admin {
		return fmt.Sprintf("admin:%s", p.UserID)
	}
	return fmt.Sprintf("apikey:%s", p.KeyID)
}

// CanUseMount reports whether the principal may address the given mount.
// Admins may address every mount; API keys only their permitted set.
func (p Principal) CanUseMount(mountID string) bool {
	if p.Admin {
		return true
	}
	for _, id := range p.PermittedMountIDs {
		if id == mountID {
			return true
		}
	}
	return false
}

// Capability is a declared feature of a storage driver.
type Capability string

const (
	CapReader    Capability = "Reader"
	CapWriter    Capability = "Writer"
	CapAtomic    Capability = "Atomic"
	CapPresigned Capability = "Presigned"
	CapMultipart Capability = "Multipart"
)

// CapabilitySet is the set of capabilities a driver advertises.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// UploadOptions carries the parameters of a single-shot upload.
type UploadOptions struct {
	Filename    string
	MimeType    string
	Size        int64
	ContentType string
}

// CopyOptions carries the parameters of a copy operation.
type CopyOptions struct {
	SkipExisting bool
}

// CopyOutcome is the tagged result of one copy. A local copy carries counts;
// a cross-storage copy carries the presigned transfer pair the caller
// executes itself.
type CopyOutcome struct {
	CrossStorage bool `json:"cross_storage"`

	// Local copy statistics.
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`

	// Cross-storage transfer handles.
	GetURL   string      `json:"get_url,omitempty"`
	PutURL   string      `json:"put_url,omitempty"`
	Metadata *ObjectInfo `json:"metadata,omitempty"`
}

// PresignOptions parameterizes presigned URL generation.
type PresignOptions struct {
	Method        string
	ExpiresIn     time.Duration
	ForceDownload bool
}

// PresignResult is a generated presigned URL.
type PresignResult struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MultipartInitRequest parameterizes a frontend multipart initialization.
type MultipartInitRequest struct {
	Filename string
	Size     int64
	MimeType string
	PartSize int64
}

// MultipartInit is the session handed to the frontend: one presigned PUT URL
// per part, signed against the final key.
type MultipartInit struct {
	UploadID string   `json:"upload_id"`
	Key      string   `json:"key"`
	PartSize int64    `json:"part_size"`
	PartURLs []string `json:"part_urls"`
}

// MultipartPart identifies one completed part.
type MultipartPart struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

// MultipartUpload describes one in-flight provider session.
type MultipartUpload struct {
	UploadID  string    `json:"upload_id"`
	Key       string    `json:"key"`
	Initiated time.Time `json:"initiated"`
}

// SearchOptions bounds a driver search walk.
type SearchOptions struct {
	MaxResults int
}

// SearchHit is one raw driver search result; ordering is applied by the
// facade.
type SearchHit struct {
	Name     string    `json:"name"`
	SubPath  string    `json:"sub_path"`
	Path     string    `json:"path"`
	MountID  string    `json:"mount_id"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// BatchFailure records one failed item of a batch operation.
type BatchFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BatchRemoveResult aggregates a batch removal.
type BatchRemoveResult struct {
	Success int            `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

// BatchCopyResult aggregates a batch copy, including any cross-storage
// transfers the caller must execute.
type BatchCopyResult struct {
	Success             int            `json:"success"`
	Skipped             int            `json:"skipped"`
	Failed              []BatchFailure `json:"failed"`
	Details             []CopyOutcome  `json:"details,omitempty"`
	CrossStorageResults []CopyOutcome  `json:"cross_storage_results,omitempty"`
}
