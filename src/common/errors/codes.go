package errors

// Common error codes used across domains
const (
	CodeNotFound       Code = "not_found"
	CodeInvalidRequest Code = "invalid_request"
	CodeInternal       Code = "internal_error"
	CodeUnavailable    Code = "unavailable"
)

// ============================================================================
// Configuration Errors
// ============================================================================

var (
	// ErrUnknownTarget is returned when a device display name is not in the registry
	ErrUnknownTarget = New(DomainConfig, "unknown_target",
		"Unknown target device")

	// ErrInvalidRelease is returned when a release branch identifier cannot be parsed
	ErrInvalidRelease = New(DomainConfig, "invalid_release",
		"Invalid release branch identifier")

	// ErrMissingAsset is returned when a required overlay asset is absent
	ErrMissingAsset = New(DomainConfig, "missing_asset",
		"Required asset not found")

	// ErrInvalidConfig is returned when configuration values fail validation
	ErrInvalidConfig = New(DomainConfig, CodeInvalidRequest,
		"Invalid configuration")
)

// ============================================================================
// Network Errors
// ============================================================================

var (
	// ErrDownloadFailed is returned when the Image Builder archive cannot be fetched
	ErrDownloadFailed = New(DomainNetwork, "download_failed",
		"Failed to download archive")

	// ErrChecksumFetchFailed is returned when the upstream checksum manifest cannot be fetched
	ErrChecksumFetchFailed = New(DomainNetwork, "checksum_fetch_failed",
		"Failed to download checksum manifest")
)

// ============================================================================
// Archive Errors
// ============================================================================

var (
	// ErrExtractionFailed is returned when an archive is corrupt or unsupported
	ErrExtractionFailed = New(DomainArchive, "extraction_failed",
		"Failed to extract archive")
)

// ============================================================================
// Verification Errors
// ============================================================================

var (
	// ErrChecksumMismatch is returned when a local digest differs from the expected one
	ErrChecksumMismatch = New(DomainVerification, "checksum_mismatch",
		"Checksum mismatch")

	// ErrChecksumMissing is returned when the manifest has no entry for a file
	ErrChecksumMissing = New(DomainVerification, "checksum_missing",
		"No checksum entry for file")
)

// ============================================================================
// External Tool Errors
// ============================================================================

var (
	// ErrExternalTool is returned when an external command exits non-zero
	ErrExternalTool = New(DomainExternal, "tool_failed",
		"External command failed")

	// ErrImageNotFound is returned when the builder produced no matching image
	ErrImageNotFound = New(DomainExternal, "image_not_found",
		"No output image found")

	// ErrImageAmbiguous is returned when more than one image matches the output pattern
	ErrImageAmbiguous = New(DomainExternal, "image_ambiguous",
		"Multiple output images found")
)

// ============================================================================
// Storage Errors
// ============================================================================

var (
	// ErrStorageUploadFailed is returned when a storage upload fails
	ErrStorageUploadFailed = New(DomainStorage, "upload_failed",
		"Failed to upload object to storage")

	// ErrStorageNotFound is returned when a storage object cannot be found
	ErrStorageNotFound = New(DomainStorage, CodeNotFound,
		"Object not found in storage")
)

// ============================================================================
// Database Errors
// ============================================================================

var (
	// ErrDatabaseConnection is returned when the history database cannot be opened
	ErrDatabaseConnection = New(DomainDatabase, "connection_failed",
		"Failed to open history database")

	// ErrDatabaseQuery is returned when a history query fails
	ErrDatabaseQuery = New(DomainDatabase, "query_failed",
		"History query failed")
)

// ============================================================================
// Internal Errors
// ============================================================================

var (
	// ErrInternal is returned for unexpected internal errors
	ErrInternal = New(DomainInternal, CodeInternal,
		"Internal error")
)
