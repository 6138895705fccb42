package learnstore

import "codeberg.org/mutker/legionctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("learnstore_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("learnstore_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("learnstore_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("learnstore_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("learnstore_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("learnstore_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed

	// Service Errors
	ErrServiceShutdown = errors.ErrShutdownFailed

	// Snapshot Errors
	ErrInvalidSnapshot  = errors.ErrorCode("learnstore_invalid_snapshot")
	ErrSnapshotNotFound = errors.ErrorCode("learnstore_snapshot_not_found")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
