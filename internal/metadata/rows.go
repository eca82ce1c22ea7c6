package metadata

import (
	"encoding/json"

	"github.com/familyhub/gateway/pkg/types"
)

const fileColumns = `
	file_id, family_id, owner_id, original_name, folder_path, file_type, file_size,
	storage_type, storage_path, visibility, description, tags,
	create_time, update_time, upload_time, last_access_time, access_count, deleted, attributes`

const insertFileQuery = `
	INSERT INTO file_metadata (
		file_id, family_id, owner_id, original_name, folder_path, file_type, file_size,
		storage_type, storage_path, visibility, description, tags,
		create_time, update_time, upload_time, last_access_time, access_count, deleted, attributes
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
	)`

const updateFileQuery = `
	UPDATE file_metadata SET
		family_id = $2, owner_id = $3, original_name = $4, folder_path = $5, file_type = $6,
		file_size = $7, storage_type = $8, storage_path = $9, visibility = $10,
		description = $11, tags = $12, update_time = $13, upload_time = $14,
		last_access_time = $15, access_count = $16, deleted = $17, attributes = $18
	WHERE file_id = $1`

// row is the minimal subset of pgx.Row/pgx.Rows that scanFile needs, satisfied by both.
type row interface {
	Scan(dest ...interface{}) error
}

func fileArgs(m *types.FileMetadata) []interface{} {
	attrs, _ := marshalAttributes(m.Attributes)
	return []interface{}{
		m.FileID, m.FamilyID, m.OwnerID, m.OriginalName, m.FolderPath, m.FileType, m.FileSize,
		string(m.StorageType), m.StoragePath, string(m.Visibility), m.Description, m.Tags,
		m.CreateTime, m.UpdateTime, m.UploadTime, m.LastAccessTime, m.AccessCount, m.Deleted, attrs,
	}
}

func updateFileArgs(m *types.FileMetadata) []interface{} {
	attrs, _ := marshalAttributes(m.Attributes)
	return []interface{}{
		m.FileID, m.FamilyID, m.OwnerID, m.OriginalName, m.FolderPath, m.FileType, m.FileSize,
		string(m.StorageType), m.StoragePath, string(m.Visibility), m.Description, m.Tags,
		m.UpdateTime, m.UploadTime, m.LastAccessTime, m.AccessCount, m.Deleted, attrs,
	}
}

func scanFile(r row) (*types.FileMetadata, error) {
	var m types.FileMetadata
	var storageType, visibility string
	var attrs []byte

	err := r.Scan(
		&m.FileID, &m.FamilyID, &m.OwnerID, &m.OriginalName, &m.FolderPath, &m.FileType, &m.FileSize,
		&storageType, &m.StoragePath, &visibility, &m.Description, &m.Tags,
		&m.CreateTime, &m.UpdateTime, &m.UploadTime, &m.LastAccessTime, &m.AccessCount, &m.Deleted, &attrs,
	)
	if err != nil {
		return nil, err
	}

	m.StorageType = types.StorageType(storageType)
	m.Visibility = types.Visibility(visibility)
	if len(attrs) > 0 {
		_ = json.Unmarshal(attrs, &m.Attributes)
	}
	return &m, nil
}

// rowsScanner is the subset of pgx.Rows scanFiles needs.
type rowsScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanFiles(rows rowsScanner) ([]types.FileMetadata, error) {
	var files []types.FileMetadata
	for rows.Next() {
		m, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *m)
	}
	return files, rows.Err()
}
