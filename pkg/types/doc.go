/*
Package types provides the core data structures and interfaces shared across the family
storage gateway: the file/statistics domain model (FileMetadata, FamilyStorageStats,
FileUploadRequest, ProcessingContext), the Storage Adapter contract implemented by the
local-filesystem and object-store backends, and the ambient config/health/metrics shapes
consumed by every component.

# Component Map

	HTTP API / TCP Proxy
	        │
	File Storage Service (C7, internal/fileservice)
	        │
	Interceptor Chain (C5, internal/interceptor)
	   │        │          │           │
	Validator Storage   Metadata   Statistics
	 (C4)    Adapter      Store      Engine
	        (C1)          (C2)        (C6)
	                        │
	                  Metadata Cache (C3)

# ProcessingContext

ProcessingContext is the unit of state threaded through the Interceptor Chain. Its Stage
field advances monotonically (INIT -> VALIDATED -> FILE_STORED -> METADATA_WRITTEN ->
STATS_UPDATED -> COMPLETED) except for the terminal ROLLED_BACK transition, which any
stage may take on failure.

# Ownership

FileMetadata rows are exclusively owned by the Metadata Store; the Metadata Cache holds
short-lived, advisory copies only. The physical object bytes are exclusively owned by
whichever StorageAdapter wrote them.
*/
package types
