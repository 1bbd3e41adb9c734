package persistence

import (
	"time"
)

// TenantModel represents the tenants table
type TenantModel struct {
	ID                string    `gorm:"column:id;primaryKey;not null"`
	Slug              string    `gorm:"column:slug;unique;not null"`
	AICredential      string    `gorm:"column:ai_credential"`
	MaxConcurrentRuns int       `gorm:"column:max_concurrent_runs;not null;default:1"`
	StorageBudgetMB   int       `gorm:"column:storage_budget_mb;not null;default:0"`
	Active            bool      `gorm:"column:active;not null;default:true"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null"`
}

func (TenantModel) TableName() string {
	return "tenants"
}

// TenantCategoryModel represents the tenant_categories table
type TenantCategoryModel struct {
	ID          string       `gorm:"column:id;primaryKey;not null"`
	TenantID    string       `gorm:"column:tenant_id;not null;uniqueIndex:idx_tenant_category_key"`
	Tenant      *TenantModel `gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Key         string       `gorm:"column:key;not null;uniqueIndex:idx_tenant_category_key"`
	Name        string       `gorm:"column:name;not null"`
	Subcategory *string      `gorm:"column:subcategory"`
	OutputName  string       `gorm:"column:output_name;not null"`
	SortOrder   int          `gorm:"column:sort_order;not null;default:0"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null"`
}

func (TenantCategoryModel) TableName() string {
	return "tenant_categories"
}

// PipelineRunModel represents the pipeline_runs table
type PipelineRunModel struct {
	ID             string       `gorm:"column:id;primaryKey;not null"`
	TenantID       string       `gorm:"column:tenant_id;not null;index"`
	Tenant         *TenantModel `gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	InputFiles     string       `gorm:"column:input_files;type:text;not null"` // JSON array as text
	SourceURLs     string       `gorm:"column:source_urls;type:text"`          // JSON array as text
	Status         string       `gorm:"column:status;not null;index"`
	CurrentStage   string       `gorm:"column:current_stage;not null"`
	Progress       int          `gorm:"column:progress;not null;default:0"`
	ErrorMessage   *string      `gorm:"column:error_message;type:text"`
	ParentRunID    *string      `gorm:"column:parent_run_id;index"`
	BatchIndex     *int         `gorm:"column:batch_index"`
	BatchSize      *int         `gorm:"column:batch_size"`
	TotalBatches   *int         `gorm:"column:total_batches"`
	TotalItems     int          `gorm:"column:total_items;not null;default:0"`
	ProcessedItems int          `gorm:"column:processed_items;not null;default:0"`
	TotalQuestions int          `gorm:"column:total_questions;not null;default:0"`
	CreatedAt      time.Time    `gorm:"column:created_at;not null"`
	StartedAt      *time.Time   `gorm:"column:started_at"`
	CompletedAt    *time.Time   `gorm:"column:completed_at"`
}

func (PipelineRunModel) TableName() string {
	return "pipeline_runs"
}

// PipelineJobModel represents the pipeline_jobs table.
// One row per stage attempt; the highest attempt per (run_id, stage)
// is the authoritative one.
type PipelineJobModel struct {
	ID            string            `gorm:"column:id;primaryKey;not null"`
	RunID         string            `gorm:"column:run_id;not null;index:idx_jobs_run_stage_attempt"`
	Run           *PipelineRunModel `gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Stage         string            `gorm:"column:stage;not null;index:idx_jobs_run_stage_attempt"`
	Status        string            `gorm:"column:status;not null;index"`
	Attempt       int               `gorm:"column:attempt;not null;default:1;index:idx_jobs_run_stage_attempt"`
	Progress      int               `gorm:"column:progress;not null;default:0"`
	ExternalJobID *string           `gorm:"column:external_job_id"`
	Result        *string           `gorm:"column:result;type:text"` // JSON as text
	ErrorMessage  *string           `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time         `gorm:"column:created_at;not null"`
	StartedAt     *time.Time        `gorm:"column:started_at"`
	CompletedAt   *time.Time        `gorm:"column:completed_at"`
}

func (PipelineJobModel) TableName() string {
	return "pipeline_jobs"
}

// ItemModel represents the items table. The natural key is
// (tenant_id, file); items belong to tenants, not runs.
type ItemModel struct {
	ID                string       `gorm:"column:id;primaryKey;not null"`
	TenantID          string       `gorm:"column:tenant_id;not null;uniqueIndex:idx_items_tenant_file"`
	Tenant            *TenantModel `gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	File              string       `gorm:"column:file;not null;uniqueIndex:idx_items_tenant_file"`
	PipelineRunID     string       `gorm:"column:pipeline_run_id;not null;index"`
	SourcePDF         string       `gorm:"column:source_pdf"`
	Success           bool         `gorm:"column:success;not null;default:false"`
	ParseData         string       `gorm:"column:parse_data;type:text"`     // opaque JSON as text
	ParseError        *string      `gorm:"column:parse_error;type:text"`
	ParseErrorType    *string      `gorm:"column:parse_error_type"`
	Categorization    *string      `gorm:"column:categorization;type:text"` // JSON as text
	SimilarityGroupID *string      `gorm:"column:similarity_group_id;index"`
	MarkedWrong       bool         `gorm:"column:marked_wrong;not null;default:false"`
	MarkedWrongAt     *time.Time   `gorm:"column:marked_wrong_at"`
	CreatedAt         time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time    `gorm:"column:updated_at;not null"`
}

func (ItemModel) TableName() string {
	return "items"
}

// PipelineLogModel represents the pipeline_logs table
type PipelineLogModel struct {
	ID        int               `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string            `gorm:"column:run_id;not null;index"`
	Run       *PipelineRunModel `gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Timestamp time.Time         `gorm:"column:timestamp;not null"`
	Level     string            `gorm:"column:level;not null;default:'INFO'"`
	Message   string            `gorm:"column:message;type:text;not null"`
	Metadata  string            `gorm:"column:metadata;type:text"` // JSON as text
}

func (PipelineLogModel) TableName() string {
	return "pipeline_logs"
}

// QueueMessageModel represents the queue_messages table. The
// auto-incremented ID doubles as the FIFO sequence within a partition.
type QueueMessageModel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	MessageID    string    `gorm:"column:message_id;uniqueIndex;not null"`
	Stage        string    `gorm:"column:stage;not null;index:idx_queue_stage_partition"`
	PartitionKey string    `gorm:"column:partition_key;not null;index:idx_queue_stage_partition"`
	TenantID     string    `gorm:"column:tenant_id"`
	RunID        string    `gorm:"column:run_id"`
	Payload      string    `gorm:"column:payload;type:text;not null"` // JSON as text
	EnqueuedAt   time.Time `gorm:"column:enqueued_at;not null"`
}

func (QueueMessageModel) TableName() string {
	return "queue_messages"
}

// QueueDeliveryModel represents the queue_deliveries table: one row per
// (message, consumer group) with the visibility bookkeeping. A lease is
// a row whose visible_at lies in the future and whose token matches.
type QueueDeliveryModel struct {
	ID            int64              `gorm:"column:id;primaryKey;autoIncrement"`
	MessageRef    int64              `gorm:"column:message_ref;not null;uniqueIndex:idx_queue_delivery_group"`
	Message       *QueueMessageModel `gorm:"foreignKey:MessageRef;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ConsumerGroup string             `gorm:"column:consumer_group;not null;uniqueIndex:idx_queue_delivery_group"`
	Status        string             `gorm:"column:status;not null;index"`
	Attempts      int                `gorm:"column:attempts;not null;default:0"`
	VisibleAt     time.Time          `gorm:"column:visible_at;not null;index"`
	LeaseToken    *string            `gorm:"column:lease_token"`
	CompletedAt   *time.Time         `gorm:"column:completed_at"`
}

func (QueueDeliveryModel) TableName() string {
	return "queue_deliveries"
}

// CacheEntryModel represents the cache_entries table, the database
// fallback behind the blob cache when no Redis address is configured.
type CacheEntryModel struct {
	Key       string     `gorm:"column:key;primaryKey;not null"`
	Value     string     `gorm:"column:value;type:text;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`
}

func (CacheEntryModel) TableName() string {
	return "cache_entries"
}
