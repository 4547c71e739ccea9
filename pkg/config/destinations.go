package config

import "fmt"

// DestinationConfig selects a sink and carries the settings of every sink type.
// Only the section matching Type is read.
type DestinationConfig struct {
	Type string `yaml:"type" json:"type"`
	// BatchSize is the number of records a sink buffers per write
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	BigQuery  BigQueryConfig  `yaml:"bigquery" json:"bigquery"`
	Postgres  PostgresConfig  `yaml:"postgres" json:"postgres"`
	MySQL     MySQLConfig     `yaml:"mysql" json:"mysql"`
	Snowflake SnowflakeConfig `yaml:"snowflake" json:"snowflake"`
	MongoDB   MongoDBConfig   `yaml:"mongodb" json:"mongodb"`
	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
	Files     FilesConfig     `yaml:"files" json:"files"`
}

// BigQueryConfig configures the BigQuery sink
type BigQueryConfig struct {
	ProjectID       string `yaml:"project_id" json:"project_id"`
	Dataset         string `yaml:"dataset" json:"dataset"`
	Location        string `yaml:"location" json:"location"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	TablePrefix     string `yaml:"table_prefix" json:"table_prefix"`
}

// PostgresConfig configures the PostgreSQL sink
type PostgresConfig struct {
	DSN    string `yaml:"dsn" json:"dsn"`
	Schema string `yaml:"schema" json:"schema"`
}

// MySQLConfig configures the MySQL sink
type MySQLConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// SnowflakeConfig configures the Snowflake sink
type SnowflakeConfig struct {
	Account   string `yaml:"account" json:"account"`
	User      string `yaml:"user" json:"user"`
	Password  string `yaml:"password" json:"password"`
	Database  string `yaml:"database" json:"database"`
	Schema    string `yaml:"schema" json:"schema"`
	Warehouse string `yaml:"warehouse" json:"warehouse"`
	Role      string `yaml:"role" json:"role"`
}

// MongoDBConfig configures the MongoDB sink
type MongoDBConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	Database string `yaml:"database" json:"database"`
}

// KafkaConfig configures the Kafka sink
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	TopicPrefix string   `yaml:"topic_prefix" json:"topic_prefix"`
	Compression string   `yaml:"compression" json:"compression"`
	ClientID    string   `yaml:"client_id" json:"client_id"`
}

// FilesConfig configures the object/file sink.
// URL selects the backend: file://dir, gs://bucket/prefix or s3://bucket/prefix.
type FilesConfig struct {
	URL         string `yaml:"url" json:"url"`
	Format      string `yaml:"format" json:"format"`
	Compression string `yaml:"compression" json:"compression"`
	Region      string `yaml:"region" json:"region"`
	// CredentialsFile is used for GCS
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// Validate checks the section selected by Type
func (d DestinationConfig) Validate() error {
	if d.BatchSize < 1 {
		return fmt.Errorf("destination.batch_size must be >= 1")
	}
	switch d.Type {
	case "bigquery", "bq":
		if d.BigQuery.ProjectID == "" || d.BigQuery.Dataset == "" {
			return fmt.Errorf("destination.bigquery: project_id and dataset are required")
		}
	case "postgres":
		if d.Postgres.DSN == "" {
			return fmt.Errorf("destination.postgres.dsn is required")
		}
	case "mysql":
		if d.MySQL.DSN == "" {
			return fmt.Errorf("destination.mysql.dsn is required")
		}
	case "snowflake":
		if d.Snowflake.Account == "" || d.Snowflake.User == "" || d.Snowflake.Database == "" {
			return fmt.Errorf("destination.snowflake: account, user and database are required")
		}
	case "mongodb":
		if d.MongoDB.URI == "" || d.MongoDB.Database == "" {
			return fmt.Errorf("destination.mongodb: uri and database are required")
		}
	case "kafka":
		if len(d.Kafka.Brokers) == 0 {
			return fmt.Errorf("destination.kafka.brokers must not be empty")
		}
	case "files":
		if d.Files.URL == "" {
			return fmt.Errorf("destination.files.url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("destination.type: unknown sink %q", d.Type)
	}
	return nil
}
