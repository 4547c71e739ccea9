// Package all links every sink implementation into the binary
package all

import (
	// Import all sinks to trigger their init() functions
	_ "github.com/ajitpratap0/adsync/pkg/sink/bigquery"
	_ "github.com/ajitpratap0/adsync/pkg/sink/files"
	_ "github.com/ajitpratap0/adsync/pkg/sink/kafka"
	_ "github.com/ajitpratap0/adsync/pkg/sink/memory"
	_ "github.com/ajitpratap0/adsync/pkg/sink/mongodb"
	_ "github.com/ajitpratap0/adsync/pkg/sink/mysql"
	_ "github.com/ajitpratap0/adsync/pkg/sink/postgres"
	_ "github.com/ajitpratap0/adsync/pkg/sink/snowflake"
)
