// Package config holds the options of a migration run and the environment
// settings they default from. It handles parsing and validation of every
// user-supplied parameter before any AWS call is made.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Config holds all options for a single migration run.
type Config struct {
	Region            string   // AWS region of the catalog
	TargetDatabases   []string // Databases to migrate; nil means every database
	SkipErrors        bool     // Continue past revoke failures
	ApplyGlobalConfig bool     // Run the data lake settings and location phases
	DryRun            bool     // Print the plan without calling AWS
	AssumeYes         bool     // Skip the interactive confirmation
	Preflight         bool     // Simulate the caller's IAM policy before migrating
	Verbose           bool     // Debug logging
	ReportURI         string   // s3://bucket/key or file:///abs/path for the JSON report
	AuditTable        string   // DynamoDB table receiving the revocation ledger

	// Internal fields
	reportScheme string
	reportBucket string
	reportKey    string
}

// DynamoDB table names: 3-255 characters of [a-zA-Z0-9_.-].
var tableNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,255}$`)

// Validate ensures all required fields are present and have valid values.
// It also parses ReportURI so the report accessors below can be used.
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}

	for _, db := range c.TargetDatabases {
		if strings.TrimSpace(db) == "" {
			return fmt.Errorf("target database names must not be empty")
		}
	}

	if c.ReportURI != "" {
		if err := c.parseReportURI(); err != nil {
			return err
		}
	}

	if c.AuditTable != "" && !tableNamePattern.MatchString(c.AuditTable) {
		return fmt.Errorf("invalid audit table name: %q", c.AuditTable)
	}

	return nil
}

func (c *Config) parseReportURI() error {
	u, err := url.Parse(c.ReportURI)
	if err != nil {
		return fmt.Errorf("invalid report URI: %w", err)
	}

	switch u.Scheme {
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return fmt.Errorf("report S3 URI must be s3://bucket/key")
		}
		c.reportBucket = u.Host
		c.reportKey = key
	case "file":
		p := filepath.Clean(u.Path)
		if !filepath.IsAbs(p) || u.Host != "" {
			return fmt.Errorf("report file URI must be file:///absolute/path")
		}
		c.reportKey = p
	default:
		return fmt.Errorf("report URI must use s3 or file scheme")
	}
	c.reportScheme = u.Scheme
	return nil
}

// ReportScheme returns "s3", "file" or "" when no report is requested.
func (c *Config) ReportScheme() string {
	return c.reportScheme
}

// ReportBucket returns the bucket parsed from an s3 ReportURI
func (c *Config) ReportBucket() string {
	return c.reportBucket
}

// ReportKey returns the object key of an s3 ReportURI, or the file path of a file ReportURI
func (c *Config) ReportKey() string {
	return c.reportKey
}

// ParseDatabases splits a comma separated list of database names. Names are
// trimmed, empty entries dropped and duplicates removed keeping first
// occurrence. An empty list yields nil, meaning every database.
func ParseDatabases(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
