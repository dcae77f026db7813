package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultRegion is used when AWS_REGION is unset.
const DefaultRegion = "us-east-1"

// Settings are the environment defaults a run starts from. Command line
// flags take precedence over them.
type Settings struct {
	Region     string // AWS_REGION
	ReportURI  string // LF_MIGRATE_REPORT_URI
	AuditTable string // LF_MIGRATE_AUDIT_TABLE
}

// LoadSettings reads Settings from the environment after seeding it from the
// given dotenv files. Variables already set in the environment win over the
// files. Missing files are ignored; with no paths, ".env" is tried.
func LoadSettings(paths ...string) (Settings, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, err
		}
	}

	s := Settings{
		Region:     os.Getenv("AWS_REGION"),
		ReportURI:  os.Getenv("LF_MIGRATE_REPORT_URI"),
		AuditTable: os.Getenv("LF_MIGRATE_AUDIT_TABLE"),
	}
	if s.Region == "" {
		s.Region = DefaultRegion
	}
	return s, nil
}
