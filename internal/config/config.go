package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinTimeout is the enforced floor for runner timeouts. Skill scripts that do
// real ingestion never finish faster than this, so anything lower is a
// misconfiguration.
const MinTimeout = 30 * time.Second

const DefaultMaxChunksPerRun = 4096

// Runner holds the per-job-kind settings for invoking the external skill
// program.
type Runner struct {
	Program          string        `yaml:"program"`
	Args             []string      `yaml:"args"`
	Timeout          time.Duration `yaml:"-"`
	TimeoutSec       int           `yaml:"timeout_sec"`
	WorkDir          string        `yaml:"workdir"`
	SkillFile        string        `yaml:"skill_file"`
	ResultDir        string        `yaml:"result_dir"`
	DeleteResultFile bool          `yaml:"delete_result_file"`
}

type Config struct {
	Addr             string
	LogMode          string
	DBPath           string
	ContentStorePath string
	MaxChunksPerRun  int64
	Article          Runner
	Song             Runner
}

// skillsFile is the optional YAML overlay (SKILLS_CONFIG). Fields present in
// the file win over environment variables.
type skillsFile struct {
	Article *Runner `yaml:"article"`
	Song    *Runner `yaml:"song"`
}

func Load() (Config, error) {
	cfg := Config{
		Addr:             getenv("API_ADDR", ":8080"),
		LogMode:          getenv("LOG_MODE", "dev"),
		DBPath:           getenv("DB_PATH", "skillrunner.db"),
		ContentStorePath: getenv("CONTENT_STORE_PATH", "./content-store"),
		MaxChunksPerRun:  int64(getenvInt("MAX_CHUNKS_PER_RUN", DefaultMaxChunksPerRun)),
		Article:          loadRunner("SKILL_ARTICLE"),
		Song:             loadRunner("SKILL_SONG"),
	}

	if path := os.Getenv("SKILLS_CONFIG"); path != "" {
		if err := applyOverlay(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	finishRunner(&cfg.Article)
	finishRunner(&cfg.Song)
	return cfg, nil
}

func loadRunner(prefix string) Runner {
	return Runner{
		Program:          getenv(prefix+"_PROGRAM", "skill-runner"),
		Args:             splitArgs(os.Getenv(prefix + "_ARGS")),
		TimeoutSec:       getenvInt(prefix+"_TIMEOUT_SEC", 600),
		WorkDir:          os.Getenv(prefix + "_WORKDIR"),
		SkillFile:        os.Getenv(prefix + "_SKILL_FILE"),
		ResultDir:        getenv(prefix+"_RESULT_DIR", filepath.Join(os.TempDir(), "skill-results")),
		DeleteResultFile: getenvBool(prefix+"_DELETE_RESULT", true),
	}
}

func applyOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading skills config %s: %w", path, err)
	}
	var file skillsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing skills config %s: %w", path, err)
	}
	mergeRunner(&cfg.Article, file.Article)
	mergeRunner(&cfg.Song, file.Song)
	return nil
}

func mergeRunner(dst *Runner, src *Runner) {
	if src == nil {
		return
	}
	if src.Program != "" {
		dst.Program = src.Program
	}
	if src.Args != nil {
		dst.Args = src.Args
	}
	if src.TimeoutSec != 0 {
		dst.TimeoutSec = src.TimeoutSec
	}
	if src.WorkDir != "" {
		dst.WorkDir = src.WorkDir
	}
	if src.SkillFile != "" {
		dst.SkillFile = src.SkillFile
	}
	if src.ResultDir != "" {
		dst.ResultDir = src.ResultDir
	}
	if src.DeleteResultFile {
		dst.DeleteResultFile = true
	}
}

func finishRunner(r *Runner) {
	r.Timeout = time.Duration(r.TimeoutSec) * time.Second
	if r.Timeout < MinTimeout {
		r.Timeout = MinTimeout
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(v); err == nil {
			return out
		}
	}
	return def
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
