package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/caffeineduck/lessonbox/executor"
	"github.com/caffeineduck/lessonbox/hostfunc"
)

var rootCmd = &cobra.Command{
	Use:   "lessonbox",
	Short: "Run interactive coding lessons",
	Long: `lessonbox - run the code blocks of a lesson against one persistent
interpreter session.

A lesson is a YAML manifest or a lesson page (.html). Hidden blocks run
first, fixed blocks run in order, and editable blocks run on demand from the
repl or the HTTP API. Lesson code has no filesystem or network access beyond
the lesson's data directory unless enabled with flags.

Every flag can also be set in a config file (--config) or through
LESSONBOX_* environment variables, e.g. LESSONBOX_ALLOW_HOST.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// cfg holds the resolved settings of the running command.
var cfg settings

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "Config file (yaml, json or toml)")
	f.String("log-level", "info", "Log level: debug, info, warn, error")
	f.StringP("lang", "l", "", "Language: starlark (python), js, wasm (default: lesson's language, else starlark)")
	f.String("wasm", "", "Guest interpreter .wasm file for --lang wasm")
	f.Duration("timeout", 0, "Per-execution timeout (0 = none)")
	f.Bool("kv", false, "Enable key-value store for lesson code")
	f.StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	f.StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")
	f.String("workdir", ".", "Directory holding the lesson's data directory")
	f.String("memory", "256mb", "WASM memory limit: 16mb, 64mb, 256mb, 1gb")
	f.Bool("no-cache", false, "Disable WASM compilation cache")
	f.Duration("pace", 0, "Pause between fixed blocks (0 = default, negative = none)")
	f.String("report-url", "", "Endpoint that receives quiz results")
	f.String("store", "", "bbolt file recording quiz completions (default: in memory)")

	f.Int("http-max-url", hostfunc.DefaultMaxURLLength, "Max HTTP URL length")
	f.Int64("http-max-body", hostfunc.DefaultMaxBodySize, "Max HTTP response body size")
	f.Int64("fs-max-file", hostfunc.DefaultMaxFileSize, "Max file read size")
	f.Int64("fs-max-write", hostfunc.DefaultMaxWriteSize, "Max file write size")
	f.Int("fs-max-path", hostfunc.DefaultMaxPathLength, "Max path length")
}

// settings is the merged view of flags, config file and environment.
type settings struct {
	Lang        string
	Wasm        string
	Timeout     time.Duration
	KV          bool
	AllowHosts  []string
	Mounts      []hostfunc.Mount
	Workdir     string
	MemoryPages uint32
	NoCache     bool
	Pace        time.Duration
	ReportURL   string
	Store       string

	HTTPMaxURL  int
	HTTPMaxBody int64
	FSMaxFile   int64
	FSMaxWrite  int64
	FSMaxPath   int

	Log zerolog.Logger
}

func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	v.SetEnvPrefix("lessonbox")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	s, err := settingsFrom(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg = s
	return nil
}

func settingsFrom(v *viper.Viper, logOut io.Writer) (settings, error) {
	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return settings{}, fmt.Errorf("invalid log level %q", v.GetString("log-level"))
	}

	s := settings{
		Lang:        strings.ToLower(v.GetString("lang")),
		Wasm:        v.GetString("wasm"),
		Timeout:     v.GetDuration("timeout"),
		KV:          v.GetBool("kv"),
		AllowHosts:  v.GetStringSlice("allow-host"),
		Workdir:     v.GetString("workdir"),
		MemoryPages: parseMemoryLimit(v.GetString("memory")),
		NoCache:     v.GetBool("no-cache"),
		Pace:        v.GetDuration("pace"),
		ReportURL:   v.GetString("report-url"),
		Store:       v.GetString("store"),
		HTTPMaxURL:  v.GetInt("http-max-url"),
		HTTPMaxBody: v.GetInt64("http-max-body"),
		FSMaxFile:   v.GetInt64("fs-max-file"),
		FSMaxWrite:  v.GetInt64("fs-max-write"),
		FSMaxPath:   v.GetInt("fs-max-path"),
		Log:         newLogger(logOut, level),
	}
	if s.Workdir == "" {
		s.Workdir = "."
	}

	for _, spec := range v.GetStringSlice("mount") {
		m, err := parseMount(spec)
		if err != nil {
			return settings{}, err
		}
		s.Mounts = append(s.Mounts, m)
	}
	return s, nil
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func parseMount(spec string) (hostfunc.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}

	var mode hostfunc.MountMode
	switch parts[2] {
	case "ro":
		mode = hostfunc.MountReadOnly
	case "rw":
		mode = hostfunc.MountReadWrite
	case "rwc":
		mode = hostfunc.MountReadWriteCreate
	default:
		return hostfunc.Mount{}, fmt.Errorf("invalid mount mode %q (expected ro, rw, or rwc)", parts[2])
	}

	return hostfunc.Mount{
		VirtualPath: parts[0],
		HostPath:    parts[1],
		Mode:        mode,
	}, nil
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "16mb":
		return executor.MemoryLimit16MB
	case "64mb":
		return executor.MemoryLimit64MB
	case "256mb":
		return executor.MemoryLimit256MB
	case "1gb":
		return executor.MemoryLimit1GB
	default:
		return 0 // use default
	}
}
