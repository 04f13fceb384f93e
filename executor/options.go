package executor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/caffeineduck/lessonbox/hostfunc"
)

// InstanceOption configures a guest interpreter instance.
type InstanceOption func(*instanceConfig)

type instanceConfig struct {
	startTimeout time.Duration
	allowedHosts []string
	mounts       []hostfunc.Mount
	kv           *hostfunc.KV
	httpConfig   hostfunc.HTTPConfig
	fsOptions    []hostfunc.FSOption
	env          map[string]string
}

func defaultInstanceConfig() instanceConfig {
	return instanceConfig{
		startTimeout: 30 * time.Second,
		env:          make(map[string]string),
	}
}

// WithStartTimeout bounds how long the guest may take to signal readiness.
func WithStartTimeout(d time.Duration) InstanceOption {
	return func(c *instanceConfig) {
		c.startTimeout = d
	}
}

// WithAllowedHosts sets the list of hosts that HTTP requests can access.
func WithAllowedHosts(hosts []string) InstanceOption {
	return func(c *instanceConfig) {
		c.allowedHosts = hosts
	}
}

// Mount permission modes (re-exported from hostfunc for convenience).
const (
	MountReadOnly        = hostfunc.MountReadOnly
	MountReadWrite       = hostfunc.MountReadWrite
	MountReadWriteCreate = hostfunc.MountReadWriteCreate
)

// WithMount adds a filesystem mount point with the specified permissions.
// The virtual path is what lesson code sees; host path is the actual location.
//
// Examples:
//
//	executor.WithMount("/data", "./data", executor.MountReadWriteCreate)
//	executor.WithMount("/input", "./input", executor.MountReadOnly)
func WithMount(virtualPath, hostPath string, mode hostfunc.MountMode) InstanceOption {
	return func(c *instanceConfig) {
		c.mounts = append(c.mounts, hostfunc.Mount{
			VirtualPath: virtualPath,
			HostPath:    hostPath,
			Mode:        mode,
		})
	}
}

// WithKV exposes kv to the guest under the kv_* names.
func WithKV(kv *hostfunc.KV) InstanceOption {
	return func(c *instanceConfig) {
		c.kv = kv
	}
}

// WithHTTPMaxURLLength sets the maximum URL length for HTTP requests.
func WithHTTPMaxURLLength(size int) InstanceOption {
	return func(c *instanceConfig) {
		c.httpConfig.MaxURLLength = size
	}
}

// WithHTTPMaxBodySize sets the maximum response body size for HTTP requests.
func WithHTTPMaxBodySize(size int64) InstanceOption {
	return func(c *instanceConfig) {
		c.httpConfig.MaxBodySize = size
	}
}

// WithHTTPTimeout sets the per-request timeout for HTTP requests.
func WithHTTPTimeout(d time.Duration) InstanceOption {
	return func(c *instanceConfig) {
		c.httpConfig.RequestTimeout = d
	}
}

// WithFSOptions applies limits to the mounted filesystem.
func WithFSOptions(opts ...hostfunc.FSOption) InstanceOption {
	return func(c *instanceConfig) {
		c.fsOptions = append(c.fsOptions, opts...)
	}
}

// WithEnv sets an environment variable visible to the guest.
func WithEnv(key, value string) InstanceOption {
	return func(c *instanceConfig) {
		c.env[key] = value
	}
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       []Language // Languages to precompile at startup
	memoryLimitPages uint32     // Max memory pages (each page = 64KB), 0 = default (4GB)
	log              zerolog.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{log: zerolog.Nop()}
}

// WithExecutorLogger logs compilation and guest lifecycle events to log.
func WithExecutorLogger(log zerolog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.log = log
	}
}

// WithDiskCache enables persistent compilation cache for faster CLI startup.
// Optionally provide a custom directory; otherwise uses ~/.cache/lessonbox or
// XDG_CACHE_HOME/lessonbox.
//
// Examples:
//
//	executor.New(registry, executor.WithDiskCache())            // default dir
//	executor.New(registry, executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile compiles the specified languages at Executor creation time.
// This moves the compilation cost to startup rather than first execution.
func WithPrecompile(langs ...Language) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = langs
	}
}

// WithMemoryLimit sets the maximum memory available to WASM modules.
// Each page is 64KB. Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)
