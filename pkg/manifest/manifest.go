// Package manifest provides loading and validation of lathe run manifests.
//
// A run manifest is a YAML or JSON file that configures a transform run:
// the transforms to execute, workspace location, remote cache connection,
// and output.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	transforms:
//	  - name: minify-js
//	    kind: exec
//	    input: build/app.js
//	    exec:
//	      argv: ["terser", "{{input}}", "-o", "{{output}}/app.min.js"]
//	cache:
//	  remote:
//	    provider: s3
//	    bucket: team-transform-cache
//	output:
//	  destination: stdout
package manifest

// Manifest represents a validated run manifest.
//
// Required fields are Version and Transforms. Workspace, Cache, and Output
// are optional with sensible defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Workspace configures where transform workspaces live (optional).
	Workspace WorkspaceConfig `json:"workspace,omitempty" yaml:"workspace,omitempty"`

	// Transforms lists the transforms to run. At least one is required.
	Transforms []TransformConfig `json:"transforms" yaml:"transforms"`

	// Cache configures the remote cache (optional).
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Output configures output destination and format (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// WorkspaceConfig configures workspace allocation.
type WorkspaceConfig struct {
	// Root is the directory workspaces are allocated under.
	// Default: <app data dir>/workspaces.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`
}

// TransformConfig configures one transform.
type TransformConfig struct {
	// Name identifies the transform. Required, unique within a manifest.
	Name string `json:"name" yaml:"name"`

	// Kind selects the action implementation: "copy", "exec", or "archive".
	Kind string `json:"kind" yaml:"kind"`

	// Input is the path of the artifact being transformed. Required.
	Input string `json:"input" yaml:"input"`

	// Dependencies are glob patterns for files the transform also reads.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Normalization selects how the input artifact path contributes to the
	// transform's identity: "absolute-path", "name", or "content".
	// Default: "name".
	Normalization string `json:"normalization,omitempty" yaml:"normalization,omitempty"`

	// EmptyDirectoriesSensitive makes empty input directories part of the
	// fingerprint. Default: false.
	EmptyDirectoriesSensitive bool `json:"empty_directories_sensitive,omitempty" yaml:"empty_directories_sensitive,omitempty"`

	// NormalizeLineEndings fingerprints text inputs with CRLF normalized to
	// LF. Default: false.
	NormalizeLineEndings bool `json:"normalize_line_endings,omitempty" yaml:"normalize_line_endings,omitempty"`

	// Cacheable controls result reuse. Default: true.
	Cacheable *bool `json:"cacheable,omitempty" yaml:"cacheable,omitempty"`

	// Incremental requests change information on re-execution. Default: false.
	Incremental bool `json:"incremental,omitempty" yaml:"incremental,omitempty"`

	// Exec configures the exec action. Required when kind is "exec".
	Exec *ExecActionConfig `json:"exec,omitempty" yaml:"exec,omitempty"`

	// Archive configures the archive action. Optional for kind "archive".
	Archive *ArchiveActionConfig `json:"archive,omitempty" yaml:"archive,omitempty"`
}

// ExecActionConfig configures an exec transform action.
type ExecActionConfig struct {
	// Argv is the command line. Placeholders {{input}}, {{output}}, and
	// {{workspace}} are substituted before execution.
	Argv []string `json:"argv" yaml:"argv"`

	// Env is extra environment variables for the command.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ArchiveActionConfig configures an archive transform action.
type ArchiveActionConfig struct {
	// ArchiveName overrides the produced archive file name.
	ArchiveName string `json:"archive_name,omitempty" yaml:"archive_name,omitempty"`
}

// CacheConfig configures caching behavior.
type CacheConfig struct {
	// Remote configures the remote cache backend. Optional; when absent the
	// run uses local workspaces only.
	Remote *RemoteCacheConfig `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// RemoteCacheConfig configures the remote cache connection.
type RemoteCacheConfig struct {
	// Provider is the backend type: "s3" or "file".
	Provider string `json:"provider" yaml:"provider"`

	// Bucket is the bucket name. Required for s3.
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`

	// Prefix is prepended to every cache key. Optional.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Region is the AWS region. Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage. Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ForcePathStyle forces path-style URLs. Needed for most S3-compatible
	// stores.
	ForcePathStyle bool `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`

	// BaseDir is the cache directory. Required for the file provider.
	BaseDir string `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`

	// RateLimit is the maximum backend requests per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// OutputConfig configures output destination and format.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultNormalization is the default input normalization strategy.
	DefaultNormalization = "name"

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest so
// callers don't need to reason about empty values.
func (m *Manifest) ApplyDefaults() {
	for i := range m.Transforms {
		t := &m.Transforms[i]
		if t.Normalization == "" {
			t.Normalization = DefaultNormalization
		}
		if t.Cacheable == nil {
			cacheable := true
			t.Cacheable = &cacheable
		}
	}

	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
}

// CacheableEnabled returns whether result reuse is enabled for the transform.
func (t *TransformConfig) CacheableEnabled() bool {
	if t.Cacheable == nil {
		return true
	}
	return *t.Cacheable
}
