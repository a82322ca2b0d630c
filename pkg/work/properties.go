package work

// Normalization is the policy for how an input file's identity contribution
// is computed.
type Normalization string

const (
	// NormalizeAbsolutePath uses the file's absolute path as its identity
	// contribution, so moving a file invalidates the cache even when its
	// content is unchanged.
	NormalizeAbsolutePath Normalization = "absolute-path"

	// NormalizeName uses only the bare file name, so files with equal names
	// and content in different directories share an identity contribution.
	NormalizeName Normalization = "name"

	// NormalizeContent ignores the path entirely and contributes only the
	// content hash.
	NormalizeContent Normalization = "content"
)

// Valid reports whether n is a known normalization strategy.
func (n Normalization) Valid() bool {
	switch n {
	case NormalizeAbsolutePath, NormalizeName, NormalizeContent:
		return true
	}
	return false
}

// DirectorySensitivity controls whether empty directories participate in a
// file property's fingerprint.
type DirectorySensitivity string

const (
	DirectorySensitive DirectorySensitivity = "sensitive"
	DirectoryIgnored   DirectorySensitivity = "ignored"
)

// LineEndingSensitivity controls whether CRLF and LF content are considered
// equal when fingerprinting text inputs.
type LineEndingSensitivity string

const (
	LineEndingsSensitive  LineEndingSensitivity = "sensitive"
	LineEndingsNormalized LineEndingSensitivity = "normalized"
)

// InputBehavior distinguishes inputs that drive incremental execution from
// those that always trigger a full rerun when changed.
type InputBehavior string

const (
	InputIncremental    InputBehavior = "incremental"
	InputNonIncremental InputBehavior = "non-incremental"
)

// ValueSupplier lazily produces a scalar input property value.
type ValueSupplier func() string

// FileValueSupplier lazily produces the file set backing a file input
// property, together with the policies the fingerprinting layer applies
// to it.
type FileValueSupplier struct {
	// Files returns the file paths backing this property. Paths may be
	// files or directories; directories are walked by the fingerprinter.
	Files func() ([]string, error)

	// Normalization selects the identity contribution policy for each file.
	Normalization Normalization

	// DirSensitivity controls empty-directory handling.
	DirSensitivity DirectorySensitivity

	// LineEndings controls line-ending normalization of file content.
	LineEndings LineEndingSensitivity
}

// InputVisitor receives a unit of work's declared input properties.
//
// Visitors are supplied by the fingerprinting layer; units of work only
// declare properties and never interpret them.
type InputVisitor interface {
	// VisitInputProperty declares a scalar input property.
	VisitInputProperty(name string, value ValueSupplier)

	// VisitInputFileProperty declares a file input property.
	VisitInputFileProperty(name string, behavior InputBehavior, value FileValueSupplier)
}

// TreeType classifies a declared output location.
type TreeType string

const (
	TreeDirectory TreeType = "directory"
	TreeFile      TreeType = "file"
)

// OutputVisitor receives a unit of work's declared output locations.
type OutputVisitor interface {
	// VisitOutputProperty declares one output location under the workspace.
	VisitOutputProperty(name string, kind TreeType, path string)
}

// CachingDisabledCategory classifies why caching was disabled.
type CachingDisabledCategory string

const (
	// CachingNotCacheable indicates the unit of work is marked
	// non-cacheable by its author.
	CachingNotCacheable CachingDisabledCategory = "not-cacheable"

	// CachingOverlappingOutputs indicates another unit produces outputs
	// into the same locations.
	CachingOverlappingOutputs CachingDisabledCategory = "overlapping-outputs"
)

// CachingDisabledReason is the declarative, non-exceptional signal consumed
// by the caching layer to skip cache population. Policy, not failure.
type CachingDisabledReason struct {
	Category CachingDisabledCategory
	Reason   string
}

// OverlappingOutputs describes outputs shared with another unit of work.
// The lathe engine allocates exclusive workspaces and never populates this;
// it exists so embedders with shared output locations can report overlap.
type OverlappingOutputs struct {
	PropertyName string
	Paths        []string
}
