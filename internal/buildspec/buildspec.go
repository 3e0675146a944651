// Package buildspec turns the requested extra Python packages into the
// canonical build definition of the toolbox image and its content
// fingerprint.
package buildspec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// BaseImage is the only base image the toolbox builds from.
	BaseImage = "docker.io/alpine:latest"

	// ImageRepository names every toolbox image; the tag is derived from the
	// fingerprint.
	ImageRepository = "ansible-toolbox"

	tagHexLength = 16
)

// DefaultPackages are installed next to Ansible in every image.
var DefaultPackages = []string{
	"requests==2.32.3",
	"docker==7.1.0",
}

// fingerprintKey is the BLAKE3 keyed-hash domain for image fingerprints:
// "ansible-toolbox.image" zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'a', 'n', 's', 'i', 'b', 'l', 'e', '-', 't', 'o', 'o', 'l', 'b', 'o', 'x', '.',
	'i', 'm', 'a', 'g', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// packagePattern accepts pip requirement specifiers such as "jmespath",
// "requests[socks]>=2.31,<3" or "pywinrm~=0.4". Quotes, whitespace and shell
// metacharacters are rejected because names are rendered into a RUN line.
var packagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-\[\],<>=!~+*]*$`)

// BuildSpec is the canonical description of one toolbox image.
type BuildSpec struct {
	BaseImage string
	// Packages holds the extra packages in first-seen order. It is kept for
	// display; the fingerprint and the rendered template use Sorted.
	Packages    []string
	Fingerprint string
}

// ValidatePackage reports whether name can be installed by the build
// template.
func ValidatePackage(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if !packagePattern.MatchString(name) {
		return fmt.Errorf("invalid package specifier %q", name)
	}
	return nil
}

// New builds the spec for the given extra packages. Blank entries are dropped
// and duplicates collapse onto their first occurrence.
func New(packages []string) (BuildSpec, error) {
	spec := BuildSpec{BaseImage: BaseImage}
	seen := make(map[string]struct{}, len(packages))
	for _, pkg := range packages {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" {
			continue
		}
		if err := ValidatePackage(pkg); err != nil {
			return BuildSpec{}, err
		}
		if _, dup := seen[pkg]; dup {
			continue
		}
		seen[pkg] = struct{}{}
		spec.Packages = append(spec.Packages, pkg)
	}
	spec.Fingerprint = Fingerprint(spec.BaseImage, spec.Packages)
	return spec, nil
}

// Sorted returns the package set in lexicographic order.
func (s BuildSpec) Sorted() []string {
	return sortedSet(s.Packages)
}

// Tag is the local image reference for this spec.
func (s BuildSpec) Tag() string {
	return ImageRepository + ":" + ShortFingerprint(s.Fingerprint)
}

// ShortFingerprint abbreviates a fingerprint for tags and log lines.
func ShortFingerprint(fingerprint string) string {
	if len(fingerprint) <= tagHexLength {
		return fingerprint
	}
	return fingerprint[:tagHexLength]
}

// Fingerprint hashes the base image identifier, the build template source,
// the default packages and the deduplicated, sorted package list. Every field
// is length-prefixed so that no two distinct inputs share an encoding.
func Fingerprint(baseImage string, packages []string) string {
	return fingerprint(baseImage, buildTemplateText, DefaultPackages, packages)
}

func fingerprint(baseImage, templateText string, defaults, packages []string) string {
	// NewKeyed only fails for keys that are not 32 bytes long.
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("buildspec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	writeField(hasher, baseImage)
	writeField(hasher, templateText)
	writeList(hasher, defaults)
	writeList(hasher, sortedSet(packages))
	return hex.EncodeToString(hasher.Sum(nil))
}

func writeList(hasher *blake3.Hasher, values []string) {
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(values)))
	hasher.Write(count[:])
	for _, value := range values {
		writeField(hasher, value)
	}
}

func writeField(hasher *blake3.Hasher, value string) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(value)))
	hasher.Write(length[:])
	hasher.Write([]byte(value))
}

func sortedSet(packages []string) []string {
	seen := make(map[string]struct{}, len(packages))
	out := make([]string, 0, len(packages))
	for _, pkg := range packages {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" {
			continue
		}
		if _, dup := seen[pkg]; dup {
			continue
		}
		seen[pkg] = struct{}{}
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out
}
