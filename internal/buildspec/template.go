package buildspec

import (
	"bytes"
	"fmt"
	"text/template"
)

// FingerprintLabel is stamped on every toolbox image so an image can be
// matched back to the spec it was built from.
const FingerprintLabel = "io.ansible-toolbox.fingerprint"

// buildTemplateText is hashed into every fingerprint, so any edit to it
// produces new image tags.
const buildTemplateText = `FROM {{.BaseImage}}

ENV PYTHONUNBUFFERED=1 \
    PYTHONIOENCODING=UTF-8 \
    PIP_NO_CACHE_DIR=yes \
    VIRTUAL_ENV=/install/.venv \
    PATH="/install/.venv/bin:$PATH"

LABEL {{.Label}}="{{.Fingerprint}}"

RUN apk add --no-cache \
    ca-certificates \
    openssh \
    git \
    python3 \
    py3-pip \
    && python3 -m venv $VIRTUAL_ENV \
    && pip install --no-cache-dir ansible{{range .Packages}} '{{.}}'{{end}} \
    && rm -rf /tmp/* /var/cache/apk/* /root/.cache
`

var buildTemplate = template.Must(template.New("Containerfile").Parse(buildTemplateText))

// Render produces the build definition: Alpine with ssh, git, a Python
// virtual environment, Ansible, the default packages and the extra packages
// in sorted order.
func (s BuildSpec) Render() (string, error) {
	packages := make([]string, 0, len(DefaultPackages)+len(s.Packages))
	packages = append(packages, DefaultPackages...)
	packages = append(packages, s.Sorted()...)

	var buf bytes.Buffer
	err := buildTemplate.Execute(&buf, struct {
		BaseImage   string
		Label       string
		Fingerprint string
		Packages    []string
	}{
		BaseImage:   s.BaseImage,
		Label:       FingerprintLabel,
		Fingerprint: s.Fingerprint,
		Packages:    packages,
	})
	if err != nil {
		return "", fmt.Errorf("render build template: %w", err)
	}
	return buf.String(), nil
}
