package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"
)

// defaultDomain is the domain reference normalization assigns to repository
// paths that do not name a registry host.
const defaultDomain = "docker.io"

// officialPrefix is the namespace of Docker Hub official images.
const officialPrefix = "library/"

// Target is a single monitored image pair. It is immutable once validated.
type Target struct {
	// Name labels the target in logs and reports. Defaults to Image.
	Name string `yaml:"name"`

	// BaseImage is the repository path of the upstream image.
	BaseImage string `yaml:"base_image"`

	// Image is the repository path of the derived image whose tags are
	// checked.
	Image string `yaml:"image"`

	// TriggerURL receives a POST for every tag that has drifted.
	TriggerURL string `yaml:"trigger_url"`
}

type targetFile struct {
	Targets []Target `yaml:"targets"`
}

// LoadTargets collects targets from the configured file and inline entries,
// file targets first. Every target is normalized for the registry reg and
// validated; the first invalid target fails the load.
func LoadTargets(cfg TargetsConfig, reg RegistryConfig) ([]Target, error) {
	dockerHub := reg.DockerHub()

	var targets []Target

	if cfg.File != "" {
		contents, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("could not read targets file: %w", err)
		}

		fileTargets, err := ParseTargets(contents, dockerHub)
		if err != nil {
			return nil, fmt.Errorf("targets file %s: %w", cfg.File, err)
		}
		targets = append(targets, fileTargets...)
	}

	for i, entry := range cfg.Inline {
		if strings.TrimSpace(entry) == "" {
			continue
		}

		t, err := ParseInlineTarget(entry, dockerHub)
		if err != nil {
			return nil, fmt.Errorf("inline target %d: %w", i, err)
		}
		targets = append(targets, t)
	}

	if len(targets) == 0 {
		return nil, errors.New("no targets configured: set DRIFT_TARGETS_FILE or DRIFT_TARGETS")
	}

	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	return targets, nil
}

// ParseTargets decodes a YAML target document. Unknown fields are rejected
// so that typos in field names are not silently ignored.
func ParseTargets(contents []byte, dockerHub bool) ([]Target, error) {
	var doc targetFile

	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("could not parse targets: %w", err)
	}

	targets := make([]Target, 0, len(doc.Targets))
	for i, t := range doc.Targets {
		normalized, err := t.Normalize(dockerHub)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		targets = append(targets, normalized)
	}

	return targets, nil
}

// ParseInlineTarget parses "<base_image> <image> <trigger_url>", the triple
// format historically supplied through the environment.
func ParseInlineTarget(entry string, dockerHub bool) (Target, error) {
	fields := strings.Fields(entry)
	if len(fields) != 3 {
		return Target{}, fmt.Errorf("expected \"<base_image> <image> <trigger_url>\", got %d fields", len(fields))
	}

	return Target{
		BaseImage:  fields[0],
		Image:      fields[1],
		TriggerURL: fields[2],
	}.Normalize(dockerHub)
}

// Normalize validates the target and returns a copy with repository paths in
// canonical form and a name assigned. See RepositoryPath for dockerHub.
func (t Target) Normalize(dockerHub bool) (Target, error) {
	base, err := RepositoryPath(t.BaseImage, dockerHub)
	if err != nil {
		return Target{}, fmt.Errorf("invalid base_image: %w", err)
	}

	image, err := RepositoryPath(t.Image, dockerHub)
	if err != nil {
		return Target{}, fmt.Errorf("invalid image: %w", err)
	}

	if err := validateTriggerURL(t.TriggerURL); err != nil {
		return Target{}, fmt.Errorf("invalid trigger_url: %w", err)
	}

	t.BaseImage = base
	t.Image = image
	if t.Name == "" {
		t.Name = image
	}

	return t, nil
}

// RepositoryPath normalizes an image name to its repository path on the
// configured registry. Single-component names of official images are only
// expanded on Docker Hub: "nginx" becomes "library/nginx" when dockerHub is
// set and stays "nginx" otherwise.
func RepositoryPath(raw string, dockerHub bool) (string, error) {
	if raw == "" {
		return "", errors.New("repository must not be empty")
	}

	named, err := reference.ParseNormalizedNamed(raw)
	if err != nil {
		return "", fmt.Errorf("could not parse repository %q: %w", raw, err)
	}

	if !reference.IsNameOnly(named) {
		return "", fmt.Errorf("repository %q must not include a tag or digest", raw)
	}

	// the registry is configured globally, so a reference naming another host
	// would be silently queried against the wrong registry
	if reference.Domain(named) != defaultDomain {
		return "", fmt.Errorf("repository %q names registry %q: configure REGISTRY_URL instead", raw, reference.Domain(named))
	}

	path := reference.Path(named)
	if !dockerHub && !strings.Contains(raw, "/") {
		path = strings.TrimPrefix(path, officialPrefix)
	}

	return path, nil
}

func validateTriggerURL(raw string) error {
	if raw == "" {
		return errors.New("trigger URL must not be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("could not parse trigger URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("trigger URL must use http or https: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("trigger URL must include a host: %s", raw)
	}

	return nil
}
