package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hubRegistry = RegistryConfig{URL: "https://registry-1.docker.io/v2/"}

func TestParseInlineTarget(t *testing.T) {
	target, err := ParseInlineTarget("library/nginx myorg/nginx https://example.com/hook", true)
	require.NoError(t, err)

	assert.Equal(t, Target{
		Name:       "myorg/nginx",
		BaseImage:  "library/nginx",
		Image:      "myorg/nginx",
		TriggerURL: "https://example.com/hook",
	}, target)
}

func TestParseInlineTarget_NormalizesOfficialImages(t *testing.T) {
	target, err := ParseInlineTarget("nginx docker.io/myorg/nginx https://example.com/hook", true)
	require.NoError(t, err)

	assert.Equal(t, "library/nginx", target.BaseImage)
	assert.Equal(t, "myorg/nginx", target.Image)
}

func TestParseInlineTarget_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		entry string
		msg   string
	}{
		{"too few fields", "library/nginx myorg/nginx", "got 2 fields"},
		{"too many fields", "a b https://example.com c", "got 4 fields"},
		{"tagged base", "library/nginx:1.25 myorg/nginx https://example.com/hook", "must not include a tag or digest"},
		{"uppercase image", "library/nginx MyOrg/nginx https://example.com/hook", "invalid image"},
		{"foreign registry", "ghcr.io/org/base myorg/nginx https://example.com/hook", "configure REGISTRY_URL instead"},
		{"relative trigger", "library/nginx myorg/nginx /hook", "must use http or https"},
		{"missing host", "library/nginx myorg/nginx https:///hook", "must include a host"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseInlineTarget(tc.entry, true)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestParseTargets(t *testing.T) {
	doc := `targets:
  - name: nginx
    base_image: library/nginx
    image: myorg/nginx
    trigger_url: https://example.com/nginx
  - base_image: redis
    image: myorg/redis
    trigger_url: https://example.com/redis
`

	targets, err := ParseTargets([]byte(doc), true)
	require.NoError(t, err)

	assert.Equal(t, []Target{
		{
			Name:       "nginx",
			BaseImage:  "library/nginx",
			Image:      "myorg/nginx",
			TriggerURL: "https://example.com/nginx",
		},
		{
			Name:       "myorg/redis",
			BaseImage:  "library/redis",
			Image:      "myorg/redis",
			TriggerURL: "https://example.com/redis",
		},
	}, targets)
}

func TestParseTargets_UnknownField(t *testing.T) {
	doc := `targets:
  - base: library/nginx
    image: myorg/nginx
    trigger_url: https://example.com/nginx
`

	_, err := ParseTargets([]byte(doc), true)
	require.Error(t, err)
	assert.ErrorContains(t, err, "could not parse targets")
}

func TestLoadTargets_CombinesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.yaml")
	err := os.WriteFile(path, []byte(`targets:
  - base_image: library/nginx
    image: myorg/nginx
    trigger_url: https://example.com/nginx
`), 0o600)
	require.NoError(t, err)

	targets, err := LoadTargets(TargetsConfig{
		File:   path,
		Inline: []string{"library/redis myorg/redis https://example.com/redis", "  "},
	}, hubRegistry)
	require.NoError(t, err)

	require.Len(t, targets, 2)
	assert.Equal(t, "myorg/nginx", targets[0].Name)
	assert.Equal(t, "myorg/redis", targets[1].Name)
}

func TestLoadTargets_Empty(t *testing.T) {
	_, err := LoadTargets(TargetsConfig{}, hubRegistry)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no targets configured")
}

func TestLoadTargets_MissingFile(t *testing.T) {
	_, err := LoadTargets(TargetsConfig{File: filepath.Join(t.TempDir(), "missing.yaml")}, hubRegistry)
	require.Error(t, err)
	assert.ErrorContains(t, err, "could not read targets file")
}

func TestLoadTargets_DuplicateNames(t *testing.T) {
	_, err := LoadTargets(TargetsConfig{
		Inline: []string{
			"library/nginx myorg/nginx https://example.com/a",
			"library/nginx myorg/nginx https://example.com/b",
		},
	}, hubRegistry)
	require.Error(t, err)
	assert.ErrorContains(t, err, `duplicate target name "myorg/nginx"`)
}

func TestRepositoryPath(t *testing.T) {
	tests := []struct {
		raw       string
		dockerHub bool
		expected  string
		err       string
	}{
		{raw: "nginx", dockerHub: true, expected: "library/nginx"},
		{raw: "myorg/nginx", dockerHub: true, expected: "myorg/nginx"},
		{raw: "docker.io/library/alpine", dockerHub: true, expected: "library/alpine"},
		{raw: "nginx", dockerHub: false, expected: "nginx"},
		{raw: "library/nginx", dockerHub: false, expected: "library/nginx"},
		{raw: "myorg/nginx", dockerHub: false, expected: "myorg/nginx"},
		{raw: "nginx:1.25", dockerHub: true, err: "must not include a tag or digest"},
		{raw: "ghcr.io/myorg/nginx", dockerHub: true, err: "configure REGISTRY_URL instead"},
		{raw: "", dockerHub: true, err: "must not be empty"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s hub=%t", tt.raw, tt.dockerHub), func(t *testing.T) {
			path, err := RepositoryPath(tt.raw, tt.dockerHub)
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, path)
		})
	}
}

func TestLoadTargets_PrivateRegistryKeepsNames(t *testing.T) {
	reg := RegistryConfig{URL: "https://registry.example.com/v2/"}

	targets, err := LoadTargets(TargetsConfig{
		Inline: []string{"nginx myorg/nginx https://example.com/hook"},
	}, reg)
	require.NoError(t, err)

	require.Len(t, targets, 1)
	assert.Equal(t, "nginx", targets[0].BaseImage)
	assert.Equal(t, "myorg/nginx", targets[0].Image)
}

func TestRegistryConfig_DockerHub(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"https://registry-1.docker.io/v2/", true},
		{"https://index.docker.io/v2/", true},
		{"https://Registry-1.Docker.IO:443/v2/", true},
		{"https://registry.example.com/v2/", false},
		{"http://127.0.0.1:5000/v2/", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := RegistryConfig{URL: tt.url}
			assert.Equal(t, tt.expected, cfg.DockerHub())
		})
	}
}
