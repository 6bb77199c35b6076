package models

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExecutorDefinition describes how to build the script executor image for one language.
//
// ID, Language, Title, Config and ImageName are persisted by a registry. PackagePath
// and DockerfileTemplate are filled in from the package layout when the
// definition is resolved for a build.
type ExecutorDefinition struct {
	ID        int64  `json:"id" yaml:"id"`
	Language  string `json:"language" yaml:"language"`
	Title     string `json:"title" yaml:"title"`
	Config    string `json:"config" yaml:"config"`
	ImageName string `json:"image_name,omitempty" yaml:"image_name,omitempty"`

	PackagePath        string `json:"package_path,omitempty" yaml:"-"`
	DockerfileTemplate string `json:"-" yaml:"-"`
}

// NormalizeLanguage lower-cases and trims a language name.
func NormalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

var languagePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateLanguage rejects names that cannot serve as a package directory
// suffix and an image repository component. The name must be normalized.
func ValidateLanguage(language string) error {
	if !languagePattern.MatchString(language) {
		return fmt.Errorf("invalid language %q: must match %s", language, languagePattern)
	}
	return nil
}

// DefaultExecutorTitle is the title given to an executor created on demand.
func DefaultExecutorTitle(language string) string {
	language = NormalizeLanguage(language)
	if language == "" {
		return "Executor"
	}
	first, size := utf8.DecodeRuneInString(language)
	return string(unicode.ToUpper(first)) + language[size:] + " Executor"
}
