package report

import (
	"regexp"
	"strings"

	"github.com/pavelanni/surgieval/internal/model"
)

var whitespace = regexp.MustCompile(`\s+`)

// Filename names the PDF after the student: whitespace runs in the name
// become underscores, followed by the ID.
func Filename(s model.Student) string {
	name := whitespace.ReplaceAllString(strings.TrimSpace(s.Name), "_")
	id := whitespace.ReplaceAllString(strings.TrimSpace(s.ID), "_")
	return name + "_" + id + ".pdf"
}
