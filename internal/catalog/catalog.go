// Package catalog validates launch selections against allow-lists of
// resource classes and images. Entries are glob patterns, so "t2.*" admits
// every t2 size.
package catalog

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/gobwas/glob"
)

// DefaultResourceClasses are the selectable resource sizes.
var DefaultResourceClasses = []string{"t2.micro", "t2.small", "t2.large"}

// DefaultImages are the selectable desktop and browser images.
var DefaultImages = []string{
	"ubuntu-focal-desktop",
	"centos-7-desktop",
	"core-kali-rolling",
	"chrome",
	"brave",
	"firefox",
	"vivaldi",
}

type entry struct {
	pattern string
	g       glob.Glob
}

// Catalog holds compiled allow-lists. An empty list admits any non-empty value.
type Catalog struct {
	classes []entry
	images  []entry
}

// New compiles the class and image allow-lists.
func New(classes, images []string) (*Catalog, error) {
	c := &Catalog{}
	var err error
	if c.classes, err = compile("resource class", classes); err != nil {
		return nil, err
	}
	if c.images, err = compile("image", images); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the catalog of built-in classes and images.
func Default() *Catalog {
	c, err := New(DefaultResourceClasses, DefaultImages)
	if err != nil {
		panic(err) // built-in literals always compile
	}
	return c
}

func compile(kind string, patterns []string) ([]entry, error) {
	out := make([]entry, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, entry{pattern: p, g: g})
	}
	return out, nil
}

// Validate checks a launch selection. It returns a *errors.ValidationError
// naming the offending field.
func (c *Catalog) Validate(resourceClass, image string) error {
	if err := check("resource_class", resourceClass, c.classes); err != nil {
		return err
	}
	return check("image", image, c.images)
}

func check(field, value string, allowed []entry) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewValidationError("must not be empty").WithField(field)
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, e := range allowed {
		if e.g.Match(value) {
			return nil
		}
	}
	return errors.NewValidationError("not in the catalog").WithField(field).WithValue(value)
}

// ResourceClasses returns the class patterns.
func (c *Catalog) ResourceClasses() []string { return patterns(c.classes) }

// Images returns the image patterns.
func (c *Catalog) Images() []string { return patterns(c.images) }

func patterns(entries []entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.pattern
	}
	return out
}
