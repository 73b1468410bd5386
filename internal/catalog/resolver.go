package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolver maps between category ids and display names.
type Resolver struct {
	categories []Category
}

// NewResolver creates a resolver over the given table. Table order is kept.
func NewResolver(categories []Category) Resolver {
	return Resolver{categories: categories}
}

// NameFor returns the display name of a category id.
func (r Resolver) NameFor(id string) (string, error) {
	for _, c := range r.categories {
		if c.ID == id {
			return c.Name, nil
		}
	}
	return "", fmt.Errorf("%w: id %q", ErrUnknownCategory, id)
}

// IDFor returns the id of the first category with the given display name.
func (r Resolver) IDFor(name string) (string, error) {
	for _, c := range r.categories {
		if c.Name == name {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w: name %q", ErrUnknownCategory, name)
}

// Resolve returns the category a plugin's category id refers to. Unlike
// NameFor it compares ids with SameCategory, so "04" finds category "4".
func (r Resolver) Resolve(id string) (Category, error) {
	for _, c := range r.categories {
		if SameCategory(c.ID, id) {
			return c, nil
		}
	}
	return Category{}, fmt.Errorf("%w: id %q", ErrUnknownCategory, id)
}

// SameCategory compares category ids as integers so "04" matches "4", and
// falls back to string equality for non-numeric ids.
func SameCategory(a, b string) bool {
	x, errA := strconv.Atoi(strings.TrimSpace(a))
	y, errB := strconv.Atoi(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return x == y
	}
	return a == b
}

// Normalize accepts either a category id or a display name and returns the id.
// A known id wins over a display name that happens to be spelled the same.
func (r Resolver) Normalize(ref string) (string, error) {
	if _, err := r.NameFor(ref); err == nil {
		return ref, nil
	}
	id, err := r.IDFor(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q is neither a category id nor a name", ErrUnknownCategory, ref)
	}
	return id, nil
}

// Ambiguous returns display names that map to more than one id.
func (r Resolver) Ambiguous() []string {
	counts := make(map[string]int, len(r.categories))
	var names []string
	for _, c := range r.categories {
		counts[c.Name]++
		if counts[c.Name] == 2 {
			names = append(names, c.Name)
		}
	}
	return names
}
