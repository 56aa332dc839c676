package editor

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gridsync/gridsync/internal/gateway"
	"gopkg.in/yaml.v3"
)

// SavedView is a reusable view definition stored as YAML.
type SavedView struct {
	Name        string           `yaml:"name"`
	Mode        string           `yaml:"mode"`
	Filters     []gateway.Filter `yaml:"filters,omitempty"`
	Columns     []string         `yaml:"columns,omitempty"`
	GroupColumn string           `yaml:"group_column,omitempty"`
}

// CaptureView snapshots the current view under name.
func (c *Controller) CaptureView(name string) SavedView {
	return SavedView{
		Name:        name,
		Mode:        c.state.Mode().String(),
		Filters:     c.state.Filters(),
		Columns:     c.state.visibleNames(),
		GroupColumn: c.state.GroupColumn(),
	}
}

// ApplyView replaces filters, projection and mode with v, then refreshes once.
// Nothing changes when v names a column the dataset does not have.
func (c *Controller) ApplyView(ctx context.Context, v SavedView) error {
	mode, err := ParseViewMode(v.Mode)
	if err != nil {
		return err
	}
	fs := NewFilterSet()
	for _, f := range v.Filters {
		if _, ok := c.state.Column(f.Column); !ok {
			return invalid("view", "filter column %q does not exist", f.Column)
		}
		if err := fs.Add(f.Column, f.Value); err != nil {
			return err
		}
	}
	for _, name := range v.Columns {
		if _, ok := c.state.Column(name); !ok {
			return invalid("view", "column %q does not exist", name)
		}
	}
	if v.GroupColumn != "" {
		if _, ok := c.state.Column(v.GroupColumn); !ok {
			return invalid("view", "group column %q does not exist", v.GroupColumn)
		}
	}

	_ = c.state.updateFilters(func(cur *FilterSet) error {
		*cur = *fs
		return nil
	})
	c.state.setVisible(v.Columns)
	c.state.setGroupColumn(v.GroupColumn)
	c.state.setMode(mode)
	return c.Refresh(ctx)
}

// WriteViews encodes views as a YAML document.
func WriteViews(w io.Writer, views []SavedView) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]SavedView{"views": views}); err != nil {
		return fmt.Errorf("failed to encode views: %w", err)
	}
	return enc.Close()
}

// ReadViews decodes a document written by WriteViews.
func ReadViews(r io.Reader) ([]SavedView, error) {
	var doc struct {
		Views []SavedView `yaml:"views"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode views: %w", err)
	}
	return doc.Views, nil
}

// LoadViewsFile reads saved views from path. A missing file yields no views.
func LoadViewsFile(path string) ([]SavedView, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadViews(f)
}

// SaveViewFile adds or replaces v (by name) in the file at path.
func SaveViewFile(path string, v SavedView) error {
	views, err := LoadViewsFile(path)
	if err != nil {
		return err
	}
	replaced := false
	for i := range views {
		if views[i].Name == v.Name {
			views[i] = v
			replaced = true
		}
	}
	if !replaced {
		views = append(views, v)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteViews(f, views); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
