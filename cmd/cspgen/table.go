package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

const tableHeader = `# Generated by cmd/cspgen from internal/http/templates. Do not edit by hand;
# run ` + "`go generate ./internal/csp`" + ` and review the diff.
`

// changes summarises what a merge did, for the command's output.
type changes struct {
	Added   []string
	Updated []string
	Kept    int
}

func (c changes) empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0
}

// scanTemplates extracts snippets from every *.tmpl and *.html file in dir,
// in file name order.
func scanTemplates(dir string) ([]snippet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read template directory")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".tmpl" || ext == ".html" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []snippet
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", name)
		}
		found, err := extractSnippets(name, data)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// loadTable reads an existing table; a missing file is an empty table.
func loadTable(path string) (csp.HashTable, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return csp.HashTable{Version: csp.HashTableVersion}, nil
	}
	if err != nil {
		return csp.HashTable{}, errors.Wrap(err, "failed to read hash table")
	}
	table, err := csp.ParseHashTable(data)
	if err != nil {
		return csp.HashTable{}, errors.Wrapf(err, "existing table %s", path)
	}
	return table, nil
}

// merge applies found snippets to table without removing anything. An
// existing name whose content changed is re-hashed in place; new names are
// appended. A snippet whose content is already registered under another
// name is not added twice.
func merge(table csp.HashTable, found []snippet, digest func(string) string) (csp.HashTable, changes) {
	out := csp.HashTable{Version: csp.HashTableVersion}
	out.Entries = append(out.Entries, table.Entries...)

	byName := make(map[string]int, len(out.Entries))
	byContent := make(map[string]bool, len(out.Entries))
	for i, e := range out.Entries {
		byName[e.Name] = i
		byContent[e.Content] = true
	}

	var c changes
	for _, s := range found {
		if i, ok := byName[s.Name]; ok {
			e := out.Entries[i]
			if e.Content == s.Content && e.Directive == s.Directive {
				c.Kept++
				continue
			}
			delete(byContent, e.Content)
			e.Directive = s.Directive
			e.Content = s.Content
			e.Digest = digest(s.Content)
			out.Entries[i] = e
			byContent[s.Content] = true
			c.Updated = append(c.Updated, s.Name)
			continue
		}
		if byContent[s.Content] {
			c.Kept++
			continue
		}
		out.Entries = append(out.Entries, csp.KnownHash{
			Name:      s.Name,
			Directive: s.Directive,
			Content:   s.Content,
			Digest:    digest(s.Content),
		})
		byName[s.Name] = len(out.Entries) - 1
		byContent[s.Content] = true
		c.Added = append(c.Added, s.Name)
	}
	return out, c
}

// encodeTable renders table as the checked-in YAML artifact. The table is
// loaded through the registry first so an invalid artifact is never written.
func encodeTable(table csp.HashTable) ([]byte, error) {
	if _, err := csp.NewHashRegistry(table.Entries, csp.SHA256); err != nil {
		return nil, errors.Wrap(err, "generated table does not load")
	}

	var buf bytes.Buffer
	buf.WriteString(tableHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(table); err != nil {
		return nil, errors.Wrap(err, "failed to encode hash table")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to encode hash table")
	}
	return buf.Bytes(), nil
}
