package utils

import (
	"bytes"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
)

func ParseKeyValues(kvs []string, separator string) map[string]interface{} {
	var m = make(map[string]interface{})

	for _, kv := range kvs {
		var k, v, _ = strings.Cut(kv, separator)
		m[k] = v
	}

	return m
}

func RenderTemplate(tmpl *template.Template, name string, vars any) (string, error) {
	var buf bytes.Buffer

	if err := tmpl.ExecuteTemplate(&buf, name, vars); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// LoadTemplates parses every file of fsys whose extension is one of exts,
// naming each template after its base file name.
func LoadTemplates(fsys fs.FS, name string, exts ...string) (*template.Template, error) {
	var tmpl = template.New(name).Option("missingkey=error").Funcs(sprig.TxtFuncMap())

	var err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !hasExt(p, exts) {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)

		if err != nil {
			return err
		}

		_, err = tmpl.New(path.Base(p)).Parse(string(content))
		return err
	})

	if err != nil {
		return nil, err
	}

	return tmpl, nil
}

func hasExt(p string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}

	for _, ext := range exts {
		if path.Ext(p) == ext {
			return true
		}
	}

	return false
}
