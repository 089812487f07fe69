// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// jsonDoc builds JSON renderings of appliance records using sjson path
// manipulation. It keeps the first error and turns later calls into no-ops,
// so records can be rendered with a single chain; the error ends up in the
// rendered document.
type jsonDoc struct {
	str string
	err error
}

// set sets a value at a dot-notation path
func (d jsonDoc) set(path string, value any) jsonDoc {
	if d.err != nil {
		return d
	}
	result, err := sjson.Set(d.str, path, value)
	if err != nil {
		return jsonDoc{str: d.str, err: fmt.Errorf("set(%q): %w", path, err)}
	}
	return jsonDoc{str: result}
}

// setRaw sets pre-rendered JSON at a path
func (d jsonDoc) setRaw(path, raw string) jsonDoc {
	if d.err != nil {
		return d
	}
	result, err := sjson.SetRaw(d.str, path, raw)
	if err != nil {
		return jsonDoc{str: d.str, err: fmt.Errorf("setRaw(%q): %w", path, err)}
	}
	return jsonDoc{str: result}
}

// res returns the document; if building failed it returns a document
// carrying only the error
func (d jsonDoc) res() string {
	if d.err != nil {
		doc, _ := sjson.Set("", "error", d.err.Error()) //nolint:errcheck // fixed path on an empty document
		return doc
	}
	if d.str == "" {
		return "{}"
	}
	return d.str
}

// getValue queries a rendered document with gjson syntax
func getValue(doc, path string) gjson.Result {
	if doc == "" {
		return gjson.Result{}
	}
	return gjson.Get(doc, path)
}
